// Package memory is an in-process graph storage engine with the same
// contract as the neo4j client. It backs tests and single-node local runs
// where standing up a graph database is not worth it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kgforge/backend/internal/kg"
)

type edgeKey struct {
	sourceID string
	relType  string
	targetID string
}

// Store keeps entities and weighted edges in maps guarded by a RWMutex.
// Reads may run concurrently with writes; a traversal sees whatever was
// committed when it acquired the lock.
type Store struct {
	mu        sync.RWMutex
	entities  map[string]kg.Entity
	relations map[edgeKey]kg.Relation
	adjacency map[string][]edgeKey
}

func NewStore() *Store {
	return &Store{
		entities:  make(map[string]kg.Entity),
		relations: make(map[edgeKey]kg.Relation),
		adjacency: make(map[string][]edgeKey),
	}
}

func (s *Store) UpsertEntity(ctx context.Context, entity *kg.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[entity.ID]
	if !ok {
		s.entities[entity.ID] = *entity
		return nil
	}

	merged := *entity
	merged.Aliases = existing.Aliases
	for _, alias := range entity.Aliases {
		if !contains(merged.Aliases, alias) {
			merged.Aliases = append(merged.Aliases, alias)
		}
	}
	s.entities[entity.ID] = merged
	return nil
}

// UpsertRelation keeps the maximum weight for an existing edge. The
// evidence follows the winning weight.
func (s *Store) UpsertRelation(ctx context.Context, relation *kg.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{relation.SourceID, relation.Type, relation.TargetID}
	stored := *relation
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}

	existing, ok := s.relations[key]
	if ok {
		if relation.Weight > existing.Weight {
			s.relations[key] = stored
		}
		return nil
	}

	s.relations[key] = stored
	s.adjacency[relation.SourceID] = append(s.adjacency[relation.SourceID], key)
	s.adjacency[relation.TargetID] = append(s.adjacency[relation.TargetID], key)
	return nil
}

// PathsFrom enumerates simple undirected paths from the seeds up to
// maxHops, pruning any edge below minWeight. Seeds themselves are not
// returned as targets.
func (s *Store) PathsFrom(ctx context.Context, namespace string, seedIDs []string, maxHops int, minWeight float64) ([]kg.Path, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxHops < 1 {
		maxHops = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seedSet := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seedSet[id] = true
	}

	var paths []kg.Path
	for _, seed := range seedIDs {
		if _, ok := s.entities[seed]; !ok {
			continue
		}
		visited := map[string]bool{seed: true}
		s.walk(namespace, seed, maxHops, minWeight, seedSet, visited, nil, &paths)
	}

	// Deterministic order for equal inputs regardless of map iteration.
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Target.ID != paths[j].Target.ID {
			return paths[i].Target.ID < paths[j].Target.ID
		}
		return len(paths[i].Edges) < len(paths[j].Edges)
	})
	return paths, nil
}

func (s *Store) walk(namespace, node string, budget int, minWeight float64, seeds, visited map[string]bool, trail []kg.PathEdge, paths *[]kg.Path) {
	if budget == 0 {
		return
	}

	keys := append([]edgeKey(nil), s.adjacency[node]...)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sourceID != keys[j].sourceID {
			return keys[i].sourceID < keys[j].sourceID
		}
		if keys[i].targetID != keys[j].targetID {
			return keys[i].targetID < keys[j].targetID
		}
		return keys[i].relType < keys[j].relType
	})

	for _, key := range keys {
		rel := s.relations[key]
		if rel.Weight < minWeight || rel.Namespace != namespace {
			continue
		}

		next := key.targetID
		if next == node {
			next = key.sourceID
		}
		if visited[next] {
			continue
		}

		edge := kg.PathEdge{
			SourceID: key.sourceID,
			TargetID: key.targetID,
			Type:     key.relType,
			Weight:   rel.Weight,
		}
		step := append(append([]kg.PathEdge(nil), trail...), edge)

		if target, ok := s.entities[next]; ok && !seeds[next] && target.Namespace == namespace {
			*paths = append(*paths, kg.Path{Target: target, Edges: step})
		}

		visited[next] = true
		s.walk(namespace, next, budget-1, minWeight, seeds, visited, step, paths)
		visited[next] = false
	}
}

// EntityByName looks up an entity by its normalized name within a
// namespace. Used by handlers resolving seed names to ids.
func (s *Store) EntityByName(namespace, normalizedName string) (kg.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[kg.EntityID(namespace, normalizedName)]
	return entity, ok
}

// Counts reports the number of stored entities and relations.
func (s *Store) Counts() (entities, relations int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.relations)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

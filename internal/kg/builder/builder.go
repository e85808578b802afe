// Package builder folds per-window cascade results into one deduplicated
// per-document set and persists it through the graph storage engine. The
// merge runs serialized after all windows complete; since it keeps the
// maximum weight per triple it is commutative and idempotent, so the
// document's final graph does not depend on window processing order.
package builder

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/cascade"
	"github.com/kgforge/backend/internal/kg"
)

type mergedEntity struct {
	name     string
	typ      string
	aliases  []string
	aliasSet map[string]bool
	order    int
}

type tripleKey struct {
	source string
	typ    string
	target string
}

type mergedRelation struct {
	key      tripleKey
	weight   float64
	evidence string
	order    int
}

// Merger accumulates candidates keyed by normalized name and normalized
// triple. Add must be called from a single goroutine; the pipeline feeds
// it window results in index order once the fan-out has finished.
type Merger struct {
	entities  map[string]*mergedEntity
	relations map[tripleKey]*mergedRelation
	rankWins  map[cascade.Rank]int
	order     int
}

func NewMerger() *Merger {
	return &Merger{
		entities:  make(map[string]*mergedEntity),
		relations: make(map[tripleKey]*mergedRelation),
		rankWins:  make(map[cascade.Rank]int),
	}
}

// Add folds one window's result in. Duplicate entities accumulate surface
// forms as aliases; duplicate triples keep the maximum weight, and on a
// tie the first-seen candidate keeps its evidence.
func (m *Merger) Add(result cascade.Result) {
	m.rankWins[result.WinningRank]++

	for _, ent := range result.Candidates.Entities {
		key := kg.NormalizeName(ent.Name)
		if key == "" {
			continue
		}
		existing, ok := m.entities[key]
		if !ok {
			m.order++
			existing = &mergedEntity{
				name:     ent.Name,
				typ:      ent.Type,
				aliasSet: map[string]bool{},
				order:    m.order,
			}
			m.entities[key] = existing
		}
		if !existing.aliasSet[ent.Name] {
			existing.aliasSet[ent.Name] = true
			existing.aliases = append(existing.aliases, ent.Name)
		}
	}

	for _, rel := range result.Candidates.Relations {
		key := tripleKey{
			source: kg.NormalizeName(rel.Source),
			typ:    strings.ToUpper(strings.TrimSpace(rel.Type)),
			target: kg.NormalizeName(rel.Target),
		}
		if key.source == "" || key.target == "" || key.typ == "" || key.source == key.target {
			continue
		}
		existing, ok := m.relations[key]
		if !ok {
			m.order++
			m.relations[key] = &mergedRelation{
				key:      key,
				weight:   rel.Weight,
				evidence: rel.Evidence,
				order:    m.order,
			}
			continue
		}
		// Strictly greater: on equal weights the first-seen evidence wins.
		if rel.Weight > existing.weight {
			existing.weight = rel.Weight
			existing.evidence = rel.Evidence
		}
	}
}

// MergedEntity is one deduplicated entity ready for persistence.
type MergedEntity struct {
	Name        string
	DisplayName string
	Type        string
	Aliases     []string
}

// MergedRelation is one deduplicated triple with its winning weight.
type MergedRelation struct {
	Source   string
	Target   string
	Type     string
	Weight   float64
	Evidence string
}

// MergeResult is the per-document outcome of the merge step.
type MergeResult struct {
	Entities  []MergedEntity
	Relations []MergedRelation
	RankWins  map[cascade.Rank]int
}

// Result snapshots the merged state in first-seen order.
func (m *Merger) Result() MergeResult {
	out := MergeResult{RankWins: m.rankWins}

	type entityPair struct {
		key string
		ent *mergedEntity
	}
	entities := make([]entityPair, 0, len(m.entities))
	for key, ent := range m.entities {
		entities = append(entities, entityPair{key, ent})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ent.order < entities[j].ent.order })
	for _, pair := range entities {
		out.Entities = append(out.Entities, MergedEntity{
			Name:        pair.key,
			DisplayName: pair.ent.name,
			Type:        pair.ent.typ,
			Aliases:     pair.ent.aliases,
		})
	}

	relations := make([]*mergedRelation, 0, len(m.relations))
	for _, rel := range m.relations {
		relations = append(relations, rel)
	}
	sort.Slice(relations, func(i, j int) bool { return relations[i].order < relations[j].order })
	for _, rel := range relations {
		out.Relations = append(out.Relations, MergedRelation{
			Source:   rel.key.source,
			Target:   rel.key.target,
			Type:     rel.key.typ,
			Weight:   rel.weight,
			Evidence: rel.evidence,
		})
	}
	return out
}

// PersistStats reports what a persistence pass wrote.
type PersistStats struct {
	Entities         int
	Relations        int
	SkippedRelations int
}

// Builder writes merged results through the graph storage engine.
type Builder struct {
	writer kg.GraphWriter
	log    *zap.Logger
}

func NewBuilder(writer kg.GraphWriter, log *zap.Logger) *Builder {
	return &Builder{writer: writer, log: log}
}

// Persist upserts the merged entities and relations into the namespace.
// Relations whose endpoints were filtered out upstream are skipped, not
// errors. A storage failure aborts the pass with a kg.WriteError; partial
// writes are safe to retry because every upsert is idempotent.
func (b *Builder) Persist(ctx context.Context, namespace string, result MergeResult) (PersistStats, error) {
	var stats PersistStats

	known := make(map[string]string, len(result.Entities))
	for _, ent := range result.Entities {
		id := kg.EntityID(namespace, ent.Name)
		known[ent.Name] = id

		err := b.writer.UpsertEntity(ctx, &kg.Entity{
			ID:          id,
			Namespace:   namespace,
			Name:        ent.Name,
			DisplayName: ent.DisplayName,
			Type:        ent.Type,
			Aliases:     ent.Aliases,
		})
		if err != nil {
			return stats, &kg.WriteError{Op: "upsert entity " + ent.Name, Err: err}
		}
		stats.Entities++
	}

	now := time.Now()
	for _, rel := range result.Relations {
		sourceID, okS := known[rel.Source]
		targetID, okT := known[rel.Target]
		if !okS || !okT {
			stats.SkippedRelations++
			b.log.Debug("relation endpoint filtered out, skipping",
				zap.String("source", rel.Source),
				zap.String("target", rel.Target),
				zap.String("type", rel.Type))
			continue
		}

		err := b.writer.UpsertRelation(ctx, &kg.Relation{
			Namespace: namespace,
			SourceID:  sourceID,
			TargetID:  targetID,
			Type:      rel.Type,
			Weight:    rel.Weight,
			Evidence:  rel.Evidence,
			UpdatedAt: now,
		})
		if err != nil {
			return stats, &kg.WriteError{Op: "upsert relation " + rel.Source + "->" + rel.Target, Err: err}
		}
		stats.Relations++
	}

	b.log.Info("document persisted to graph",
		zap.String("namespace", namespace),
		zap.Int("entities", stats.Entities),
		zap.Int("relations", stats.Relations),
		zap.Int("skipped_relations", stats.SkippedRelations))

	return stats, nil
}

package memory

import (
	"context"
	"testing"

	"github.com/kgforge/backend/internal/kg"
)

const ns = "test"

func addEntity(t *testing.T, s *Store, name string) string {
	t.Helper()
	id := kg.EntityID(ns, kg.NormalizeName(name))
	err := s.UpsertEntity(context.Background(), &kg.Entity{
		ID:          id,
		Namespace:   ns,
		Name:        kg.NormalizeName(name),
		DisplayName: name,
		Type:        "ENTITY",
	})
	if err != nil {
		t.Fatalf("UpsertEntity(%s): %v", name, err)
	}
	return id
}

func addRelation(t *testing.T, s *Store, sourceID, targetID string, weight float64) {
	t.Helper()
	err := s.UpsertRelation(context.Background(), &kg.Relation{
		Namespace: ns,
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      "RELATED_TO",
		Weight:    weight,
	})
	if err != nil {
		t.Fatalf("UpsertRelation: %v", err)
	}
}

func TestUpsertRelationKeepsMaxWeight(t *testing.T) {
	s := NewStore()
	a := addEntity(t, s, "A")
	b := addEntity(t, s, "B")

	ctx := context.Background()
	rel := &kg.Relation{Namespace: ns, SourceID: a, TargetID: b, Type: "USES", Weight: 0.6, Evidence: "first"}
	if err := s.UpsertRelation(ctx, rel); err != nil {
		t.Fatal(err)
	}
	lower := &kg.Relation{Namespace: ns, SourceID: a, TargetID: b, Type: "USES", Weight: 0.4, Evidence: "second"}
	if err := s.UpsertRelation(ctx, lower); err != nil {
		t.Fatal(err)
	}

	paths, err := s.PathsFrom(ctx, ns, []string{a}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("paths = %d, want 1", len(paths))
	}
	if got := paths[0].Edges[0].Weight; got != 0.6 {
		t.Errorf("weight = %v, want max 0.6", got)
	}

	higher := &kg.Relation{Namespace: ns, SourceID: a, TargetID: b, Type: "USES", Weight: 0.9, Evidence: "third"}
	if err := s.UpsertRelation(ctx, higher); err != nil {
		t.Fatal(err)
	}
	paths, _ = s.PathsFrom(ctx, ns, []string{a}, 1, 0)
	if got := paths[0].Edges[0].Weight; got != 0.9 {
		t.Errorf("weight = %v, want raised 0.9", got)
	}
}

func TestPathsFromWeightThreshold(t *testing.T) {
	// Chain A-B-C-D with weights 0.3, 0.6, 0.9. With min_weight 0.5 the
	// 0.3 edge is impassable: from A nothing is reachable, from B both C
	// and D are.
	s := NewStore()
	a := addEntity(t, s, "A")
	b := addEntity(t, s, "B")
	c := addEntity(t, s, "C")
	d := addEntity(t, s, "D")
	addRelation(t, s, a, b, 0.3)
	addRelation(t, s, b, c, 0.6)
	addRelation(t, s, c, d, 0.9)

	ctx := context.Background()

	paths, err := s.PathsFrom(ctx, ns, []string{a}, 3, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 {
		t.Errorf("from A with min 0.5: got %d paths, want 0", len(paths))
	}

	paths, err = s.PathsFrom(ctx, ns, []string{b}, 3, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	targets := make(map[string]int)
	for _, p := range paths {
		targets[p.Target.DisplayName] = len(p.Edges)
	}
	if len(targets) != 2 || targets["C"] != 1 || targets["D"] != 2 {
		t.Errorf("from B with min 0.5: targets = %v, want C@1 and D@2", targets)
	}
	if _, ok := targets["A"]; ok {
		t.Error("path crossed the 0.3 edge")
	}
}

func TestPathsFromHopBound(t *testing.T) {
	s := NewStore()
	a := addEntity(t, s, "A")
	b := addEntity(t, s, "B")
	c := addEntity(t, s, "C")
	d := addEntity(t, s, "D")
	addRelation(t, s, a, b, 0.9)
	addRelation(t, s, b, c, 0.9)
	addRelation(t, s, c, d, 0.9)

	paths, err := s.PathsFrom(context.Background(), ns, []string{a}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		if len(p.Edges) > 2 {
			t.Errorf("path to %s has %d hops, exceeds bound", p.Target.DisplayName, len(p.Edges))
		}
		if p.Target.DisplayName == "D" {
			t.Error("D reachable only in 3 hops but returned under maxHops=2")
		}
	}
}

func TestPathsFromUndirected(t *testing.T) {
	s := NewStore()
	a := addEntity(t, s, "A")
	b := addEntity(t, s, "B")
	addRelation(t, s, a, b, 0.8)

	// Traversal follows the edge against its direction too.
	paths, err := s.PathsFrom(context.Background(), ns, []string{b}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0].Target.DisplayName != "A" {
		t.Errorf("paths = %+v, want A reachable from B", paths)
	}
}

func TestPathsFromUnknownSeed(t *testing.T) {
	s := NewStore()
	addEntity(t, s, "A")

	paths, err := s.PathsFrom(context.Background(), ns, []string{"no-such-id"}, 2, 0)
	if err != nil {
		t.Fatalf("unknown seed should be empty result, got error %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("paths = %+v, want none", paths)
	}
}

func TestPathsFromNamespaceIsolation(t *testing.T) {
	s := NewStore()
	a := addEntity(t, s, "A")
	b := addEntity(t, s, "B")
	addRelation(t, s, a, b, 0.9)

	other := &kg.Entity{ID: kg.EntityID("other", "c"), Namespace: "other", Name: "c", DisplayName: "C", Type: "ENTITY"}
	if err := s.UpsertEntity(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	cross := &kg.Relation{Namespace: "other", SourceID: a, TargetID: other.ID, Type: "RELATED_TO", Weight: 0.9}
	if err := s.UpsertRelation(context.Background(), cross); err != nil {
		t.Fatal(err)
	}

	paths, err := s.PathsFrom(context.Background(), ns, []string{a}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		if p.Target.Namespace != ns {
			t.Errorf("path leaked into namespace %q", p.Target.Namespace)
		}
	}
}

func TestUpsertEntityMergesAliases(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := kg.EntityID(ns, "gpt-4")

	first := &kg.Entity{ID: id, Namespace: ns, Name: "gpt-4", DisplayName: "GPT-4", Type: "PRODUCT", Aliases: []string{"GPT-4"}}
	second := &kg.Entity{ID: id, Namespace: ns, Name: "gpt-4", DisplayName: "gpt-4", Type: "PRODUCT", Aliases: []string{"gpt-4", "GPT-4"}}
	if err := s.UpsertEntity(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEntity(ctx, second); err != nil {
		t.Fatal(err)
	}

	entity, ok := s.EntityByName(ns, "gpt-4")
	if !ok {
		t.Fatal("entity not found by name")
	}
	if len(entity.Aliases) != 2 {
		t.Errorf("aliases = %v, want deduped pair", entity.Aliases)
	}
}

package builder

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/cascade"
	"github.com/kgforge/backend/internal/kg"
	"github.com/kgforge/backend/internal/kg/memory"
)

func windowResult(index int, rank cascade.Rank, entities []cascade.Entity, relations []cascade.Relation) cascade.Result {
	return cascade.Result{
		WindowIndex: index,
		WinningRank: rank,
		Candidates:  cascade.Candidates{Entities: entities, Relations: relations},
	}
}

func TestMergerMaxWeightWins(t *testing.T) {
	entities := []cascade.Entity{{Name: "OpenAI", Type: "ORG"}, {Name: "GPT-4", Type: "PRODUCT"}}

	tests := []struct {
		name         string
		weights      []float64
		evidence     []string
		wantWeight   float64
		wantEvidence string
	}{
		{"ascending", []float64{0.6, 0.9}, []string{"low", "high"}, 0.9, "high"},
		{"descending", []float64{0.9, 0.6}, []string{"high", "low"}, 0.9, "high"},
		{"tie keeps first seen", []float64{0.7, 0.7}, []string{"first", "second"}, 0.7, "first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMerger()
			for i, w := range tt.weights {
				m.Add(windowResult(i, cascade.RankPrimary, entities, []cascade.Relation{
					{Source: "OpenAI", Target: "GPT-4", Type: "RELEASED", Weight: w, Evidence: tt.evidence[i]},
				}))
			}

			result := m.Result()
			if len(result.Relations) != 1 {
				t.Fatalf("relations = %+v, want 1", result.Relations)
			}
			rel := result.Relations[0]
			if rel.Weight != tt.wantWeight {
				t.Errorf("weight = %v, want %v", rel.Weight, tt.wantWeight)
			}
			if rel.Evidence != tt.wantEvidence {
				t.Errorf("evidence = %q, want %q", rel.Evidence, tt.wantEvidence)
			}
		})
	}
}

func TestMergerNormalizedDedup(t *testing.T) {
	m := NewMerger()
	m.Add(windowResult(0, cascade.RankPrimary,
		[]cascade.Entity{{Name: "GPT-4", Type: "PRODUCT"}},
		[]cascade.Relation{{Source: "GPT-4", Target: "OpenAI", Type: "MADE_BY", Weight: 0.8}}))
	m.Add(windowResult(1, cascade.RankFallback,
		[]cascade.Entity{{Name: "gpt-4", Type: "ENTITY"}, {Name: "OpenAI", Type: "ORG"}},
		[]cascade.Relation{{Source: "gpt-4", Target: "openai", Type: "made_by", Weight: 0.5}}))

	result := m.Result()
	if len(result.Entities) != 2 {
		t.Fatalf("entities = %+v, want 2 after case-folding", result.Entities)
	}
	first := result.Entities[0]
	if first.Name != "gpt-4" || first.DisplayName != "GPT-4" {
		t.Errorf("entity = %+v, want normalized name with first surface form", first)
	}
	if len(first.Aliases) != 2 {
		t.Errorf("aliases = %v, want both surface forms", first.Aliases)
	}
	if len(result.Relations) != 1 || result.Relations[0].Weight != 0.8 {
		t.Errorf("relations = %+v, want single triple at max weight", result.Relations)
	}
	if result.RankWins[cascade.RankPrimary] != 1 || result.RankWins[cascade.RankFallback] != 1 {
		t.Errorf("rank wins = %v", result.RankWins)
	}
}

func TestMergerDropsDegenerateRelations(t *testing.T) {
	m := NewMerger()
	m.Add(windowResult(0, cascade.RankFallback,
		[]cascade.Entity{{Name: "A", Type: "ENTITY"}},
		[]cascade.Relation{
			{Source: "A", Target: "A", Type: "RELATED_TO", Weight: 0.5},
			{Source: "A", Target: "", Type: "RELATED_TO", Weight: 0.5},
			{Source: "A", Target: "B", Type: "", Weight: 0.5},
		}))

	if result := m.Result(); len(result.Relations) != 0 {
		t.Errorf("relations = %+v, want all dropped", result.Relations)
	}
}

func TestMergerIdempotentReplay(t *testing.T) {
	res := windowResult(0, cascade.RankPrimary,
		[]cascade.Entity{{Name: "A", Type: "ENTITY"}, {Name: "B", Type: "ENTITY"}},
		[]cascade.Relation{{Source: "A", Target: "B", Type: "USES", Weight: 0.6, Evidence: "e"}})

	m := NewMerger()
	m.Add(res)
	once := m.Result()
	m.Add(res)
	twice := m.Result()

	if len(once.Entities) != len(twice.Entities) || len(once.Relations) != len(twice.Relations) {
		t.Errorf("replaying the same window changed the merge: %+v vs %+v", once, twice)
	}
	if twice.Relations[0].Weight != 0.6 || twice.Relations[0].Evidence != "e" {
		t.Errorf("replay altered the triple: %+v", twice.Relations[0])
	}
}

func TestPersistWritesEntitiesAndRelations(t *testing.T) {
	store := memory.NewStore()
	b := NewBuilder(store, zap.NewNop())

	m := NewMerger()
	m.Add(windowResult(0, cascade.RankPrimary,
		[]cascade.Entity{{Name: "OpenAI", Type: "ORG"}, {Name: "GPT-4", Type: "PRODUCT"}},
		[]cascade.Relation{{Source: "OpenAI", Target: "GPT-4", Type: "RELEASED", Weight: 0.9, Evidence: "ev"}}))

	stats, err := b.Persist(context.Background(), "docs", m.Result())
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if stats.Entities != 2 || stats.Relations != 1 || stats.SkippedRelations != 0 {
		t.Errorf("stats = %+v", stats)
	}

	seed := kg.EntityID("docs", "openai")
	paths, err := store.PathsFrom(context.Background(), "docs", []string{seed}, 1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0].Target.Name != "gpt-4" {
		t.Fatalf("paths = %+v", paths)
	}
	if paths[0].Edges[0].Weight != 0.9 {
		t.Errorf("persisted weight = %v", paths[0].Edges[0].Weight)
	}
}

func TestPersistSkipsFilteredEndpoints(t *testing.T) {
	store := memory.NewStore()
	b := NewBuilder(store, zap.NewNop())

	// "20" was dropped by the quality filter, so the relation has a
	// dangling endpoint and is skipped rather than failing the write.
	m := NewMerger()
	m.Add(windowResult(0, cascade.RankFallback,
		[]cascade.Entity{{Name: "OpenAI", Type: "ORG"}},
		[]cascade.Relation{{Source: "OpenAI", Target: "20", Type: "RELATED_TO", Weight: 0.5}}))

	stats, err := b.Persist(context.Background(), "docs", m.Result())
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if stats.Relations != 0 || stats.SkippedRelations != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

type failingWriter struct {
	failRelations bool
}

func (w *failingWriter) UpsertEntity(ctx context.Context, e *kg.Entity) error {
	if !w.failRelations {
		return errors.New("connection reset")
	}
	return nil
}

func (w *failingWriter) UpsertRelation(ctx context.Context, r *kg.Relation) error {
	return errors.New("connection reset")
}

func TestPersistSurfacesWriteError(t *testing.T) {
	m := NewMerger()
	m.Add(windowResult(0, cascade.RankPrimary,
		[]cascade.Entity{{Name: "A", Type: "ENTITY"}, {Name: "B", Type: "ENTITY"}},
		[]cascade.Relation{{Source: "A", Target: "B", Type: "USES", Weight: 0.7}}))

	for _, failRelations := range []bool{false, true} {
		b := NewBuilder(&failingWriter{failRelations: failRelations}, zap.NewNop())
		_, err := b.Persist(context.Background(), "docs", m.Result())
		var we *kg.WriteError
		if !errors.As(err, &we) {
			t.Errorf("failRelations=%v: expected WriteError, got %v", failRelations, err)
		}
	}
}

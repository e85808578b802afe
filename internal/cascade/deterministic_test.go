package cascade

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/nlp"
	"github.com/kgforge/backend/internal/window"
)

type fakeAnalyzer struct {
	sentences []nlp.Sentence
	err       error
}

func (f *fakeAnalyzer) Analyze(text string) ([]nlp.Sentence, error) {
	return f.sentences, f.err
}

func TestDeterministicEntitiesAndCooccurrence(t *testing.T) {
	analyzer := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text: "OpenAI released GPT-4 in 2023.",
			Tokens: []nlp.Token{
				{Text: "OpenAI", Tag: "NNP"},
				{Text: "released", Tag: "VBD"},
				{Text: "GPT-4", Tag: "NNP"},
				{Text: "in", Tag: "IN"},
				{Text: "2023", Tag: "CD"},
				{Text: ".", Tag: "."},
			},
			Entities: []nlp.EntitySpan{
				{Text: "OpenAI", Label: "ORG"},
			},
		},
	}}

	ext := NewDeterministic(analyzer, zap.NewNop()).Extract(window.ContextWindow{Index: 0, Text: "doc"})

	wantEntities := map[string]string{
		"OpenAI": "ORG",
		"GPT-4":  "ENTITY",
		"2023":   "CARDINAL",
	}
	if len(ext.Candidates.Entities) != len(wantEntities) {
		t.Fatalf("entities = %+v, want %d", ext.Candidates.Entities, len(wantEntities))
	}
	for _, ent := range ext.Candidates.Entities {
		if wantEntities[ent.Name] != ent.Type {
			t.Errorf("entity %q typed %q, want %q", ent.Name, ent.Type, wantEntities[ent.Name])
		}
	}

	// Every pair gets a generic relation with the shared sentence as
	// evidence, and no raw strength.
	if len(ext.Candidates.Relations) != 3 {
		t.Fatalf("relations = %+v, want 3 pairs", ext.Candidates.Relations)
	}
	for _, rel := range ext.Candidates.Relations {
		if rel.Type != GenericRelationType {
			t.Errorf("relation type = %q, want %q", rel.Type, GenericRelationType)
		}
		if rel.RawStrength != 0 {
			t.Errorf("co-occurrence relation carries strength %d", rel.RawStrength)
		}
		if rel.Evidence != "OpenAI released GPT-4 in 2023." {
			t.Errorf("evidence = %q", rel.Evidence)
		}
	}
}

func TestDeterministicProperRunJoined(t *testing.T) {
	analyzer := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text: "Kotayk Province borders Yerevan.",
			Tokens: []nlp.Token{
				{Text: "Kotayk", Tag: "NNP"},
				{Text: "Province", Tag: "NNP"},
				{Text: "borders", Tag: "VBZ"},
				{Text: "Yerevan", Tag: "NNP"},
				{Text: ".", Tag: "."},
			},
		},
	}}

	ext := NewDeterministic(analyzer, zap.NewNop()).Extract(window.ContextWindow{Text: "doc"})

	if len(ext.Candidates.Entities) != 2 {
		t.Fatalf("entities = %+v, want 2", ext.Candidates.Entities)
	}
	if ext.Candidates.Entities[0].Name != "Kotayk Province" {
		t.Errorf("first entity = %q, want joined proper run", ext.Candidates.Entities[0].Name)
	}
	if len(ext.Candidates.Relations) != 1 {
		t.Fatalf("relations = %+v, want 1", ext.Candidates.Relations)
	}
	rel := ext.Candidates.Relations[0]
	if rel.Source != "Kotayk Province" || rel.Target != "Yerevan" {
		t.Errorf("relation = %s -> %s", rel.Source, rel.Target)
	}
}

// Entities in different sentences of the same window still pair; the
// evidence falls back to the window text since no sentence holds both.
func TestDeterministicCrossSentencePairing(t *testing.T) {
	analyzer := &fakeAnalyzer{sentences: []nlp.Sentence{
		{Text: "First.", Tokens: []nlp.Token{{Text: "Alpha", Tag: "NNP"}}},
		{Text: "Second.", Tokens: []nlp.Token{{Text: "Beta", Tag: "NNP"}}},
	}}

	ext := NewDeterministic(analyzer, zap.NewNop()).Extract(window.ContextWindow{Text: "First. Second."})

	if len(ext.Candidates.Entities) != 2 {
		t.Fatalf("entities = %+v", ext.Candidates.Entities)
	}
	if len(ext.Candidates.Relations) != 1 {
		t.Fatalf("relations = %+v, want the cross-sentence pair", ext.Candidates.Relations)
	}
	rel := ext.Candidates.Relations[0]
	if rel.Source != "Alpha" || rel.Target != "Beta" {
		t.Errorf("relation = %s -> %s", rel.Source, rel.Target)
	}
	if rel.Evidence != "First. Second." {
		t.Errorf("evidence = %q, want the window text", rel.Evidence)
	}
}

func TestDeterministicDuplicatePairsCollapsed(t *testing.T) {
	sentence := nlp.Sentence{
		Text: "Alpha uses Beta.",
		Tokens: []nlp.Token{
			{Text: "Alpha", Tag: "NNP"},
			{Text: "uses", Tag: "VBZ"},
			{Text: "Beta", Tag: "NNP"},
		},
	}
	analyzer := &fakeAnalyzer{sentences: []nlp.Sentence{sentence, sentence}}

	ext := NewDeterministic(analyzer, zap.NewNop()).Extract(window.ContextWindow{Text: "doc"})

	if len(ext.Candidates.Entities) != 2 {
		t.Errorf("duplicate entities not collapsed: %+v", ext.Candidates.Entities)
	}
	if len(ext.Candidates.Relations) != 1 {
		t.Errorf("duplicate pairs not collapsed: %+v", ext.Candidates.Relations)
	}
}

func TestDeterministicNeverFails(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("model file missing")}
	ext := NewDeterministic(analyzer, zap.NewNop()).Extract(window.ContextWindow{Text: "doc"})
	if ext == nil {
		t.Fatal("Extract returned nil")
	}
	if len(ext.Candidates.Entities) != 0 || len(ext.Candidates.Relations) != 0 {
		t.Errorf("expected empty result, got %+v", ext.Candidates)
	}
}

package coref

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/nlp"
)

type fakeAnalyzer struct {
	sentences []nlp.Sentence
	err       error
}

func (f *fakeAnalyzer) Analyze(text string) ([]nlp.Sentence, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sentences, nil
}

// tagged builds a token list from alternating text/tag pairs.
func tagged(pairs ...string) []nlp.Token {
	if len(pairs)%2 != 0 {
		panic("tagged requires text/tag pairs")
	}
	tokens := make([]nlp.Token, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		tokens = append(tokens, nlp.Token{Text: pairs[i], Tag: pairs[i+1]})
	}
	return tokens
}

func TestResolveDefiniteAnaphor(t *testing.T) {
	an := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text:   "OpenAI released GPT-4.",
			Tokens: tagged("OpenAI", "NNP", "released", "VBD", "GPT-4", "NNP", ".", "."),
		},
		{
			Text:   "The model set new benchmarks.",
			Tokens: tagged("The", "DT", "model", "NN", "set", "VBD", "new", "JJ", "benchmarks", "NNS", ".", "."),
		},
	}}

	r := New(an, zap.NewNop())
	got := r.Resolve("OpenAI released GPT-4. The model set new benchmarks.", "en")
	want := "OpenAI released GPT-4. GPT-4 set new benchmarks."
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolvePronounPrefersPerson(t *testing.T) {
	an := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text: "Marie Curie founded the institute in Paris.",
			Tokens: tagged(
				"Marie", "NNP", "Curie", "NNP", "founded", "VBD",
				"the", "DT", "institute", "NN", "in", "IN", "Paris", "NNP", ".", ".",
			),
			Entities: []nlp.EntitySpan{
				{Text: "Marie Curie", Label: "PERSON"},
				{Text: "Paris", Label: "GPE"},
			},
		},
		{
			Text:   "She won the Nobel Prize twice.",
			Tokens: tagged("She", "PRP", "won", "VBD", "the", "DT", "Nobel", "NNP", "Prize", "NNP", "twice", "RB", ".", "."),
		},
	}}

	r := New(an, zap.NewNop())
	got := r.Resolve("Marie Curie founded the institute in Paris. She won the Nobel Prize twice.", "en")
	want := "Marie Curie founded the institute in Paris. Marie Curie won the Nobel Prize twice."
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolvePossessive(t *testing.T) {
	an := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text:   "Albert Einstein published the theory.",
			Tokens: tagged("Albert", "NNP", "Einstein", "NNP", "published", "VBD", "the", "DT", "theory", "NN", ".", "."),
			Entities: []nlp.EntitySpan{
				{Text: "Albert Einstein", Label: "PERSON"},
			},
		},
		{
			Text:   "His fame grew quickly.",
			Tokens: tagged("His", "PRP$", "fame", "NN", "grew", "VBD", "quickly", "RB", ".", "."),
		},
	}}

	r := New(an, zap.NewNop())
	got := r.Resolve("Albert Einstein published the theory. His fame grew quickly.", "en")
	want := "Albert Einstein published the theory. Albert Einstein's fame grew quickly."
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolvePartialNameChain(t *testing.T) {
	an := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text:     "Barack Obama spoke first.",
			Tokens:   tagged("Barack", "NNP", "Obama", "NNP", "spoke", "VBD", "first", "RB", ".", "."),
			Entities: []nlp.EntitySpan{{Text: "Barack Obama", Label: "PERSON"}},
		},
		{
			Text:   "Obama left early.",
			Tokens: tagged("Obama", "NNP", "left", "VBD", "early", "RB", ".", "."),
		},
		{
			Text:   "He smiled.",
			Tokens: tagged("He", "PRP", "smiled", "VBD", ".", "."),
		},
	}}

	r := New(an, zap.NewNop())
	got := r.Resolve("Barack Obama spoke first. Obama left early. He smiled.", "en")
	want := "Barack Obama spoke first. Obama left early. Barack Obama smiled."
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveItDoesNotPickPerson(t *testing.T) {
	input := "Marie Curie arrived. It rained."
	an := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text:     "Marie Curie arrived.",
			Tokens:   tagged("Marie", "NNP", "Curie", "NNP", "arrived", "VBD", ".", "."),
			Entities: []nlp.EntitySpan{{Text: "Marie Curie", Label: "PERSON"}},
		},
		{
			Text:   "It rained.",
			Tokens: tagged("It", "PRP", "rained", "VBD", ".", "."),
		},
	}}

	r := New(an, zap.NewNop())
	if got := r.Resolve(input, "en"); got != input {
		t.Errorf("Resolve = %q, want input unchanged", got)
	}
}

func TestResolveUnsupportedLanguage(t *testing.T) {
	input := "Er hat das Modell vorgestellt."
	r := New(&fakeAnalyzer{}, zap.NewNop())
	if got := r.Resolve(input, "de"); got != input {
		t.Errorf("Resolve = %q, want input unchanged", got)
	}
}

func TestResolveAnalyzerFailure(t *testing.T) {
	input := "OpenAI released GPT-4. The model set new benchmarks."
	r := New(&fakeAnalyzer{err: errors.New("tagger unavailable")}, zap.NewNop())
	if got := r.Resolve(input, "en"); got != input {
		t.Errorf("Resolve = %q, want input unchanged", got)
	}
}

func TestResolveNoAnaphora(t *testing.T) {
	input := "Go is a language.\nRust is a language."
	an := &fakeAnalyzer{sentences: []nlp.Sentence{
		{
			Text:   "Go is a language.",
			Tokens: tagged("Go", "NNP", "is", "VBZ", "a", "DT", "language", "NN", ".", "."),
		},
		{
			Text:   "Rust is a language.",
			Tokens: tagged("Rust", "NNP", "is", "VBZ", "a", "DT", "language", "NN", ".", "."),
		},
	}}

	r := New(an, zap.NewNop())
	if got := r.Resolve(input, "en"); got != input {
		t.Errorf("Resolve = %q, want input unchanged (including whitespace)", got)
	}
}

package nlp

import (
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"
)

// Prose implements Segmenter and Analyzer on top of jdkato/prose.
type Prose struct{}

func NewProse() *Prose {
	return &Prose{}
}

// Segment splits text into sentences using prose's punkt-style segmenter.
// Tagging and extraction are disabled to keep segmentation cheap.
func (p *Prose) Segment(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to segment text: %w", err)
	}

	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// Analyze segments text and runs tokenization, POS tagging and NER on each
// sentence. Tokens come back in sentence order with Penn Treebank tags.
func (p *Prose) Analyze(text string) ([]Sentence, error) {
	sentences, err := p.Segment(text)
	if err != nil {
		return nil, err
	}

	out := make([]Sentence, 0, len(sentences))
	for _, st := range sentences {
		doc, err := prose.NewDocument(st, prose.WithSegmentation(false))
		if err != nil {
			return nil, fmt.Errorf("failed to analyze sentence: %w", err)
		}

		analyzed := Sentence{Text: st}
		for _, tok := range doc.Tokens() {
			analyzed.Tokens = append(analyzed.Tokens, Token{Text: tok.Text, Tag: tok.Tag})
		}
		for _, ent := range doc.Entities() {
			analyzed.Entities = append(analyzed.Entities, EntitySpan{Text: ent.Text, Label: ent.Label})
		}
		out = append(out, analyzed)
	}
	return out, nil
}

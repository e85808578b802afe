// Package nlp wraps the prose NLP toolkit behind small interfaces so the
// pipeline stages that depend on segmentation and tagging can be tested
// with deterministic fakes.
package nlp

// Token is a single token with its Penn Treebank part-of-speech tag.
type Token struct {
	Text string
	Tag  string
}

// EntitySpan is a named-entity span detected by the tagger's NER model.
type EntitySpan struct {
	Text  string
	Label string
}

// Sentence is one sentence with its token and entity analysis.
type Sentence struct {
	Text     string
	Tokens   []Token
	Entities []EntitySpan
}

// Segmenter splits raw text into sentences.
type Segmenter interface {
	Segment(text string) ([]string, error)
}

// Analyzer produces per-sentence token and entity analysis.
type Analyzer interface {
	Analyze(text string) ([]Sentence, error)
}

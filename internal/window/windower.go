// Package window slices a document into overlapping sentence windows so
// that extraction sees relations spanning sentence boundaries.
package window

import (
	"fmt"
	"strings"

	"github.com/kgforge/backend/internal/nlp"
)

// ContextWindow is a contiguous run of sentences handed to the extraction
// cascade as one unit. Start and End are inclusive sentence indices.
type ContextWindow struct {
	Index     int
	Start     int
	End       int
	Sentences []string
	Text      string
}

// Windower turns resolved document text into context windows. The slide
// step is size minus overlap; the final window always ends at the last
// sentence so every sentence lands in at least one window.
type Windower struct {
	segmenter nlp.Segmenter
	size      int
	overlap   int
}

// New normalizes degenerate settings instead of failing: a window holds at
// least one sentence and the overlap always leaves a positive step.
func New(segmenter nlp.Segmenter, size, overlap int) *Windower {
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Windower{segmenter: segmenter, size: size, overlap: overlap}
}

// Windows segments text and slices it. Empty or whitespace-only input
// yields no windows and no error.
func (w *Windower) Windows(text string) ([]ContextWindow, error) {
	sentences, err := w.segmenter.Segment(text)
	if err != nil {
		return nil, fmt.Errorf("failed to segment document: %w", err)
	}
	if len(sentences) == 0 {
		return nil, nil
	}
	return w.slice(sentences), nil
}

func (w *Windower) slice(sentences []string) []ContextWindow {
	step := w.size - w.overlap
	if step < 1 {
		step = 1
	}

	var windows []ContextWindow
	for start := 0; start < len(sentences); start += step {
		end := start + w.size
		if end > len(sentences) {
			end = len(sentences)
		}
		span := sentences[start:end]
		windows = append(windows, ContextWindow{
			Index:     len(windows),
			Start:     start,
			End:       end - 1,
			Sentences: span,
			Text:      strings.Join(span, " "),
		})
	}
	return windows
}

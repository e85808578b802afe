package window

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeSegmenter struct {
	sentences []string
	err       error
}

func (f *fakeSegmenter) Segment(text string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return f.sentences, nil
}

func numberedSentences(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Sentence %d.", i)
	}
	return out
}

func TestWindowsSpans(t *testing.T) {
	tests := []struct {
		name      string
		sentences int
		size      int
		overlap   int
		want      [][2]int
	}{
		{
			name:      "seven sentences size three overlap one",
			sentences: 7,
			size:      3,
			overlap:   1,
			want:      [][2]int{{0, 2}, {2, 4}, {4, 6}, {6, 6}},
		},
		{
			name:      "shorter than window yields one window",
			sentences: 2,
			size:      3,
			overlap:   1,
			want:      [][2]int{{0, 1}},
		},
		{
			name:      "single sentence",
			sentences: 1,
			size:      3,
			overlap:   1,
			want:      [][2]int{{0, 0}},
		},
		{
			name:      "exact multiple",
			sentences: 5,
			size:      3,
			overlap:   1,
			want:      [][2]int{{0, 2}, {2, 4}, {4, 4}},
		},
		{
			name:      "no overlap",
			sentences: 6,
			size:      2,
			overlap:   0,
			want:      [][2]int{{0, 1}, {2, 3}, {4, 5}},
		},
		{
			name:      "overlap clamped below size",
			sentences: 4,
			size:      2,
			overlap:   5,
			want:      [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(&fakeSegmenter{sentences: numberedSentences(tt.sentences)}, tt.size, tt.overlap)
			windows, err := w.Windows("doc")
			if err != nil {
				t.Fatalf("Windows returned error: %v", err)
			}
			if len(windows) != len(tt.want) {
				t.Fatalf("got %d windows, want %d", len(windows), len(tt.want))
			}
			for i, span := range tt.want {
				if windows[i].Start != span[0] || windows[i].End != span[1] {
					t.Errorf("window %d covers [%d-%d], want [%d-%d]",
						i, windows[i].Start, windows[i].End, span[0], span[1])
				}
				if windows[i].Index != i {
					t.Errorf("window %d has index %d", i, windows[i].Index)
				}
			}
		})
	}
}

func TestWindowsEverySentenceCovered(t *testing.T) {
	for n := 1; n <= 12; n++ {
		w := New(&fakeSegmenter{sentences: numberedSentences(n)}, 3, 1)
		windows, err := w.Windows("doc")
		if err != nil {
			t.Fatalf("Windows returned error: %v", err)
		}

		covered := make(map[int]bool)
		for _, win := range windows {
			if win.End-win.Start+1 > 3 {
				t.Errorf("n=%d: window [%d-%d] exceeds size", n, win.Start, win.End)
			}
			if win.End != win.Start+len(win.Sentences)-1 {
				t.Errorf("n=%d: window [%d-%d] carries %d sentences", n, win.Start, win.End, len(win.Sentences))
			}
			for i := win.Start; i <= win.End; i++ {
				covered[i] = true
			}
		}
		for i := 0; i < n; i++ {
			if !covered[i] {
				t.Errorf("n=%d: sentence %d not covered by any window", n, i)
			}
		}
		last := windows[len(windows)-1]
		if last.End != n-1 {
			t.Errorf("n=%d: final window ends at %d, want %d", n, last.End, n-1)
		}
	}
}

func TestWindowsEmptyDocument(t *testing.T) {
	w := New(&fakeSegmenter{}, 3, 1)
	windows, err := w.Windows("   ")
	if err != nil {
		t.Fatalf("Windows returned error: %v", err)
	}
	if len(windows) != 0 {
		t.Fatalf("got %d windows for empty document, want 0", len(windows))
	}
}

func TestWindowsSegmenterError(t *testing.T) {
	segErr := errors.New("segmenter down")
	w := New(&fakeSegmenter{err: segErr}, 3, 1)
	if _, err := w.Windows("doc"); !errors.Is(err, segErr) {
		t.Fatalf("expected wrapped segmenter error, got %v", err)
	}
}

func TestWindowText(t *testing.T) {
	sentences := []string{"First sentence.", "Second sentence.", "Third sentence."}
	w := New(&fakeSegmenter{sentences: sentences}, 3, 1)
	windows, err := w.Windows("doc")
	if err != nil {
		t.Fatalf("Windows returned error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(windows))
	}
	want := "First sentence. Second sentence. Third sentence."
	if windows[0].Text != want {
		t.Errorf("window text = %q, want %q", windows[0].Text, want)
	}
}

package cascade

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/nlp"
	"github.com/kgforge/backend/internal/window"
)

// GenericRelationType tags relations derived from co-occurrence rather
// than from a model. They carry no raw strength and get the neutral
// default weight downstream.
const GenericRelationType = "RELATED_TO"

// Deterministic is the final rank. It tags entities with the local NER
// model, backfills proper-noun runs the model missed and derives generic
// relations from co-occurrence within the window. Extract has no error
// return: an analyzer failure degrades to an empty result.
type Deterministic struct {
	analyzer nlp.Analyzer
	log      *zap.Logger
}

func NewDeterministic(analyzer nlp.Analyzer, log *zap.Logger) *Deterministic {
	return &Deterministic{analyzer: analyzer, log: log}
}

func (d *Deterministic) Name() string {
	return "deterministic-ner"
}

// Extract tags one window. Entities come from NER spans plus uncovered
// proper-noun runs; cardinal tokens are emitted as CARDINAL and left for
// the quality filter to drop.
func (d *Deterministic) Extract(win window.ContextWindow) *Extraction {
	out := &Extraction{}

	sentences, err := d.analyzer.Analyze(win.Text)
	if err != nil {
		d.log.Warn("deterministic analysis failed, emitting empty result",
			zap.Int("window", win.Index),
			zap.Error(err))
		return out
	}

	seen := make(map[string]bool)

	// names holds each distinct entity once, in first-appearance order;
	// sentencesOf records which sentences it surfaced in.
	var names []string
	sentencesOf := make(map[string]map[int]bool)

	for si, sentence := range sentences {
		for _, name := range d.sentenceEntities(sentence, seen, out) {
			key := strings.ToLower(name)
			if sentencesOf[key] == nil {
				sentencesOf[key] = make(map[int]bool)
				names = append(names, name)
			}
			sentencesOf[key][si] = true
		}
	}

	// Co-occurrence anywhere in the window links every entity pair with a
	// generic relation. A sentence both entities share is the evidence
	// span; pairs that never share one fall back to the window text.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a := strings.ToLower(names[i])
			b := strings.ToLower(names[j])
			evidence := win.Text
			for si := range sentences {
				if sentencesOf[a][si] && sentencesOf[b][si] {
					evidence = sentences[si].Text
					break
				}
			}
			out.Candidates.Relations = append(out.Candidates.Relations, Relation{
				Source:   names[i],
				Target:   names[j],
				Type:     GenericRelationType,
				Evidence: evidence,
			})
		}
	}

	return out
}

// sentenceEntities collects the sentence's candidate entities into out and
// returns their names in surface order for pairing.
func (d *Deterministic) sentenceEntities(sentence nlp.Sentence, seen map[string]bool, out *Extraction) []string {
	var names []string

	add := func(name, typ string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		names = append(names, name)
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out.Candidates.Entities = append(out.Candidates.Entities, Entity{Name: name, Type: typ})
	}

	covered := func(text string) bool {
		for _, ent := range sentence.Entities {
			if strings.Contains(ent.Text, text) {
				return true
			}
		}
		return false
	}

	for _, ent := range sentence.Entities {
		label := ent.Label
		if label == "" {
			label = "ENTITY"
		}
		add(ent.Text, label)
	}

	for ti := 0; ti < len(sentence.Tokens); ti++ {
		tok := sentence.Tokens[ti]
		switch {
		case tok.Tag == "NNP" || tok.Tag == "NNPS":
			run, last := properRun(sentence.Tokens, ti)
			ti = last
			if !covered(run) {
				add(run, "ENTITY")
			}
		case tok.Tag == "CD":
			if !covered(tok.Text) {
				add(tok.Text, "CARDINAL")
			}
		}
	}

	return names
}

// properRun collects the maximal run of proper-noun tokens starting at ti
// and returns the joined text plus the index of the run's last token.
func properRun(tokens []nlp.Token, ti int) (string, int) {
	last := ti
	for last+1 < len(tokens) {
		tag := tokens[last+1].Tag
		if tag != "NNP" && tag != "NNPS" {
			break
		}
		last++
	}
	parts := make([]string, 0, last-ti+1)
	for i := ti; i <= last; i++ {
		parts = append(parts, tokens[i].Text)
	}
	return strings.Join(parts, " "), last
}

// Package coref rewrites pronouns and definite anaphora to their antecedent
// entity names so that window-local extraction sees explicit names instead
// of references. Resolution is deterministic and rule-based; when the
// language is unsupported or analysis fails the input passes through
// unchanged.
package coref

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/nlp"
)

// maxAntecedentDistance bounds how many sentences back an antecedent may
// live. Chains older than this are not considered for resolution.
const maxAntecedentDistance = 5

var supportedLanguages = map[string]bool{
	"en": true,
}

// Pronouns that trigger resolution, keyed by surface form. Tags decide
// personal (PRP) versus possessive (PRP$) handling, so "her" works as both.
var personalPronouns = map[string]bool{
	"he": true, "him": true, "she": true, "her": true,
	"it": true, "they": true, "them": true,
}

var possessivePronouns = map[string]bool{
	"his": true, "her": true, "hers": true, "its": true,
	"their": true, "theirs": true,
}

// Appellative nouns that form definite anaphora ("the model", "the company").
var appellatives = map[string]bool{
	"model": true, "system": true, "company": true, "organization": true,
	"firm": true, "agency": true, "product": true, "service": true,
	"platform": true, "tool": true, "framework": true, "library": true,
	"database": true, "protocol": true, "network": true, "language": true,
	"device": true, "project": true, "team": true, "group": true,
	"city": true, "town": true, "province": true, "region": true,
	"country": true, "state": true, "author": true, "researcher": true,
	"scientist": true, "president": true, "founder": true, "ceo": true,
	"university": true, "institute": true, "journal": true, "algorithm": true,
	"method": true, "approach": true, "technique": true, "report": true,
	"study": true, "paper": true, "document": true, "standard": true,
}

// chain is one coreference chain. The canonical form is the text of the
// chain's first mention; later mentions and resolved anaphora only bump
// recency.
type chain struct {
	canonical    string
	tokens       []string
	label        string
	plural       bool
	lastMention  int
	lastSentence int
}

type anaphorKind int

const (
	kindPersonal anaphorKind = iota
	kindPossessive
	kindDefinite
)

type replacement struct {
	start int
	end   int
	text  string
}

type Resolver struct {
	analyzer nlp.Analyzer
	log      *zap.Logger
}

func New(analyzer nlp.Analyzer, log *zap.Logger) *Resolver {
	return &Resolver{analyzer: analyzer, log: log}
}

// Resolve rewrites anaphoric mentions in text to their antecedents and
// returns the rewritten document. It never fails: unsupported languages,
// analyzer errors and documents without anaphora all return the input
// unchanged.
func (r *Resolver) Resolve(text, lang string) string {
	if !supportedLanguages[lang] {
		return text
	}
	sentences, err := r.analyzer.Analyze(text)
	if err != nil {
		r.log.Debug("coreference analysis failed, passing text through",
			zap.Error(err))
		return text
	}
	if len(sentences) == 0 {
		return text
	}

	var (
		chains   []*chain
		mentions int
		resolved = make([]string, len(sentences))
		rewrites int
	)

	for si, sentence := range sentences {
		spans := tokenSpans(sentence.Text, sentence.Tokens)
		var repls []replacement

		for ti := 0; ti < len(sentence.Tokens); ti++ {
			tok := sentence.Tokens[ti]

			if isProperRun(tok.Tag) {
				run, last := properRun(sentence.Tokens, ti)
				mentions++
				observeMention(&chains, run, sentence, si, mentions,
					sentence.Tokens[last].Tag == "NNPS")
				ti = last
				continue
			}

			kind, span, ok := detectAnaphor(sentence.Tokens, spans, ti)
			if !ok {
				continue
			}
			word := strings.ToLower(tok.Text)
			target := pickAntecedent(chains, kind, word, si)
			if target == nil {
				continue
			}

			repl := target.canonical
			if kind == kindPossessive {
				repl += "'s"
			}
			repls = append(repls, replacement{start: span[0], end: span[1], text: repl})

			mentions++
			target.lastMention = mentions
			target.lastSentence = si
			if kind == kindDefinite {
				ti++ // skip the appellative noun we just consumed
			}
		}

		resolved[si] = applyReplacements(sentence.Text, repls)
		rewrites += len(repls)
	}

	if rewrites == 0 {
		return text
	}
	return strings.Join(resolved, " ")
}

// observeMention links a proper-noun run to an existing chain, or starts a
// new one. A run joins a chain when its tokens are a suffix of the chain's
// canonical tokens or vice versa, so "Obama" continues "Barack Obama".
func observeMention(chains *[]*chain, run string, sentence nlp.Sentence, si, mention int, plural bool) {
	runTokens := strings.Fields(strings.ToLower(run))
	for _, c := range *chains {
		if tokenSuffix(runTokens, c.tokens) || tokenSuffix(c.tokens, runTokens) {
			c.lastMention = mention
			c.lastSentence = si
			return
		}
	}

	c := &chain{
		canonical:    run,
		tokens:       runTokens,
		label:        entityLabel(sentence.Entities, run),
		plural:       plural,
		lastMention:  mention,
		lastSentence: si,
	}
	*chains = append(*chains, c)
}

// detectAnaphor reports whether the token at ti starts an anaphoric mention
// and, if so, the byte span to replace.
func detectAnaphor(tokens []nlp.Token, spans [][2]int, ti int) (anaphorKind, [2]int, bool) {
	tok := tokens[ti]
	word := strings.ToLower(tok.Text)

	switch tok.Tag {
	case "PRP":
		if personalPronouns[word] && spans[ti][1] > spans[ti][0] {
			return kindPersonal, spans[ti], true
		}
	case "PRP$":
		if possessivePronouns[word] && spans[ti][1] > spans[ti][0] {
			return kindPossessive, spans[ti], true
		}
	case "DT":
		if word != "the" || ti+1 >= len(tokens) {
			break
		}
		next := tokens[ti+1]
		if next.Tag != "NN" || !appellatives[strings.ToLower(next.Text)] {
			break
		}
		// The appellative must be the head noun: "the model number"
		// refers to the number, not the model.
		if ti+2 < len(tokens) && strings.HasPrefix(tokens[ti+2].Tag, "NN") {
			break
		}
		if spans[ti][1] > spans[ti][0] && spans[ti+1][1] > spans[ti+1][0] {
			return kindDefinite, [2]int{spans[ti][0], spans[ti+1][1]}, true
		}
	}
	return 0, [2]int{}, false
}

// pickAntecedent returns the most recent chain compatible with the anaphor,
// or nil when none qualifies within the distance bound.
func pickAntecedent(chains []*chain, kind anaphorKind, word string, sentence int) *chain {
	eligible := func(c *chain) bool {
		if sentence-c.lastSentence > maxAntecedentDistance {
			return false
		}
		// Definite anaphora only point across sentences; "founded the
		// institute" introduces an entity, it does not refer back.
		if kind == kindDefinite && c.lastSentence >= sentence {
			return false
		}
		return true
	}

	preferred := func(c *chain) bool {
		switch word {
		case "he", "him", "his", "she", "her", "hers":
			return c.label == "PERSON"
		case "it", "its":
			return c.label != "PERSON"
		case "they", "them", "their", "theirs":
			return c.plural
		}
		return true
	}

	var best, fallback *chain
	for _, c := range chains {
		if !eligible(c) {
			continue
		}
		if fallback == nil || c.lastMention > fallback.lastMention {
			fallback = c
		}
		if !preferred(c) {
			continue
		}
		if best == nil || c.lastMention > best.lastMention {
			best = c
		}
	}
	if best != nil {
		return best
	}
	// "it" must not fall back onto a person.
	if (word == "it" || word == "its") && fallback != nil && fallback.label == "PERSON" {
		return nil
	}
	return fallback
}

// tokenSpans locates each token's byte span in the sentence. Tokens the
// tokenizer normalized away from the surface form get an empty span and are
// skipped by detection.
func tokenSpans(sentence string, tokens []nlp.Token) [][2]int {
	spans := make([][2]int, len(tokens))
	cursor := 0
	for i, tok := range tokens {
		idx := strings.Index(sentence[cursor:], tok.Text)
		if idx < 0 {
			spans[i] = [2]int{cursor, cursor}
			continue
		}
		start := cursor + idx
		spans[i] = [2]int{start, start + len(tok.Text)}
		cursor = start + len(tok.Text)
	}
	return spans
}

func applyReplacements(sentence string, repls []replacement) string {
	out := sentence
	for i := len(repls) - 1; i >= 0; i-- {
		r := repls[i]
		out = out[:r.start] + r.text + out[r.end:]
	}
	return out
}

func isProperRun(tag string) bool {
	return tag == "NNP" || tag == "NNPS"
}

// properRun collects the maximal run of proper-noun tokens starting at ti
// and returns the joined text plus the index of the run's last token.
func properRun(tokens []nlp.Token, ti int) (string, int) {
	last := ti
	for last+1 < len(tokens) && isProperRun(tokens[last+1].Tag) {
		last++
	}
	parts := make([]string, 0, last-ti+1)
	for i := ti; i <= last; i++ {
		parts = append(parts, tokens[i].Text)
	}
	return strings.Join(parts, " "), last
}

func entityLabel(entities []nlp.EntitySpan, run string) string {
	for _, ent := range entities {
		if strings.Contains(ent.Text, run) || strings.Contains(run, ent.Text) {
			return ent.Label
		}
	}
	return ""
}

func tokenSuffix(short, long []string) bool {
	if len(short) == 0 || len(short) > len(long) {
		return false
	}
	offset := len(long) - len(short)
	for i, t := range short {
		if long[offset+i] != t {
			return false
		}
	}
	return true
}

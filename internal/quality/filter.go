// Package quality holds the stateless post-extraction stages: the entity
// noise filter and the relation weight assigner. Both are pure functions of
// their input and configuration, so applying them twice changes nothing.
package quality

import (
	"strings"

	"github.com/kgforge/backend/internal/cascade"
)

// FilterConfig drives the entity filter. Zero-valued fields fall back to
// the defaults below, so an empty config is usable in tests.
type FilterConfig struct {
	// NoiseTypes are entity types dropped outright.
	NoiseTypes []string
	// MinNameLength is the global minimum entity name length after
	// article stripping.
	MinNameLength int
	// TypeMinLengths overrides the minimum per entity type.
	TypeMinLengths map[string]int
	// Articles maps a language tag to the leading articles stripped from
	// entity names in that language.
	Articles map[string][]string
}

// DefaultNoiseTypes covers the numeric and temporal tags the NER models
// emit that carry no graph value on their own.
var DefaultNoiseTypes = []string{
	"CARDINAL", "ORDINAL", "MONEY", "PERCENT", "QUANTITY", "TIME",
}

// DefaultArticles is the built-in per-language article table.
var DefaultArticles = map[string][]string{
	"en": {"the", "a", "an"},
	"de": {"der", "die", "das", "ein", "eine"},
	"fr": {"le", "la", "les", "un", "une", "l'"},
	"es": {"el", "la", "los", "las", "un", "una"},
}

const defaultMinNameLength = 2

// EntityFilter drops noise entities and normalizes the survivors.
type EntityFilter struct {
	noiseTypes map[string]bool
	minLength  int
	typeMin    map[string]int
	articles   map[string][]string
}

func NewEntityFilter(cfg FilterConfig) *EntityFilter {
	noise := cfg.NoiseTypes
	if noise == nil {
		noise = DefaultNoiseTypes
	}
	noiseSet := make(map[string]bool, len(noise))
	for _, t := range noise {
		noiseSet[strings.ToUpper(t)] = true
	}

	minLen := cfg.MinNameLength
	if minLen <= 0 {
		minLen = defaultMinNameLength
	}

	typeMin := make(map[string]int, len(cfg.TypeMinLengths))
	for t, n := range cfg.TypeMinLengths {
		typeMin[strings.ToUpper(t)] = n
	}
	if _, ok := typeMin["DATE"]; !ok && cfg.TypeMinLengths == nil {
		typeMin["DATE"] = 4
	}

	articles := cfg.Articles
	if articles == nil {
		articles = DefaultArticles
	}
	lowered := make(map[string][]string, len(articles))
	for lang, words := range articles {
		ws := make([]string, len(words))
		for i, w := range words {
			ws[i] = strings.ToLower(w)
		}
		lowered[strings.ToLower(lang)] = ws
	}

	return &EntityFilter{
		noiseTypes: noiseSet,
		minLength:  minLen,
		typeMin:    typeMin,
		articles:   lowered,
	}
}

// Filter applies the noise rules in order: type drop, article stripping,
// per-type minimum length, then the global minimum length. The input slice
// is not modified.
func (f *EntityFilter) Filter(entities []cascade.Entity, lang string) []cascade.Entity {
	if len(entities) == 0 {
		return nil
	}

	out := make([]cascade.Entity, 0, len(entities))
	for _, ent := range entities {
		name := strings.TrimSpace(ent.Name)
		typ := strings.ToUpper(strings.TrimSpace(ent.Type))

		if name == "" || f.noiseTypes[typ] {
			continue
		}

		// Length rules apply to the stripped name. Checking the raw name
		// would let an article-prefixed entity over the threshold shrink
		// below it on a second pass, breaking idempotence.
		name = f.stripArticles(name, lang)
		if min, ok := f.typeMin[typ]; ok && len(name) < min {
			continue
		}
		if len(name) < f.minLength {
			continue
		}

		ent.Name = name
		out = append(out, ent)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stripArticles removes leading articles for the language until none
// matches. Stripping to a fixed point is what keeps Filter idempotent for
// names like "the The Hague".
func (f *EntityFilter) stripArticles(name, lang string) string {
	articles, ok := f.articles[strings.ToLower(lang)]
	if !ok {
		return name
	}

	for {
		stripped := name
		lower := strings.ToLower(name)
		for _, art := range articles {
			if strings.HasSuffix(art, "'") {
				if strings.HasPrefix(lower, art) && len(name) > len(art) {
					stripped = strings.TrimSpace(name[len(art):])
					break
				}
				continue
			}
			if strings.HasPrefix(lower, art+" ") {
				stripped = strings.TrimSpace(name[len(art)+1:])
				break
			}
		}
		if stripped == name {
			return name
		}
		name = stripped
	}
}

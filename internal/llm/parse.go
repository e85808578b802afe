package llm

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/kaptinlin/jsonrepair"

	"github.com/kgforge/backend/internal/cascade"
)

var validate = validator.New()

const rawExcerptLimit = 400

// parseExtraction turns a raw model reply into validated candidates.
// Parsing is tolerant (code fences, trailing commas, single quotes get
// repaired); validation is strict. Any failure is a MalformedOutputError
// so the cascade advances to the next rank.
func parseExtraction(raw string, promptTokens, completionTokens int) (*cascade.Candidates, error) {
	var wire wireExtraction
	if err := unmarshalFlexible(raw, &wire); err != nil {
		return nil, malformed("unparseable JSON: "+err.Error(), raw, promptTokens, completionTokens)
	}

	if err := validate.Struct(&wire); err != nil {
		return nil, malformed("schema validation failed: "+err.Error(), raw, promptTokens, completionTokens)
	}

	out := &cascade.Candidates{}
	for _, ent := range wire.Entities {
		out.Entities = append(out.Entities, cascade.Entity{
			Name: strings.TrimSpace(ent.Name),
			Type: strings.ToUpper(strings.TrimSpace(ent.Type)),
		})
	}
	for _, rel := range wire.Relations {
		out.Relations = append(out.Relations, cascade.Relation{
			Source:      strings.TrimSpace(rel.Source),
			Target:      strings.TrimSpace(rel.Target),
			Type:        strings.ToUpper(strings.TrimSpace(rel.Type)),
			RawStrength: rel.Strength,
			Evidence:    rel.Evidence,
		})
	}
	return out, nil
}

// unmarshalFlexible tries strict JSON first, then strips code fences,
// then repairs the payload before giving up.
func unmarshalFlexible(input string, out any) error {
	input = stripCodeFence(strings.TrimSpace(input))

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	// Some providers double-encode the object as a JSON string.
	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), out)
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func malformed(reason, raw string, promptTokens, completionTokens int) error {
	if len(raw) > rawExcerptLimit {
		// Back off to a rune boundary so the excerpt stays valid UTF-8.
		cut := rawExcerptLimit
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	return &cascade.MalformedOutputError{
		Reason:           reason,
		Raw:              raw,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
}

package llm

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// wireEntity and wireRelation are the schema contract both model ranks
// answer against. Validation tags define what counts as well-formed; a
// payload failing them is a malformed attempt, not a partial success.
type wireEntity struct {
	Name string `json:"name" validate:"required" jsonschema_description:"Entity name exactly as it appears in the text"`
	Type string `json:"type" validate:"required" jsonschema_description:"Entity type tag such as PERSON, ORG, GPE, PRODUCT or CONCEPT"`
}

type wireRelation struct {
	Source   string `json:"source" validate:"required" jsonschema_description:"Name of the source entity"`
	Target   string `json:"target" validate:"required" jsonschema_description:"Name of the target entity"`
	Type     string `json:"type" validate:"required" jsonschema_description:"Relation type in UPPER_SNAKE_CASE, e.g. RELEASED, PART_OF, LOCATED_IN"`
	Strength int    `json:"strength,omitempty" validate:"omitempty,min=1,max=10" jsonschema_description:"Integer confidence from 1 (weak) to 10 (certain)"`
	Evidence string `json:"evidence,omitempty" jsonschema_description:"Shortest text span supporting the relation"`
}

type wireExtraction struct {
	Entities  []wireEntity   `json:"entities" validate:"omitempty,dive"`
	Relations []wireRelation `json:"relations" validate:"omitempty,dive"`
}

// GenerateSchema reflects a JSON Schema from the wire contract for
// embedding into the extraction prompt, so every provider answers the
// same shape.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflector.Reflect(reflect.New(t).Interface())
}

func extractionSchemaJSON() string {
	data, err := json.Marshal(GenerateSchema(wireExtraction{}))
	if err != nil {
		return `{"entities":[],"relations":[]}`
	}
	return string(data)
}

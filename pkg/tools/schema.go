package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FileSearchSchema constrains file_search parameters.
const FileSearchSchema = `{
  "type": "object",
  "required": ["vector_store_ids"],
  "properties": {
    "vector_store_ids": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "max_num_results": {"type": "integer", "minimum": 1, "maximum": 50},
    "include_search_results": {"type": "boolean"}
  }
}`

// ValidateAgainst checks a JSON document against a JSON Schema held as a map.
func ValidateAgainst(schema map[string]any, document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return resultError(result)
}

// ValidateFileSearch checks file_search parameters.
func ValidateFileSearch(parameters map[string]any) error {
	doc, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(FileSearchSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return resultError(result)
}

func resultError(result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}

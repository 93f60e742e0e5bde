package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// withSchemaInstructions appends the output contract to the prompt so the
// model returns a single JSON document matching the schema.
func withSchemaInstructions(prompt string, schema json.RawMessage) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRespond with a single JSON document matching this JSON Schema, with no surrounding prose:\n")
	b.Write(schema)
	return b.String()
}

// finishResult extracts and validates the JSON document from the model's
// reply when a schema was requested.
func finishResult(text string, schema json.RawMessage) (*Result, error) {
	res := &Result{Text: text}
	if len(schema) == 0 {
		return res, nil
	}

	doc := extractJSON(text)
	if doc == "" {
		return nil, fmt.Errorf("%w: no JSON document in response", ErrService)
	}
	if err := ValidateAgainstSchema(doc, schema); err != nil {
		return nil, err
	}
	res.JSON = json.RawMessage(doc)
	return res, nil
}

// ValidateAgainstSchema checks a JSON document against a JSON Schema.
func ValidateAgainstSchema(doc string, schema json.RawMessage) error {
	schemaLoader := gojsonschema.NewStringLoader(string(schema))
	documentLoader := gojsonschema.NewStringLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("%w: schema validation: %v", ErrService, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: response does not match schema: %s", ErrService, strings.Join(msgs, "; "))
	}
	return nil
}

// extractJSON pulls the JSON document out of a model reply. It strips
// markdown code fences and otherwise cuts from the first opening brace or
// bracket to the matching end of the text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	end := strings.LastIndexAny(text, "}]")
	if end < start {
		return ""
	}
	return text[start : end+1]
}

package llms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// SchemaFor reflects a JSON schema for the given value, suitable for
// embedding in a structured-output request.
func SchemaFor(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// decodeStructured parses model output into out. Models frequently wrap JSON
// in code fences or emit slightly malformed documents, so the text is
// unfenced first and repaired on a failed unmarshal.
func decodeStructured(provider, text string, out any) error {
	cleaned := stripCodeFences(text)
	if cleaned == "" {
		return NewError(KindBadStructuredOutput, provider, fmt.Errorf("empty structured response"))
	}

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return NewError(KindBadStructuredOutput, provider, fmt.Errorf("unrepairable JSON: %w", err))
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return NewError(KindBadStructuredOutput, provider, err)
	}
	return nil
}

func stripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	// Some models preface the document with prose; fall back to the first
	// top-level JSON object.
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		if start := strings.Index(s, "{"); start >= 0 {
			if end := strings.LastIndex(s, "}"); end > start {
				s = s[start : end+1]
			}
		}
	}
	return strings.TrimSpace(s)
}

// structuredInstruction appends a JSON-only instruction carrying the schema.
func structuredInstruction(messages []Message, schema map[string]any) []Message {
	data, err := json.Marshal(schema)
	if err != nil {
		data = []byte(`{"type":"object"}`)
	}
	instruction := fmt.Sprintf(
		"Respond with a single JSON object conforming to this JSON schema and nothing else:\n%s", data)
	out := make([]Message, 0, len(messages)+1)
	out = append(out, messages...)
	return append(out, System(instruction))
}

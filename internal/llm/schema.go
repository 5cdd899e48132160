package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType enumerates the JSON types a schema field may carry. Validation
// checks against this explicit list instead of reflecting over Go types.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldBool        FieldType = "boolean"
	FieldStringList  FieldType = "array of strings"
	FieldNullableStr FieldType = "string or null"
)

// Field describes one key of a structured response.
type Field struct {
	Name        string
	Type        FieldType
	Description string
}

// Schema is an explicit field list for a structured model response. Each
// call site declares its own schema as a package-level variable so the
// expected shape is visible next to the prompt that requests it.
type Schema struct {
	Name   string
	Fields []Field
}

// Instruction renders the format directive merged into the system message
// for JSON-mode calls.
func (s *Schema) Instruction() string {
	var b strings.Builder
	b.WriteString("You must respond with a valid JSON object in this format: {")
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: <%s>", f.Name, f.Type)
		if f.Description != "" {
			fmt.Fprintf(&b, " /* %s */", f.Description)
		}
	}
	b.WriteString("}. Output only JSON, no other text.")
	return b.String()
}

// Validate checks that obj carries every schema field with a compatible
// JSON type. Unknown extra keys are tolerated.
func (s *Schema) Validate(obj map[string]any) error {
	for _, f := range s.Fields {
		v, ok := obj[f.Name]
		if !ok {
			return fmt.Errorf("missing field %q", f.Name)
		}
		switch f.Type {
		case FieldString:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("field %q: expected string, got %T", f.Name, v)
			}
		case FieldBool:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("field %q: expected boolean, got %T", f.Name, v)
			}
		case FieldStringList:
			list, ok := v.([]any)
			if !ok {
				return fmt.Errorf("field %q: expected array, got %T", f.Name, v)
			}
			for i, item := range list {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("field %q[%d]: expected string, got %T", f.Name, i, item)
				}
			}
		case FieldNullableStr:
			if v == nil {
				continue
			}
			if _, ok := v.(string); !ok {
				return fmt.Errorf("field %q: expected string or null, got %T", f.Name, v)
			}
		default:
			return fmt.Errorf("field %q: unknown schema type %q", f.Name, f.Type)
		}
	}
	return nil
}

// StringField extracts a string value from a validated object.
func StringField(obj map[string]any, name string) string {
	s, _ := obj[name].(string)
	return s
}

// BoolField extracts a boolean value from a validated object.
func BoolField(obj map[string]any, name string) bool {
	b, _ := obj[name].(bool)
	return b
}

// StringListField extracts a string slice from a validated object.
func StringListField(obj map[string]any, name string) []string {
	raw, _ := obj[name].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseObject strips any leading/trailing non-brace noise and unmarshals
// the remainder. This is the first, cheap attempt before a repair call.
func parseObject(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object found in output")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

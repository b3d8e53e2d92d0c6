package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Load reads and validates a JSON schema file.
func Load(path string) (*Element, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(b)
}

// Parse parses and validates a JSON schema document.
func Parse(b []byte) (*Element, error) {
	var e Element
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("parse schema json: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks structural soundness of the schema.
//
// Rules:
//   - root_element must be non-empty.
//   - every field needs a non-empty name.
//   - object/array fields must carry at least one nested field.
//   - text fields must not carry nested fields.
//
// Validate does NOT check the schema against any document: fields that never
// match an element are legal and simply produce absent output keys.
func (e *Element) Validate() error {
	if strings.TrimSpace(e.RootElement) == "" {
		return fmt.Errorf("schema: root_element is required")
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("schema: at least one field is required")
	}
	return validateFields(e.Fields, "fields")
}

func validateFields(fields []Field, path string) error {
	for i, f := range fields {
		at := fmt.Sprintf("%s[%d]", path, i)
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema: %s: name is required", at)
		}
		switch k := f.EffectiveKind(); k {
		case KindText:
			if len(f.Fields) > 0 {
				return fmt.Errorf("schema: %s (%s): text field cannot have nested fields", at, f.Name)
			}
		case KindObject, KindArray:
			if len(f.Fields) == 0 {
				return fmt.Errorf("schema: %s (%s): %s field requires nested fields", at, f.Name, k)
			}
			if err := validateFields(f.Fields, at+".fields"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("schema: %s (%s): unknown kind %q", at, f.Name, k)
		}
	}
	return nil
}

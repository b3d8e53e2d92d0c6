// Package schema defines the declarative extraction schema for XML documents.
//
// A schema names one repeating "record" element and describes how to project
// each instance of that element into a JSON-ready map. The extractor
// (internal/parser/xml) consumes these types; this package only defines,
// loads, and validates them.
package schema

// Kind selects how a field is pulled out of a record subtree.
type Kind string

const (
	// KindText extracts the trimmed character content of the first matching
	// child element.
	KindText Kind = "text"
	// KindObject projects the first matching child element through the
	// field's nested Fields.
	KindObject Kind = "object"
	// KindArray projects every matching child element through the field's
	// nested Fields, preserving document order.
	KindArray Kind = "array"
)

// Field represents one extraction rule, keyed by child element name.
//
// Matching is case-insensitive and ignores namespace prefixes: a field named
// "Name" matches <name>, <NAME> and <ns:name> alike. Two elements that differ
// only by namespace cannot be told apart (known limitation).
type Field struct {
	Name   string  `json:"name"`             // child element name to match
	Kind   Kind    `json:"kind,omitempty"`   // "text", "object" or "array"; see EffectiveKind
	Fields []Field `json:"fields,omitempty"` // nested rules for object/array fields
}

// EffectiveKind returns the field's kind, defaulting an empty Kind to
// KindObject when nested fields are present and KindText otherwise.
//
// Hand-written schema files routinely omit "kind" for plain text leaves, so
// the zero value has to mean something sensible.
func (f Field) EffectiveKind() Kind {
	if f.Kind != "" {
		return f.Kind
	}
	if len(f.Fields) > 0 {
		return KindObject
	}
	return KindText
}

// Element describes the full extraction schema for one document type.
type Element struct {
	// RootElement names the repeating record-level tag (e.g. "toy"). Every
	// completed instance of this element yields one output record.
	RootElement string  `json:"root_element"`
	Fields      []Field `json:"fields"`
}

// Package xml implements the schema-driven streaming XML record extractor.
//
// It converts a byte stream into normalized lexical events (tokenizer.go),
// tracks the ancestor stack of open elements as events arrive (extract.go),
// and projects every completed instance of the schema's record element into a
// JSON-ready map — without ever materializing the whole document. Memory use
// is bounded by nesting depth plus the subtree of the record currently being
// read, never by document size, which is what makes multi-GB inputs viable.
package xml

import (
	"encoding/xml"
	"io"
	"strings"
)

// EventKind enumerates the normalized lexical events.
type EventKind int

const (
	// EventOpen is an element open tag, carrying its name and attributes.
	EventOpen EventKind = iota
	// EventText is a run of character data. An element may produce several
	// text events; consumers must concatenate them.
	EventText
	// EventClose is an element close tag.
	EventClose
)

// Event is one normalized lexical event.
//
// Names are lower-cased and stripped of their namespace prefix, so matching
// downstream is a plain string comparison. Attributes are exposed for
// completeness but the extractor never consumes them (attribute extraction is
// out of scope).
type Event struct {
	Kind  EventKind
	Name  string            // open/close: lower-cased local element name
	Attrs map[string]string // open only
	Text  string            // text only
}

// Tokenizer adapts the streaming XML token source into the normalized event
// sequence the extractor consumes.
//
// Well-formedness is the tokenizer's problem, not the extractor's: mismatched
// or unclosed tags and invalid markup surface as a terminal error from Next.
// There is no recovery; the document is parsed strictly.
type Tokenizer struct {
	dec *xml.Decoder
}

// NewTokenizer wraps r in a streaming tokenizer.
//
// Input is consumed incrementally in chunks; nothing document-sized is ever
// buffered. Documents in a non-UTF-8 charset are transparently decoded when
// they declare their encoding (see charsetReader).
func NewTokenizer(r io.Reader) *Tokenizer {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.CharsetReader = charsetReader
	return &Tokenizer{dec: dec}
}

// Next returns the next normalized event.
//
// io.EOF signals successful end of input. Any other error is terminal and
// means the input is not well-formed XML; callers must stop consuming events.
func (t *Tokenizer) Next() (Event, error) {
	for {
		tok, err := t.dec.Token()
		if err != nil {
			return Event{}, err
		}

		switch tt := tok.(type) {
		case xml.StartElement:
			attrs := make(map[string]string, len(tt.Attr))
			for _, a := range tt.Attr {
				attrs[strings.ToLower(a.Name.Local)] = a.Value
			}
			return Event{Kind: EventOpen, Name: foldName(tt.Name), Attrs: attrs}, nil

		case xml.CharData:
			// CharData's backing array is reused by the decoder; copy out.
			return Event{Kind: EventText, Text: string(tt)}, nil

		case xml.EndElement:
			return Event{Kind: EventClose, Name: foldName(tt.Name)}, nil

		default:
			// Comments, directives and processing instructions are not part
			// of the event contract; skip them.
		}
	}
}

// foldName lower-cases the local element name and drops the namespace prefix.
// Two elements differing only by prefix are treated as the same name (known
// limitation; schemas cannot disambiguate namespaces).
func foldName(n xml.Name) string {
	return strings.ToLower(n.Local)
}

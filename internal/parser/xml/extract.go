package xml

import (
	"context"
	"fmt"
	"io"
	"strings"

	"xmlsift/internal/schema"
)

// MalformedInputError reports input that is not well-formed XML (mismatched or
// unclosed tags, invalid markup, truncated documents). It is always terminal
// for the extraction run; records delivered before the failure point remain
// delivered.
type MalformedInputError struct {
	Err error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("xml: malformed input: %v", e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// ForEach streams XML from r and invokes onRecord once per completed instance
// of sch.RootElement, in document order.
//
// This is the production mode for large documents: onRecord is called
// synchronously from the event loop, so at most one record is in flight and
// event consumption is throttled to the callback's completion rate (slow
// sinks, e.g. batched database writes, apply backpressure for free).
//
// Edge cases:
//   - A document with zero record elements completes successfully.
//   - A record element still open when the input ends cleanly yields no
//     record; the truncation itself surfaces as a MalformedInputError from
//     the tokenizer.
//   - A record element nested inside another record element of the same name
//     is treated as an ordinary child of the outer record, not as a record of
//     its own (outermost wins; see TestForEach_NestedSameNameRecord).
//
// Errors:
//   - *MalformedInputError when the input is not well-formed XML.
//   - The callback's error verbatim, if onRecord fails.
//   - ctx.Err() when ctx is canceled between events.
func ForEach(ctx context.Context, r io.Reader, sch *schema.Element, onRecord func(map[string]any) error) error {
	if sch == nil || strings.TrimSpace(sch.RootElement) == "" {
		return fmt.Errorf("xml: schema with a root_element is required")
	}
	rootName := strings.ToLower(strings.TrimSpace(sch.RootElement))

	tok := NewTokenizer(r)

	var (
		current  *elementContext // top of the ancestor stack
		tracking *elementContext // active record element, identity-matched on close
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := tok.Next()
		if err == io.EOF {
			// Clean end of input. If a record was still open the tokenizer
			// would have reported truncation instead, so nothing is pending.
			return nil
		}
		if err != nil {
			return &MalformedInputError{Err: err}
		}

		switch ev.Kind {
		case EventOpen:
			el := &elementContext{name: ev.Name, parent: current}

			// Retain children only inside a tracked record subtree. Anything
			// else (container elements, records of other schemas, the record
			// element itself under its container) is reachable solely through
			// the stack and freed as soon as it closes.
			if tracking != nil && current != nil {
				current.addChild(el)
			}
			if tracking == nil && el.name == rootName {
				tracking = el
			}
			current = el

		case EventText:
			// Text is only ever read during projection, so buffering it
			// outside a record subtree would be wasted memory.
			if current != nil && tracking != nil {
				current.text.WriteString(ev.Text)
			}

		case EventClose:
			if current == nil {
				// Cannot happen with a strict tokenizer; close events always
				// pair with a prior open. Guard anyway.
				return &MalformedInputError{Err: fmt.Errorf("close tag %q with no open element", ev.Name)}
			}
			if current == tracking {
				rec := project(current, sch.Fields)
				tracking = nil
				if err := onRecord(rec); err != nil {
					return err
				}
			}
			current = current.parent
		}
	}
}

// Collect runs the extraction to completion and returns every projected
// record, in document order.
//
// Convenient for tests and small documents; for multi-GB inputs prefer
// ForEach, which keeps O(1) records resident. Both modes share the same
// projection and produce identical per-record output.
func Collect(ctx context.Context, r io.Reader, sch *schema.Element) ([]map[string]any, error) {
	var out []map[string]any
	err := ForEach(ctx, r, sch, func(rec map[string]any) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// project converts an element subtree into a JSON-ready map per the field
// rules. Fields whose name matches no child are omitted entirely — never
// present as nil, "" or an empty list. Unknown elements in the subtree are
// ignored, not errors; partial and heterogeneous records are expected in
// real-world documents.
func project(el *elementContext, fields []schema.Field) map[string]any {
	out := make(map[string]any, len(fields))

	for _, f := range fields {
		kids := el.children[strings.ToLower(f.Name)]
		if len(kids) == 0 {
			continue
		}

		switch f.EffectiveKind() {
		case schema.KindText:
			// First match wins; trim edges, keep interior whitespace intact.
			out[f.Name] = strings.TrimSpace(kids[0].text.String())

		case schema.KindObject:
			out[f.Name] = project(kids[0], f.Fields)

		case schema.KindArray:
			items := make([]any, 0, len(kids))
			for _, k := range kids {
				items = append(items, project(k, f.Fields))
			}
			out[f.Name] = items
		}
	}

	return out
}

// Package probe inspects a bounded sample of an XML document and produces a
// draft extraction schema: a guessed record element plus field rules inferred
// from the structure seen in the sample.
//
// Design constraints:
//   - Sampling must be bounded in memory and time (MaxBytes).
//   - Inference is best-effort: a truncated sample is expected (the tail of
//     the last element is usually cut off) and must never fail the probe.
//   - Generated schemas are safe starting points meant to be refined by hand.
package probe

import (
	"bytes"
	"fmt"
	"io"
	"os"

	xmlparser "xmlsift/internal/parser/xml"
	"xmlsift/internal/schema"
)

// Options controls sampling and inference behavior.
type Options struct {
	// MaxBytes to sample from the start of the document. Defaults to 256 KiB.
	MaxBytes int

	// MaxDepth bounds how deep nested object/array fields are inferred below
	// the record element. Defaults to 4. Children below the bound are ignored,
	// which degrades the draft schema but keeps it reviewable.
	MaxDepth int
}

func (o Options) maxBytes() int {
	if o.MaxBytes <= 0 {
		return 256 << 10
	}
	return o.MaxBytes
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return 4
	}
	return o.MaxDepth
}

// SampleFile reads at most opt.MaxBytes from the start of path.
func SampleFile(path string, opt Options) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("probe: open sample: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, int64(opt.maxBytes())))
	if err != nil {
		return nil, fmt.Errorf("probe: read sample: %w", err)
	}
	return b, nil
}

// node is the occurrence-counting structure tree built from the sample.
type node struct {
	name     string
	children map[string]*node
	order    []string // child names in first-seen document order
	count    int      // total instances observed
	// maxPerParent is the highest number of instances seen within a single
	// parent instance; >1 marks a repeating element.
	maxPerParent int
	hasText      bool
	depth        int
}

func (n *node) child(name string) *node {
	if n.children == nil {
		n.children = map[string]*node{}
	}
	c := n.children[name]
	if c == nil {
		c = &node{name: name, depth: n.depth + 1}
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

// scan builds the structure tree from a byte sample. Tokenizer errors end the
// scan without failing it: a sample cut mid-document is the normal case.
func scan(sample []byte) *node {
	root := &node{name: ""}
	tok := xmlparser.NewTokenizer(bytes.NewReader(sample))

	type frame struct {
		n      *node
		counts map[string]int
	}
	stack := []frame{{n: root, counts: map[string]int{}}}

	for {
		ev, err := tok.Next()
		if err != nil {
			// io.EOF is a clean end of sample, anything else is truncation;
			// either way we keep what we saw.
			break
		}

		top := &stack[len(stack)-1]
		switch ev.Kind {
		case xmlparser.EventOpen:
			c := top.n.child(ev.Name)
			c.count++
			top.counts[ev.Name]++
			if top.counts[ev.Name] > c.maxPerParent {
				c.maxPerParent = top.counts[ev.Name]
			}
			stack = append(stack, frame{n: c, counts: map[string]int{}})
		case xmlparser.EventText:
			if len(bytes.TrimSpace([]byte(ev.Text))) > 0 {
				top.n.hasText = true
			}
		case xmlparser.EventClose:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return root
}

// GuessRecordTag guesses which element of the sampled document is the
// repeating record element.
//
// Heuristic: among elements that repeat within a single parent, pick the
// shallowest one; break ties by total occurrence count, then by name for
// determinism. An element seen only once never qualifies.
//
// Errors:
//   - When nothing in the sample repeats (empty document, or a sample too
//     small to contain two records).
func GuessRecordTag(sample []byte) (string, error) {
	root := scan(sample)

	var best *node
	var walk func(n *node)
	walk = func(n *node) {
		for _, name := range n.order {
			c := n.children[name]
			if c.maxPerParent > 1 {
				if better(c, best) {
					best = c
				}
			}
			walk(c)
		}
	}
	walk(root)

	if best == nil {
		return "", fmt.Errorf("probe: no repeating element found in sample")
	}
	return best.name, nil
}

func better(c, best *node) bool {
	if best == nil {
		return true
	}
	if c.depth != best.depth {
		return c.depth < best.depth
	}
	if c.count != best.count {
		return c.count > best.count
	}
	return c.name < best.name
}

// InferSchema samples the document structure and returns a draft extraction
// schema rooted at the guessed (or given) record element.
//
// Inference rules per child element:
//   - repeats within one record and has child elements: array field
//   - has child elements: object field
//   - otherwise: text field (repeated leaves also become text, since a
//     text-array rule does not exist; first match wins at extraction time)
//
// Edge cases:
//   - recordTag == "" triggers GuessRecordTag on the same sample.
//   - A record element absent from the sample yields an error.
func InferSchema(sample []byte, recordTag string, opt Options) (*schema.Element, error) {
	root := scan(sample)

	if recordTag == "" {
		var err error
		if recordTag, err = GuessRecordTag(sample); err != nil {
			return nil, err
		}
	}

	rec := findNode(root, recordTag)
	if rec == nil {
		return nil, fmt.Errorf("probe: element %q not found in sample", recordTag)
	}

	fields := inferFields(rec, opt.maxDepth())
	if len(fields) == 0 {
		return nil, fmt.Errorf("probe: element %q has no child elements to infer fields from", recordTag)
	}

	el := &schema.Element{RootElement: recordTag, Fields: fields}
	if err := el.Validate(); err != nil {
		return nil, err
	}
	return el, nil
}

// findNode returns the shallowest, then most frequent node named name.
func findNode(root *node, name string) *node {
	var found *node
	var walk func(n *node)
	walk = func(n *node) {
		for _, cn := range n.order {
			c := n.children[cn]
			if c.name == name && (found == nil || better(c, found)) {
				found = c
			}
			walk(c)
		}
	}
	walk(root)
	return found
}

func inferFields(n *node, depthLeft int) []schema.Field {
	if depthLeft <= 0 {
		return nil
	}

	fields := make([]schema.Field, 0, len(n.order))
	for _, name := range n.order {
		c := n.children[name]

		if len(c.children) == 0 {
			fields = append(fields, schema.Field{Name: name, Kind: schema.KindText})
			continue
		}

		nested := inferFields(c, depthLeft-1)
		if len(nested) == 0 {
			// Children exist but sit below the depth bound; fall back to the
			// element's own text content.
			fields = append(fields, schema.Field{Name: name, Kind: schema.KindText})
			continue
		}

		kind := schema.KindObject
		if c.maxPerParent > 1 {
			kind = schema.KindArray
		}
		fields = append(fields, schema.Field{Name: name, Kind: kind, Fields: nested})
	}
	return fields
}

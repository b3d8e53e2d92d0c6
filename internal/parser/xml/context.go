package xml

import "strings"

// elementContext is one currently-open element on the ancestor stack.
//
// Lifetime: created on its open event, dropped once its close event has been
// processed and its parent no longer needs it. Children are only retained
// while the extractor is inside a tracked record subtree (see ForEach), so a
// million sibling records never pile up under their container element.
type elementContext struct {
	name     string // lower-cased local name
	parent   *elementContext
	text     strings.Builder
	children map[string][]*elementContext // child name -> children, insertion order
}

// addChild appends child under its own name, preserving document order.
// Supports both "first one wins" (text/object fields) and "collect all"
// (array fields) lookups during projection.
func (c *elementContext) addChild(child *elementContext) {
	if c.children == nil {
		c.children = make(map[string][]*elementContext)
	}
	c.children[child.name] = append(c.children[child.name], child)
}

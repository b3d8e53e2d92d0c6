// Package xsdgen derives a draft extraction schema from an XML Schema (XSD)
// document, so users with a formal schema do not have to hand-write field
// rules or rely on sample-based inference.
//
// Only the structural subset of XSD matters here: element declarations,
// complex types, and occurrence bounds. Facets, attributes, and simple-type
// restrictions are ignored; extraction schemas have no use for them.
package xsdgen

import (
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"

	"xmlsift/internal/schema"
)

// maxNestingDepth bounds recursion through nested complex types. XSDs with
// recursive type references (tree-like structures) would otherwise never
// terminate; extraction schemas that deep are not reviewable anyway.
const maxNestingDepth = 8

// Generate parses an XSD document and returns an extraction schema rooted at
// recordElement.
//
// Mapping rules per declared child element:
//   - complex content and maxOccurs > 1 (or "unbounded"): array field
//   - complex content: object field
//   - simple content: text field
//
// Edge cases:
//   - recordElement == "" uses the first global element declaration.
//   - Element references (ref=) and named type references (type=) resolve
//     against global declarations; unresolvable ones degrade to text fields.
func Generate(r io.Reader, recordElement string) (*schema.Element, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("xsdgen: parse xsd: %w", err)
	}

	g := &generator{
		types:    map[string]*xmlquery.Node{},
		elements: map[string]*xmlquery.Node{},
	}
	g.index(doc)

	decl, err := g.recordDecl(doc, recordElement)
	if err != nil {
		return nil, err
	}

	fields := g.fieldsOf(decl, maxNestingDepth)
	if len(fields) == 0 {
		return nil, fmt.Errorf("xsdgen: element %q has no child elements", g.declaredName(decl))
	}

	el := &schema.Element{RootElement: strings.ToLower(g.declaredName(decl)), Fields: fields}
	if err := el.Validate(); err != nil {
		return nil, err
	}
	return el, nil
}

type generator struct {
	types    map[string]*xmlquery.Node // named complexType declarations
	elements map[string]*xmlquery.Node // global element declarations
}

// index collects global named complex types and top-level element
// declarations. local-name() matching keeps the walk prefix-agnostic: xs:,
// xsd:, and default-namespace schemas all work.
func (g *generator) index(doc *xmlquery.Node) {
	for _, n := range xmlquery.Find(doc, "//*[local-name()='complexType'][@name]") {
		g.types[n.SelectAttr("name")] = n
	}
	for _, n := range xmlquery.Find(doc, "/*[local-name()='schema']/*[local-name()='element'][@name]") {
		g.elements[n.SelectAttr("name")] = n
	}
}

func (g *generator) recordDecl(doc *xmlquery.Node, recordElement string) (*xmlquery.Node, error) {
	if recordElement != "" {
		for _, n := range xmlquery.Find(doc, "//*[local-name()='element'][@name]") {
			if strings.EqualFold(n.SelectAttr("name"), recordElement) {
				return n, nil
			}
		}
		return nil, fmt.Errorf("xsdgen: element %q not declared in xsd", recordElement)
	}

	first := xmlquery.FindOne(doc, "/*[local-name()='schema']/*[local-name()='element'][@name]")
	if first == nil {
		return nil, fmt.Errorf("xsdgen: no global element declaration found")
	}
	return first, nil
}

// fieldsOf maps the child element declarations of decl's complex type to
// extraction fields.
func (g *generator) fieldsOf(decl *xmlquery.Node, depthLeft int) []schema.Field {
	if depthLeft <= 0 {
		return nil
	}

	ct := g.complexTypeOf(decl)
	if ct == nil {
		return nil
	}

	children := childDecls(ct)
	fields := make([]schema.Field, 0, len(children))
	for _, c := range children {
		name := g.declaredName(c)
		if name == "" {
			continue
		}

		nested := g.fieldsOf(g.resolveRef(c), depthLeft-1)
		if len(nested) == 0 {
			fields = append(fields, schema.Field{Name: strings.ToLower(name), Kind: schema.KindText})
			continue
		}

		kind := schema.KindObject
		if repeats(c) {
			kind = schema.KindArray
		}
		fields = append(fields, schema.Field{Name: strings.ToLower(name), Kind: kind, Fields: nested})
	}
	return fields
}

// complexTypeOf resolves an element declaration to its complexType node,
// either inline or via the type attribute. Simple types return nil.
func (g *generator) complexTypeOf(decl *xmlquery.Node) *xmlquery.Node {
	if decl == nil {
		return nil
	}
	if inline := findChild(decl, "complexType"); inline != nil {
		return inline
	}
	if ref := localPart(decl.SelectAttr("type")); ref != "" {
		return g.types[ref]
	}
	return nil
}

// resolveRef follows ref= element references to the global declaration.
func (g *generator) resolveRef(decl *xmlquery.Node) *xmlquery.Node {
	if ref := localPart(decl.SelectAttr("ref")); ref != "" {
		if global := g.elements[ref]; global != nil {
			return global
		}
	}
	return decl
}

func (g *generator) declaredName(decl *xmlquery.Node) string {
	if name := decl.SelectAttr("name"); name != "" {
		return name
	}
	if ref := localPart(decl.SelectAttr("ref")); ref != "" {
		return ref
	}
	return ""
}

// childDecls returns the element declarations inside a complex type's
// sequence/choice/all compositors, including nested compositors.
func childDecls(ct *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}
			switch c.Data {
			case "element":
				out = append(out, c)
			case "sequence", "choice", "all", "complexContent", "extension":
				walk(c)
			}
		}
	}
	walk(ct)
	return out
}

// repeats reports whether a declaration allows more than one occurrence.
func repeats(decl *xmlquery.Node) bool {
	max := decl.SelectAttr("maxOccurs")
	switch max {
	case "", "0", "1":
		return false
	case "unbounded":
		return true
	default:
		return true
	}
}

func findChild(n *xmlquery.Node, local string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == local {
			return c
		}
	}
	return nil
}

// localPart strips an optional namespace prefix from a QName attribute value
// (e.g. "xs:string" -> "string").
func localPart(qname string) string {
	if i := strings.IndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

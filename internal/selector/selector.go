// Package selector builds queryable node views from XML fragments.
package selector

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// ErrNoElement is returned when the text holds no element to build a view from.
var ErrNoElement = errors.New("selector: no root element")

// Node is a queryable view over a parsed fragment. Namespace prefixes
// registered on a node are used when compiling its XPath queries and are
// inherited by the nodes those queries return.
type Node struct {
	node *xmlquery.Node
	ns   map[string]string
}

var declEncoding = regexp.MustCompile(`^(\s*<\?xml[^>]*?encoding\s*=\s*)("[^"]*"|'[^']*')`)

// Parse builds a view from text. Only the first root element is parsed: any
// content after it, such as the dangling end tags of wrapper elements, is
// ignored. Text is already decoded, so an encoding named in the XML
// declaration is replaced with UTF-8.
func Parse(text string) (*Node, error) {
	text = declEncoding.ReplaceAllString(text, `${1}"UTF-8"`)
	root, err := firstElement(text)
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.ParseWithOptions(strings.NewReader(root), xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{Strict: false},
	})
	if err != nil {
		return nil, fmt.Errorf("selector: parse: %w", err)
	}
	return &Node{node: doc, ns: map[string]string{}}, nil
}

// firstElement returns text up to the end of its first root element.
func firstElement(text string) (string, error) {
	d := xml.NewDecoder(strings.NewReader(text))
	d.Strict = false
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	depth := 0
	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			return "", ErrNoElement
		}
		if err != nil {
			return "", fmt.Errorf("selector: scan: %w", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return text[:d.InputOffset()], nil
			}
			if depth < 0 {
				return "", fmt.Errorf("selector: unexpected end tag at offset %d", d.InputOffset())
			}
		}
	}
}

// RegisterNamespace binds prefix to uri for queries run on n.
func (n *Node) RegisterNamespace(prefix, uri string) {
	n.ns[prefix] = uri
}

// Namespaces returns a copy of the registered prefix bindings.
func (n *Node) Namespaces() map[string]string {
	return maps.Clone(n.ns)
}

func (n *Node) compile(expr string) (*xpath.Expr, error) {
	if len(n.ns) == 0 {
		return xpath.Compile(expr)
	}
	return xpath.CompileWithNS(expr, n.ns)
}

// XPath evaluates expr with n as the context node.
func (n *Node) XPath(expr string) ([]*Node, error) {
	e, err := n.compile(expr)
	if err != nil {
		return nil, fmt.Errorf("selector: compile %q: %w", expr, err)
	}
	found := xmlquery.QuerySelectorAll(n.node, e)
	out := make([]*Node, 0, len(found))
	for _, f := range found {
		out = append(out, &Node{node: f, ns: maps.Clone(n.ns)})
	}
	return out, nil
}

// First returns the first match of expr, or nil when nothing matches.
func (n *Node) First(expr string) (*Node, error) {
	all, err := n.XPath(expr)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// Name returns the qualified name of an element node.
func (n *Node) Name() string {
	if n.node.Prefix != "" {
		return n.node.Prefix + ":" + n.node.Data
	}
	return n.node.Data
}

// LocalName returns the element name without prefix.
func (n *Node) LocalName() string { return n.node.Data }

// NamespaceURI returns the namespace the element belongs to.
func (n *Node) NamespaceURI() string { return n.node.NamespaceURI }

// Text returns the concatenated text content.
func (n *Node) Text() string { return n.node.InnerText() }

// Attr returns the value of the named attribute, or "".
func (n *Node) Attr(name string) string { return n.node.SelectAttr(name) }

// OutputXML serializes the node including its own tag. Document nodes
// serialize their children.
func (n *Node) OutputXML() string {
	if n.node.Type == xmlquery.DocumentNode {
		var b strings.Builder
		for c := n.node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == xmlquery.DeclarationNode {
				continue
			}
			b.WriteString(c.OutputXML(true))
		}
		return b.String()
	}
	return n.node.OutputXML(true)
}

func (n *Node) String() string { return n.OutputXML() }

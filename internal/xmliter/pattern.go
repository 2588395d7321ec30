package xmliter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/feedx/internal/selector"
	"github.com/hyperifyio/feedx/internal/source"
)

var (
	documentHeader = regexp.MustCompile(`(?s)<\?xml[^>]+>\s*`)
	endTag         = regexp.MustCompile(`(?s)<\s*/([^\s>]+)\s*>`)
	namespaceDecl  = regexp.MustCompile(`(?s)((xmlns[:A-Za-z]*)=[^>\s]+)`)
)

// namespaceMap keeps xmlns declarations in first-seen order, keyed by the
// declaring attribute name so a later declaration of the same prefix
// replaces the earlier one in place.
type namespaceMap struct {
	keys  []string
	decls map[string]string
}

func (m *namespaceMap) set(attr, decl string) {
	if m.decls == nil {
		m.decls = map[string]string{}
	}
	if _, ok := m.decls[attr]; !ok {
		m.keys = append(m.keys, attr)
	}
	m.decls[attr] = decl
}

func (m *namespaceMap) join() string {
	parts := make([]string, 0, len(m.keys))
	for _, k := range m.keys {
		parts = append(parts, m.decls[k])
	}
	return strings.Join(parts, " ")
}

func (m *namespaceMap) len() int { return len(m.keys) }

// Pattern walks a document with regular expressions. Every match of
// <nodeName ...>...</nodeName> is re-wrapped with the document's XML
// declaration, the namespace declarations of its enclosing elements and the
// closing wrapper tags, and parsed into its own node.
//
// The matching is not nesting aware: a nodeName element inside another one
// ends the outer match early. Use Incremental for such documents.
type Pattern struct {
	text     string
	nodeName string
	item     *regexp.Regexp
	header   string
	trailer  string
	ns       namespaceMap
	decls    string

	pos  int
	node *selector.Node
	err  error
	done bool
}

// NewPattern prepares a pattern iterator. The document is decoded to text
// up front; no element is matched until Next is called.
func NewPattern(doc source.Document, nodeName string) (*Pattern, error) {
	if nodeName == "" {
		return nil, ErrEmptyNodeName
	}
	text, err := doc.Text()
	if err != nil {
		return nil, err
	}
	quoted := regexp.QuoteMeta(nodeName)
	p := &Pattern{
		text:     text,
		nodeName: nodeName,
		item:     regexp.MustCompile(`(?s)<` + quoted + `[\s>].*?</` + quoted + `>`),
	}
	if m := documentHeader.FindString(text); m != "" {
		p.header = strings.TrimSpace(m)
	}
	p.collectNamespaces(regexp.MustCompile(`(?s)<\s*/` + quoted + `\s*>`))
	p.decls = p.ns.join()
	log.Debug().Str("node", nodeName).Int("namespaces", p.ns.len()).Int("trailer_bytes", len(p.trailer)).Msg("pattern iterator ready")
	return p, nil
}

// collectNamespaces finds the trailer after the last closing nodeName tag and
// gathers the xmlns declarations of the elements that the trailer closes.
func (p *Pattern) collectNamespaces(closing *regexp.Regexp) {
	all := closing.FindAllStringIndex(p.text, -1)
	if len(all) == 0 {
		return
	}
	boundary := all[len(all)-1][1]
	p.trailer = strings.TrimSpace(p.text[boundary:])
	if p.trailer == "" {
		return
	}
	before := p.text[:boundary]
	names := endTag.FindAllStringSubmatch(p.trailer, -1)
	for i := len(names) - 1; i >= 0; i-- {
		tag := lastOpeningWithNamespace(before, names[i][1])
		if tag == "" {
			continue
		}
		for _, d := range namespaceDecl.FindAllStringSubmatch(tag, -1) {
			p.ns.set(d[2], d[1])
		}
	}
}

// lastOpeningWithNamespace returns the last opening tag called name in text
// that declares a namespace.
func lastOpeningWithNamespace(text, name string) string {
	re := regexp.MustCompile(`<\s*` + regexp.QuoteMeta(name) + `(?:\s[^>]*?)?\sxmlns[:=][^>]*>`)
	all := re.FindAllString(text, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

// Next advances to the next matching element.
func (p *Pattern) Next() bool {
	if p.done {
		return false
	}
	loc := p.item.FindStringIndex(p.text[p.pos:])
	if loc == nil {
		p.finish()
		return false
	}
	match := p.text[p.pos+loc[0] : p.pos+loc[1]]
	p.pos += loc[1]

	node, err := selector.Parse(p.nodeText(match))
	if err != nil {
		p.err = fmt.Errorf("%w: %s at offset %d: %w", ErrMalformed, p.nodeName, p.pos-len(match), err)
		p.finish()
		return false
	}
	p.node = node
	return true
}

func (p *Pattern) nodeText(match string) string {
	if p.decls != "" {
		match = strings.Replace(match, p.nodeName, p.nodeName+" "+p.decls, 1)
	}
	var b strings.Builder
	b.Grow(len(p.header) + len(match) + len(p.trailer))
	b.WriteString(p.header)
	b.WriteString(match)
	b.WriteString(p.trailer)
	return b.String()
}

func (p *Pattern) finish() {
	p.done = true
	p.node = nil
	p.text = ""
}

// Node returns the element found by the last call to Next.
func (p *Pattern) Node() *selector.Node { return p.node }

// Err returns the error that stopped iteration, if any.
func (p *Pattern) Err() error { return p.err }

package xmliter

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/feedx/internal/selector"
	"github.com/hyperifyio/feedx/internal/source"
	"github.com/hyperifyio/feedx/internal/stream"
	"github.com/hyperifyio/feedx/internal/tagname"
)

// DefaultPrefix is the prefix bound to the requested namespace in queries.
const DefaultPrefix = "x"

type options struct {
	namespace string
	prefix    string
}

// Option configures an Incremental iterator.
type Option func(*options)

// WithNamespace restricts matches to elements in the namespace uri.
func WithNamespace(uri string) Option {
	return func(o *options) { o.namespace = uri }
}

// WithPrefix sets the prefix bound to the namespace on every yielded node.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// Incremental streams a document through an XML token decoder and yields
// one node per matching element. Only the subtree of the element being
// matched is buffered; it is serialized, handed to the selector and dropped
// before the next token is read.
//
// A prefixed nodeName such as "media:content" is rewritten in the document to
// its hyphenated alias first, so the element matches by local name without
// namespace context. The alias is also what the node query uses.
type Incremental struct {
	dec    *xml.Decoder
	tag    string
	alias  tagname.Alias
	ns     string
	prefix string
	query  string

	open   []xml.Name          // names of all open elements
	scopes []map[string]string // namespace declarations per open element

	depth int // depth inside the captured subtree, 0 when not capturing
	names []xml.Name
	buf   bytes.Buffer

	node *selector.Node
	err  error
	done bool
}

// NewIncremental prepares an incremental iterator over doc.
func NewIncremental(doc source.Document, nodeName string, opts ...Option) (*Incremental, error) {
	if nodeName == "" {
		return nil, ErrEmptyNodeName
	}
	o := options{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	it := &Incremental{tag: nodeName, ns: o.namespace, prefix: o.prefix}
	if strings.Index(nodeName, ":") > 0 {
		alias, err := tagname.NewAlias(nodeName)
		if err != nil {
			return nil, err
		}
		doc, err = alias.Apply(doc)
		if err != nil {
			return nil, err
		}
		it.alias = alias
		it.tag = alias.Sanitized
	}
	if it.ns != "" {
		it.query = "//" + it.prefix + ":" + it.tag
	} else {
		it.query = "//" + it.tag
	}

	r, err := stream.New(doc)
	if err != nil {
		return nil, err
	}
	utf8Reader, err := source.NewUTF8Reader(r, r.Encoding())
	if err != nil {
		return nil, err
	}
	it.dec = xml.NewDecoder(utf8Reader)
	// the stream is UTF-8 already, whatever the declaration says
	it.dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	log.Debug().Str("node", nodeName).Str("tag", it.tag).Str("namespace", it.ns).Str("encoding", r.Encoding()).Msg("incremental iterator ready")
	return it, nil
}

// Next reads tokens until the next matching element closes.
func (it *Incremental) Next() bool {
	if it.done {
		return false
	}
	it.node = nil
	for {
		tok, err := it.dec.RawToken()
		if err == io.EOF {
			if len(it.open) > 0 {
				return it.fail(fmt.Errorf("unexpected EOF: <%s> not closed", qname(it.open[len(it.open)-1])))
			}
			it.done = true
			return false
		}
		if err != nil {
			return it.fail(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			it.start(t)
		case xml.EndElement:
			if err := it.end(t); err != nil {
				return it.fail(err)
			}
			if it.depth == 0 && it.buf.Len() > 0 {
				if it.emit() {
					return true
				}
				if it.done {
					return false
				}
			}
		case xml.CharData:
			if it.depth > 0 {
				_ = xml.EscapeText(&it.buf, t)
			}
		case xml.Comment:
			if it.depth > 0 {
				it.buf.WriteString("<!--")
				it.buf.Write(t)
				it.buf.WriteString("-->")
			}
		}
	}
}

func (it *Incremental) start(t xml.StartElement) {
	decls := map[string]string{}
	for _, a := range t.Attr {
		switch {
		case a.Name.Space == "xmlns":
			decls[a.Name.Local] = a.Value
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			decls[""] = a.Value
		}
	}
	it.open = append(it.open, t.Name)
	it.scopes = append(it.scopes, decls)

	if it.depth > 0 {
		it.depth++
		it.names = append(it.names, t.Name)
		writeStart(&it.buf, t, nil)
		return
	}
	if t.Name.Local == it.tag && it.resolve(t.Name.Space) == it.ns {
		it.depth = 1
		it.names = append(it.names[:0], t.Name)
		writeStart(&it.buf, t, it.inherited(decls))
	}
}

func (it *Incremental) end(t xml.EndElement) error {
	if len(it.open) == 0 {
		return fmt.Errorf("unexpected end element </%s>", qname(t.Name))
	}
	top := it.open[len(it.open)-1]
	if !it.closes(top, t.Name) {
		return fmt.Errorf("element <%s> closed by </%s>", qname(top), qname(t.Name))
	}
	it.open = it.open[:len(it.open)-1]
	it.scopes = it.scopes[:len(it.scopes)-1]

	if it.depth > 0 {
		name := it.names[len(it.names)-1]
		it.names = it.names[:len(it.names)-1]
		it.buf.WriteString("</")
		it.buf.WriteString(qname(name))
		it.buf.WriteByte('>')
		it.depth--
	}
	return nil
}

// closes reports whether end is a valid end tag for start. Opening tags that
// were rewritten to the alias are still closed by the original name.
func (it *Incremental) closes(start, end xml.Name) bool {
	if start == end {
		return true
	}
	return it.alias.Changed() && qname(start) == it.alias.Sanitized && qname(end) == it.alias.Original
}

// emit turns the buffered subtree into a node. It reports false when the
// subtree could not be turned into a node; it.done is set when that is fatal.
func (it *Incremental) emit() bool {
	text := it.buf.String()
	it.buf.Reset()

	view, err := selector.Parse(text)
	if err != nil {
		it.fail(err)
		return false
	}
	if it.ns != "" {
		view.RegisterNamespace(it.prefix, it.ns)
	}
	node, err := view.First(it.query)
	if err != nil {
		it.fail(err)
		return false
	}
	if node == nil {
		log.Debug().Str("query", it.query).Msg("matched element not found in its own subtree; skipping")
		return false
	}
	it.node = node
	return true
}

func (it *Incremental) fail(err error) bool {
	it.err = fmt.Errorf("%w: %w", ErrMalformed, err)
	it.done = true
	it.node = nil
	it.buf.Reset()
	return false
}

// resolve maps a prefix to the namespace in scope. Unbound prefixes resolve
// to no namespace.
func (it *Incremental) resolve(prefix string) string {
	for i := len(it.scopes) - 1; i >= 0; i-- {
		if uri, ok := it.scopes[i][prefix]; ok {
			return uri
		}
	}
	return ""
}

// inherited returns the bindings in scope that own does not redeclare, so
// the captured subtree stays self-contained.
func (it *Incremental) inherited(own map[string]string) map[string]string {
	out := map[string]string{}
	for _, scope := range it.scopes {
		for p, uri := range scope {
			out[p] = uri
		}
	}
	for p := range own {
		delete(out, p)
	}
	return out
}

// Node returns the element found by the last call to Next.
func (it *Incremental) Node() *selector.Node { return it.node }

// Err returns the error that stopped iteration, if any.
func (it *Incremental) Err() error { return it.err }

func qname(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

func writeStart(buf *bytes.Buffer, t xml.StartElement, extra map[string]string) {
	buf.WriteByte('<')
	buf.WriteString(qname(t.Name))
	for _, a := range t.Attr {
		writeAttr(buf, qname(a.Name), a.Value)
	}
	prefixes := make([]string, 0, len(extra))
	for p := range extra {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		if p == "" {
			if extra[p] != "" {
				writeAttr(buf, "xmlns", extra[p])
			}
			continue
		}
		writeAttr(buf, "xmlns:"+p, extra[p])
	}
	buf.WriteByte('>')
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	_ = xml.EscapeText(buf, []byte(value))
	buf.WriteByte('"')
}

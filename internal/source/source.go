package source

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultEncoding is assumed for byte documents that do not declare one.
const DefaultEncoding = "utf-8"

// ErrUnsupportedSource is returned when a value cannot be coerced into a
// document. Callers should treat it as a programming error.
var ErrUnsupportedSource = errors.New("source: unsupported document type")

// Kind identifies which variant a Document holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindText
	KindBytes
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Document is a tagged variant over the three accepted input shapes: plain
// text, raw bytes with an encoding, and an already fetched response. The zero
// value is invalid and every coercion on it fails with ErrUnsupportedSource.
type Document struct {
	kind     Kind
	text     string
	data     []byte
	encoding string
	resp     *Response
}

// Text wraps a string document.
func Text(s string) Document {
	return Document{kind: KindText, text: s}
}

// Bytes wraps a byte document assumed to be UTF-8.
func Bytes(b []byte) Document {
	return Document{kind: KindBytes, data: b, encoding: DefaultEncoding}
}

// BytesWithEncoding wraps a byte document in the named encoding. An empty
// name falls back to DefaultEncoding.
func BytesWithEncoding(b []byte, enc string) Document {
	if enc == "" {
		enc = DefaultEncoding
	}
	return Document{kind: KindBytes, data: b, encoding: enc}
}

// FromResponse wraps a fetched response. A nil response yields an invalid document.
func FromResponse(r *Response) Document {
	if r == nil {
		return Document{}
	}
	return Document{kind: KindResponse, resp: r}
}

// From converts an arbitrary Go value into a Document. Accepted values are
// string, []byte, *Response, Response and Document.
func From(v any) (Document, error) {
	switch t := v.(type) {
	case Document:
		if t.kind == KindInvalid {
			return Document{}, ErrUnsupportedSource
		}
		return t, nil
	case string:
		return Text(t), nil
	case []byte:
		return Bytes(t), nil
	case *Response:
		if t == nil {
			return Document{}, fmt.Errorf("%w: nil response", ErrUnsupportedSource)
		}
		return FromResponse(t), nil
	case Response:
		return FromResponse(&t), nil
	default:
		return Document{}, fmt.Errorf("%w: %T must be string, []byte or response", ErrUnsupportedSource, v)
	}
}

// Kind reports the variant held by d.
func (d Document) Kind() Kind { return d.kind }

// Response returns the wrapped response, or nil for other variants.
func (d Document) Response() *Response { return d.resp }

// Encoding reports the encoding of the document's bytes. Text documents
// always report utf-8 since they are encoded as such when bytes are needed.
func (d Document) Encoding() string {
	switch d.kind {
	case KindBytes:
		return d.encoding
	case KindResponse:
		if d.resp.Encoding != "" {
			return d.resp.Encoding
		}
	}
	return DefaultEncoding
}

// Text coerces the document to a string. Byte documents are decoded with
// their declared encoding; responses that do not carry text decode as UTF-8.
func (d Document) Text() (string, error) {
	switch d.kind {
	case KindText:
		return d.text, nil
	case KindBytes:
		return decode(d.data, d.encoding)
	case KindResponse:
		if d.resp.IsText() {
			return d.resp.Text()
		}
		return decode(d.resp.Body, DefaultEncoding)
	default:
		return "", ErrUnsupportedSource
	}
}

// Bytes coerces the document to bytes. Text is encoded as UTF-8; responses
// return their raw body.
func (d Document) Bytes() ([]byte, error) {
	switch d.kind {
	case KindText:
		return []byte(d.text), nil
	case KindBytes:
		return d.data, nil
	case KindResponse:
		return d.resp.Body, nil
	default:
		return nil, ErrUnsupportedSource
	}
}

// RawText returns the string backing a text document; ok is false for the
// other variants. The stream adapter uses it to walk text by runes.
func (d Document) RawText() (string, bool) {
	if d.kind != KindText {
		return "", false
	}
	return d.text, true
}

// lookup resolves an encoding label (utf-8, latin1, windows-1252, ...).
func lookup(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// Decode converts b from the named encoding into a string.
func Decode(b []byte, name string) (string, error) {
	return decode(b, name)
}

// Encode converts s into the named encoding.
func Encode(s string, name string) ([]byte, error) {
	enc, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if isUTF8(enc) {
		return []byte(s), nil
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return out, nil
}

// NewUTF8Reader returns a reader that transcodes r from the named encoding
// into UTF-8. UTF-8 input is returned unchanged.
func NewUTF8Reader(r io.Reader, name string) (io.Reader, error) {
	enc, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if isUTF8(enc) {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func decode(b []byte, name string) (string, error) {
	enc, err := lookup(name)
	if err != nil {
		return "", err
	}
	if isUTF8(enc) && utf8.Valid(b) {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(out), nil
}

func isUTF8(enc encoding.Encoding) bool {
	name, err := htmlindex.Name(enc)
	return err == nil && name == "utf-8"
}

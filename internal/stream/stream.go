// Package stream exposes an in-memory document as a chunked byte source for
// incremental decoders.
package stream

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/hyperifyio/feedx/internal/source"
)

// DefaultChunkSize is the number of input units returned per chunk when the
// caller does not ask for a specific size.
const DefaultChunkSize = 65535

// Reader walks a document forward in chunks. Text documents are walked by
// runes and encoded to UTF-8 on the fly; byte documents and responses are
// walked by bytes and keep their own encoding. A Reader is owned by a single
// extraction and is never rewound.
type Reader struct {
	text     string
	data     []byte
	isText   bool
	encoding string
	pos      int // runes for text, bytes otherwise
	off      int // byte offset into text
	started  bool
	pending  []byte
}

// New builds a Reader over doc.
func New(doc source.Document) (*Reader, error) {
	r := &Reader{encoding: doc.Encoding()}
	if s, ok := doc.RawText(); ok {
		r.text = s
		r.isText = true
		return r, nil
	}
	b, err := doc.Bytes()
	if err != nil {
		return nil, err
	}
	r.data = b
	return r, nil
}

// Encoding is the encoding of the bytes produced by ReadChunk.
func (r *Reader) Encoding() string { return r.encoding }

// Offset is the number of input units consumed so far.
func (r *Reader) Offset() int { return r.pos }

// ReadChunk returns up to n input units starting at the cursor, as bytes.
// Leading whitespace of the first chunk is dropped. An empty chunk means the
// document is exhausted. n <= 0 uses DefaultChunkSize.
func (r *Reader) ReadChunk(n int) []byte {
	if n <= 0 {
		n = DefaultChunkSize
	}
	var chunk []byte
	if r.isText {
		chunk = r.readText(n)
	} else {
		chunk = r.readBytes(n)
	}
	if !r.started {
		r.started = true
		chunk = bytes.TrimLeft(chunk, " \t\r\n")
	}
	return chunk
}

func (r *Reader) readBytes(n int) []byte {
	if r.pos >= len(r.data) {
		return nil
	}
	end := min(r.pos+n, len(r.data))
	chunk := r.data[r.pos:end]
	r.pos = end
	return chunk
}

func (r *Reader) readText(n int) []byte {
	if r.off >= len(r.text) {
		return nil
	}
	end := r.off
	for i := 0; i < n && end < len(r.text); i++ {
		_, size := utf8.DecodeRuneInString(r.text[end:])
		end += size
		r.pos++
	}
	chunk := []byte(r.text[r.off:end])
	r.off = end
	return chunk
}

// Read implements io.Reader on top of ReadChunk so the document can feed a
// decoder. Bytes of a chunk that do not fit p are held for the next call.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		if r.exhausted() {
			return 0, io.EOF
		}
		r.pending = r.ReadChunk(len(p))
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *Reader) exhausted() bool {
	if r.isText {
		return r.off >= len(r.text)
	}
	return r.pos >= len(r.data)
}

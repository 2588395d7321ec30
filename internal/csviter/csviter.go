// Package csviter yields CSV rows as ordered field maps.
package csviter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/feedx/internal/source"
)

// ErrInvalidDialect is returned for delimiter and quote combinations that
// cannot be parsed unambiguously.
var ErrInvalidDialect = errors.New("csviter: invalid delimiter or quote character")

// Record is one row keyed by header name. Keys keeps header order; a header
// name that appears twice keeps its first position and its last value.
type Record struct {
	Keys   []string
	Values map[string]string
}

// Get returns the value for key, or "".
func (r Record) Get(key string) string { return r.Values[key] }

// MarshalJSON writes the record as an object in header order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.Values[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

type options struct {
	delimiter rune
	quote     rune
	headers   []string
	encoding  string
}

// Option configures Rows.
type Option func(*options)

// WithDelimiter sets the field separator. Defaults to ','.
func WithDelimiter(r rune) Option { return func(o *options) { o.delimiter = r } }

// WithQuoteChar sets the character that encloses fields. Defaults to '"'.
func WithQuoteChar(r rune) Option { return func(o *options) { o.quote = r } }

// WithHeaders supplies the field names; the first row is then data.
func WithHeaders(names ...string) Option {
	return func(o *options) { o.headers = append([]string(nil), names...) }
}

// WithEncoding sets the encoding used to decode byte documents. Text
// responses always use their own encoding.
func WithEncoding(name string) Option { return func(o *options) { o.encoding = name } }

// Rows reads records one at a time. Rows whose field count differs from the
// header are logged and skipped.
type Rows struct {
	r       *csv.Reader
	header  []string
	swapped bool
	quote   rune

	record  Record
	err     error
	done    bool
	skipped int
}

// NewRows decodes doc to text and prepares a row reader over it. The header
// row, when not supplied, is read on the first call to Next.
func NewRows(doc source.Document, opts ...Option) (*Rows, error) {
	o := options{delimiter: ',', quote: '"'}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validateDialect(o.delimiter, o.quote); err != nil {
		return nil, err
	}
	text, err := decodeText(doc, o.encoding)
	if err != nil {
		return nil, err
	}
	rows := &Rows{quote: o.quote, header: o.headers}
	if o.quote != '"' {
		rows.swapped = true
		text = swapRunes(text, o.quote, '"')
	}
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = rows.swap(o.delimiter)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	rows.r = r
	return rows, nil
}

// Header returns the field names in use, or nil before the header is read.
func (rs *Rows) Header() []string { return rs.header }

// Skipped counts rows dropped for having the wrong number of fields.
func (rs *Rows) Skipped() int { return rs.skipped }

// Next advances to the next well-formed row.
func (rs *Rows) Next() bool {
	if rs.done {
		return false
	}
	if len(rs.header) == 0 {
		row, ok := rs.read()
		if !ok {
			return false
		}
		rs.header = row
	}
	for {
		row, ok := rs.read()
		if !ok {
			return false
		}
		if len(row) != len(rs.header) {
			line, _ := rs.r.FieldPos(len(row) - 1)
			rs.skipped++
			log.Warn().Int("line", line).Int("length", len(row)).Int("expected", len(rs.header)).Msg("ignoring csv row with wrong field count")
			continue
		}
		rs.record = rs.build(row)
		return true
	}
}

// read returns the next row with quote characters restored. Rows the CSV
// grammar rejects are logged and skipped like short rows.
func (rs *Rows) read() ([]string, bool) {
	for {
		row, err := rs.r.Read()
		if err == io.EOF {
			rs.done = true
			return nil, false
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			rs.skipped++
			log.Warn().Int("line", perr.Line).Err(perr.Err).Msg("ignoring unparsable csv row")
			continue
		}
		if err != nil {
			rs.err = fmt.Errorf("csviter: %w", err)
			rs.done = true
			return nil, false
		}
		if rs.swapped {
			for i, f := range row {
				row[i] = swapRunes(f, rs.quote, '"')
			}
		}
		return row, true
	}
}

func (rs *Rows) build(row []string) Record {
	rec := Record{Keys: make([]string, 0, len(rs.header)), Values: make(map[string]string, len(rs.header))}
	for i, k := range rs.header {
		if _, dup := rec.Values[k]; !dup {
			rec.Keys = append(rec.Keys, k)
		}
		rec.Values[k] = row[i]
	}
	return rec
}

// Record returns the row found by the last call to Next.
func (rs *Rows) Record() Record { return rs.record }

// Err returns the error that stopped iteration, if any.
func (rs *Rows) Err() error { return rs.err }

// Collect drains rs into a slice.
func Collect(rs *Rows) ([]Record, error) {
	var out []Record
	for rs.Next() {
		out = append(out, rs.Record())
	}
	return out, rs.Err()
}

func (rs *Rows) swap(r rune) rune {
	if !rs.swapped {
		return r
	}
	switch r {
	case rs.quote:
		return '"'
	case '"':
		return rs.quote
	}
	return r
}

func validateDialect(delim, quote rune) error {
	for _, r := range []rune{delim, quote} {
		if r == 0 || r == '\r' || r == '\n' || !utf8.ValidRune(r) || r == utf8.RuneError {
			return fmt.Errorf("%w: %q", ErrInvalidDialect, r)
		}
	}
	if delim == quote {
		return fmt.Errorf("%w: delimiter and quote are both %q", ErrInvalidDialect, delim)
	}
	return nil
}

func decodeText(doc source.Document, enc string) (string, error) {
	switch doc.Kind() {
	case source.KindResponse:
		if doc.Response().IsText() || enc == "" {
			return doc.Text()
		}
	case source.KindBytes:
		if enc == "" {
			enc = doc.Encoding()
		}
	default:
		return doc.Text()
	}
	b, err := doc.Bytes()
	if err != nil {
		return "", err
	}
	return source.Decode(b, enc)
}

// swapRunes exchanges every a for b and every b for a.
func swapRunes(s string, a, b rune) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case a:
			return b
		case b:
			return a
		}
		return r
	}, s)
}

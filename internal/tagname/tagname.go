// Package tagname validates element names and rewrites prefixed names into
// aliases an incremental parser can match without namespace context.
package tagname

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperifyio/feedx/internal/source"
)

// ErrInvalidTagName is returned when a tag name is empty or contains
// characters outside [a-z0-9-:_].
var ErrInvalidTagName = errors.New("tagname: invalid tag name")

var validName = regexp.MustCompile(`^[a-z0-9\-:_]+$`)

// Validate reports whether name is a non-empty run of lowercase letters,
// digits, hyphens, colons and underscores.
func Validate(name string) bool {
	return validName.MatchString(name)
}

// Sanitize replaces the namespace separator with a hyphen.
func Sanitize(name string) string {
	return strings.ReplaceAll(name, ":", "-")
}

// Alias pairs an original tag name with its sanitized form.
type Alias struct {
	Original  string
	Sanitized string
}

// NewAlias validates name and derives its alias.
func NewAlias(name string) (Alias, error) {
	if !Validate(name) {
		return Alias{}, fmt.Errorf("%w: %q", ErrInvalidTagName, name)
	}
	return Alias{Original: name, Sanitized: Sanitize(name)}, nil
}

// Changed reports whether the alias differs from the original name.
func (a Alias) Changed() bool { return a.Original != a.Sanitized }

// Apply rewrites opening tags of the original name to the alias.
func (a Alias) Apply(doc source.Document) (source.Document, error) {
	return Rewrite(doc, a.Original, a.Sanitized)
}

// Restore rewrites opening tags of the alias back to the original name.
func (a Alias) Restore(doc source.Document) (source.Document, error) {
	return Rewrite(doc, a.Sanitized, a.Original)
}

// Rewrite replaces every opening tag named oldTag with newTag and returns a
// document of the same shape: text stays text, bytes are re-encoded in their
// own encoding, and responses are re-wrapped around the new body. Closing
// tags are left as they are.
func Rewrite(doc source.Document, oldTag, newTag string) (source.Document, error) {
	if !Validate(oldTag) {
		return source.Document{}, fmt.Errorf("%w: old tag %q", ErrInvalidTagName, oldTag)
	}
	if !Validate(newTag) {
		return source.Document{}, fmt.Errorf("%w: new tag %q", ErrInvalidTagName, newTag)
	}
	text, err := decode(doc)
	if err != nil {
		return source.Document{}, err
	}
	return encodeAs(doc, substitute(text, oldTag, newTag))
}

// opening matches "<name" followed by name="value" attributes and the end of
// the start tag. Group 2 is everything after the name.
func opening(name string) *regexp.Regexp {
	return regexp.MustCompile(`(<)` + regexp.QuoteMeta(name) + `((?:\s+[\w:.\-]+\s*=\s*(?:"[^"]*"|'[^']*'))*\s*/?>)`)
}

func substitute(text, oldTag, newTag string) string {
	return opening(oldTag).ReplaceAllString(text, "${1}"+newTag+"${2}")
}

func decode(doc source.Document) (string, error) {
	switch doc.Kind() {
	case source.KindText:
		return doc.Text()
	case source.KindBytes:
		b, _ := doc.Bytes()
		return source.Decode(b, doc.Encoding())
	case source.KindResponse:
		return doc.Response().Text()
	default:
		return "", source.ErrUnsupportedSource
	}
}

func encodeAs(orig source.Document, text string) (source.Document, error) {
	switch orig.Kind() {
	case source.KindText:
		return source.Text(text), nil
	case source.KindBytes:
		b, err := source.Encode(text, orig.Encoding())
		if err != nil {
			return source.Document{}, err
		}
		return source.BytesWithEncoding(b, orig.Encoding()), nil
	case source.KindResponse:
		resp := orig.Response()
		b, err := source.Encode(text, orig.Encoding())
		if err != nil {
			return source.Document{}, err
		}
		return source.FromResponse(resp.Replace(b)), nil
	default:
		return source.Document{}, source.ErrUnsupportedSource
	}
}

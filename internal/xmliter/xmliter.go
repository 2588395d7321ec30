// Package xmliter iterates over repeated elements of an XML document one
// node at a time.
//
// Two strategies are provided. Pattern finds elements with regular
// expressions over the decoded text and is meant for flat feeds where the
// repeated element is never nested in itself. Incremental drives a token
// decoder over the document bytes and is the one to use for anything nested
// or attribute heavy. Both yield selector nodes and never hold more than one
// element's parse state at a time.
package xmliter

import (
	"errors"

	"github.com/hyperifyio/feedx/internal/selector"
)

var (
	// ErrEmptyNodeName is returned when no element name is given.
	ErrEmptyNodeName = errors.New("xmliter: node name is required")
	// ErrMalformed wraps decoder and parser failures. Iteration stops at
	// the first one.
	ErrMalformed = errors.New("xmliter: malformed markup")
)

// Iterator is the pull interface shared by both strategies.
//
//	for it.Next() {
//		node := it.Node()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Node() *selector.Node
	Err() error
}

// Collect drains it into a slice.
func Collect(it Iterator) ([]*selector.Node, error) {
	var out []*selector.Node
	for it.Next() {
		out = append(out, it.Node())
	}
	return out, it.Err()
}

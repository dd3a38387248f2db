package syncmsg

import (
	"errors"

	"github.com/treecrdt/authsync/opmodel"
)

// FilterKind selects which of a Filter's two cases is populated. spec.md §6
// describes Filter as `all{} | children{parent:16 B}` — exactly one case,
// additional fields are errors — so Filter carries the kind explicitly
// rather than relying on a zero-value NodeId to mean "all".
type FilterKind uint8

const (
	FilterUnspecified FilterKind = iota
	FilterAll
	FilterChildren
)

// ErrUnspecifiedFilter is returned by Validate when Kind is the zero value.
var ErrUnspecifiedFilter = errors.New("syncmsg: filter kind unspecified")

// Filter selects the subset of a document's operations a session
// reconciles.
type Filter struct {
	Kind   FilterKind     `cbor:"kind"`
	Parent opmodel.NodeId `cbor:"parent,omitempty"`
}

// AllFilter returns the doc-wide filter.
func AllFilter() Filter { return Filter{Kind: FilterAll} }

// ChildrenFilter returns a filter over parent's direct children.
func ChildrenFilter(parent opmodel.NodeId) Filter {
	return Filter{Kind: FilterChildren, Parent: parent}
}

// Validate checks that Kind is one of the two known cases.
func (f Filter) Validate() error {
	switch f.Kind {
	case FilterAll, FilterChildren:
		return nil
	default:
		return ErrUnspecifiedFilter
	}
}

// NamedFilter pairs a session-scoped filter id with the filter it names,
// as carried in a Hello's filters list.
type NamedFilter struct {
	Id     string `cbor:"id"`
	Filter Filter `cbor:"filter"`
}

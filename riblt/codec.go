// Package riblt implements a rateless invertible-Bloom-lookup-table codec
// for set reconciliation: two peers holding mostly-overlapping sets of
// 16-byte symbols discover their symmetric difference by exchanging a
// stream of small coded cells rather than their full sets (spec.md §1,
// consumed here as the opaque "symbol-accumulating codec" the sync
// session protocol drives).
package riblt

import "fmt"

// CodedSymbol is one cell of the coded stream: the XOR of every symbol
// contributing to it, the XOR of their checksums, and the net count of
// contributions (positive for local-only, negative for remote-only, once
// a decoder has combined both sides).
type CodedSymbol struct {
	Sum      Symbol
	Checksum uint64
	Count    int64
}

func (c *CodedSymbol) addLocal(s Symbol) {
	xorInto(&c.Sum, s)
	c.Checksum ^= checksum(s)
	c.Count++
}

func (c *CodedSymbol) addRemote(s Symbol) {
	xorInto(&c.Sum, s)
	c.Checksum ^= checksum(s)
	c.Count--
}

func (c *CodedSymbol) merge(remote CodedSymbol) {
	xorInto(&c.Sum, remote.Sum)
	c.Checksum ^= remote.Checksum
	c.Count -= remote.Count
}

func (c CodedSymbol) isPure() bool {
	return c.Count == 1 || c.Count == -1
}

func xorInto(dst *Symbol, src Symbol) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// trackedSymbol is a symbol added to one side (local or remote) of a
// Codec, together with the lazily-advanced mapping deciding which cell it
// touches next. nextIdx caches that decision so growing the window doesn't
// redraw the random variate that produced it.
type trackedSymbol struct {
	symbol  Symbol
	mapping *mapping
	nextIdx int64
}

func newTrackedSymbol(s Symbol) *trackedSymbol {
	return &trackedSymbol{symbol: s, mapping: newMapping(symbolSeed(s)), nextIdx: -1}
}

func (t *trackedSymbol) peekNext() int64 {
	if t.nextIdx < 0 {
		t.nextIdx = int64(t.mapping.next())
	}
	return t.nextIdx
}

func (t *trackedSymbol) consume() {
	t.nextIdx = -1
}

// Codec accumulates one side of a RIBLT set-reconciliation session: the
// symbols known locally, and — when used as a decoder — the codewords
// received from a peer. A single instance plays exactly one role:
//
//   - As an encoder, only AddLocalSymbol and NextCodeword are called; its
//     cells are a pure running aggregate of the local set, safe to send.
//   - As a decoder, AddLocalSymbol seeds the local set, then AddCodeword
//     merges each received cell (in contiguous index order) and TryDecode
//     peels whatever has become resolvable.
type Codec struct {
	cells []CodedSymbol

	local  []*trackedSymbol
	remote []*trackedSymbol

	localMissing  []Symbol // known locally absent, present on the peer
	remoteMissing []Symbol // known locally present, absent on the peer

	pending []int
}

// New returns an empty codec.
func New() *Codec {
	return &Codec{}
}

// AddLocalSymbol adds a symbol known to be in the local set.
func (c *Codec) AddLocalSymbol(s Symbol) {
	t := newTrackedSymbol(s)
	c.local = append(c.local, t)
	c.applyTrackerUpTo(t, true, len(c.cells)-1)
}

// AddRemoteSymbol adds a symbol already known (out of band) to be in the
// remote set, letting a decoder fold in prior knowledge without waiting
// for a codeword that happens to isolate it.
func (c *Codec) AddRemoteSymbol(s Symbol) {
	t := newTrackedSymbol(s)
	c.remote = append(c.remote, t)
	c.applyTrackerUpTo(t, false, len(c.cells)-1)
}

// applyTrackerUpTo applies t's contribution to every existing cell index
// up to and including limit that its mapping touches, leaving its next
// pending index cached for when the window grows further.
func (c *Codec) applyTrackerUpTo(t *trackedSymbol, local bool, limit int) {
	for {
		idx := t.peekNext()
		if idx > int64(limit) {
			return
		}
		if local {
			c.cells[idx].addLocal(t.symbol)
		} else {
			c.cells[idx].addRemote(t.symbol)
		}
		t.consume()
	}
}

// ensureWindow grows cells to length n, applying every tracked symbol's
// contribution to any newly created cell it touches.
func (c *Codec) ensureWindow(n int) {
	for len(c.cells) < n {
		c.cells = append(c.cells, CodedSymbol{})
		newIdx := len(c.cells) - 1
		for _, t := range c.local {
			c.applyTrackerUpTo(t, true, newIdx)
		}
		for _, t := range c.remote {
			c.applyTrackerUpTo(t, false, newIdx)
		}
	}
}

// NextCodeword extends the local aggregate by one cell and returns it, for
// sending to a peer.
func (c *Codec) NextCodeword() CodedSymbol {
	c.ensureWindow(len(c.cells) + 1)
	return c.cells[len(c.cells)-1]
}

// ErrOutOfOrder is returned by AddCodeword when idx does not equal the
// next expected codeword index.
var ErrOutOfOrder = fmt.Errorf("riblt: codeword received out of order")

// AddCodeword merges a codeword received at position idx (0-based, must be
// contiguous) into the local aggregate and attempts to peel any cell this
// makes resolvable.
func (c *Codec) AddCodeword(idx uint64, cw CodedSymbol) error {
	if int(idx) != len(c.cells) {
		return ErrOutOfOrder
	}
	c.ensureWindow(len(c.cells) + 1)
	c.cells[idx].merge(cw)
	if c.cells[idx].isPure() {
		c.pending = append(c.pending, int(idx))
	}
	return nil
}

// TryDecode peels every currently-resolvable cell, discovering symbols and
// propagating their removal to every other cell they touch. It reports
// whether the entire coded window has been fully resolved (every cell's
// count is zero).
func (c *Codec) TryDecode() bool {
	for len(c.pending) > 0 {
		idx := c.pending[len(c.pending)-1]
		c.pending = c.pending[:len(c.pending)-1]

		cell := c.cells[idx]
		if !cell.isPure() {
			continue
		}
		symbol := cell.Sum
		if checksum(symbol) != cell.Checksum {
			// A coincidental cancellation, not a true singleton; leave it
			// for a future codeword to disambiguate.
			continue
		}

		isLocalOnly := cell.Count == 1
		if isLocalOnly {
			c.remoteMissing = append(c.remoteMissing, symbol)
		} else {
			c.localMissing = append(c.localMissing, symbol)
		}

		t := newTrackedSymbol(symbol)
		limit := len(c.cells) - 1
		for {
			idx2 := t.peekNext()
			if idx2 > int64(limit) {
				break
			}
			if isLocalOnly {
				c.cells[idx2].addRemote(symbol) // cancels the +1 local contribution
			} else {
				c.cells[idx2].addLocal(symbol) // cancels the -1 remote contribution
			}
			t.consume()
			if c.cells[idx2].isPure() {
				c.pending = append(c.pending, int(idx2))
			}
		}
	}

	for _, cell := range c.cells {
		if cell.Count != 0 {
			return false
		}
	}
	return true
}

// LocalMissing returns the symbols discovered to be present on the peer
// but absent locally.
func (c *Codec) LocalMissing() []Symbol { return c.localMissing }

// RemoteMissing returns the symbols discovered to be present locally but
// absent on the peer.
func (c *Codec) RemoteMissing() []Symbol { return c.remoteMissing }

// CellCount reports how many codewords have been produced or consumed so
// far, for enforcing a session's max_codewords budget.
func (c *Codec) CellCount() int { return len(c.cells) }

package revocation

import (
	"bytes"
	"sync"

	"github.com/treecrdt/authsync/opmodel"
)

// Stage identifies when a revocation query is being made: "parse", when
// only the token id is known, or "runtime", when the candidate op is also
// available so a write_cutover threshold can actually be compared.
type Stage string

const (
	StageParse   Stage = "parse"
	StageRuntime Stage = "runtime"
)

// OpContext carries the fields of a candidate op needed to evaluate a
// write_cutover threshold at runtime.
type OpContext struct {
	Replica opmodel.ReplicaId
	Counter uint64
}

// Table accumulates at most one revocation record per token id — the one
// with the highest RevSeq, ties broken by lexicographic comparison of the
// record's encoded envelope bytes, so that any two peers who receive the
// same set of records in any order converge on the same winner
// (spec.md §4.4, §8 "associative and commutative").
type Table struct {
	mu      sync.Mutex
	entries map[[16]byte]tableEntry
}

type tableEntry struct {
	record   Record
	envelope []byte
}

// NewTable returns an empty revocation table.
func NewTable() *Table {
	return &Table{entries: make(map[[16]byte]tableEntry)}
}

// Add inserts record (with its raw envelope) if it wins over any existing
// record for the same token id. It reports whether the table's entry for
// that token id changed.
func (t *Table) Add(record Record, envelope []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.entries[record.TokenId]
	if !ok || wins(record, envelope, cur.record, cur.envelope) {
		t.entries[record.TokenId] = tableEntry{record: record, envelope: append([]byte(nil), envelope...)}
		return true
	}
	return false
}

// wins reports whether candidate beats incumbent under the table's
// deterministic ordering: higher RevSeq wins; on a RevSeq tie, the
// lexicographically greater envelope wins.
func wins(candidate Record, candidateEnvelope []byte, incumbent Record, incumbentEnvelope []byte) bool {
	if candidate.RevSeq != incumbent.RevSeq {
		return candidate.RevSeq > incumbent.RevSeq
	}
	return bytes.Compare(candidateEnvelope, incumbentEnvelope) > 0
}

// Get returns the current winning record for tokenId, if any.
func (t *Table) Get(tokenId [16]byte) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[tokenId]
	return e.record, ok
}

// Len reports how many distinct token ids currently have a revocation
// record.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Records returns a snapshot of every (record, envelope) pair currently
// held, e.g. for re-advertising via hello_capabilities.
func (t *Table) Records() []struct {
	Record   Record
	Envelope []byte
} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]struct {
		Record   Record
		Envelope []byte
	}, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, struct {
			Record   Record
			Envelope []byte
		}{Record: e.record, Envelope: e.envelope})
	}
	return out
}

// IsRevoked decides whether tokenId is revoked at stage, given op (nil at
// parse stage).
func (t *Table) IsRevoked(tokenId [16]byte, stage Stage, op *OpContext) bool {
	record, ok := t.Get(tokenId)
	if !ok {
		return false
	}
	switch record.Mode {
	case ModeHard:
		return true
	case ModeWriteCutover:
		if stage == StageParse || op == nil {
			// The op is not yet known, so a counter/replica threshold
			// cannot be evaluated: spec.md §4.4 mandates false here.
			return false
		}
		if record.EffectiveFromReplica != nil && *record.EffectiveFromReplica != op.Replica {
			return false
		}
		if record.EffectiveFromCounter == nil {
			return false
		}
		return op.Counter >= *record.EffectiveFromCounter
	default:
		return false
	}
}

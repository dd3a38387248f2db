// Package opmodel defines the canonical, auth-visible shape of a tree-CRDT
// operation: just enough structure (author identity, ordering, and the
// kind-specific node/payload fields) for the capability layer to sign,
// verify, and scope-check an op without understanding tree-merge semantics.
// The CRDT's actual conflict-resolution logic lives outside this module.
package opmodel

import "fmt"

// NodeSize is the fixed width, in bytes, of every node id in the tree.
const NodeSize = 16

// NodeId identifies a node in the shared tree.
type NodeId [NodeSize]byte

// ReplicaId is the Ed25519 public key of the replica that authored an op.
type ReplicaId [32]byte

// OpId identifies an operation within a document: the (replica, counter)
// pair assigned by its author. Counters are per-replica and monotonic.
type OpId struct {
	Replica ReplicaId
	Counter uint64
}

// Kind enumerates the mutation an Operation performs.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindMove
	KindDelete
	KindTombstone
	KindPayload
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindMove:
		return "move"
	case KindDelete:
		return "delete"
	case KindTombstone:
		return "tombstone"
	case KindPayload:
		return "payload"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Operation is the opaque-to-the-CRDT, canonical-to-auth view of a single
// tree mutation. All node ids are NodeSize bytes; OrderKey is an opaque,
// author-chosen fractional-index byte string used by the CRDT to linearize
// siblings and is not interpreted here.
type Operation struct {
	Meta struct {
		Id      OpId
		Lamport uint64
	}
	Kind Kind

	// Populated per Kind; zero-valued fields for kinds that don't use them.
	Parent    NodeId // insert
	Node      NodeId // insert, move, delete, tombstone, payload
	NewParent NodeId // move
	OrderKey  []byte // insert, move
	Payload   []byte // insert (optional), payload (optional)
	HasPayload bool
}

// RequiredActions returns the capability actions an op of this kind
// requires at its primary node, per spec.md §4.3.
func (op *Operation) RequiredActions() []Action {
	switch op.Kind {
	case KindInsert:
		if op.HasPayload {
			return []Action{ActionWriteStructure, ActionWritePayload}
		}
		return []Action{ActionWriteStructure}
	case KindMove:
		return []Action{ActionWriteStructure}
	case KindDelete:
		return []Action{ActionDelete}
	case KindTombstone:
		return []Action{ActionTombstone}
	case KindPayload:
		return []Action{ActionWritePayload}
	default:
		return nil
	}
}

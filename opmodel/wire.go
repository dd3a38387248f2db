package opmodel

import "github.com/treecrdt/authsync/cborcodec"

// wireOp is the on-the-wire CBOR shape of an Operation. It is a plain
// struct rather than Operation itself so that Operation's Go-side layout
// (nested Meta, HasPayload bool) can evolve without changing the bytes two
// peers exchange.
type wireOp struct {
	Replica    ReplicaId `cbor:"replica"`
	Counter    uint64    `cbor:"counter"`
	Lamport    uint64    `cbor:"lamport"`
	Kind       uint8     `cbor:"kind"`
	Parent     NodeId    `cbor:"parent,omitempty"`
	Node       NodeId    `cbor:"node,omitempty"`
	NewParent  NodeId    `cbor:"new_parent,omitempty"`
	OrderKey   []byte    `cbor:"order_key,omitempty"`
	Payload    []byte    `cbor:"payload,omitempty"`
	HasPayload bool      `cbor:"has_payload,omitempty"`
}

// EncodeOp renders an Operation into the canonical CBOR bytes carried
// opaquely inside an OpsBatch message (spec.md §6).
func EncodeOp(op *Operation) ([]byte, error) {
	w := wireOp{
		Replica:    op.Meta.Id.Replica,
		Counter:    op.Meta.Id.Counter,
		Lamport:    op.Meta.Lamport,
		Kind:       uint8(op.Kind),
		Parent:     op.Parent,
		Node:       op.Node,
		NewParent:  op.NewParent,
		OrderKey:   op.OrderKey,
		Payload:    op.Payload,
		HasPayload: op.HasPayload,
	}
	return cborcodec.Default.Marshal(w)
}

// DecodeOp parses bytes produced by EncodeOp back into an Operation.
func DecodeOp(b []byte) (Operation, error) {
	var w wireOp
	if err := cborcodec.Default.Unmarshal(b, &w); err != nil {
		return Operation{}, err
	}
	var op Operation
	op.Meta.Id = OpId{Replica: w.Replica, Counter: w.Counter}
	op.Meta.Lamport = w.Lamport
	op.Kind = Kind(w.Kind)
	op.Parent = w.Parent
	op.Node = w.Node
	op.NewParent = w.NewParent
	op.OrderKey = w.OrderKey
	op.Payload = w.Payload
	op.HasPayload = w.HasPayload
	return op, nil
}

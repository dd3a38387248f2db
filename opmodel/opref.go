package opmodel

import "github.com/zeebo/blake3"

// OpRefSize is the width, in bytes, of an OpRef.
const OpRefSize = 16

// OpRef is the 16-byte deterministic digest that lets two peers refer to
// the same operation without exchanging its body.
type OpRef [OpRefSize]byte

const opRefDomain = "treecrdt/opref/v0"

// DeriveOpRef computes OpRef = BLAKE3("treecrdt/opref/v0" || doc_id ||
// replica || counter)[0:16]. It is computed from identity fields only (not
// from lamport, kind, or payload) so that every peer — and the author
// itself, before any signature exists — derives the same reference for the
// same (doc, replica, counter) triple.
func DeriveOpRef(docId string, replica ReplicaId, counter uint64) OpRef {
	h := blake3.New()
	_, _ = h.Write([]byte(opRefDomain))
	_, _ = h.Write([]byte(docId))
	_, _ = h.Write(replica[:])
	_, _ = h.Write(beU64(counter))

	var out OpRef
	sum := h.Sum(nil)
	copy(out[:], sum[:OpRefSize])
	return out
}

// Ref derives this operation's OpRef under docId.
func (op *Operation) Ref(docId string) OpRef {
	return DeriveOpRef(docId, op.Meta.Id.Replica, op.Meta.Id.Counter)
}

func beU64(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

func beU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

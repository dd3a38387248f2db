package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
)

var (
	boltOpsBucket          = []byte("backend.ops")
	boltLamportBucket      = []byte("backend.max_lamport")
	boltParentsBucket      = []byte("backend.parents")
	boltPendingBucket      = []byte("backend.pending")
	boltPendingOrderBucket = []byte("backend.pending_order")
	boltAuthBucket         = []byte("backend.op_auth")
)

// Bolt is a Backend backed by a bbolt database, for deployments that want
// the reference Backend's semantics to survive a restart without standing
// up a real document store. It follows keystore.Store's shape: callers own
// the *bolt.DB's lifecycle, and values are plain (non-canonical) CBOR,
// since this store is never read by anything but this same process.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt wraps an already-opened bbolt database as a Backend, creating
// its buckets if they do not yet exist.
func OpenBolt(db *bolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{
			boltOpsBucket, boltLamportBucket, boltParentsBucket,
			boltPendingBucket, boltPendingOrderBucket, boltAuthBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backend: initializing buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func docKey(docId string, id [16]byte) []byte {
	return append(append([]byte(docId), 0), id[:]...)
}

func (b *Bolt) ListOpRefs(_ context.Context, docId string) ([]opmodel.OpRef, error) {
	var out []opmodel.OpRef
	prefix := append([]byte(docId), 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltOpsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var ref opmodel.OpRef
			copy(ref[:], k[len(prefix):])
			out = append(out, ref)
		}
		return nil
	})
	return out, err
}

func (b *Bolt) GetOp(_ context.Context, docId string, ref opmodel.OpRef) (opmodel.Operation, bool, error) {
	var op opmodel.Operation
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltOpsBucket).Get(docKey(docId, ref))
		if v == nil {
			return nil
		}
		o, err := opmodel.DecodeOp(v)
		if err != nil {
			return err
		}
		op, found = o, true
		return nil
	})
	return op, found, err
}

func (b *Bolt) ApplyOps(_ context.Context, docId string, ops []opmodel.Operation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		opsB := tx.Bucket(boltOpsBucket)
		parentsB := tx.Bucket(boltParentsBucket)
		lamportB := tx.Bucket(boltLamportBucket)

		maxLamport := decodeLamport(lamportB.Get([]byte(docId)))
		for _, op := range ops {
			ref := op.Ref(docId)
			key := docKey(docId, ref)
			if opsB.Get(key) != nil {
				continue
			}
			encoded, err := opmodel.EncodeOp(&op)
			if err != nil {
				return err
			}
			if err := opsB.Put(key, encoded); err != nil {
				return err
			}
			if op.Meta.Lamport > maxLamport {
				maxLamport = op.Meta.Lamport
			}
			switch op.Kind {
			case opmodel.KindInsert:
				if err := parentsB.Put(docKey(docId, op.Node), op.Parent[:]); err != nil {
					return err
				}
			case opmodel.KindMove:
				if err := parentsB.Put(docKey(docId, op.Node), op.NewParent[:]); err != nil {
					return err
				}
			}
		}
		return lamportB.Put([]byte(docId), encodeLamport(maxLamport))
	})
}

func (b *Bolt) MaxLamport(_ context.Context, docId string) (uint64, error) {
	var v uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		v = decodeLamport(tx.Bucket(boltLamportBucket).Get([]byte(docId)))
		return nil
	})
	return v, err
}

func (b *Bolt) ListPendingOps(_ context.Context, docId string) ([]PendingOp, error) {
	var out []PendingOp
	prefix := append([]byte(docId), 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		pendingB := tx.Bucket(boltPendingBucket)
		c := tx.Bucket(boltPendingOrderBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ref opmodel.OpRef
			copy(ref[:], v)
			rowBytes := pendingB.Get(docKey(docId, ref))
			if rowBytes == nil {
				// Deleted since this order entry was written; skip it,
				// matching Memory's behavior of leaving stale order
				// entries in place rather than compacting them.
				continue
			}
			var row PendingOp
			if err := cbor.Unmarshal(rowBytes, &row); err != nil {
				return err
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

func (b *Bolt) ListPendingOpRefs(ctx context.Context, docId string) ([]opmodel.OpRef, error) {
	rows, err := b.ListPendingOps(ctx, docId)
	if err != nil {
		return nil, err
	}
	out := make([]opmodel.OpRef, len(rows))
	for i, row := range rows {
		out[i] = row.OpRef
	}
	return out, nil
}

func (b *Bolt) StorePendingOps(_ context.Context, docId string, rows []PendingOp) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		pendingB := tx.Bucket(boltPendingBucket)
		orderB := tx.Bucket(boltPendingOrderBucket)
		for _, row := range rows {
			key := docKey(docId, row.OpRef)
			isNew := pendingB.Get(key) == nil
			encoded, err := cbor.Marshal(row)
			if err != nil {
				return err
			}
			if err := pendingB.Put(key, encoded); err != nil {
				return err
			}
			if isNew {
				seq, err := orderB.NextSequence()
				if err != nil {
					return err
				}
				orderKey := append(append([]byte(docId), 0), encodeSeq(seq)...)
				if err := orderB.Put(orderKey, row.OpRef[:]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (b *Bolt) DeletePendingOps(_ context.Context, docId string, refs []opmodel.OpRef) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		pendingB := tx.Bucket(boltPendingBucket)
		for _, ref := range refs {
			if err := pendingB.Delete(docKey(docId, ref)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) GetOpAuth(_ context.Context, docId string, ref opmodel.OpRef) (OpAuth, bool, error) {
	var auth OpAuth
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltAuthBucket).Get(docKey(docId, ref))
		if v == nil {
			return nil
		}
		if err := cbor.Unmarshal(v, &auth); err != nil {
			return err
		}
		found = true
		return nil
	})
	return auth, found, err
}

func (b *Bolt) PutOpAuth(_ context.Context, docId string, ref opmodel.OpRef, auth OpAuth) error {
	encoded, err := cbor.Marshal(auth)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltAuthBucket).Put(docKey(docId, ref), encoded)
	})
}

// TreeContextFor returns a scope.TreeContext reading docId's parent links
// from boltParentsBucket, as recorded by ApplyOps.
func (b *Bolt) TreeContextFor(docId string) scope.TreeContext {
	return boltTreeContext{b: b, docId: docId}
}

type boltTreeContext struct {
	b     *Bolt
	docId string
}

func (tc boltTreeContext) Parent(_ context.Context, node opmodel.NodeId) (opmodel.NodeId, bool, error) {
	if node == (opmodel.NodeId{}) {
		return opmodel.NodeId{}, false, nil
	}

	var parent opmodel.NodeId
	found := false
	err := tc.b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltParentsBucket).Get(docKey(tc.docId, node))
		if v == nil {
			return nil
		}
		copy(parent[:], v)
		found = true
		return nil
	})
	if err != nil {
		return opmodel.NodeId{}, false, err
	}
	if !found {
		return opmodel.NodeId{}, false, scope.ErrAncestryUnavailable
	}
	return parent, true, nil
}

func encodeLamport(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeLamport(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

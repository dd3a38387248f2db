package keystore

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var blobsBucket = []byte("keystore.blobs")

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the store's time source; tests use this to make
// init-lock TTL expiry deterministic.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Store seals and persists authsync's local secrets in a bbolt database
// under a single device wrap key, keyed by (doc_id, kind, replica_label?)
// per spec.md §4.8. It is the one on-disk store in the module backed by
// go.etcd.io/bbolt rather than the Backend interface, since these blobs
// exist independently of (and before) any document's sync state.
type Store struct {
	db      *bolt.DB
	wrapKey [32]byte
	now     func() time.Time
}

// Open wraps an already-opened bbolt database with a device wrap key.
// Callers own the *bolt.DB's lifecycle (including Close).
func Open(db *bolt.DB, wrapKey [32]byte, opts ...Option) (*Store, error) {
	o := options{now: time.Now}
	for _, f := range opts {
		f(&o)
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		if err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(initLocksBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: initializing buckets: %w", err)
	}
	return &Store{db: db, wrapKey: wrapKey, now: o.now}, nil
}

// blobKey derives the bbolt key for a (docId, kind, replicaLabel) blob.
// replicaLabel is empty for document-scoped (not replica-scoped) blobs.
func blobKey(docId, kind, replicaLabel string) []byte {
	return []byte(docId + "\x00" + kind + "\x00" + replicaLabel)
}

// putSealed seals value (CBOR-encoded) under purpose/docId and stores it,
// overwriting any existing blob at the same key.
func (s *Store) putSealed(docId, kind, replicaLabel, purpose string, value any) error {
	plaintext, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("keystore: encoding blob: %w", err)
	}
	blob, err := seal(s.wrapKey, aadFor(purpose, docId), plaintext)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Put(blobKey(docId, kind, replicaLabel), blob)
	})
}

// getSealed loads and opens the blob at (docId, kind, replicaLabel),
// decoding it into out. A legacy plaintext blob is transparently migrated
// (re-sealed in place, original bytes discarded) before returning.
func (s *Store) getSealed(docId, kind, replicaLabel, purpose string, out any) error {
	key := blobKey(docId, kind, replicaLabel)

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return err
	}

	plaintext, legacy, err := open(s.wrapKey, aadFor(purpose, docId), raw)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("keystore: decoding blob: %w", err)
	}

	if legacy {
		if err := s.putSealed(docId, kind, replicaLabel, purpose, out); err != nil {
			return fmt.Errorf("keystore: migrating legacy blob: %w", err)
		}
	}
	return nil
}

// putLegacyPlaintext seeds a blob in the pre-sealing, unencrypted format.
// Only used by tests exercising the migration path.
func (s *Store) putLegacyPlaintext(docId, kind, replicaLabel string, value any) error {
	plaintext, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	blob := append([]byte{blobVersionLegacyPlaintext}, plaintext...)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Put(blobKey(docId, kind, replicaLabel), blob)
	})
}

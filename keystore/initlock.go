package keystore

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var initLocksBucket = []byte("keystore.initlocks")

// InitLockTTL bounds how long a cross-process initialization lock is
// honored before a new owner may steal it, guarding against a crashed
// owner wedging key generation forever (spec.md §4.8).
const InitLockTTL = 10 * time.Second

type initLockRecord struct {
	Owner     string `cbor:"owner"`
	ExpiresAt int64  `cbor:"expires_at_ms"`
}

// TryAcquireInitLock attempts to take the named initialization lock (e.g.
// "doc-1/issuer-key-v1") for owner, succeeding if no lock is held or the
// held lock has expired. It reports whether the lock was acquired.
func (s *Store) TryAcquireInitLock(name, owner string) (bool, error) {
	now := s.now()
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(initLocksBucket)
		existing := b.Get([]byte(name))
		if existing != nil {
			var rec initLockRecord
			if err := cbor.Unmarshal(existing, &rec); err != nil {
				return fmt.Errorf("keystore: decoding init lock: %w", err)
			}
			if rec.Owner != owner && now.UnixMilli() < rec.ExpiresAt {
				return nil
			}
		}
		rec := initLockRecord{Owner: owner, ExpiresAt: now.Add(InitLockTTL).UnixMilli()}
		data, err := cbor.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(name), data); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseInitLock drops the named lock if owner currently holds it.
func (s *Store) ReleaseInitLock(name, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(initLocksBucket)
		existing := b.Get([]byte(name))
		if existing == nil {
			return nil
		}
		var rec initLockRecord
		if err := cbor.Unmarshal(existing, &rec); err != nil {
			return fmt.Errorf("keystore: decoding init lock: %w", err)
		}
		if rec.Owner != owner {
			return nil
		}
		return b.Delete([]byte(name))
	})
}

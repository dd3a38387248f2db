// Package keystore seals every local secret authsync needs to keep at
// rest — issuer keys, replica identities, payload keys, identity-chain
// certificates — under a single per-installation device wrap key
// (spec.md §4.8).
package keystore

import "errors"

var (
	// ErrNotFound is returned when no blob exists under the requested key.
	ErrNotFound = errors.New("keystore: blob not found")
	// ErrAADMismatch is returned when a sealed blob fails to open under
	// the AAD its caller expects — most often a doc-id confusion, where a
	// blob sealed for one document is presented under another's key.
	ErrAADMismatch = errors.New("keystore: blob does not match the expected document/purpose")
	// ErrMalformedBlob is returned when a stored blob is too short or
	// carries an unrecognized version tag.
	ErrMalformedBlob = errors.New("keystore: malformed sealed blob")
	// ErrLocked is returned when TryAcquireInitLock cannot obtain the
	// cross-process initialization lock because another owner holds an
	// unexpired one.
	ErrLocked = errors.New("keystore: initialization lock held by another owner")
	// ErrIdentityChainMismatch is returned when a certificate in an
	// identity chain does not bind the public key it is being checked
	// against.
	ErrIdentityChainMismatch = errors.New("keystore: identity chain certificate does not bind the expected key")
)

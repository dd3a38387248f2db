package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// blobVersionSealed is the version tag for an AES-256-GCM sealed blob.
// blobVersionLegacyPlaintext marks a blob written by a version of this
// store that predates sealing: its payload follows the version byte
// unencrypted, and it is migrated (re-sealed, then deleted) the first time
// it is read (spec.md §4.8, "legacy plaintext blobs... are auto-migrated
// once").
const (
	blobVersionSealed          byte = 1
	blobVersionLegacyPlaintext byte = 0
	nonceSize                       = 12
)

// seal encrypts plaintext under wrapKey with aad bound to the ciphertext,
// returning version || nonce || ciphertext+tag.
func seal(wrapKey [32]byte, aad, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(wrapKey[:])
	if err != nil {
		return nil, fmt.Errorf("keystore: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: building gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: generating nonce: %w", err)
	}

	out := make([]byte, 0, 1+nonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, blobVersionSealed)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, aad)
	return out, nil
}

// open decrypts a sealed blob under wrapKey, verifying aad. A legacy
// plaintext blob is returned as-is with legacy=true so the caller can
// migrate it.
func open(wrapKey [32]byte, aad, blob []byte) (plaintext []byte, legacy bool, err error) {
	if len(blob) < 1 {
		return nil, false, ErrMalformedBlob
	}
	switch blob[0] {
	case blobVersionLegacyPlaintext:
		return blob[1:], true, nil
	case blobVersionSealed:
	default:
		return nil, false, fmt.Errorf("%w: unrecognized version %d", ErrMalformedBlob, blob[0])
	}
	if len(blob) < 1+nonceSize {
		return nil, false, ErrMalformedBlob
	}

	block, err := aes.NewCipher(wrapKey[:])
	if err != nil {
		return nil, false, fmt.Errorf("keystore: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false, fmt.Errorf("keystore: building gcm: %w", err)
	}

	nonce := blob[1 : 1+nonceSize]
	ciphertext := blob[1+nonceSize:]
	plaintext, err = gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrAADMismatch, err)
	}
	return plaintext, false, nil
}

// aadFor composes the version-tagged AAD binding a blob to the document
// and purpose it was sealed for, so a blob cannot be silently presented
// under a different document's key (spec.md §4.8).
func aadFor(purpose, docId string) []byte {
	return []byte("treecrdt/keystore/v1" + "\x00" + purpose + "\x00" + docId)
}

// Package keyid derives the short, stable 16-byte identifiers used
// throughout authsync to name public keys and capability tokens without
// exchanging their full bytes: KeyId = key_id(pub) and TokenId =
// token_id(envelope).
package keyid

import "github.com/zeebo/blake3"

// Size is the length, in bytes, of a derived KeyId or TokenId.
const Size = 16

const (
	keyIDDomain   = "treecrdt/keyid/v1"
	tokenIDDomain = "treecrdt/tokenid/v1"
)

// KeyId derives the 16-byte key id for an Ed25519 public key:
// BLAKE3("treecrdt/keyid/v1" || pub)[0:16].
func KeyId(pub []byte) [Size]byte {
	return derive(keyIDDomain, pub)
}

// TokenId derives the 16-byte token id for an encoded capability token or
// revocation record envelope: BLAKE3("treecrdt/tokenid/v1" || envelope)[0:16].
func TokenId(envelope []byte) [Size]byte {
	return derive(tokenIDDomain, envelope)
}

func derive(domain string, data []byte) [Size]byte {
	h := blake3.New()
	_, _ = h.Write([]byte(domain))
	_, _ = h.Write(data)

	var out [Size]byte
	sum := h.Sum(nil)
	copy(out[:], sum[:Size])
	return out
}

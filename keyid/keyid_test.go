package keyid

import "testing"

func TestKeyIdDeterministic(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}
	a := KeyId(pub)
	b := KeyId(pub)
	if a != b {
		t.Fatalf("KeyId not deterministic: %x != %x", a, b)
	}
}

func TestKeyIdDiffersFromTokenId(t *testing.T) {
	data := []byte("same-bytes-different-domain")
	k := KeyId(data)
	tk := TokenId(data)
	if k == tk {
		t.Fatalf("KeyId and TokenId must not collide for the same input bytes")
	}
}

func TestTokenIdSensitiveToEnvelope(t *testing.T) {
	a := TokenId([]byte("envelope-a"))
	b := TokenId([]byte("envelope-b"))
	if a == b {
		t.Fatalf("distinct envelopes must not produce the same token id")
	}
}

package invite

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	issuerPk, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, subjectSk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	token := []byte("fake-cose-envelope")
	var payloadKey [32]byte
	payloadKey[0] = 0x42

	p := New("doc-1", issuerPk, subjectSk, token, &payloadKey)
	enc, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, "doc-1", got.DocId)

	gotIssuerPk, err := got.IssuerPublicKey()
	require.NoError(t, err)
	require.Equal(t, issuerPk, gotIssuerPk)

	gotSubjectSk, err := got.SubjectPrivateKey()
	require.NoError(t, err)
	require.Equal(t, subjectSk, gotSubjectSk)

	gotToken, err := got.Token()
	require.NoError(t, err)
	require.Equal(t, token, gotToken)

	gotKey, ok, err := got.PayloadKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payloadKey, gotKey)
}

func TestPayloadWithoutPayloadKey(t *testing.T) {
	issuerPk, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, subjectSk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	p := New("doc-1", issuerPk, subjectSk, []byte("tok"), nil)
	enc, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(enc)
	require.NoError(t, err)
	_, ok, err := got.PayloadKey()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	p := Payload{V: 2, T: payloadType, DocId: "doc-1"}
	enc, err := Encode(p)
	require.NoError(t, err)

	_, err = Decode(enc)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	p := Payload{V: Version, T: "something_else", DocId: "doc-1"}
	enc, err := Encode(p)
	require.NoError(t, err)

	_, err = Decode(enc)
	require.ErrorIs(t, err, ErrWrongType)
}

func TestAuthGrantRoundTrip(t *testing.T) {
	toPk, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuerPk, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	supersedes := [][16]byte{{0x01}, {0x02}}
	var payloadKey [32]byte
	payloadKey[1] = 0x7

	g := NewAuthGrant("doc-1", toPk, issuerPk, []byte("tok"), supersedes, &payloadKey, "peer-a", 1700000000)
	b, err := EncodeAuthGrant(g)
	require.NoError(t, err)

	got, err := DecodeAuthGrant(b)
	require.NoError(t, err)
	require.Equal(t, "doc-1", got.DocId)
	require.Equal(t, "peer-a", got.FromPeerId)
	require.Equal(t, int64(1700000000), got.Ts)

	gotToPk, err := got.ToReplicaPublicKey()
	require.NoError(t, err)
	require.Equal(t, toPk, gotToPk)

	gotSupersedes, err := got.SupersedesTokenIds()
	require.NoError(t, err)
	require.Equal(t, supersedes, gotSupersedes)

	gotKey, ok, err := got.PayloadKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payloadKey, gotKey)
}

func TestDecodeAuthGrantRejectsWrongType(t *testing.T) {
	g := AuthGrant{T: "not_a_grant", DocId: "doc-1"}
	b, err := EncodeAuthGrant(g)
	require.NoError(t, err)

	_, err = DecodeAuthGrant(b)
	require.ErrorIs(t, err, ErrWrongType)
}

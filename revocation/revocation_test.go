package revocation

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treecrdt/authsync/opmodel"
)

func TestIssueParseRoundtrip(t *testing.T) {
	pub, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tokenId := [16]byte{1, 2, 3}
	envelope, err := Issue(sk, "doc-1", tokenId, ModeHard, 1)
	require.NoError(t, err)

	record, err := Parse(envelope, []ed25519.PublicKey{pub})
	require.NoError(t, err)
	require.Equal(t, tokenId, record.TokenId)
	require.Equal(t, ModeHard, record.Mode)
}

func TestWriteCutoverRequiresEffectiveFromCounter(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = Issue(sk, "doc-1", [16]byte{1}, ModeWriteCutover, 1)
	require.ErrorIs(t, err, ErrMissingCutover)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	envelope, err := Issue(sk, "doc-1", [16]byte{1}, ModeHard, 1)
	require.NoError(t, err)

	_, err = Parse(envelope, []ed25519.PublicKey{otherPub})
	require.ErrorIs(t, err, ErrUnverified)
}

func TestTableKeepsHighestRevSeq(t *testing.T) {
	tbl := NewTable()
	tokenId := [16]byte{9}

	low := Record{V: 1, T: recordType, TokenId: tokenId, Mode: ModeHard, RevSeq: 1}
	high := Record{V: 1, T: recordType, TokenId: tokenId, Mode: ModeHard, RevSeq: 5}

	require.True(t, tbl.Add(low, []byte("a")))
	require.True(t, tbl.Add(high, []byte("b")))
	require.False(t, tbl.Add(low, []byte("a"))) // stale update does not win

	got, ok := tbl.Get(tokenId)
	require.True(t, ok)
	require.Equal(t, uint32(5), got.RevSeq)
}

func TestTableTieBreaksByEnvelopeBytes(t *testing.T) {
	tokenId := [16]byte{9}
	a := Record{V: 1, T: recordType, TokenId: tokenId, Mode: ModeHard, RevSeq: 3}
	b := Record{V: 1, T: recordType, TokenId: tokenId, Mode: ModeHard, RevSeq: 3}

	// Regardless of insertion order, the lexicographically greater
	// envelope should win.
	t1 := NewTable()
	t1.Add(a, []byte("aaa"))
	t1.Add(b, []byte("zzz"))

	t2 := NewTable()
	t2.Add(b, []byte("zzz"))
	t2.Add(a, []byte("aaa"))

	e1, _ := t1.entries[tokenId]
	e2, _ := t2.entries[tokenId]
	require.Equal(t, e1.envelope, e2.envelope)
	require.Equal(t, []byte("zzz"), e1.envelope)
}

func TestIsRevokedHardAppliesToAllStagesAndOps(t *testing.T) {
	tbl := NewTable()
	tokenId := [16]byte{1}
	tbl.Add(Record{V: 1, T: recordType, TokenId: tokenId, Mode: ModeHard, RevSeq: 1}, []byte("x"))

	require.True(t, tbl.IsRevoked(tokenId, StageParse, nil))
	require.True(t, tbl.IsRevoked(tokenId, StageRuntime, &OpContext{Counter: 1}))
}

func TestIsRevokedWriteCutoverFalseAtParseStage(t *testing.T) {
	tbl := NewTable()
	tokenId := [16]byte{1}
	counter := uint64(5)
	tbl.Add(Record{V: 1, T: recordType, TokenId: tokenId, Mode: ModeWriteCutover, RevSeq: 1, EffectiveFromCounter: &counter}, []byte("x"))

	require.False(t, tbl.IsRevoked(tokenId, StageParse, nil))
}

func TestIsRevokedWriteCutoverThreshold(t *testing.T) {
	tbl := NewTable()
	tokenId := [16]byte{1}
	writer := opmodel.ReplicaId{7}
	counter := uint64(2)
	tbl.Add(Record{
		V: 1, T: recordType, TokenId: tokenId, Mode: ModeWriteCutover, RevSeq: 1,
		EffectiveFromCounter: &counter, EffectiveFromReplica: &writer,
	}, []byte("x"))

	require.False(t, tbl.IsRevoked(tokenId, StageRuntime, &OpContext{Replica: writer, Counter: 1}))
	require.True(t, tbl.IsRevoked(tokenId, StageRuntime, &OpContext{Replica: writer, Counter: 2}))
	require.False(t, tbl.IsRevoked(tokenId, StageRuntime, &OpContext{Replica: opmodel.ReplicaId{8}, Counter: 9}))
}

package cose

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	pub, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	envelope, err := Sign([]byte("hello world"), sk, nil)
	require.NoError(t, err)

	msg, err := Parse(envelope)
	require.NoError(t, err)
	require.NoError(t, msg.Verify(pub))
	require.Equal(t, []byte("hello world"), []byte(msg.Payload))
}

func TestVerifyFailsUnderWrongKey(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	envelope, err := Sign([]byte("payload"), sk, nil)
	require.NoError(t, err)

	msg, err := Parse(envelope)
	require.NoError(t, err)
	require.Error(t, msg.Verify(otherPub))
}

func TestDelegationProofRoundtrip(t *testing.T) {
	_, proofSK, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	proofEnvelope, err := Sign([]byte("proof"), proofSK, nil)
	require.NoError(t, err)

	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	envelope, err := Sign([]byte("delegated"), sk, proofEnvelope)
	require.NoError(t, err)

	msg, err := Parse(envelope)
	require.NoError(t, err)

	got, ok, err := msg.DelegationProof()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, proofEnvelope, got)
}

func TestDelegationProofAbsent(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	envelope, err := Sign([]byte("no delegation"), sk, nil)
	require.NoError(t, err)

	msg, err := Parse(envelope)
	require.NoError(t, err)
	_, ok, err := msg.DelegationProof()
	require.NoError(t, err)
	require.False(t, ok)
}

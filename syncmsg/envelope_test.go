package syncmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treecrdt/authsync/opmodel"
)

func TestEnvelopeHelloRoundtrip(t *testing.T) {
	e := NewHello("doc-1", Hello{
		Capabilities: []Capability{{Name: CapabilityToken, Value: "ZZZ"}},
		Filters:      []NamedFilter{{Id: "f_1", Filter: AllFilter()}},
		MaxLamport:   42,
	})

	b, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, "doc-1", got.DocId)

	hello, err := got.AsHello()
	require.NoError(t, err)
	require.Equal(t, uint64(42), hello.MaxLamport)
	require.Len(t, hello.Filters, 1)
	require.Equal(t, FilterAll, hello.Filters[0].Filter.Kind)
}

func TestEnvelopeWrongAccessorMismatches(t *testing.T) {
	e := NewHello("doc-1", Hello{MaxLamport: 1})
	_, err := e.AsOpsBatch()
	require.ErrorIs(t, err, ErrPayloadKindMismatch)
}

func TestEnvelopeRejectsUnsupportedVersion(t *testing.T) {
	e := NewHello("doc-1", Hello{MaxLamport: 1})
	e.V = 7
	b, err := Encode(e)
	require.NoError(t, err)

	_, err = Decode(b)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestEnvelopeOpsBatchRoundtrip(t *testing.T) {
	proofRef := [16]byte{9}
	e := NewOpsBatch("doc-1", OpsBatch{
		FilterId: "f_1",
		Ops:      [][]byte{{1, 2, 3}},
		Auth:     []OpAuth{{Sig: [64]byte{1}, ProofRef: &proofRef}},
		Done:     true,
	})

	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)

	batch, err := got.AsOpsBatch()
	require.NoError(t, err)
	require.True(t, batch.Done)
	require.Len(t, batch.Ops, 1)
	require.Equal(t, proofRef, *batch.Auth[0].ProofRef)
}

func TestFilterValidateRejectsUnspecified(t *testing.T) {
	require.ErrorIs(t, Filter{}.Validate(), ErrUnspecifiedFilter)
	require.NoError(t, AllFilter().Validate())
	require.NoError(t, ChildrenFilter(opmodel.NodeId{1}).Validate())
}

func TestRibltStatusDecodedRoundtrip(t *testing.T) {
	e := NewRibltStatus("doc-1", RibltStatus{
		FilterId:          "f_1",
		Round:             2,
		Kind:              RibltStatusDecoded,
		SenderMissing:     [][16]byte{{1}},
		ReceiverMissing:   [][16]byte{{2}, {3}},
		CodewordsReceived: 17,
	})
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	status, err := got.AsRibltStatus()
	require.NoError(t, err)
	require.Equal(t, RibltStatusDecoded, status.Kind)
	require.Len(t, status.ReceiverMissing, 2)
}

func TestErrorRoundtrip(t *testing.T) {
	e := NewError("doc-1", Error{Code: ErrorCodeTooManyFilters, Message: "too many", FilterId: "f_9"})
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	errMsg, err := got.AsError()
	require.NoError(t, err)
	require.Equal(t, ErrorCodeTooManyFilters, errMsg.Code)
	require.Equal(t, "f_9", errMsg.FilterId)
}

package riblt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sym(b byte) Symbol {
	var s Symbol
	s[0] = b
	return s
}

func TestReconcileSetsViaCodewordStream(t *testing.T) {
	common := []Symbol{sym(1), sym(2), sym(3)}
	senderOnly := []Symbol{sym(10), sym(11)}
	receiverOnly := []Symbol{sym(20), sym(21), sym(22)}

	sender := New()
	for _, s := range common {
		sender.AddLocalSymbol(s)
	}
	for _, s := range senderOnly {
		sender.AddLocalSymbol(s)
	}

	receiver := New()
	for _, s := range common {
		receiver.AddLocalSymbol(s)
	}
	for _, s := range receiverOnly {
		receiver.AddLocalSymbol(s)
	}

	decoded := false
	const maxCodewords = 500
	for i := 0; i < maxCodewords; i++ {
		cw := sender.NextCodeword()
		require.NoError(t, receiver.AddCodeword(uint64(i), cw))
		if receiver.TryDecode() {
			decoded = true
			break
		}
	}
	require.True(t, decoded, "reconciliation did not converge within the codeword budget")

	require.ElementsMatch(t, senderOnly, receiver.LocalMissing())
	require.ElementsMatch(t, receiverOnly, receiver.RemoteMissing())
}

func TestReconcileIdenticalSetsNeedsNoMissing(t *testing.T) {
	common := []Symbol{sym(1), sym(2), sym(3), sym(4)}

	sender := New()
	receiver := New()
	for _, s := range common {
		sender.AddLocalSymbol(s)
		receiver.AddLocalSymbol(s)
	}

	for i := 0; i < 10; i++ {
		cw := sender.NextCodeword()
		require.NoError(t, receiver.AddCodeword(uint64(i), cw))
		if receiver.TryDecode() {
			break
		}
	}

	require.Empty(t, receiver.LocalMissing())
	require.Empty(t, receiver.RemoteMissing())
}

func TestAddCodewordRejectsOutOfOrder(t *testing.T) {
	sender := New()
	sender.AddLocalSymbol(sym(1))
	cw0 := sender.NextCodeword()

	receiver := New()
	err := receiver.AddCodeword(1, cw0)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestCellCountTracksCodewordsProduced(t *testing.T) {
	c := New()
	c.AddLocalSymbol(sym(1))
	require.Equal(t, 0, c.CellCount())
	c.NextCodeword()
	c.NextCodeword()
	require.Equal(t, 2, c.CellCount())
}

func TestCodedSymbolCancelsOnMatchingPairs(t *testing.T) {
	var c CodedSymbol
	c.addLocal(sym(5))
	c.addRemote(sym(5))
	require.Equal(t, int64(0), c.Count)
	require.Equal(t, Symbol{}, c.Sum)
	require.False(t, c.isPure())
}

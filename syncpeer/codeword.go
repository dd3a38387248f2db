package syncpeer

import (
	"github.com/treecrdt/authsync/cborcodec"
	"github.com/treecrdt/authsync/riblt"
)

// codedSymbolWire is the plain-CBOR mirror of riblt.CodedSymbol used as
// the opaque codeword payload RibltCodewords carries (spec.md §6:
// "codewords: [opaque codeword]").
type codedSymbolWire struct {
	Sum      riblt.Symbol `cbor:"sum"`
	Checksum uint64       `cbor:"checksum"`
	Count    int64        `cbor:"count"`
}

func encodeCodedSymbol(cw riblt.CodedSymbol) ([]byte, error) {
	return cborcodec.Default.Marshal(codedSymbolWire{Sum: cw.Sum, Checksum: cw.Checksum, Count: cw.Count})
}

func decodeCodedSymbol(b []byte) (riblt.CodedSymbol, error) {
	var w codedSymbolWire
	if err := cborcodec.Default.Unmarshal(b, &w); err != nil {
		return riblt.CodedSymbol{}, err
	}
	return riblt.CodedSymbol{Sum: w.Sum, Checksum: w.Checksum, Count: w.Count}, nil
}

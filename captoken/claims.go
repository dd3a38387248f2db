// Package captoken implements the capability-token model: issuance,
// delegation, parsing, verification, and the friendly description view
// used by callers that just want to know what a token grants
// (spec.md §4.2).
package captoken

import (
	"github.com/treecrdt/authsync/opmodel"
)

// RootNodeId is the document-root sentinel: 16 zero bytes. A resource
// scoped to RootNodeId with no max_depth and no exclusions is doc-wide.
var RootNodeId = opmodel.NodeId{}

// Cnf is the COSE "cnf" (claim 8) confirmation method: the subject key this
// token is bound to.
type Cnf struct {
	Pub [32]byte `cbor:"pub"`
	Kid [16]byte `cbor:"kid"`
}

// Resource names a scoped subtree of a document a capability applies to.
type Resource struct {
	DocId    string           `cbor:"doc_id"`
	Root     opmodel.NodeId   `cbor:"root"`
	MaxDepth *uint32          `cbor:"max_depth,omitempty"`
	Exclude  []opmodel.NodeId `cbor:"exclude,omitempty"`
}

// Cap is a single {resource, actions} grant.
type Cap struct {
	Res     Resource         `cbor:"res"`
	Actions []opmodel.Action `cbor:"actions"`
}

// Claims is the CBOR map signed (as a COSE_Sign1 payload) to form a
// capability token.
type Claims struct {
	Aud  string   `cbor:"3,keyasint"`
	Cnf  Cnf      `cbor:"8,keyasint"`
	Caps []Cap    `cbor:"-1,keyasint"`
	Exp  *uint64  `cbor:"4,keyasint,omitempty"`
	Nbf  *uint64  `cbor:"5,keyasint,omitempty"`
}

package captoken

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"

	"github.com/treecrdt/authsync/opmodel"
)

// DescribedResource is the friendly, hex-rendered projection of a Resource.
type DescribedResource struct {
	DocId         string   `json:"doc_id"`
	RootNodeId    string   `json:"root_node_id"`
	MaxDepth      *uint32  `json:"max_depth,omitempty"`
	ExcludeNodeIds []string `json:"exclude_node_ids,omitempty"`
}

// DescribedCap is the friendly projection of a Cap.
type DescribedCap struct {
	Actions []opmodel.Action  `json:"actions"`
	Res     DescribedResource `json:"res"`
}

// DescribeCapabilityToken verifies tokenBytes exactly as ParseAndVerify
// does, then projects its caps into the plain, hex-rendered form callers
// that just want to display or log a grant expect (spec.md §4.2).
func DescribeCapabilityToken(ctx context.Context, tokenBytes []byte, issuers []ed25519.PublicKey, docId string, now uint64, opts ...VerifyOption) ([]DescribedCap, error) {
	grant, err := ParseAndVerify(ctx, tokenBytes, issuers, docId, now, opts...)
	if err != nil {
		return nil, err
	}
	if len(grant.Claims.Caps) == 0 {
		return nil, ErrNoCaps
	}

	out := make([]DescribedCap, 0, len(grant.Claims.Caps))
	for _, cap := range grant.Claims.Caps {
		exclude := make([]string, 0, len(cap.Res.Exclude))
		for _, n := range cap.Res.Exclude {
			exclude = append(exclude, hex.EncodeToString(n[:]))
		}
		out = append(out, DescribedCap{
			Actions: cap.Actions,
			Res: DescribedResource{
				DocId:          cap.Res.DocId,
				RootNodeId:     hex.EncodeToString(cap.Res.Root[:]),
				MaxDepth:       cap.Res.MaxDepth,
				ExcludeNodeIds: exclude,
			},
		})
	}
	return out, nil
}

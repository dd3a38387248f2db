package syncauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/treecrdt/authsync/captoken"
	"github.com/treecrdt/authsync/cborcodec"
	"github.com/treecrdt/authsync/revocation"
	"github.com/treecrdt/authsync/syncmsg"
)

// HelloCapabilities returns the capability entries this replica advertises
// in a Hello or HelloAck: one auth.capability entry per local token, one
// auth.revocation entry per record this document's revocation table
// holds, and an optional identity-chain entry (spec.md §4.5, §6).
func (a *SyncAuth) HelloCapabilities(_ context.Context) ([]syncmsg.Capability, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var caps []syncmsg.Capability
	for _, tok := range a.localTokens {
		caps = append(caps, syncmsg.Capability{
			Name:  syncmsg.CapabilityToken,
			Value: base64.RawURLEncoding.EncodeToString(tok),
		})
	}

	if a.opts.revocationTable != nil {
		for _, rec := range a.opts.revocationTable.Records() {
			caps = append(caps, syncmsg.Capability{
				Name:  syncmsg.CapabilityRevocation,
				Value: base64.RawURLEncoding.EncodeToString(rec.Envelope),
			})
		}
	}

	if a.opts.identityChain != nil {
		b, err := cborcodec.Default.Marshal(*a.opts.identityChain)
		if err != nil {
			return nil, fmt.Errorf("syncauth: encoding identity chain: %w", err)
		}
		caps = append(caps, syncmsg.Capability{
			Name:  syncmsg.CapabilityIdentityChain,
			Value: base64.RawURLEncoding.EncodeToString(b),
		})
	}

	return caps, nil
}

// OnHello parses and records every capability a peer's Hello advertised.
func (a *SyncAuth) OnHello(ctx context.Context, hello syncmsg.Hello) error {
	return a.recordCapabilities(ctx, hello.Capabilities)
}

// OnHelloAck parses and records every capability a peer's HelloAck
// advertised.
func (a *SyncAuth) OnHelloAck(ctx context.Context, ack syncmsg.HelloAck) error {
	return a.recordCapabilities(ctx, ack.Capabilities)
}

// HasPeerCapabilities reports whether this session has ever recorded any
// auth.capability entry from the peer — the responder's test for whether
// a Hello should be treated as unauthenticated (spec.md §4.6).
func (a *SyncAuth) HasPeerCapabilities() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.grantsByTokenId) > 0
}

func (a *SyncAuth) recordCapabilities(ctx context.Context, caps []syncmsg.Capability) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range caps {
		switch c.Name {
		case syncmsg.CapabilityToken:
			if err := a.recordTokenLocked(ctx, c.Value); err != nil {
				if errors.Is(err, ErrUnauthorized) {
					return err
				}
				// Any other parse/verify failure means the advertised
				// token is not meaningful to us (wrong audience, unknown
				// issuer, expired); skip it rather than failing the
				// whole Hello.
				continue
			}
		case syncmsg.CapabilityRevocation:
			a.recordRevocationLocked(c.Value)
		case syncmsg.CapabilityIdentityChain:
			// Recorded for later proof-of-authorization use by a caller
			// that wants to validate the peer's identity chain; this
			// package does not itself gate on it.
		}
	}
	return nil
}

func (a *SyncAuth) recordTokenLocked(ctx context.Context, b64 string) error {
	envelope, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("syncauth: decoding advertised token: %w", err)
	}

	grant, err := captoken.ParseAndVerify(ctx, envelope, a.issuers, a.docId, a.opts.now(), a.verifyOpts()...)
	if err != nil {
		if errors.Is(err, captoken.ErrRevoked) {
			return ErrUnauthorized
		}
		return err
	}

	rg := recordedGrant{grant: grant, envelope: envelope}
	a.grantsByTokenId[grant.TokenId] = rg
	a.grantsByKeyId[grant.Claims.Cnf.Kid] = append(a.grantsByKeyId[grant.Claims.Cnf.Kid], rg)
	return nil
}

func (a *SyncAuth) recordRevocationLocked(b64 string) {
	if a.opts.revocationTable == nil {
		return
	}
	envelope, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return
	}
	record, err := revocation.Parse(envelope, a.issuers)
	if err != nil {
		return
	}
	a.opts.revocationTable.Add(record, envelope)
}

package syncauth

import (
	"github.com/treecrdt/authsync/backend"
	"github.com/treecrdt/authsync/keystore"
	"github.com/treecrdt/authsync/revocation"
	"github.com/treecrdt/authsync/scope"
)

// Option configures a SyncAuth at construction time, following the
// functional-options shape used throughout this module (captoken.IssueOption,
// keystore.Option).
type Option func(*options)

type options struct {
	revocationTable *revocation.Table
	opAuthStore     backend.Backend
	treeCtx         scope.TreeContext
	requireProofRef bool
	allowUnsigned   bool
	identityChain   *keystore.IdentityChain
	now             func() uint64
}

// WithRevocationTable supplies the table On_hello/OnHelloAck re-advertise
// and ParseAndVerify/VerifyOps consult.
func WithRevocationTable(t *revocation.Table) Option {
	return func(o *options) { o.revocationTable = t }
}

// WithOpAuthStore supplies the persisted op-auth sidecar SignOps and
// VerifyOps fall back to / write through to, beyond the in-memory cache.
func WithOpAuthStore(b backend.Backend) Option {
	return func(o *options) { o.opAuthStore = b }
}

// WithTreeContext supplies the scope evaluator's ancestor resolver.
func WithTreeContext(tc scope.TreeContext) Option {
	return func(o *options) { o.treeCtx = tc }
}

// WithRequireProofRef makes VerifyOps reject any op whose auth lacks a
// proof_ref matching a known grant, rather than falling back to scanning
// every candidate grant for the replica's key id.
func WithRequireProofRef(v bool) Option {
	return func(o *options) { o.requireProofRef = v }
}

// WithAllowUnsigned lets VerifyOps accept an op with no Sig at all,
// treating it as implicitly denied rather than erroring — intended only
// for bootstrapping a document before any capability token exists.
func WithAllowUnsigned(v bool) Option {
	return func(o *options) { o.allowUnsigned = v }
}

// WithIdentityChain attaches an identity-chain capability to advertise
// alongside local tokens (spec.md §4.5, §6).
func WithIdentityChain(chain keystore.IdentityChain) Option {
	return func(o *options) { o.identityChain = &chain }
}

// WithClock overrides the epoch-seconds clock used for exp/nbf checks,
// for deterministic tests.
func WithClock(now func() uint64) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(opts []Option) options {
	o := options{now: defaultClock}
	for _, f := range opts {
		f(&o)
	}
	return o
}

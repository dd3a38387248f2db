package syncpeer

import "go.uber.org/zap"

// Option configures a Peer at construction time, following the
// functional-options shape used throughout this module (captoken.IssueOption,
// keystore.Option, syncauth.Option).
type Option func(*options)

type options struct {
	codewordsPerMessage int
	maxCodewords        uint64
	maxOpsPerBatch      int
	maxHelloFilters     int
	peerTimeoutMs       int64
	log                 *zap.Logger
}

// WithCodewordsPerMessage bounds how many RIBLT codewords a single
// RibltCodewords message carries (spec.md §4.6, default 512).
func WithCodewordsPerMessage(n int) Option {
	return func(o *options) { o.codewordsPerMessage = n }
}

// WithMaxCodewords bounds how many codewords an initiator will stream for
// one filter session before giving up (spec.md §4.6, default 50,000).
func WithMaxCodewords(n uint64) Option {
	return func(o *options) { o.maxCodewords = n }
}

// WithMaxOpsPerBatch bounds how many ops a single OpsBatch message carries
// (spec.md §4.6, default 5,000).
func WithMaxOpsPerBatch(n int) Option {
	return func(o *options) { o.maxOpsPerBatch = n }
}

// WithMaxHelloFilters bounds how many filters a single Hello may request
// before the responder rejects the excess with TOO_MANY_FILTERS (spec.md
// §4.6, default 8).
func WithMaxHelloFilters(n int) Option {
	return func(o *options) { o.maxHelloFilters = n }
}

// WithPeerTimeout sets how long a presence entry is kept without traffic
// before it is pruned (spec.md §5, default 30s).
func WithPeerTimeout(ms int64) Option {
	return func(o *options) { o.peerTimeoutMs = ms }
}

// WithLogger attaches a structured logger for session lifecycle events
// (Hello accept/reject, RIBLT outcomes, push-pass failures). Defaults to
// zap.NewNop(), so a Peer built without this option stays silent.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func applyOptions(opts []Option) options {
	o := options{
		codewordsPerMessage: 512,
		maxCodewords:        50000,
		maxOpsPerBatch:      5000,
		maxHelloFilters:     8,
		peerTimeoutMs:       30000,
		log:                 zap.NewNop(),
	}
	for _, f := range opts {
		f(&o)
	}
	return o
}

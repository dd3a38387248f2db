package syncpeer

import "errors"

var (
	// ErrFilterRejected is returned by SyncOnce when the responder's
	// HelloAck lists the requested filter among its rejected_filters.
	ErrFilterRejected = errors.New("syncpeer: filter rejected by peer")

	// ErrMaxCodewordsExceeded is returned by SyncOnce when next_index
	// reaches the configured codeword ceiling with no terminal
	// RibltStatus in sight (spec.md §4.6).
	ErrMaxCodewordsExceeded = errors.New("syncpeer: max codewords exceeded")

	// ErrRibltFailed is returned by SyncOnce when the responder reports a
	// failed RibltStatus.
	ErrRibltFailed = errors.New("syncpeer: riblt reconciliation failed")

	// ErrOutOfOrder is the responder-side failure reported back as
	// RibltStatus(failed, OUT_OF_ORDER) when codewords arrive with a
	// start_index that does not match the expected next index.
	ErrOutOfOrder = errors.New("syncpeer: riblt codewords out of order")

	// ErrTooManyFilters is the responder-side failure reported back when a
	// Hello requests more filters than MaxHelloFilters.
	ErrTooManyFilters = errors.New("syncpeer: too many filters in hello")

	// ErrSessionClosed is returned to callers awaiting a filter or
	// subscription session that the transport or context closed before
	// it completed.
	ErrSessionClosed = errors.New("syncpeer: session closed before completion")

	// ErrPeerError wraps an Error message received from the peer that
	// targets this session directly.
	ErrPeerError = errors.New("syncpeer: peer reported an error")
)

package syncpeer

import (
	"context"
	"fmt"
	"sync"

	"github.com/treecrdt/authsync/riblt"
	"github.com/treecrdt/authsync/syncmsg"
	"github.com/treecrdt/authsync/transport"
)

// Session binds a Peer to one Transport connection. A Peer acts as both
// initiator and responder concurrently over the same transport (spec.md
// §4.6); Session.Run owns the single Recv loop that demultiplexes inbound
// envelopes to whichever role they address, so callers never read from tp
// directly.
type Session struct {
	peer *Peer
	tp   transport.Transport

	mu       sync.Mutex
	initSess map[string]*initiatorFilterSession
	respSess map[string]*responderFilterSession
	pushSubs map[string]*pushSubscription
	subAckCh map[string]chan syncmsg.SubscribeAck
	closed   chan struct{}
	closeOne sync.Once

	// pushMu/pushRunning/pushDirty serialize NotifyLocalUpdate: spec.md §5
	// allows at most one subscription push pass in flight at a time. A
	// caller that arrives mid-pass just marks pushDirty and returns; the
	// running pass rechecks it before stopping.
	pushMu      sync.Mutex
	pushRunning bool
	pushDirty   bool
}

// initiatorFilterSession is the state a SyncOnce call owns for one filter
// id: channels fed by Session.Run as matching envelopes arrive.
type initiatorFilterSession struct {
	ackCh      chan syncmsg.HelloAck
	statusCh   chan syncmsg.RibltStatus
	opsBatchCh chan syncmsg.OpsBatch
	errCh      chan error
}

// responderFilterSession is the state a Hello's accepted filter owns while
// its RIBLT decoder is live.
type responderFilterSession struct {
	filterId      string
	expectedIndex uint64
	round         uint64
	decoder       *riblt.Codec
}

// pushSubscription is the responder-side state for one live Subscribe.
type pushSubscription struct {
	id       string
	filter   *syncmsg.Filter
	sentRefs map[[16]byte]bool
}

// NewSession constructs a Session over tp for peer. Callers must run
// Session.Run in its own goroutine before issuing SyncOnce/Subscribe
// calls, since Run owns the transport's single Recv loop.
func NewSession(peer *Peer, tp transport.Transport) *Session {
	return &Session{
		peer:     peer,
		tp:       tp,
		initSess: make(map[string]*initiatorFilterSession),
		respSess: make(map[string]*responderFilterSession),
		pushSubs: make(map[string]*pushSubscription),
		subAckCh: make(map[string]chan syncmsg.SubscribeAck),
		closed:   make(chan struct{}),
	}
}

// Run reads envelopes from tp until ctx is canceled or the transport
// closes, dispatching each to its handler. It returns the terminal error
// (nil on clean shutdown via ctx).
func (s *Session) Run(ctx context.Context) error {
	defer s.closeOne.Do(func() { close(s.closed) })
	for {
		env, err := s.tp.Recv(ctx)
		if err != nil {
			return err
		}
		if env.DocId != s.peer.DocId {
			// spec.md §4.6: any incoming message with a mismatched doc_id
			// is dropped.
			continue
		}
		if err := s.dispatch(ctx, env); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(ctx context.Context, env syncmsg.Envelope) error {
	switch env.Kind {
	case syncmsg.PayloadHello:
		hello, _ := env.AsHello()
		return s.handleHello(ctx, hello)
	case syncmsg.PayloadHelloAck:
		ack, _ := env.AsHelloAck()
		s.routeHelloAck(ack)
		return nil
	case syncmsg.PayloadRibltCodewords:
		cw, _ := env.AsRibltCodewords()
		return s.handleRibltCodewords(ctx, cw)
	case syncmsg.PayloadRibltStatus:
		status, _ := env.AsRibltStatus()
		s.routeRibltStatus(status)
		return nil
	case syncmsg.PayloadOpsBatch:
		batch, _ := env.AsOpsBatch()
		return s.handleOpsBatch(ctx, batch)
	case syncmsg.PayloadSubscribe:
		sub, _ := env.AsSubscribe()
		return s.handleSubscribe(ctx, sub)
	case syncmsg.PayloadSubscribeAck:
		ack, _ := env.AsSubscribeAck()
		s.routeSubscribeAck(ack)
		return nil
	case syncmsg.PayloadUnsubscribe:
		unsub, _ := env.AsUnsubscribe()
		s.mu.Lock()
		delete(s.pushSubs, unsub.SubscriptionId)
		s.mu.Unlock()
		return nil
	case syncmsg.PayloadError:
		perr, _ := env.AsError()
		s.routePeerError(perr)
		return nil
	default:
		return nil
	}
}

func (s *Session) routeHelloAck(ack syncmsg.HelloAck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fid := range ack.AcceptedFilters {
		if sess, ok := s.initSess[fid]; ok {
			select {
			case sess.ackCh <- ack:
			default:
			}
		}
	}
	for _, rf := range ack.RejectedFilters {
		if sess, ok := s.initSess[rf.Id]; ok {
			select {
			case sess.ackCh <- ack:
			default:
			}
		}
	}
}

func (s *Session) routeSubscribeAck(ack syncmsg.SubscribeAck) {
	s.mu.Lock()
	ch, ok := s.subAckCh[ack.SubscriptionId]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (s *Session) routeRibltStatus(status syncmsg.RibltStatus) {
	s.mu.Lock()
	sess, ok := s.initSess[status.FilterId]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sess.statusCh <- status:
	default:
	}
}

func (s *Session) routePeerError(perr syncmsg.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perr.FilterId == "" && perr.SubscriptionId == "" {
		for _, sess := range s.initSess {
			s.rejectInitSession(sess, perr)
		}
		return
	}
	if perr.FilterId != "" {
		if sess, ok := s.initSess[perr.FilterId]; ok {
			s.rejectInitSession(sess, perr)
		}
	}
}

func (s *Session) rejectInitSession(sess *initiatorFilterSession, perr syncmsg.Error) {
	select {
	case sess.errCh <- fmt.Errorf("%w: %s", ErrPeerError, perr.Message):
	default:
	}
}

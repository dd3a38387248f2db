package syncpeer

import (
	"context"
	"fmt"
	"time"

	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/riblt"
	"github.com/treecrdt/authsync/syncmsg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncOnce runs one full initiator-side reconciliation for filter against
// the peer on the other end of this Session's transport (spec.md §4.6).
// Session.Run must already be reading from the same transport in another
// goroutine, since SyncOnce only sends and waits on channels Run feeds.
func (s *Session) SyncOnce(ctx context.Context, filter syncmsg.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}

	filterId := randomId("f_")
	sess := &initiatorFilterSession{
		ackCh:      make(chan syncmsg.HelloAck, 1),
		statusCh:   make(chan syncmsg.RibltStatus, 1),
		opsBatchCh: make(chan syncmsg.OpsBatch, 1),
		errCh:      make(chan error, 1),
	}
	s.mu.Lock()
	s.initSess[filterId] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.initSess, filterId)
		s.mu.Unlock()
	}()

	if err := s.sendHello(ctx, filterId, filter); err != nil {
		return err
	}

	ack, err := s.awaitHelloAck(ctx, sess)
	if err != nil {
		return err
	}
	for _, rf := range ack.RejectedFilters {
		if rf.Id == filterId {
			return fmt.Errorf("%w: %s", ErrFilterRejected, rf.Message)
		}
	}
	if s.peer.Auth != nil {
		if err := s.peer.Auth.OnHelloAck(ctx, ack); err != nil {
			return err
		}
	}

	refs, err := s.localOpRefsForFilter(ctx, filter)
	if err != nil {
		return err
	}

	status, err := s.streamCodewords(ctx, sess, filterId, refs)
	if err != nil {
		return err
	}
	if status.Kind == syncmsg.RibltStatusFailed {
		s.peer.opts.log.Warn("sync_once riblt failed",
			zap.String("filterId", filterId),
			zap.String("reason", status.Reason),
		)
		if status.Message != "" {
			return fmt.Errorf("%w: %s: %s", ErrRibltFailed, status.Reason, status.Message)
		}
		return fmt.Errorf("%w: %s", ErrRibltFailed, status.Reason)
	}
	s.peer.opts.log.Info("sync_once riblt decoded",
		zap.String("filterId", filterId),
		zap.Int("senderMissing", len(status.SenderMissing)),
		zap.Int("receiverMissing", len(status.ReceiverMissing)),
	)

	// The initiator has what the responder is missing (status.ReceiverMissing
	// from the responder's perspective == this replica's own symbols the
	// responder lacks); send them.
	if err := s.sendOpsForRefs(ctx, filterId, status.ReceiverMissing); err != nil {
		return err
	}

	return s.awaitResponderOpsBatches(ctx, sess)
}

func (s *Session) sendHello(ctx context.Context, filterId string, filter syncmsg.Filter) error {
	var caps []syncmsg.Capability
	if s.peer.Auth != nil {
		c, err := s.peer.Auth.HelloCapabilities(ctx)
		if err != nil {
			return err
		}
		caps = c
	}
	maxLamport, err := s.peer.Backend.MaxLamport(ctx, s.peer.DocId)
	if err != nil {
		return err
	}
	hello := syncmsg.Hello{
		Capabilities: caps,
		Filters:      []syncmsg.NamedFilter{{Id: filterId, Filter: filter}},
		MaxLamport:   maxLamport,
	}
	return s.tp.Send(ctx, syncmsg.NewHello(s.peer.DocId, hello))
}

func (s *Session) awaitHelloAck(ctx context.Context, sess *initiatorFilterSession) (syncmsg.HelloAck, error) {
	select {
	case ack := <-sess.ackCh:
		return ack, nil
	case err := <-sess.errCh:
		return syncmsg.HelloAck{}, err
	case <-ctx.Done():
		return syncmsg.HelloAck{}, ctx.Err()
	case <-s.closed:
		return syncmsg.HelloAck{}, ErrSessionClosed
	}
}

// streamCodewords encodes refs into a RIBLT encoder and streams its
// codewords to the peer in chunks, stopping as soon as a RibltStatus
// arrives or the codeword budget is exhausted (spec.md §4.6).
func (s *Session) streamCodewords(ctx context.Context, sess *initiatorFilterSession, filterId string, refs []opmodel.OpRef) (syncmsg.RibltStatus, error) {
	enc := riblt.New()
	for _, ref := range refs {
		enc.AddLocalSymbol(riblt.Symbol(ref))
	}

	sendCtx, cancelSend := context.WithCancel(ctx)
	defer cancelSend()

	// The codeword sender runs as its own errgroup task so its error (a
	// send failure distinct from a normal early-cancel once the status
	// arrives) joins the select below on sendDone rather than being lost
	// in a detached goroutine.
	var g errgroup.Group
	sendDone := make(chan error, 1)
	g.Go(func() error {
		var nextIndex uint64
		var round uint64
		chunkSize := s.peer.opts.codewordsPerMessage
		if chunkSize <= 0 {
			chunkSize = 1
		}
		for nextIndex < s.peer.opts.maxCodewords {
			if sendCtx.Err() != nil {
				return nil
			}
			codewords := make([][]byte, 0, chunkSize)
			for i := 0; i < chunkSize; i++ {
				cw := enc.NextCodeword()
				b, err := encodeCodedSymbol(cw)
				if err != nil {
					return err
				}
				codewords = append(codewords, b)
			}
			msg := syncmsg.RibltCodewords{FilterId: filterId, Round: round, StartIndex: nextIndex, Codewords: codewords}
			if err := s.tp.Send(sendCtx, syncmsg.NewRibltCodewords(s.peer.DocId, msg)); err != nil {
				if sendCtx.Err() != nil {
					return nil
				}
				return err
			}
			nextIndex += uint64(len(codewords))
			round++
		}
		return nil
	})
	go func() { sendDone <- g.Wait() }()

	select {
	case status := <-sess.statusCh:
		return status, nil
	case err := <-sess.errCh:
		return syncmsg.RibltStatus{}, err
	case err := <-sendDone:
		if err != nil {
			return syncmsg.RibltStatus{}, err
		}
		select {
		case status := <-sess.statusCh:
			return status, nil
		case err := <-sess.errCh:
			return syncmsg.RibltStatus{}, err
		case <-time.After(time.Second):
			return syncmsg.RibltStatus{}, ErrMaxCodewordsExceeded
		case <-ctx.Done():
			return syncmsg.RibltStatus{}, ctx.Err()
		}
	case <-ctx.Done():
		return syncmsg.RibltStatus{}, ctx.Err()
	}
}

func (s *Session) awaitResponderOpsBatches(ctx context.Context, sess *initiatorFilterSession) error {
	for {
		select {
		case batch := <-sess.opsBatchCh:
			if batch.Done {
				return nil
			}
		case err := <-sess.errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrSessionClosed
		}
	}
}

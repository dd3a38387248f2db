package syncpeer

import (
	"context"
	"sync"
	"time"

	"github.com/treecrdt/authsync/syncmsg"
	"go.uber.org/zap"
)

// handleSubscribe is the responder side of a push subscription: register it
// and acknowledge with the current max_lamport (spec.md §4.6).
func (s *Session) handleSubscribe(ctx context.Context, sub syncmsg.Subscribe) error {
	s.mu.Lock()
	s.pushSubs[sub.SubscriptionId] = &pushSubscription{
		id:       sub.SubscriptionId,
		filter:   sub.Filter,
		sentRefs: make(map[[16]byte]bool),
	}
	s.mu.Unlock()

	maxLamport, err := s.peer.Backend.MaxLamport(ctx, s.peer.DocId)
	if err != nil {
		return err
	}
	ack := syncmsg.SubscribeAck{SubscriptionId: sub.SubscriptionId, CurrentLamport: maxLamport}
	return s.tp.Send(ctx, syncmsg.NewSubscribeAck(s.peer.DocId, ack))
}

// NotifyLocalUpdate pushes any ops new since the last pass to every live
// subscription. Call it whenever the backend accepts local ops. At most one
// pass runs at a time; a caller that arrives while a pass is in flight just
// marks the running pass dirty so it loops again before returning, rather
// than starting a second concurrent pass (spec.md §5).
func (s *Session) NotifyLocalUpdate(ctx context.Context) error {
	s.pushMu.Lock()
	if s.pushRunning {
		s.pushDirty = true
		s.pushMu.Unlock()
		return nil
	}
	s.pushRunning = true
	s.pushMu.Unlock()

	var firstErr error
	for {
		if err := s.runPushPass(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.pushMu.Lock()
		if !s.pushDirty {
			s.pushRunning = false
			s.pushMu.Unlock()
			return firstErr
		}
		s.pushDirty = false
		s.pushMu.Unlock()
	}
}

func (s *Session) runPushPass(ctx context.Context) error {
	s.mu.Lock()
	subs := make([]*pushSubscription, 0, len(s.pushSubs))
	for _, sub := range s.pushSubs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.pushSubscriptionUpdate(ctx, sub); err != nil {
			s.peer.opts.log.Warn("push subscription update failed",
				zap.String("subscriptionId", sub.id),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (s *Session) pushSubscriptionUpdate(ctx context.Context, sub *pushSubscription) error {
	f := syncmsg.AllFilter()
	if sub.filter != nil {
		f = *sub.filter
	}
	refs, err := s.localOpRefsForFilter(ctx, f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var fresh [][16]byte
	for _, ref := range refs {
		raw := [16]byte(ref)
		if !sub.sentRefs[raw] {
			fresh = append(fresh, raw)
			sub.sentRefs[raw] = true
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return s.sendOpsForRefs(ctx, sub.id, fresh)
}

// Subscribe opens a push subscription on filter against the peer. If
// intervalMs is positive, it additionally runs SyncOnce against filter on
// that interval so the client catches up on ops the responder missed while
// it was offline, rather than relying on pushes alone. The returned stop
// func sends Unsubscribe best-effort and returns once torn down.
func (s *Session) Subscribe(ctx context.Context, filter *syncmsg.Filter, intervalMs int) (func(), error) {
	subId := randomId("s_")
	ackCh := make(chan syncmsg.SubscribeAck, 1)
	s.mu.Lock()
	s.subAckCh[subId] = ackCh
	s.mu.Unlock()
	cleanup := func() {
		s.mu.Lock()
		delete(s.subAckCh, subId)
		s.mu.Unlock()
	}

	sub := syncmsg.Subscribe{SubscriptionId: subId, Filter: filter}
	if err := s.tp.Send(ctx, syncmsg.NewSubscribe(s.peer.DocId, sub)); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case <-ackCh:
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-s.closed:
		cleanup()
		return nil, ErrSessionClosed
	}

	stopCh := make(chan struct{})
	done := make(chan struct{})
	if intervalMs > 0 {
		go func() {
			defer close(done)
			ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
			defer ticker.Stop()
			f := syncmsg.AllFilter()
			if filter != nil {
				f = *filter
			}
			for {
				select {
				case <-ticker.C:
					_ = s.SyncOnce(ctx, f)
				case <-stopCh:
					return
				case <-s.closed:
					return
				}
			}
		}()
	} else {
		close(done)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(stopCh)
			<-done
			unsubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.tp.Send(unsubCtx, syncmsg.NewUnsubscribe(s.peer.DocId, syncmsg.Unsubscribe{SubscriptionId: subId}))
			cleanup()
		})
	}
	return stop, nil
}

package syncpeer

import (
	"context"

	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/riblt"
	"github.com/treecrdt/authsync/syncmsg"
	"go.uber.org/zap"
)

// handleHello is the responder side of spec.md §4.6: record the peer's
// advertised capabilities, authorize and seed a RIBLT decoder for every
// filter it can accept, and answer with a HelloAck.
func (s *Session) handleHello(ctx context.Context, hello syncmsg.Hello) error {
	if s.peer.Auth != nil {
		if err := s.peer.Auth.OnHello(ctx, hello); err != nil {
			return s.sendHelloAckError(ctx, hello, err)
		}
	}

	hasToken := false
	for _, c := range hello.Capabilities {
		if c.Name == syncmsg.CapabilityToken {
			hasToken = true
			break
		}
	}

	var accepted []string
	var rejected []syncmsg.RejectedFilter

	tooMany := len(hello.Filters) > s.peer.opts.maxHelloFilters
	for _, f := range hello.Filters {
		if tooMany {
			rejected = append(rejected, syncmsg.RejectedFilter{Id: f.Id, Reason: "TOO_MANY_FILTERS"})
			continue
		}
		if s.peer.Auth != nil && !hasToken {
			rejected = append(rejected, syncmsg.RejectedFilter{Id: f.Id, Reason: "UNAUTHORIZED"})
			continue
		}
		if s.peer.Auth != nil {
			if err := s.peer.Auth.AuthorizeFilter(ctx, f.Filter); err != nil {
				rejected = append(rejected, syncmsg.RejectedFilter{Id: f.Id, Reason: "UNAUTHORIZED", Message: err.Error()})
				continue
			}
		}
		if err := s.startResponderFilterSession(ctx, f); err != nil {
			rejected = append(rejected, syncmsg.RejectedFilter{Id: f.Id, Reason: "FILTER_NOT_SUPPORTED", Message: err.Error()})
			continue
		}
		accepted = append(accepted, f.Id)
	}

	s.peer.opts.log.Info("hello processed",
		zap.String("docId", s.peer.DocId),
		zap.Int("accepted", len(accepted)),
		zap.Int("rejected", len(rejected)),
	)
	return s.sendHelloAck(ctx, accepted, rejected)
}

func (s *Session) sendHelloAck(ctx context.Context, accepted []string, rejected []syncmsg.RejectedFilter) error {
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
	ack := syncmsg.HelloAck{
		Capabilities:    caps,
		AcceptedFilters: accepted,
		RejectedFilters: rejected,
		MaxLamport:      maxLamport,
	}
	return s.tp.Send(ctx, syncmsg.NewHelloAck(s.peer.DocId, ack))
}

func (s *Session) sendHelloAckError(ctx context.Context, hello syncmsg.Hello, err error) error {
	rejected := make([]syncmsg.RejectedFilter, 0, len(hello.Filters))
	for _, f := range hello.Filters {
		rejected = append(rejected, syncmsg.RejectedFilter{Id: f.Id, Reason: "UNAUTHORIZED", Message: err.Error()})
	}
	return s.sendHelloAck(ctx, nil, rejected)
}

// startResponderFilterSession computes the local OpRef set for f, scoped
// by filter_outgoing_ops when the peer's grants are not doc-wide, and
// seeds a fresh RIBLT decoder with it (spec.md §4.6).
func (s *Session) startResponderFilterSession(ctx context.Context, f syncmsg.NamedFilter) error {
	if err := f.Filter.Validate(); err != nil {
		return err
	}

	refs, err := s.localOpRefsForFilter(ctx, f.Filter)
	if err != nil {
		return err
	}

	decoder := riblt.New()
	for _, ref := range refs {
		decoder.AddLocalSymbol(riblt.Symbol(ref))
	}

	s.mu.Lock()
	s.respSess[f.Id] = &responderFilterSession{filterId: f.Id, decoder: decoder}
	s.mu.Unlock()
	return nil
}

// localOpRefsForFilter lists the OpRefs within f, narrowed to whatever
// filter_outgoing_ops allows the current peer to see.
func (s *Session) localOpRefsForFilter(ctx context.Context, f syncmsg.Filter) ([]opmodel.OpRef, error) {
	refs, err := s.peer.Backend.ListOpRefs(ctx, s.peer.DocId)
	if err != nil {
		return nil, err
	}
	if f.Kind == syncmsg.FilterAll || s.peer.Auth == nil {
		return refs, nil
	}

	ops := make([]opmodel.Operation, 0, len(refs))
	opRefs := make([]opmodel.OpRef, 0, len(refs))
	for _, ref := range refs {
		op, ok, err := s.peer.Backend.GetOp(ctx, s.peer.DocId, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if f.Kind == syncmsg.FilterChildren && op.Parent != f.Parent {
			continue
		}
		ops = append(ops, op)
		opRefs = append(opRefs, ref)
	}

	mask, err := s.peer.Auth.FilterOutgoingOps(ctx, ops)
	if err != nil {
		return nil, err
	}
	out := make([]opmodel.OpRef, 0, len(opRefs))
	for i, allowed := range mask {
		if allowed {
			out = append(out, opRefs[i])
		}
	}
	return out, nil
}

package syncpeer

import (
	"context"

	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/riblt"
	"github.com/treecrdt/authsync/syncmsg"
	"go.uber.org/zap"
)

// handleRibltCodewords is the responder side of one reconciliation round:
// feed the incoming codewords into the filter's decoder in contiguous
// order, and report the outcome once the window fully resolves (spec.md
// §4.6).
func (s *Session) handleRibltCodewords(ctx context.Context, msg syncmsg.RibltCodewords) error {
	s.mu.Lock()
	rs, ok := s.respSess[msg.FilterId]
	s.mu.Unlock()
	if !ok {
		// No session (already completed, never accepted, or unknown
		// filter id); nothing to feed.
		return nil
	}

	if msg.StartIndex != rs.expectedIndex {
		s.peer.opts.log.Warn("riblt codewords out of order",
			zap.String("filterId", msg.FilterId),
			zap.Uint64("expected", rs.expectedIndex),
			zap.Uint64("got", msg.StartIndex),
		)
		if err := s.tp.Send(ctx, syncmsg.NewRibltStatus(s.peer.DocId, syncmsg.RibltStatus{
			FilterId: msg.FilterId,
			Round:    rs.round,
			Kind:     syncmsg.RibltStatusFailed,
			Reason:   syncmsg.ReasonOutOfOrder,
		})); err != nil {
			return err
		}
		s.dropResponderSession(msg.FilterId)
		return nil
	}

	for i, raw := range msg.Codewords {
		cw, err := decodeCodedSymbol(raw)
		if err != nil {
			return err
		}
		idx := rs.expectedIndex + uint64(i)
		if err := rs.decoder.AddCodeword(idx, cw); err != nil {
			return err
		}
	}
	rs.expectedIndex += uint64(len(msg.Codewords))
	rs.round = msg.Round

	if !rs.decoder.TryDecode() {
		return nil
	}

	senderMissing := rs.decoder.RemoteMissing()  // present here, absent on the initiator
	receiverMissing := rs.decoder.LocalMissing() // absent here, present on the initiator

	status := syncmsg.RibltStatus{
		FilterId:          msg.FilterId,
		Round:             rs.round,
		Kind:              syncmsg.RibltStatusDecoded,
		SenderMissing:     symbolsToRefs(senderMissing),
		ReceiverMissing:   symbolsToRefs(receiverMissing),
		CodewordsReceived: rs.expectedIndex,
	}
	if err := s.tp.Send(ctx, syncmsg.NewRibltStatus(s.peer.DocId, status)); err != nil {
		return err
	}
	s.peer.opts.log.Debug("riblt decoded",
		zap.String("filterId", msg.FilterId),
		zap.Int("senderMissing", len(status.SenderMissing)),
		zap.Int("receiverMissing", len(status.ReceiverMissing)),
	)

	if err := s.sendOpsForRefs(ctx, msg.FilterId, status.SenderMissing); err != nil {
		return err
	}
	s.dropResponderSession(msg.FilterId)
	return nil
}

func (s *Session) dropResponderSession(filterId string) {
	s.mu.Lock()
	delete(s.respSess, filterId)
	s.mu.Unlock()
}

func symbolsToRefs(syms []riblt.Symbol) [][16]byte {
	out := make([][16]byte, len(syms))
	for i, sym := range syms {
		out[i] = [16]byte(sym)
	}
	return out
}

func refsFromWire(raw [][16]byte) []opmodel.OpRef {
	out := make([]opmodel.OpRef, len(raw))
	for i, r := range raw {
		out[i] = opmodel.OpRef(r)
	}
	return out
}

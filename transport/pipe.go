package transport

import (
	"context"
	"sync"

	"github.com/treecrdt/authsync/syncmsg"
)

// pipeEnd is one side of an in-process duplex pipe: messages written here
// are delivered to the peer's pipeEnd, and inbound messages are read from
// a channel the peer writes into.
// pipeCloser is shared by both ends so closing either side closes the pipe
// exactly once, regardless of which end (or both, concurrently) calls
// Close.
type pipeCloser struct {
	once   sync.Once
	closed chan struct{}
}

func newPipeCloser() *pipeCloser {
	return &pipeCloser{closed: make(chan struct{})}
}

func (c *pipeCloser) close() {
	c.once.Do(func() { close(c.closed) })
}

type pipeEnd struct {
	out    chan<- syncmsg.Envelope
	in     <-chan syncmsg.Envelope
	closer *pipeCloser
}

// NewPipe returns two connected Transport endpoints, suitable for driving a
// sync session between two SyncPeer instances in the same process (tests,
// or a single-binary embedding of both replicas).
func NewPipe(bufferSize int) (Transport, Transport) {
	ab := make(chan syncmsg.Envelope, bufferSize)
	ba := make(chan syncmsg.Envelope, bufferSize)

	closer := newPipeCloser()

	a := &pipeEnd{out: ab, in: ba, closer: closer}
	b := &pipeEnd{out: ba, in: ab, closer: closer}
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, env syncmsg.Envelope) error {
	select {
	case p.out <- env:
		return nil
	case <-p.closer.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (syncmsg.Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.closer.closed:
		return syncmsg.Envelope{}, ErrClosed
	case <-ctx.Done():
		return syncmsg.Envelope{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.closer.close()
	return nil
}

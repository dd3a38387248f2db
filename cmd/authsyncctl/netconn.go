package main

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/treecrdt/authsync/syncmsg"
)

// connTransport adapts a net.Conn into a transport.Transport with simple
// length-prefixed framing, so authsyncctl's sync-once command can run
// against a real socket instead of the in-process pipe the test suite
// uses. It is intentionally minimal: one uint32 big-endian length prefix
// per encoded Envelope, no multiplexing, no reconnect.
type connTransport struct {
	conn net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnTransport(conn net.Conn) *connTransport {
	return &connTransport{conn: conn, closed: make(chan struct{})}
}

func (t *connTransport) Send(ctx context.Context, env syncmsg.Envelope) error {
	b, err := syncmsg.Encode(env)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(b)))
	if _, err := t.conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = t.conn.Write(b)
	return err
}

func (t *connTransport) Recv(ctx context.Context) (syncmsg.Envelope, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	}
	var lenPrefix [4]byte
	if _, err := io.ReadFull(t.conn, lenPrefix[:]); err != nil {
		return syncmsg.Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return syncmsg.Envelope{}, err
	}
	return syncmsg.Decode(buf)
}

func (t *connTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return t.conn.Close()
}

var errListenerRequired = errors.New("authsyncctl: --listen or --dial is required")

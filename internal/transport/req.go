package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Requester is the connect side of REQ/REP. It keeps at most one
// connection alive and enforces nothing about concurrency itself — the
// bus's RequestMux is the single place that serializes calls per port, per
// spec invariant 2 (a REQ entry is never concurrently in two exchanges).
// Any error on either leg closes the connection so the next Request redials,
// since the REQ wire protocol cannot resynchronize mid-exchange.
type Requester struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn

	closed atomic.Bool
}

func newRequester(host string, port int, opt Options) (*Requester, error) {
	return &Requester{
		addr:        fmt.Sprintf("%s:%d", host, port),
		dialTimeout: opt.DialTimeout,
	}, nil
}

func (r *Requester) ensureConn() (net.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := net.DialTimeout("tcp", r.addr, r.dialTimeout)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func (r *Requester) drop() {
	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()
}

// Request sends a single-frame payload and waits for a single-frame reply.
// On any failure the underlying connection is torn down; the caller (the
// bus's RequestMux) is responsible for marking the owning SocketEntry
// FAILED and applying the cooldown.
func (r *Requester) Request(ctx context.Context, payload []byte, sendDeadline, recvDeadline time.Duration) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	conn, err := r.ensureConn()
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(sendDeadline))
	if err := writeFrames(conn, [][]byte{payload}); err != nil {
		r.drop()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyTimeout(err)
	}

	conn.SetReadDeadline(time.Now().Add(recvDeadline))
	frames, err := readFrames(conn)
	if err != nil {
		r.drop()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyTimeout(err)
	}
	if len(frames) != 1 {
		r.drop()
		return nil, ErrFrameShape
	}
	return frames[0], nil
}

func classifyTimeout(err error) error {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok && te.Timeout() {
		return ErrTimeout
	}
	return err
}

func (r *Requester) Close(linger time.Duration) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if linger > 0 {
		time.Sleep(linger)
	}
	r.drop()
	return nil
}

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Pusher is the connect side of PUSH/PULL: a single reconnecting outbound
// connection fed by a bounded queue (the send-side HWM).
type Pusher struct {
	addr    string
	opt     Options
	pending chan *outboundFrame
	pool    *framePool

	mu   sync.Mutex
	conn net.Conn

	closed atomic.Bool
	done   chan struct{}
}

func newPusher(host string, port int, opt Options) (*Pusher, error) {
	p := &Pusher{
		addr:    fmt.Sprintf("%s:%d", host, port),
		opt:     opt,
		pending: make(chan *outboundFrame, opt.SendHWM),
		pool:    newFramePool(),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *Pusher) run() {
	attempt := 0
	for {
		select {
		case <-p.done:
			return
		default:
		}
		conn, err := net.DialTimeout("tcp", p.addr, p.opt.DialTimeout)
		if err != nil {
			attempt++
			p.sleepBackoff(attempt)
			continue
		}
		attempt = 0
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		p.writeLoop(conn)
		conn.Close()
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		select {
		case <-p.done:
			return
		default:
		}
	}
}

func (p *Pusher) writeLoop(conn net.Conn) {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.pending:
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			err := writeFrames(conn, frame.frames)
			p.pool.put(frame)
			if err != nil {
				return
			}
		}
	}
}

func (p *Pusher) sleepBackoff(attempt int) {
	wait := p.opt.Backoff.Next(attempt)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
	}
}

// Send enqueues a single-frame payload, blocking up to deadline against the
// send-side HWM.
func (p *Pusher) Send(ctx context.Context, payload []byte, deadline time.Duration) error {
	if p.closed.Load() {
		return ErrClosed
	}
	frame := p.pool.get([][]byte{payload})
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case p.pending <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

func (p *Pusher) Close(linger time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)
	if linger > 0 {
		time.Sleep(linger)
	}
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.mu.Unlock()
	return nil
}

package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher is the bind side of PUB/SUB: it accepts any number of
// subscriber connections and fans every published envelope out to all of
// them. Backpressure is modeled as a single shared bounded queue (the
// send-side HWM) rather than per-subscriber, matching the single
// SocketEntry the bus tracks per (PUB, port).
type Publisher struct {
	ln      *listener
	opt     Options
	pool    *framePool
	pending chan *outboundFrame

	mu     sync.Mutex
	peers  map[*pubPeer]struct{}
	closed atomic.Bool
	done   chan struct{}
}

type pubPeer struct {
	conn net.Conn
	out  chan *outboundFrame
}

func newPublisher(port int, opt Options) (*Publisher, error) {
	ln, err := bindPort(port)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		ln:      ln,
		opt:     opt,
		pool:    newFramePool(),
		pending: make(chan *outboundFrame, opt.SendHWM),
		peers:   make(map[*pubPeer]struct{}),
		done:    make(chan struct{}),
	}
	go p.ln.serve(p.acceptPeer)
	go p.dispatch()
	return p, nil
}

func (p *Publisher) acceptPeer(conn net.Conn) {
	peer := &pubPeer{conn: conn, out: make(chan *outboundFrame, p.opt.SendHWM)}
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.peers[peer] = struct{}{}
	p.mu.Unlock()

	for frame := range peer.out {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := writeFrames(conn, frame.frames); err != nil {
			p.removePeer(peer)
			conn.Close()
			return
		}
	}
}

func (p *Publisher) removePeer(peer *pubPeer) {
	p.mu.Lock()
	delete(p.peers, peer)
	p.mu.Unlock()
}

func (p *Publisher) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.pending:
			p.fanOut(frame)
		}
	}
}

func (p *Publisher) fanOut(frame *outboundFrame) {
	p.mu.Lock()
	peers := make([]*pubPeer, 0, len(p.peers))
	for peer := range p.peers {
		peers = append(peers, peer)
	}
	p.mu.Unlock()

	for i, peer := range peers {
		f := frame
		if i < len(peers)-1 {
			f = p.pool.get(frame.frames)
		}
		select {
		case peer.out <- f:
		default:
			// Peer-local HWM exceeded: drop for this subscriber only. The
			// bus only observes the shared queue above, matching a single
			// SocketEntry's backpressure signal.
		}
	}
	if len(peers) == 0 {
		p.pool.put(frame)
	}
}

// Send enqueues an envelope for fan-out, blocking up to deadline against the
// shared HWM queue.
func (p *Publisher) Send(ctx context.Context, frames [][]byte, deadline time.Duration) error {
	if p.closed.Load() {
		return ErrClosed
	}
	frame := p.pool.get(frames)
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

// PeerCount reports the number of currently connected subscribers.
func (p *Publisher) PeerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Close stops accepting new subscribers, lingers to let queued writes
// drain, then tears down every connection.
func (p *Publisher) Close(linger time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)
	p.ln.Close()
	if linger > 0 {
		time.Sleep(linger)
	}
	p.mu.Lock()
	peers := make([]*pubPeer, 0, len(p.peers))
	for peer := range p.peers {
		peers = append(peers, peer)
	}
	p.peers = nil
	p.mu.Unlock()
	for _, peer := range peers {
		close(peer.out)
		peer.conn.Close()
	}
	return nil
}

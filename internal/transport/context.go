package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// socket is the minimal lifecycle every concrete socket type exposes so
// Context can track and close whatever it opened.
type socket interface {
	Close(linger time.Duration) error
}

// Context owns every socket opened through it, mirroring a ZeroMQ context:
// one per bus instance, never shared across instances (spec.md §9).
type Context struct {
	connectHost string

	mu      sync.Mutex
	sockets map[socket]struct{}
	closed  atomic.Bool
}

// NewContext creates a transport context. connectHost is the host used for
// the connect side of SUB/PUSH/REQ sockets (e.g. "localhost" or a peer's
// address); bind-side sockets always listen on all interfaces.
func NewContext(connectHost string) *Context {
	if connectHost == "" {
		connectHost = "localhost"
	}
	return &Context{
		connectHost: connectHost,
		sockets:     make(map[socket]struct{}),
	}
}

func (c *Context) track(s socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sockets[s] = struct{}{}
}

// Forget drops a socket from the context's tracked set, typically called by
// the owner after it has already closed the socket itself (e.g. the
// registry's own fail/rebuild path).
func (c *Context) Forget(s any) {
	sk, ok := s.(socket)
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.sockets, sk)
	c.mu.Unlock()
}

// OpenPub binds a PUB socket.
func (c *Context) OpenPub(port int, opt Options) (*Publisher, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	p, err := newPublisher(port, opt.withDefaults())
	if err != nil {
		return nil, err
	}
	c.track(p)
	return p, nil
}

// OpenSub connects a SUB socket.
func (c *Context) OpenSub(port int, opt Options) (*Subscriber, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	s, err := newSubscriber(c.connectHost, port, opt.withDefaults())
	if err != nil {
		return nil, err
	}
	c.track(s)
	return s, nil
}

// OpenPush connects a PUSH socket.
func (c *Context) OpenPush(port int, opt Options) (*Pusher, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	p, err := newPusher(c.connectHost, port, opt.withDefaults())
	if err != nil {
		return nil, err
	}
	c.track(p)
	return p, nil
}

// OpenPull binds a PULL socket.
func (c *Context) OpenPull(port int, opt Options) (*Puller, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	p, err := newPuller(port, opt.withDefaults())
	if err != nil {
		return nil, err
	}
	c.track(p)
	return p, nil
}

// OpenReq connects a REQ socket.
func (c *Context) OpenReq(port int, opt Options) (*Requester, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	r, err := newRequester(c.connectHost, port, opt.withDefaults())
	if err != nil {
		return nil, err
	}
	c.track(r)
	return r, nil
}

// OpenRep binds a REP socket.
func (c *Context) OpenRep(port int, opt Options) (*Responder, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	r, err := newResponder(port, opt.withDefaults())
	if err != nil {
		return nil, err
	}
	c.track(r)
	return r, nil
}

// Term closes every socket still tracked and marks the context unusable.
func (c *Context) Term(linger time.Duration) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	sockets := make([]socket, 0, len(c.sockets))
	for s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.sockets = nil
	c.mu.Unlock()
	for _, s := range sockets {
		s.Close(linger)
	}
}

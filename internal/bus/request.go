package bus

import (
	"context"
	"sync"

	"main/internal/errors"
	"main/internal/transport"
)

// RequestMux implements spec.md §4.3: a per-port mutex around the full
// send+recv cycle of a REQ socket, since the REQ wire pattern mandates
// strict alternation and cannot resynchronize after a partial failure.
type RequestMux struct {
	bus *MessageBus

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func newRequestMux(b *MessageBus) *RequestMux {
	return &RequestMux{bus: b, locks: make(map[int]*sync.Mutex)}
}

func (m *RequestMux) lockFor(port int) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[port]
	if !ok {
		l = &sync.Mutex{}
		m.locks[port] = l
	}
	return l
}

// Request implements spec.md §4.3's request(): acquire the port's mutex,
// split req_total_timeout into send/recv halves, send, receive, release.
// A timeout or transport failure poisons the REQ socket (fail + rebuild-
// after-cooldown); every failure, including an unavailable entry or an
// encode/decode error, returns nil, never an error — spec.md §7: request never surfaces
// transport or timeout errors, it returns the null sentinel instead.
func (b *MessageBus) Request(ctx context.Context, data any, port int) Reply {
	return b.reqMux.request(ctx, data, port)
}

func (m *RequestMux) request(ctx context.Context, data any, port int) Reply {
	b := m.bus
	lock := m.lockFor(port)
	lock.Lock()
	defer lock.Unlock()

	key := socketKey{pattern: transport.REQ, port: port}
	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		req, err := b.ctx.OpenReq(port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		return &socketEntry{req: req}, nil
	})
	if err != nil {
		b.metrics.IncOutboundDropped()
		return nil
	}

	envelope := b.buildRequestEnvelope(data)
	encoded, err := b.codec.Encode(envelope)
	if err != nil {
		b.metrics.IncErrors()
		b.metrics.IncOutboundDropped()
		return nil
	}

	half := b.cfg.ReqTotalTimeout / 2
	reply, err := entry.req.Request(ctx, encoded, half, half)
	if err != nil {
		if err == transport.ErrTimeout {
			b.metrics.IncRequestTimeouts()
		} else {
			b.metrics.IncErrors()
		}
		b.registry.fail(entry, errors.Wrap(err, "request failed"))
		return nil
	}

	decoded, err := b.codec.Decode(reply)
	if err != nil {
		b.metrics.IncInboundDropped()
		return nil
	}
	return decoded
}

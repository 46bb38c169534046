package bus

import (
	"context"
	"time"

	"main/internal/errors"
	"main/internal/transport"
)

const responseAcceptPollTimeout = 200 * time.Millisecond

// RequestHandler is the overridable hook spec.md §4.7 calls
// _handle_request: invoked once per received request, its return value
// sent back verbatim as the reply.
type RequestHandler func(req Request) Reply

// defaultRequestHandler mirrors the original's default body.
func defaultRequestHandler(req Request) Reply {
	return Reply{"status": "not_implemented"}
}

// ResponseLoop implements spec.md §4.7: bind a REP entry for port, then
// loop receiving one request frame, invoking handler, and sending exactly
// one reply frame — including an error envelope on a handler panic,
// preserving the REP state machine invariant (spec.md P3).
func (b *MessageBus) ResponseLoop(ctx context.Context, port int, handler RequestHandler) error {
	if handler == nil {
		handler = defaultRequestHandler
	}

	key := socketKey{pattern: transport.REP, port: port}
	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		rep, err := b.ctx.OpenRep(port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		return &socketEntry{rep: rep}, nil
	})
	if err != nil {
		return err
	}

	b.trackLoop(func(loopCtx context.Context) {
		b.runResponseLoop(loopCtx, key, entry, handler)
	})
	return nil
}

func (b *MessageBus) runResponseLoop(ctx context.Context, key socketKey, entry *socketEntry, handler RequestHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sess, err := entry.rep.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.metrics.IncErrors()
			b.registry.fail(entry, errors.Wrap(err, "accept failed"))
			entry = b.rebuildRep(ctx, key)
			if entry == nil {
				return
			}
			continue
		}

		go b.serveRequestSession(ctx, sess, handler)
	}
}

// serveRequestSession drives one accepted REQ connection through an
// unbounded number of request/reply exchanges — one goroutine per
// connection naturally enforces the REP state machine's one-reply-per-
// request rule without extra bookkeeping.
func (b *MessageBus) serveRequestSession(ctx context.Context, sess *transport.ResponderSession, handler RequestHandler) {
	defer sess.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := sess.Recv(ctx, b.cfg.RepRecvTimeout)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			return
		}

		decoded, err := b.codec.Decode(payload)
		if err != nil {
			b.metrics.IncInboundDropped()
			b.sendErrorReply(ctx, sess, "decode_error")
			continue
		}

		reply := b.invokeRequestHandler(handler, parseRequest(decoded))
		encoded, err := b.codec.Encode(reply)
		if err != nil {
			b.metrics.IncErrors()
			b.sendErrorReply(ctx, sess, "encode_error")
			continue
		}

		if err := sess.Send(ctx, encoded, b.cfg.RepSendTimeout); err != nil {
			b.metrics.IncErrors()
			return
		}
	}
}

// invokeRequestHandler isolates a panicking hook: the REP state machine
// still needs exactly one reply sent, so a panic becomes an error
// envelope rather than killing the session (spec.md §4.7.e, §7).
func (b *MessageBus) invokeRequestHandler(handler RequestHandler, req Request) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncErrors()
			if b.logger != nil {
				b.logger.Warnf("bus: request handler panic: %v", r)
			}
			reply = Reply{"error": "handler_panic"}
		}
	}()
	return handler(req)
}

func (b *MessageBus) sendErrorReply(ctx context.Context, sess *transport.ResponderSession, kind string) {
	encoded, err := b.codec.Encode(Reply{"error": kind})
	if err != nil {
		return
	}
	sess.Send(ctx, encoded, b.cfg.RepSendTimeout)
}

func (b *MessageBus) rebuildRep(ctx context.Context, key socketKey) *socketEntry {
	timer := time.NewTimer(b.cfg.FailedSocketCooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		rep, err := b.ctx.OpenRep(key.port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		return &socketEntry{rep: rep}, nil
	})
	if err != nil {
		return nil
	}
	return entry
}

package bus

import (
	"context"
	"time"

	"main/internal/errors"
	"main/internal/transport"
)

const pullPollTimeout = 200 * time.Millisecond

// PullHandler is the overridable hook spec.md §4.6 calls
// _handle_pulled_message: invoked once per received payload. The
// concurrency cap does not apply here — pull already has natural
// backpressure at the transport layer (spec.md §4.6).
type PullHandler func(data any)

// defaultPullHandler mirrors the original's default body: log and ignore.
func defaultPullHandler(logger Logger) PullHandler {
	return func(data any) {
		if logger != nil {
			logger.Debugf("bus: pulled message with no handler installed: %v", data)
		}
	}
}

// PullLoop implements spec.md §4.6: symmetric to SubscribeLoop but for
// PULL and single-frame payloads, with no concurrency gate. handler may be
// nil, in which case a logging default is used.
func (b *MessageBus) PullLoop(ctx context.Context, port int, handler PullHandler) error {
	if handler == nil {
		handler = defaultPullHandler(b.logger)
	}

	key := socketKey{pattern: transport.PULL, port: port}
	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		pul, err := b.ctx.OpenPull(port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		return &socketEntry{pul: pul}, nil
	})
	if err != nil {
		return err
	}

	b.trackLoop(func(loopCtx context.Context) {
		b.runPullLoop(loopCtx, key, entry, handler)
	})
	return nil
}

func (b *MessageBus) runPullLoop(ctx context.Context, key socketKey, entry *socketEntry, handler PullHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := entry.pul.Recv(ctx, pullPollTimeout)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			b.metrics.IncErrors()
			b.registry.fail(entry, errors.Wrap(err, "recv failed"))
			entry = b.rebuildPull(ctx, key)
			if entry == nil {
				return
			}
			continue
		}

		decoded, err := b.codec.Decode(payload)
		if err != nil {
			b.metrics.IncInboundDropped()
			continue
		}
		b.metrics.IncMessagesReceived()
		b.invokePullHandler(handler, decoded["data"])
	}
}

// invokePullHandler isolates a panicking hook the same way dispatched
// subscribe handlers are isolated (spec.md §7 HandlerError).
func (b *MessageBus) invokePullHandler(handler PullHandler, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncErrors()
			if b.logger != nil {
				b.logger.Warnf("bus: pull handler panic: %v", r)
			}
		}
	}()
	handler(data)
}

func (b *MessageBus) rebuildPull(ctx context.Context, key socketKey) *socketEntry {
	timer := time.NewTimer(b.cfg.FailedSocketCooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		pul, err := b.ctx.OpenPull(key.port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		return &socketEntry{pul: pul}, nil
	})
	if err != nil {
		return nil
	}
	return entry
}

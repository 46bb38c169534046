package bus

import (
	"context"
	"time"

	"main/internal/errors"
	"main/internal/transport"
)

const subscribePollTimeout = 200 * time.Millisecond

// SubscribeLoop implements spec.md §4.5. It starts the long-lived receive
// loop on its own goroutine (b.trackLoop wires it into Cleanup's join) and
// returns once the SUB entry is in place. A bind
// failure on first construction is returned to the caller; any transport
// error once running is handled internally (fail + cooldown + rebuild),
// per the conservative rebuild policy spec.md §9 settles on.
func (b *MessageBus) SubscribeLoop(ctx context.Context, port int, topics []string) error {
	key := socketKey{pattern: transport.SUB, port: port}
	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		sub, err := b.ctx.OpenSub(port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		sub.SetSubscriptions(topics)
		return &socketEntry{sub: sub, subscriptions: topics}, nil
	})
	if err != nil {
		return err
	}

	b.trackLoop(func(loopCtx context.Context) {
		b.runSubscribeLoop(loopCtx, key, entry, topics)
	})
	return nil
}

func (b *MessageBus) runSubscribeLoop(ctx context.Context, key socketKey, entry *socketEntry, topics []string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frames, err := entry.sub.Recv(ctx, subscribePollTimeout)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			b.metrics.IncErrors()
			b.registry.fail(entry, errors.Wrap(err, "recv failed"))
			entry = b.rebuildSub(ctx, key, topics)
			if entry == nil {
				return
			}
			continue
		}
		if len(frames) != 2 {
			b.metrics.IncInboundDropped()
			continue
		}

		decoded, err := b.codec.Decode(frames[1])
		if err != nil {
			b.metrics.IncInboundDropped()
			continue
		}

		topic := string(frames[0])
		handler, ok := b.handlers.lookup(topic)
		if !ok {
			logAtLevel(b.logger, b.cfg.LogLevelNoHandler, "bus: no handler for topic %q", topic)
			continue
		}

		data := decoded["data"]
		if derr := b.disp.dispatch(ctx, dispatchJob{topic: topic, data: data, handler: handler}); derr != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		b.metrics.IncMessagesReceived()
	}
}

// rebuildSub sleeps one cooldown then attempts to reconstruct the SUB
// entry, reapplying topics (spec.md §4.2 tie-break, §9's conservative
// rebuild policy). Returns nil if ctx was cancelled while sleeping or the
// rebuild failed.
func (b *MessageBus) rebuildSub(ctx context.Context, key socketKey, topics []string) *socketEntry {
	timer := time.NewTimer(b.cfg.FailedSocketCooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		sub, err := b.ctx.OpenSub(key.port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		sub.SetSubscriptions(topics)
		return &socketEntry{sub: sub, subscriptions: topics}, nil
	})
	if err != nil {
		return nil
	}
	return entry
}

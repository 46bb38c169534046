package bus

import (
	"context"

	"main/internal/errors"
	"main/internal/transport"
)

// Publish implements spec.md §4.4: encode {topic, data, ts, sender} and
// send the two-frame envelope on the PUB entry for port, under
// pub_send_timeout. Never returns an error to the caller — all failure
// modes are recorded in metrics, per spec.md §7's propagation policy.
func (b *MessageBus) Publish(ctx context.Context, topic string, data any, port int) {
	key := socketKey{pattern: transport.PUB, port: port}
	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		pub, err := b.ctx.OpenPub(port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		return &socketEntry{pub: pub}, nil
	})
	if err != nil {
		b.metrics.IncOutboundDropped()
		return
	}

	envelope := b.buildEventEnvelope(topic, data)
	encoded, err := b.codec.Encode(envelope)
	if err != nil {
		// spec.md §4.4's encode-error path is errors-only, so
		// messages_sent + outbound_dropped + encode_errors == n
		// (spec.md §8 P1) stays exact; see DESIGN.md.
		b.metrics.IncErrors()
		return
	}

	sendErr := entry.pub.Send(ctx, [][]byte{[]byte(topic), encoded}, b.cfg.PubSendTimeout)
	b.recordSendOutcome(entry, sendErr)
}

// PushResult implements the PushPath half of spec.md §4.4: identical
// contract to Publish but single-frame, on a PUSH entry, under
// push_send_timeout.
func (b *MessageBus) PushResult(ctx context.Context, data any, port int) {
	key := socketKey{pattern: transport.PUSH, port: port}
	entry, err := b.registry.get(key, func() (*socketEntry, error) {
		psh, err := b.ctx.OpenPush(port, b.socketOptions())
		if err != nil {
			return nil, err
		}
		return &socketEntry{psh: psh}, nil
	})
	if err != nil {
		b.metrics.IncOutboundDropped()
		return
	}

	envelope := b.buildPushEnvelope(data)
	encoded, err := b.codec.Encode(envelope)
	if err != nil {
		b.metrics.IncErrors()
		return
	}

	sendErr := entry.psh.Send(ctx, encoded, b.cfg.PushSendTimeout)
	b.recordSendOutcome(entry, sendErr)
}

// recordSendOutcome applies spec.md §4.4/§7's transport-error/timeout
// handling, identical for publish and push.
func (b *MessageBus) recordSendOutcome(entry *socketEntry, sendErr error) {
	if sendErr == nil {
		b.metrics.IncMessagesSent()
		return
	}
	if sendErr == transport.ErrTimeout {
		b.metrics.IncBackpressureEvents()
		b.metrics.IncOutboundDropped()
		b.registry.fail(entry, errors.Wrap(sendErr, "send timeout"))
		return
	}
	b.metrics.IncErrors()
	b.metrics.IncOutboundDropped()
	b.registry.fail(entry, errors.Wrap(sendErr, "send failed"))
}

func (b *MessageBus) socketOptions() transport.Options {
	opt := transport.DefaultOptions()
	opt.SendHWM = b.cfg.HWMOutbound
	opt.RecvHWM = b.cfg.HWMInbound
	return opt
}

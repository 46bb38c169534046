package obs

import "sync/atomic"

// Metrics collects the eight monotonic counters of spec.md §4.9; the ninth
// name there, active_connections, is a derived gauge passed to Snapshot.
// Counters are incremented from many goroutines (receive loops, dispatched
// handlers, callers of Publish/Request), so every access is atomic and
// Snapshot is safe to call from anywhere.
type Metrics struct {
	messagesSent       uint64
	messagesReceived   uint64
	errors             uint64
	outboundDropped    uint64
	inboundDropped     uint64
	backpressureEvents uint64
	requestTimeouts    uint64
	failedBindCount    uint64
}

// Snapshot is a point-in-time copy of every counter, plus the
// active_connections gauge the caller (the registry) derives separately.
type Snapshot struct {
	MessagesSent       uint64
	MessagesReceived   uint64
	Errors             uint64
	OutboundDropped    uint64
	InboundDropped     uint64
	BackpressureEvents uint64
	RequestTimeouts    uint64
	FailedBindCount    uint64
	ActiveConnections  int
}

// NewMetrics allocates a zeroed counter bundle.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncMessagesSent records a successful publish/push send.
func (m *Metrics) IncMessagesSent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesSent, 1)
}

// IncMessagesReceived records a subscribed or pulled message dispatched to
// a handler (or to the pull hook).
func (m *Metrics) IncMessagesReceived() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesReceived, 1)
}

// IncErrors records an encode error, handler exception, non-timeout
// transport error, or a socket entry being failed by the registry (which
// happens on timeouts too).
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.errors, 1)
}

// IncOutboundDropped records a publish/push/request attempt that never
// reached the wire.
func (m *Metrics) IncOutboundDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.outboundDropped, 1)
}

// IncInboundDropped records a decode or frame-shape failure on a receive
// loop.
func (m *Metrics) IncInboundDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.inboundDropped, 1)
}

// IncBackpressureEvents records a send that hit its deadline.
func (m *Metrics) IncBackpressureEvents() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.backpressureEvents, 1)
}

// IncRequestTimeouts records a request() call that timed out.
func (m *Metrics) IncRequestTimeouts() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.requestTimeouts, 1)
}

// IncFailedBindCount records a bind-side construction failure.
func (m *Metrics) IncFailedBindCount() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.failedBindCount, 1)
}

// Snapshot returns a copy of every counter. activeConnections is supplied
// by the caller since it is a derived gauge over the registry, not a
// counter this bundle owns.
func (m *Metrics) Snapshot(activeConnections int) Snapshot {
	if m == nil {
		return Snapshot{ActiveConnections: activeConnections}
	}
	return Snapshot{
		MessagesSent:       atomic.LoadUint64(&m.messagesSent),
		MessagesReceived:   atomic.LoadUint64(&m.messagesReceived),
		Errors:             atomic.LoadUint64(&m.errors),
		OutboundDropped:    atomic.LoadUint64(&m.outboundDropped),
		InboundDropped:     atomic.LoadUint64(&m.inboundDropped),
		BackpressureEvents: atomic.LoadUint64(&m.backpressureEvents),
		RequestTimeouts:    atomic.LoadUint64(&m.requestTimeouts),
		FailedBindCount:    atomic.LoadUint64(&m.failedBindCount),
		ActiveConnections:  activeConnections,
	}
}

// AsMap renders the snapshot as the generic mapping get_metrics() (spec.md
// §6) returns to callers.
func (s Snapshot) AsMap() map[string]any {
	return map[string]any{
		"messages_sent":       s.MessagesSent,
		"messages_received":   s.MessagesReceived,
		"errors":              s.Errors,
		"outbound_dropped":    s.OutboundDropped,
		"inbound_dropped":     s.InboundDropped,
		"backpressure_events": s.BackpressureEvents,
		"request_timeouts":    s.RequestTimeouts,
		"failed_bind_count":   s.FailedBindCount,
		"active_connections":  s.ActiveConnections,
	}
}

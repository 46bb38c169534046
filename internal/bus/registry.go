package bus

import (
	"sync"
	"time"

	"main/internal/obs"
	"main/internal/transport"
)

// socketState is HEALTHY or FAILED (spec.md §3 SocketEntry.state).
type socketState int

const (
	stateHealthy socketState = iota
	stateFailed
)

// socketKey identifies a SocketEntry by (pattern, port) — spec.md
// invariant 1: at most one entry exists per key at any moment.
type socketKey struct {
	pattern transport.Pattern
	port    int
}

// socketEntry is spec.md §3's SocketEntry, minus the REQ/REP mutexes
// (those live one layer up, in RequestMux and the response loop — a
// single accepted TCP connection already serializes a REP exchange).
type socketEntry struct {
	key   socketKey
	state socketState

	failedAt time.Time

	// subscriptions holds the topic-prefix filter for a SUB entry, so a
	// rebuild after cooldown can reapply it (spec.md §4.2 tie-break).
	subscriptions []string

	pub *transport.Publisher
	sub *transport.Subscriber
	psh *transport.Pusher
	pul *transport.Puller
	req *transport.Requester
	rep *transport.Responder
}

func (e *socketEntry) closer() interface{ Close(time.Duration) error } {
	switch e.key.pattern {
	case transport.PUB:
		return e.pub
	case transport.SUB:
		return e.sub
	case transport.PUSH:
		return e.psh
	case transport.PULL:
		return e.pul
	case transport.REQ:
		return e.req
	case transport.REP:
		return e.rep
	default:
		return nil
	}
}

// SocketRegistry opens, caches, reuses, cools down and rebuilds socket
// entries keyed by (pattern, port) — spec.md §4.2. All access happens from
// call sites that are themselves already serialized per spec.md §5's
// single-scheduler-thread convention; the mutex here exists because Go has
// no such implicit guarantee and multiple loops/goroutines may call
// concurrently in practice.
type SocketRegistry struct {
	ctx     *transport.Context
	cfg     Config
	metrics *obs.Metrics
	logger  Logger

	mu      sync.Mutex
	entries map[socketKey]*socketEntry
}

func newSocketRegistry(ctx *transport.Context, cfg Config, metrics *obs.Metrics, logger Logger) *SocketRegistry {
	return &SocketRegistry{
		ctx:     ctx,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		entries: make(map[socketKey]*socketEntry),
	}
}

// errUnavailable is the sentinel "entry not usable right now" result the
// registry returns while a FAILED entry is still cooling down. Callers
// treat it exactly like "no entry": count a drop, return without error.
var errUnavailable = errUnavailableSentinel{}

type errUnavailableSentinel struct{}

func (errUnavailableSentinel) Error() string { return "bus: socket unavailable (cooling down)" }

// get returns the HEALTHY entry for key, constructing or rebuilding it via
// build if necessary. build is only invoked on a cache miss or after
// cooldown elapses; it is never invoked while an entry is HEALTHY.
func (r *SocketRegistry) get(key socketKey, build func() (*socketEntry, error)) (*socketEntry, error) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok {
		switch entry.state {
		case stateHealthy:
			r.mu.Unlock()
			return entry, nil
		case stateFailed:
			if time.Since(entry.failedAt) < r.cfg.FailedSocketCooldown {
				r.mu.Unlock()
				return nil, errUnavailable
			}
			// Cooldown elapsed: discard and fall through to construction.
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	fresh, err := build()
	if err != nil {
		r.metrics.IncFailedBindCount()
		return nil, err
	}
	fresh.key = key
	fresh.state = stateHealthy
	if ok && key.pattern == transport.SUB {
		fresh.subscriptions = entry.subscriptions
		if len(fresh.subscriptions) > 0 {
			fresh.sub.SetSubscriptions(fresh.subscriptions)
		}
	}

	r.mu.Lock()
	r.entries[key] = fresh
	r.mu.Unlock()
	return fresh, nil
}

// fail tears down entry's underlying socket (with CloseLinger) and marks
// it FAILED, recording errors++ (spec.md §4.2's fail()). reason is wrapped
// via internal/errors so the underlying cause stays reachable through
// Unwrap even though fail() itself only logs it.
func (r *SocketRegistry) fail(entry *socketEntry, reason error) {
	r.mu.Lock()
	current, ok := r.entries[entry.key]
	alreadyFailed := ok && current == entry && current.state == stateFailed
	if ok && current == entry {
		current.state = stateFailed
		current.failedAt = time.Now()
	}
	r.mu.Unlock()

	if alreadyFailed {
		return
	}
	r.metrics.IncErrors()
	if r.logger != nil {
		r.logger.Warnf("bus: socket %s:%d failed: %s", entry.key.pattern, entry.key.port, reason)
	}
	if closer := entry.closer(); closer != nil {
		closer.Close(r.cfg.CloseLinger)
		// The entry is already gone from r.entries by the time a rebuild
		// replaces it; forgetting it here too keeps the Context from
		// holding a reference to a closed socket across a long-running
		// bus's repeated fail/rebuild cycles.
		r.ctx.Forget(closer)
	}
}

// activeConnections is the derived gauge spec.md §4.9/§9 defines: the
// count of HEALTHY entries, exclusive of FAILED/cooling-down ones.
func (r *SocketRegistry) activeConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.state == stateHealthy {
			n++
		}
	}
	return n
}

// closeAll tears down every tracked entry regardless of state, used by
// Lifecycle cleanup.
func (r *SocketRegistry) closeAll() {
	r.mu.Lock()
	entries := make([]*socketEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = nil
	r.mu.Unlock()
	for _, e := range entries {
		if closer := e.closer(); closer != nil {
			closer.Close(r.cfg.CloseLinger)
		}
	}
}

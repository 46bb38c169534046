package obs

import (
	"sync/atomic"
	"time"
)

// DispatchIDGenerator creates monotonically increasing dispatch IDs, used by
// the handler task tracker (spec.md §2(f)) to name each handler invocation
// in its diagnostics (the handler-panic log line).
type DispatchIDGenerator struct {
	next uint64
}

// NewDispatchIDGenerator returns a generator seeded with the given value. A
// zero seed falls back to the current wall clock so two bus instances
// started at different times don't hand out colliding IDs.
func NewDispatchIDGenerator(seed uint64) *DispatchIDGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &DispatchIDGenerator{next: seed}
}

// Next returns the next dispatch ID.
func (g *DispatchIDGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}

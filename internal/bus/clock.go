package bus

import "time"

// nowNano stamps envelopes with wall-clock time. The original stamps with
// the event loop's monotonic clock; this bus uses wall-clock because the
// envelope crosses process boundaries, where a monotonic reading from one
// process means nothing to another.
func nowNano() int64 {
	return time.Now().UTC().UnixNano()
}

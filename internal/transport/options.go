package transport

import "time"

// Options configures a single socket at open time. The zero value is not
// valid; callers should start from DefaultOptions.
type Options struct {
	// SendHWM bounds the outbound queue depth before Send blocks/times out.
	SendHWM int
	// RecvHWM bounds the inbound queue depth before new frames are dropped.
	RecvHWM int
	// DialTimeout bounds a single connect attempt on the connect side.
	DialTimeout time.Duration
	// Backoff paces reconnect attempts on the connect side.
	Backoff Backoff
}

// DefaultOptions returns baseline HWM and dial settings.
func DefaultOptions() Options {
	return Options{
		SendHWM:     1000,
		RecvHWM:     1000,
		DialTimeout: 5 * time.Second,
		Backoff:     DefaultBackoff(),
	}
}

func (o Options) withDefaults() Options {
	if o.SendHWM <= 0 {
		o.SendHWM = 1000
	}
	if o.RecvHWM <= 0 {
		o.RecvHWM = 1000
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.Backoff.Min <= 0 && o.Backoff.Max <= 0 {
		o.Backoff = DefaultBackoff()
	}
	return o
}

package bus

import (
	"fmt"
	"time"

	"main/internal/errors"
)

const (
	defaultHWM                  = 1000
	defaultPubSendTimeout       = time.Second
	defaultPushSendTimeout      = time.Second
	defaultReqTotalTimeout      = 5 * time.Second
	defaultRepRecvTimeout       = 30 * time.Second
	defaultRepSendTimeout       = 5 * time.Second
	defaultFailedSocketCooldown = 10 * time.Second
	defaultCloseLinger          = 100 * time.Millisecond
	defaultSerializer           = "json"
)

// Config controls MessageBus behavior. The zero value is not directly
// usable; construct via DefaultConfig and override only the fields that
// need to differ, mirroring recorder.Config and risk.Config.
type Config struct {
	// ServiceName is stamped into every envelope's sender field.
	ServiceName string
	// ConnectHost is the host used by connect-side sockets (SUB/PUSH/REQ)
	// to reach their bind-side peer.
	ConnectHost string

	HWMOutbound int
	HWMInbound  int

	PubSendTimeout  time.Duration
	PushSendTimeout time.Duration
	ReqTotalTimeout time.Duration
	RepRecvTimeout  time.Duration
	RepSendTimeout  time.Duration

	FailedSocketCooldown time.Duration
	CloseLinger          time.Duration

	// HandlerMaxConcurrency caps concurrently executing subscribe
	// handlers; zero means unlimited (spec.md §6).
	HandlerMaxConcurrency int

	// LogLevelNoHandler is the level used to log an unmatched subscribe
	// topic: "debug", "info" or "warn".
	LogLevelNoHandler string

	// Serializer selects the wire codec: "json" (default) or "fast".
	Serializer string

	// ProfilingServerAddress, when non-empty, is the pyroscope server address; an
	// empty string disables continuous profiling entirely.
	ProfilingServerAddress string
}

// DefaultConfig returns the baseline configuration spec.md §6 documents.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:           serviceName,
		ConnectHost:           "localhost",
		HWMOutbound:           defaultHWM,
		HWMInbound:            defaultHWM,
		PubSendTimeout:        defaultPubSendTimeout,
		PushSendTimeout:       defaultPushSendTimeout,
		ReqTotalTimeout:       defaultReqTotalTimeout,
		RepRecvTimeout:        defaultRepRecvTimeout,
		RepSendTimeout:        defaultRepSendTimeout,
		FailedSocketCooldown:  defaultFailedSocketCooldown,
		CloseLinger:           defaultCloseLinger,
		HandlerMaxConcurrency: 0,
		LogLevelNoHandler:     "debug",
		Serializer:            defaultSerializer,
	}
}

func (c Config) withDefaults() Config {
	if c.ConnectHost == "" {
		c.ConnectHost = "localhost"
	}
	if c.HWMOutbound == 0 {
		c.HWMOutbound = defaultHWM
	}
	if c.HWMInbound == 0 {
		c.HWMInbound = defaultHWM
	}
	if c.PubSendTimeout == 0 {
		c.PubSendTimeout = defaultPubSendTimeout
	}
	if c.PushSendTimeout == 0 {
		c.PushSendTimeout = defaultPushSendTimeout
	}
	if c.ReqTotalTimeout == 0 {
		c.ReqTotalTimeout = defaultReqTotalTimeout
	}
	if c.RepRecvTimeout == 0 {
		c.RepRecvTimeout = defaultRepRecvTimeout
	}
	if c.RepSendTimeout == 0 {
		c.RepSendTimeout = defaultRepSendTimeout
	}
	if c.FailedSocketCooldown == 0 {
		c.FailedSocketCooldown = defaultFailedSocketCooldown
	}
	if c.CloseLinger == 0 {
		c.CloseLinger = defaultCloseLinger
	}
	if c.LogLevelNoHandler == "" {
		c.LogLevelNoHandler = "debug"
	}
	if c.Serializer == "" {
		c.Serializer = defaultSerializer
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("invalid bus config: ServiceName is empty")
	}
	if c.HWMOutbound < 0 {
		return errors.New("invalid bus config: HWMOutbound must be >= 0")
	}
	if c.HWMInbound < 0 {
		return errors.New("invalid bus config: HWMInbound must be >= 0")
	}
	if c.HandlerMaxConcurrency < 0 {
		return errors.New("invalid bus config: HandlerMaxConcurrency must be >= 0")
	}
	switch c.Serializer {
	case "", "json", "fast":
	default:
		msg := fmt.Sprintf("invalid bus config: unknown Serializer %q", c.Serializer)
		return errors.New(msg)
	}
	switch c.LogLevelNoHandler {
	case "", "debug", "info", "warn":
	default:
		msg := fmt.Sprintf("invalid bus config: unknown LogLevelNoHandler %q", c.LogLevelNoHandler)
		return errors.New(msg)
	}
	return nil
}

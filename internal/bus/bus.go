// Package bus implements the MessageBus: a reusable asynchronous messaging
// middleware multiplexing publish/subscribe, push/pull and request/reply
// over the internal/transport socket layer. It owns socket lifecycle,
// failure isolation and backpressure; it has no opinion about what
// services put in a payload.
package bus

import (
	"context"
	"sync"
	"time"

	"main/internal/obs"
	"main/internal/serializer"
	"main/internal/transport"
)

// MessageBus is the single entry point a service embeds: one transport
// context, one socket registry, one serializer, one handler table, one
// metrics bundle and one task tracker, all scoped to this instance
// (spec.md §2, §9 — never a process-wide singleton).
type MessageBus struct {
	cfg         Config
	serviceName string

	ctx      *transport.Context
	registry *SocketRegistry
	codec    serializer.Serializer
	handlers *handlerTable
	metrics  *obs.Metrics
	disp     *dispatcher
	logger   Logger

	reqMux *RequestMux

	stopProfiler func()

	mu          sync.Mutex
	cancelLoops context.CancelFunc
	loopCtx     context.Context
	loopWG      sync.WaitGroup
	closed      bool
}

// New constructs a MessageBus from cfg. cfg is defaulted and validated
// internally; callers only need to set the fields they care about.
func New(cfg Config, logger Logger) (*MessageBus, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewStdLogger(nil)
	}

	codec, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	tctx := transport.NewContext(cfg.ConnectHost)
	metrics := obs.NewMetrics()
	registry := newSocketRegistry(tctx, cfg, metrics, logger)
	disp := newDispatcher(cfg.HandlerMaxConcurrency, metrics, logger)

	loopCtx, cancel := context.WithCancel(context.Background())

	b := &MessageBus{
		cfg:         cfg,
		serviceName: cfg.ServiceName,
		ctx:         tctx,
		registry:    registry,
		codec:       codec,
		handlers:    newHandlerTable(),
		metrics:     metrics,
		disp:        disp,
		logger:      logger,
		cancelLoops: cancel,
		loopCtx:     loopCtx,
	}
	b.reqMux = newRequestMux(b)
	b.stopProfiler = obs.StartProfiler(obs.ProfileConfig{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.ProfilingServerAddress,
		Tags:            map[string]string{"service": cfg.ServiceName},
	}, nil)
	return b, nil
}

// RegisterHandler binds fn as the handler for topic, replacing any prior
// binding for that topic atomically (spec.md P6).
func (b *MessageBus) RegisterHandler(topic string, h Handler) {
	b.handlers.register(topic, h)
}

// GetMetrics returns the current counter snapshot as the generic mapping
// spec.md §6's get_metrics() describes.
func (b *MessageBus) GetMetrics() map[string]any {
	return b.metrics.Snapshot(b.registry.activeConnections()).AsMap()
}

// trackLoop registers a long-lived loop goroutine so Cleanup can wait for
// it to notice cancellation and return.
func (b *MessageBus) trackLoop(run func(ctx context.Context)) {
	b.loopWG.Add(1)
	go func() {
		defer b.loopWG.Done()
		run(b.loopCtx)
	}()
}

// Cleanup implements spec.md §4.8 Lifecycle: cancel every loop, await
// in-flight dispatched handler tasks up to a bounded grace period (cancel
// thereafter if cancelRunning), close every socket with CloseLinger, and
// terminate the transport context. Safe to call more than once.
func (b *MessageBus) Cleanup(cancelRunning bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancelLoops()
	b.loopWG.Wait()

	const gracePeriod = 5 * time.Second
	if cancelRunning {
		joinCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		b.disp.join(joinCtx)
		cancel()
	} else {
		b.disp.join(context.Background())
	}
	b.disp.stop()

	b.registry.closeAll()
	b.ctx.Term(b.cfg.CloseLinger)
	if b.stopProfiler != nil {
		b.stopProfiler()
	}
}

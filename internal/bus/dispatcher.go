package bus

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"main/internal/obs"
)

// dispatchJob is one scheduled handler invocation.
type dispatchJob struct {
	topic   string
	data    any
	handler Handler
}

// dispatcher is the task tracker spec.md §2(f) names: it schedules handler
// invocations, gates them behind handler_max_concurrency when configured,
// and tracks every in-flight task so Lifecycle cleanup can join them.
//
// Cooperative handlers are spawned directly as goroutines (the "shared
// scheduler" of a single-threaded source becomes "a fresh goroutine" in
// Go). Blocking handlers are handed to a small fixed worker pool so the
// subscribe loop's own receive goroutine never blocks on handler work —
// Go's goroutines are cheap enough that the pool exists to bound steady-
// state concurrency rather than to avoid OS thread exhaustion.
type dispatcher struct {
	sem  *semaphore.Weighted
	jobs chan dispatchJob

	// tasks tracks in-flight handler invocations (join waits on this);
	// workers tracks the fixed pool's own goroutines (stop waits on this,
	// separately, so a join timeout doesn't get entangled with pool
	// shutdown bookkeeping).
	tasks   sync.WaitGroup
	workers sync.WaitGroup

	ids     *obs.DispatchIDGenerator
	metrics *obs.Metrics
	logger  Logger
}

func newDispatcher(maxConcurrency int, metrics *obs.Metrics, logger Logger) *dispatcher {
	d := &dispatcher{
		ids:     obs.NewDispatchIDGenerator(0),
		metrics: metrics,
		logger:  logger,
		jobs:    make(chan dispatchJob, 256),
	}
	if maxConcurrency > 0 {
		d.sem = semaphore.NewWeighted(int64(maxConcurrency))
	}
	workers := runtime.GOMAXPROCS(0) * 2
	if workers < 2 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		d.workers.Add(1)
		go d.runWorker()
	}
	return d
}

func (d *dispatcher) runWorker() {
	defer d.workers.Done()
	for job := range d.jobs {
		d.invokeAndRelease(job)
		d.tasks.Done()
	}
}

// dispatch schedules handler for topic/data. It acquires a semaphore
// permit first if handler_max_concurrency is configured — spec.md §4.5
// names this "the designed backpressure point for subscribers": the
// receive loop itself may block here.
func (d *dispatcher) dispatch(ctx context.Context, job dispatchJob) error {
	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	d.tasks.Add(1)
	if job.handler.cooperative {
		go func() {
			defer d.tasks.Done()
			d.invokeAndRelease(job)
		}()
		return nil
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		// Worker pool saturated: spawn an overflow goroutine rather than
		// block the caller indefinitely — the semaphore (when configured)
		// is the real backpressure gate; the fixed pool is just sizing.
		go func() {
			defer d.tasks.Done()
			d.invokeAndRelease(job)
		}()
		return nil
	}
}

func (d *dispatcher) invokeAndRelease(job dispatchJob) {
	defer func() {
		if d.sem != nil {
			d.sem.Release(1)
		}
	}()
	d.invoke(job)
}

// invoke runs job's handler, recovering from a panic the way the source
// catches a handler exception: counted, logged, never fatal to the loop
// (spec.md §4.5, HandlerError in §7).
func (d *dispatcher) invoke(job dispatchJob) {
	id := d.ids.Next()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncErrors()
			if d.logger != nil {
				d.logger.Warnf("bus: handler panic (dispatch %d, topic %q): %v", id, job.topic, r)
			}
		}
	}()
	job.handler.fn(job.topic, job.data)
}

// join waits for every currently in-flight and queued task to finish, up
// to ctx's deadline. A context.DeadlineExceeded return means the caller
// should treat remaining tasks as abandoned (cancel_running=true,
// spec.md §4.8) rather than keep waiting.
func (d *dispatcher) join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus: dispatcher join: %w", ctx.Err())
	}
}

// stop closes the job channel; every pool worker exits once it has
// drained whatever was already queued. Call only after join (or after
// giving up on it per cancel_running=true) — stop itself never blocks, so
// cleanup's bounded grace period is never extended by pool shutdown.
func (d *dispatcher) stop() {
	close(d.jobs)
}

// Package worker runs one task generation on its own goroutine.
//
// Stopping is cooperative: Stop clears the running flag, which is checked only
// between RunOnce calls. A worker therefore stops at most one full RunOnce
// (including the task's own wait) after Stop. Join blocks until the goroutine
// has exited; callers must Join before starting the next generation.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hotpool/internal/async"
	"hotpool/internal/logging"
)

const DefaultPanicBackoff = time.Second

// Runner is the entry point a worker drives.
type Runner interface {
	RunOnce()
}

var live atomic.Int64

// Live returns the number of worker goroutines that have started and not yet
// exited, across the process.
func Live() int64 {
	return live.Load()
}

// Worker drives one Runner until stopped.
type Worker struct {
	id           string
	generation   string
	runner       Runner
	logger       logging.Logger
	panicBackoff time.Duration

	running    atomic.Bool
	started    atomic.Bool
	iterations atomic.Int64
	panics     atomic.Int64
	startedAt  atomic.Pointer[time.Time]

	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(logger logging.Logger) Option {
	return func(w *Worker) { w.logger = logging.OrNop(logger) }
}

// WithPanicBackoff sets the pause after a recovered panic.
func WithPanicBackoff(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.panicBackoff = d
		}
	}
}

// New binds a runner to an identifier. Each worker gets a fresh generation id.
func New(id string, runner Runner, opts ...Option) *Worker {
	w := &Worker{
		id:           id,
		generation:   uuid.NewString(),
		runner:       runner,
		logger:       logging.Nop(),
		panicBackoff: DefaultPanicBackoff,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the task identifier.
func (w *Worker) ID() string { return w.id }

// Generation returns the unique id of this worker's generation.
func (w *Worker) Generation() string { return w.generation }

// Iterations returns how many RunOnce calls have returned.
func (w *Worker) Iterations() int64 { return w.iterations.Load() }

// Panics returns how many RunOnce calls panicked.
func (w *Worker) Panics() int64 { return w.panics.Load() }

// StartedAt returns when Start was called, or the zero time.
func (w *Worker) StartedAt() time.Time {
	if t := w.startedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Running reports whether the worker has not been asked to stop.
func (w *Worker) Running() bool { return w.running.Load() }

// Start launches the goroutine. Later calls are no-ops, as is Start after Stop.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		now := time.Now()
		w.startedAt.Store(&now)
		w.running.Store(true)
		w.started.Store(true)
		live.Add(1)
		go w.run()
	})
}

// Stop asks the worker to exit after the current RunOnce returns.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.running.Store(false)
		close(w.stopCh)
	})
}

// Join blocks until the worker goroutine has exited. It returns immediately
// for a worker that was never started.
func (w *Worker) Join() {
	if !w.started.Load() {
		return
	}
	<-w.done
}

// StopAndJoin stops the worker and waits for it to exit.
func (w *Worker) StopAndJoin() {
	w.Stop()
	w.Join()
}

// Done is closed when the goroutine exits.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer func() {
		live.Add(-1)
		close(w.done)
	}()
	w.logger.Debug("Worker %s: generation %s started", w.id, w.generation)
	for w.running.Load() {
		ok := async.Safe(w.logger, "task."+w.id, w.runner.RunOnce)
		w.iterations.Add(1)
		if ok {
			continue
		}
		w.panics.Add(1)
		select {
		case <-w.stopCh:
		case <-time.After(w.panicBackoff):
		}
	}
	w.logger.Debug("Worker %s: generation %s exited after %d iterations", w.id, w.generation, w.iterations.Load())
}

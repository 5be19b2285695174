// Package supervisor owns the task registry and runs the scan, diff and
// reconcile cycle that keeps one worker per pool identifier.
//
// Per identifier the order is always stop, join, load, start, so two
// generations of a task never run at the same time. Stops for different
// identifiers run in parallel, bounded by Config.StopConcurrency. The
// registry is only written from the goroutine that calls Cycle.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	hperrors "hotpool/internal/errors"
	"hotpool/internal/logging"
	"hotpool/internal/observability"
	"hotpool/internal/pool"
	"hotpool/internal/task"
	"hotpool/internal/worker"
)

const (
	DefaultInterval           = 5 * time.Second
	DefaultStopConcurrency    = 4
	DefaultDigestFailureLimit = 3
)

// Scanner lists the identifiers currently in the pool.
type Scanner interface {
	Scan() (map[string]struct{}, error)
}

// Fingerprinter digests the source behind an identifier.
type Fingerprinter interface {
	Digest(id string) (pool.Digest, error)
}

// Loader builds a fresh handle for an identifier.
type Loader interface {
	Load(ctx context.Context, id string) (*task.Handle, error)
}

type forgetter interface {
	Forget(id string)
}

// Config controls the reconcile loop.
type Config struct {
	Pool            string
	Interval        time.Duration
	StopConcurrency int
	PanicBackoff    time.Duration
	StatusFile      string

	// DigestFailureLimit is how many consecutive cycles a running task's
	// source may be unreadable before it is treated as changed.
	DigestFailureLimit int

	FailureMaxInWindow int
	FailureWindow      time.Duration
	FailureCooldown    time.Duration
}

// CycleResult summarizes what one cycle did.
type CycleResult struct {
	Started  []string
	Reloaded []string
	Removed  []string
	Failed   []string
	Skipped  []string
	Err      error
}

// Changed reports whether the cycle started, swapped or retired any worker.
func (r CycleResult) Changed() bool {
	return len(r.Started)+len(r.Reloaded)+len(r.Removed) > 0
}

// Supervisor reconciles the pool directory with running workers.
type Supervisor struct {
	cfg           Config
	scanner       Scanner
	fingerprinter Fingerprinter
	loader        Loader
	registry      *Registry
	policy        *FailurePolicy
	status        *StatusFile
	metrics       *observability.MetricsCollector
	logger        logging.Logger
	workerLogger  logging.Logger
	trigger       <-chan struct{}

	// digestFailures counts consecutive unreadable digests per running id.
	// Only the cycle goroutine touches it.
	digestFailures map[string]int

	cycles atomic.Int64
	mu     sync.RWMutex
	views  []RecordView
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Supervisor) { s.logger = logging.OrNop(logger) }
}

// WithWorkerLogger sets the logger handed to workers.
func WithWorkerLogger(logger logging.Logger) Option {
	return func(s *Supervisor) { s.workerLogger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(s *Supervisor) { s.metrics = metrics }
}

// WithTrigger makes Run start a cycle early whenever trigger fires.
func WithTrigger(trigger <-chan struct{}) Option {
	return func(s *Supervisor) { s.trigger = trigger }
}

// WithRegistry injects the registry, mainly for tests.
func WithRegistry(registry *Registry) Option {
	return func(s *Supervisor) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// New creates a supervisor.
func New(cfg Config, scanner Scanner, fingerprinter Fingerprinter, loader Loader, opts ...Option) (*Supervisor, error) {
	if scanner == nil || fingerprinter == nil || loader == nil {
		return nil, fmt.Errorf("new supervisor: scanner, fingerprinter and loader are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StopConcurrency <= 0 {
		cfg.StopConcurrency = DefaultStopConcurrency
	}
	if cfg.PanicBackoff <= 0 {
		cfg.PanicBackoff = worker.DefaultPanicBackoff
	}
	if cfg.DigestFailureLimit <= 0 {
		cfg.DigestFailureLimit = DefaultDigestFailureLimit
	}

	s := &Supervisor{
		cfg:           cfg,
		scanner:       scanner,
		fingerprinter: fingerprinter,
		loader:        loader,
		registry:      NewRegistry(),
		policy:        NewFailurePolicy(cfg.FailureMaxInWindow, cfg.FailureWindow, cfg.FailureCooldown),
		logger:        logging.Nop(),

		digestFailures: make(map[string]int),
	}
	if cfg.StatusFile != "" {
		s.status = NewStatusFile(cfg.StatusFile)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workerLogger == nil {
		s.workerLogger = s.logger
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Cycles returns how many cycles have run.
func (s *Supervisor) Cycles() int64 {
	return s.cycles.Load()
}

// Snapshot returns the registry as of the end of the last cycle.
func (s *Supervisor) Snapshot() []RecordView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecordView, len(s.views))
	copy(out, s.views)
	return out
}

// Run cycles until ctx is cancelled, then stops every worker.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Supervisor: watching %s every %s", s.cfg.Pool, s.cfg.Interval)
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		result := s.Cycle(ctx)
		if result.Changed() {
			s.logger.Info("Supervisor: cycle %d started=%v reloaded=%v removed=%v failed=%v",
				s.Cycles(), result.Started, result.Reloaded, result.Removed, result.Failed)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.Interval)

		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case <-timer.C:
		case <-s.trigger:
			s.logger.Debug("Supervisor: pool change detected, rescanning early")
		}
	}
}

// Cycle runs one scan, diff and reconcile pass. It never panics.
func (s *Supervisor) Cycle(ctx context.Context) (result CycleResult) {
	start := time.Now()
	cycle := s.cycles.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Supervisor: cycle %d panic: %v, stack: %s", cycle, r, debug.Stack())
			result.Err = fmt.Errorf("cycle %d panic: %v", cycle, r)
		}
		s.finishCycle(ctx, cycle, start, result.Err)
	}()

	ids, err := s.scanner.Scan()
	if err != nil {
		s.logger.Warn("Supervisor: scan failed, retrying next cycle: %v", err)
		s.metrics.RecordScanError(ctx)
		result.Err = err
		return result
	}

	var added, present []string
	for id := range ids {
		if s.registry.Has(id) {
			present = append(present, id)
		} else {
			added = append(added, id)
		}
	}
	var removed []string
	for _, id := range s.registry.IDs() {
		if _, ok := ids[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(present)

	for _, id := range added {
		s.startNew(ctx, id, &result)
	}

	jobs := make([]retireJob, 0, len(present)+len(removed))
	for _, id := range present {
		rec, _ := s.registry.Get(id)
		digest, err := s.fingerprinter.Digest(id)
		if err != nil {
			s.digestFailures[id]++
			failures := s.digestFailures[id]
			if failures < s.cfg.DigestFailureLimit {
				s.logger.Warn("Supervisor: %s digest unavailable (%d/%d), keeping generation %s: %v",
					id, failures, s.cfg.DigestFailureLimit, rec.Worker.Generation(), err)
				result.Skipped = append(result.Skipped, id)
				continue
			}
			s.logger.Warn("Supervisor: %s unreadable for %d cycles, reloading: %v", id, failures, err)
			jobs = append(jobs, retireJob{record: rec, reason: retireReload, digest: pool.Unreadable})
			continue
		}
		delete(s.digestFailures, id)
		if digest.Equal(rec.Digest) && rec.Worker.Running() {
			s.logger.Debug("Supervisor: %s: now(%s).old(%s) generation=%s", id, digest, rec.Digest, rec.Worker.Generation())
			continue
		}
		if digest.Equal(rec.Digest) {
			s.logger.Warn("Supervisor: %s worker %s is not running, restarting", id, rec.Worker.Generation())
		} else {
			s.logger.Info("Supervisor: %s changed (%s -> %s), reloading", id, rec.Digest, digest)
		}
		jobs = append(jobs, retireJob{record: rec, reason: retireReload, digest: digest})
	}
	for _, id := range removed {
		rec, _ := s.registry.Get(id)
		jobs = append(jobs, retireJob{record: rec, reason: retireRemove})
	}
	s.retire(ctx, jobs, &result)
	return result
}

// Shutdown stops and joins every worker and empties the registry.
func (s *Supervisor) Shutdown() {
	ids := s.registry.IDs()
	jobs := make([]retireJob, 0, len(ids))
	for _, id := range ids {
		rec, _ := s.registry.Get(id)
		jobs = append(jobs, retireJob{record: rec, reason: retireShutdown})
	}
	s.retire(context.Background(), jobs, &CycleResult{})
	s.publish(s.registry.Snapshot())
	s.logger.Info("Supervisor: stopped %d workers", len(jobs))
}

func (s *Supervisor) startNew(ctx context.Context, id string, result *CycleResult) {
	if !s.policy.ShouldAttempt(id, time.Now()) {
		s.logger.Debug("Supervisor: %s is cooling down after repeated load failures", id)
		result.Skipped = append(result.Skipped, id)
		return
	}
	digest, err := s.fingerprinter.Digest(id)
	if err != nil {
		s.logger.Warn("Supervisor: %s digest unavailable, skipping this cycle: %v", id, err)
		result.Skipped = append(result.Skipped, id)
		return
	}
	handle, err := s.load(ctx, id)
	if err != nil {
		s.loadFailed(ctx, id, err)
		result.Failed = append(result.Failed, id)
		return
	}
	s.launch(ctx, id, digest, handle)
	result.Started = append(result.Started, id)
}

// launch registers and starts a new generation. The recorded digest is taken
// from the exact bytes the loader consumed when it reports them.
func (s *Supervisor) launch(ctx context.Context, id string, digest pool.Digest, handle *task.Handle) {
	if handle.Source != nil {
		digest = pool.Sum(handle.Source)
	}
	w := worker.New(id, handle,
		worker.WithLogger(s.workerLogger),
		worker.WithPanicBackoff(s.cfg.PanicBackoff),
	)
	s.registry.Put(&Record{
		ID:       id,
		Digest:   digest,
		Handle:   handle,
		Worker:   w,
		LoadedAt: time.Now(),
	})
	w.Start()
	s.policy.Reset(id)
	delete(s.digestFailures, id)
	s.metrics.RecordLoad(ctx, "ok")

	meta := handle.Metadata()
	s.logger.Info("Supervisor: T[%s] V:%s D:%s started as %s (generation %s, digest %s)",
		meta.Name, meta.Version, meta.Description, id, w.Generation(), digest)
}

// load calls the loader, converting a panic into a LoadFailure.
func (s *Supervisor) load(ctx context.Context, id string) (handle *task.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			handle = nil
			err = hperrors.Newf(hperrors.LoadFailure, id, "loader panic: %v", r)
		}
	}()
	handle, err = s.loader.Load(ctx, id)
	if err == nil && handle == nil {
		err = hperrors.Newf(hperrors.LoadFailure, id, "loader returned no handle")
	}
	return handle, err
}

func (s *Supervisor) loadFailed(ctx context.Context, id string, err error) {
	s.metrics.RecordLoad(ctx, hperrors.KindOf(err).String())
	if hperrors.IsIdentifierLocal(err) {
		s.logger.Warn("Supervisor: load %s failed, other tasks unaffected: %v", id, err)
	} else {
		s.logger.Error("Supervisor: load %s failed: %v", id, err)
	}
	if count, cooled := s.policy.RecordFailure(id, time.Now()); cooled {
		s.logger.Warn("Supervisor: %s failed %d loads, holding back for %s", id, count, s.policy.CooldownDuration)
	}
}

type retireReason int

const (
	retireRemove retireReason = iota
	retireReload
	retireShutdown
)

type retireJob struct {
	record *Record
	reason retireReason
	digest pool.Digest
}

type retireOutcome struct {
	job    retireJob
	handle *task.Handle
	err    error
}

// retire stops and joins each job's worker, loading the next generation for
// reloads, in parallel across identifiers. Outcomes are applied to the
// registry on the calling goroutine as they arrive.
func (s *Supervisor) retire(ctx context.Context, jobs []retireJob, result *CycleResult) {
	if len(jobs) == 0 {
		return
	}
	outcomes := make(chan retireOutcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.cfg.StopConcurrency)
	go func() {
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				out := retireOutcome{job: job}
				job.record.Worker.StopAndJoin()
				if job.reason == retireReload {
					out.handle, out.err = s.load(ctx, job.record.ID)
				}
				outcomes <- out
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)
	}()

	for out := range outcomes {
		rec := out.job.record
		s.registry.Delete(rec.ID)
		delete(s.digestFailures, rec.ID)

		switch out.job.reason {
		case retireShutdown:
			s.logger.Debug("Supervisor: %s generation %s stopped", rec.ID, rec.Worker.Generation())
		case retireRemove:
			s.forget(rec.ID)
			s.policy.Reset(rec.ID)
			s.metrics.RecordRemoval(ctx)
			s.logger.Info("Supervisor: > %s be shutdown (generation %s, %d iterations)", rec.ID, rec.Worker.Generation(), rec.Worker.Iterations())
			result.Removed = append(result.Removed, rec.ID)
		case retireReload:
			if out.err != nil {
				s.loadFailed(ctx, rec.ID, out.err)
				s.logger.Warn("Supervisor: %s dropped after failed reload, will retry as new", rec.ID)
				result.Failed = append(result.Failed, rec.ID)
				continue
			}
			s.launch(ctx, rec.ID, out.job.digest, out.handle)
			s.metrics.RecordReload(ctx)
			result.Reloaded = append(result.Reloaded, rec.ID)
		}
	}
}

func (s *Supervisor) forget(id string) {
	if f, ok := s.loader.(forgetter); ok {
		f.Forget(id)
	}
}

func (s *Supervisor) finishCycle(ctx context.Context, cycle int64, start time.Time, cycleErr error) {
	views := s.registry.Snapshot()
	s.publish(views)
	s.metrics.RecordCycle(ctx, time.Since(start), len(views))
	if err := s.metrics.Flush(); err != nil {
		s.logger.Warn("Supervisor: %v", err)
	}
	if s.status != nil {
		if err := s.status.Write(statusFromViews(s.cfg.Pool, cycle, cycleErr, views)); err != nil {
			s.logger.Warn("Supervisor: write status %s: %v", s.status.Path(), err)
		}
	}
}

func (s *Supervisor) publish(views []RecordView) {
	s.mu.Lock()
	s.views = views
	s.mu.Unlock()
}

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"hotpool/internal/config"
	"hotpool/internal/loader"
	"hotpool/internal/logging"
	"hotpool/internal/observability"
	"hotpool/internal/pool"
	"hotpool/internal/supervisor"
	"hotpool/internal/task"
)

func run(ctx context.Context, stdout, stderr io.Writer) error {
	cfg, meta, err := config.Load()
	if err != nil {
		return err
	}

	obs := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})
	logging.SetDefault(obs)
	logger := logging.NewComponentLogger("hotpool")
	if meta.ConfigFile != "" {
		logger.Info("Using config %s", meta.ConfigFile)
	}

	printBanner(stdout)

	sup, cleanup, err := buildSupervisor(ctx, cfg, afero.NewOsFs(), stdout)
	if err != nil {
		return err
	}
	defer cleanup()
	return sup.Run(ctx)
}

// buildSupervisor wires the pool, loader and supervisor for cfg. cleanup
// releases the directory watcher and flushes metrics.
func buildSupervisor(ctx context.Context, cfg config.Config, fs afero.Fs, stdout io.Writer) (*supervisor.Supervisor, func(), error) {
	layout := pool.Layout{
		Dir:           cfg.Pool.Dir,
		Extension:     cfg.Pool.Extension,
		PrivateMarker: cfg.Pool.PrivateMarker,
	}.WithDefaults()

	metrics, err := observability.NewMetricsCollector(cfg.Metrics)
	if err != nil {
		return nil, func() {}, fmt.Errorf("init metrics: %w", err)
	}
	logger := logging.NewComponentLogger("supervisor")
	stopWatcher := func() {}
	cleanup := func() {
		stopWatcher()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics shutdown: %v", err)
		}
	}

	ld, err := loader.New(fs, layout, task.Builtins(),
		loader.WithLogger(logging.NewComponentLogger("loader")),
		loader.WithTaskLogger(logging.NewComponentLogger("task")),
		loader.WithStdout(stdout),
		loader.WithCacheSize(cfg.Loader.CacheSize),
	)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	opts := []supervisor.Option{
		supervisor.WithLogger(logger),
		supervisor.WithWorkerLogger(logging.NewComponentLogger("worker")),
		supervisor.WithMetrics(metrics),
	}
	if cfg.Supervisor.Watch {
		watcher := pool.NewWatcher(layout,
			pool.WithWatchDebounce(cfg.Supervisor.WatchDebounce),
			pool.WithWatchLogger(logging.NewComponentLogger("watcher")),
		)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("Pool watch disabled, relying on the scan interval: %v", err)
		} else {
			stopWatcher = watcher.Stop
			opts = append(opts, supervisor.WithTrigger(watcher.Changes()))
		}
	}

	sup, err := supervisor.New(supervisor.Config{
		Pool:               layout.Dir,
		Interval:           cfg.Supervisor.Interval,
		StopConcurrency:    cfg.Supervisor.StopConcurrency,
		PanicBackoff:       cfg.Worker.PanicBackoff,
		StatusFile:         cfg.Supervisor.StatusFile,
		DigestFailureLimit: cfg.Supervisor.DigestFailureLimit,
		FailureMaxInWindow: cfg.Supervisor.Failure.MaxInWindow,
		FailureWindow:      cfg.Supervisor.Failure.Window,
		FailureCooldown:    cfg.Supervisor.Failure.Cooldown,
	}, pool.NewScanner(fs, layout), pool.NewFingerprinter(fs, layout), ld, opts...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return sup, cleanup, nil
}

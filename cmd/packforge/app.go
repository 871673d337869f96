package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"packforge/internal/blob"
	"packforge/internal/config"
	"packforge/internal/core"
	"packforge/internal/notify"
	"packforge/pkg/domain"
)

// app holds the wired collaborators for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	service  *core.Service
	registry *prometheus.Registry
	stats    *core.ExpvarMetricsRecorder
	closers  []func() error
}

// loadConfig resolves configuration from an explicit file or the layered
// loader.
func loadConfig(opts *globalOptions, stderr io.Writer) (*config.Config, error) {
	bootstrap := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLevel(opts.logLevel)}))
	loader := config.NewLoader(bootstrap)
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = loader.LoadFile(opts.configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	return cfg, nil
}

// newApp loads configuration and wires the service. Events are only
// connected when withEvents is set, so read-only commands never dial NATS.
func newApp(ctx context.Context, opts *globalOptions, stderr io.Writer, withEvents bool) (*app, error) {
	cfg, err := loadConfig(opts, stderr)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(stderr, cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry(), closers: []func() error{closeLog}}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.stats = core.NewExpvarMetricsRecorder("")

	store, err := core.OpenSummaryStore(ctx, core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open summary store: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	svcOpts := []core.Option{
		core.WithLogger(logger),
		core.WithMetrics(core.MultiMetrics{prom, a.stats}),
		core.WithSummaryStore(store),
		core.WithLockTimeout(cfg.Build.LockTimeout),
	}
	if opts.trace {
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	if cfg.Blob.Driver != "" {
		blobs, err := blob.OpenDriver(ctx, blob.Driver(cfg.Blob.Driver), cfg.Blob.FSRoot)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		svcOpts = append(svcOpts, core.WithBlobStore(blobs))
	}
	if withEvents && cfg.NATS.URL != "" {
		pub, err := notify.Connect(notify.Options{
			URL:       cfg.NATS.URL,
			Subject:   cfg.NATS.Subject,
			JetStream: cfg.NATS.JetStream,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		svcOpts = append(svcOpts, core.WithPublisher(pub))
	}

	a.service = core.NewService(svcOpts...)
	if err := a.service.Hydrate(ctx); err != nil {
		logger.Warn("summary hydrate failed", slog.String("error", err.Error()))
	}
	ok = true
	return a, nil
}

// overlays loads path, or returns nil when path is empty.
func (a *app) overlays(path string) (*domain.OverlayConfig, error) {
	if path == "" {
		return nil, nil
	}
	cfg, err := core.LoadOverlayConfig(path)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Close releases collaborators in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

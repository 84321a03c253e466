package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/p-n-ai/pai-academy/internal/academy"
	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/platform/cache"
	"github.com/p-n-ai/pai-academy/internal/platform/config"
	"github.com/p-n-ai/pai-academy/internal/platform/database"
	"github.com/p-n-ai/pai-academy/internal/platform/logging"
	"github.com/p-n-ai/pai-academy/internal/platform/metrics"
	"github.com/p-n-ai/pai-academy/internal/remote"
	"github.com/p-n-ai/pai-academy/internal/retry"
	"github.com/p-n-ai/pai-academy/internal/storage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("academyd failed", "error", err)
		stop()
		logCloser.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gateway, err := remote.NewGateway(cfg.Sync.Endpoint,
		remote.WithRetryOptions(retryOptions(cfg.Sync)),
		remote.WithTimeout(cfg.Sync.Timeout),
		remote.WithRateLimit(cfg.Sync.RateLimit, cfg.Sync.Burst),
		remote.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	notifiers := storage.MultiNotifier{}
	if n, ok := backend.kv.(storage.ChangeNotifier); ok {
		notifiers = append(notifiers, n)
	}
	if cfg.Sync.EventsURL != "" {
		feed, err := storage.NewWebSocketNotifier(cfg.Sync.EventsURL)
		if err != nil {
			return fmt.Errorf("create change feed: %w", err)
		}
		notifiers = append(notifiers, feed)
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("change feed stopped", "error", err)
			}
		}()
	}

	store := academy.NewStore(backend.kv,
		academy.WithSyncer(gateway),
		academy.WithNotifier(notifiers),
		academy.WithCacheTTL(cfg.Cache.TTL),
		academy.WithSyncTimeout(cfg.Sync.Timeout),
		academy.WithCacheObserver(m),
		academy.WithEventLogger(backend.events),
	)
	defer store.Close()

	if cfg.UserID != "" {
		uid, _ := cfg.ParsedUserID()
		if !store.SetUserID(uid) {
			return fmt.Errorf("store user id %d", uid)
		}
	}

	if cfg.CatalogPath != "" {
		if err := importCatalog(store, cfg.CatalogPath); err != nil {
			return err
		}
	}

	scheduler, err := schedulePull(ctx, store, cfg.Sync)
	if err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      newMux(&api{store: store, ready: backend.ready, metrics: metrics.Handler(reg)}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "backend", cfg.Storage.Backend, "endpoint", gateway.Endpoint())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func retryOptions(c config.SyncConfig) retry.Options {
	if c.MaxRetries == 0 {
		return retry.DisableRetries()
	}
	return retry.Options{MaxRetries: c.MaxRetries, RetryDelay: c.RetryDelay}
}

// backend is the opened durable store with its health check and cleanup.
type backend struct {
	kv      storage.KV
	ready   func(ctx context.Context) error
	events  academy.EventLogger
	closers []io.Closer
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			slog.Warn("close backend", "error", err)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return &backend{kv: storage.NewMemoryKV()}, nil

	case config.BackendFile:
		kv, err := storage.NewFileKV(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
		return &backend{kv: kv, closers: []io.Closer{kv}}, nil

	case config.BackendRedis:
		c, err := cache.New(ctx, cfg.Cache.URL, cfg.Cache.Namespace)
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		kv, err := storage.NewRedisKV(c)
		if err != nil {
			c.Close()
			return nil, err
		}
		return &backend{kv: kv, ready: c.HealthCheck, closers: []io.Closer{c, kv}}, nil

	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		dbCloser := closerFunc(func() error { db.Close(); return nil })
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		kv, err := storage.NewPostgresKV(db.Pool)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{
			kv:      kv,
			ready:   db.HealthCheck,
			events:  academy.NewPostgresEventLogger(db.Pool),
			closers: []io.Closer{dbCloser, kv},
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func importCatalog(store *academy.Store, dir string) error {
	loader, err := catalog.NewLoader()
	if err != nil {
		return err
	}
	bundles, err := loader.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	catalog.Import(store, bundles)
	return nil
}

// schedulePull registers the periodic snapshot pull. It returns nil when no
// schedule is configured.
func schedulePull(ctx context.Context, store *academy.Store, c config.SyncConfig) (*cron.Cron, error) {
	if c.PullSchedule == "" {
		return nil, nil
	}
	sched := cron.New()
	_, err := sched.AddFunc(c.PullSchedule, func() {
		pullCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		defer cancel()
		if _, err := store.Pull(pullCtx); err != nil {
			slog.Warn("scheduled pull failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule pull %q: %w", c.PullSchedule, err)
	}
	return sched, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/sorn-tracker/internal/app"
	"github.com/angelmondragon/sorn-tracker/internal/cron"
	"github.com/angelmondragon/sorn-tracker/pkg/config"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/migrate"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox"
	"github.com/angelmondragon/sorn-tracker/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	lock, closeLock, err := buildLock(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	defer closeLock()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	components, err := app.Build(cfg, logg, dbClient, promRegistry, app.Options{})
	if err != nil {
		logg.Error(context.Background(), "failed to wire lifecycle engines", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, components)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	logg.Info(logg.WithField(context.Background(), "jobs", registry.Names()), "cron jobs registered")

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  components.CronMetrics,
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"channels":    components.Channels,
	})

	if *once {
		logg.Info(ctx, "running cron jobs once")
		service.RunOnce(ctx)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(gctx, "starting cron worker")
		return service.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildLock prefers Redis so several workers can share a schedule; without
// it jobs are only serialised inside this process.
func buildLock(ctx context.Context, cfg *config.Config, logg *logger.Logger) (cron.Lock, func(), error) {
	if !cfg.Redis.Enabled {
		logg.Warn(ctx, "redis disabled; using in-process cron lock")
		return cron.NewLocalLock(), func() {}, nil
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}
	lock, err := cron.NewRedisLock(client, client.LockPrefix()+":"+envOrLocal(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return lock, closeFn, nil
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, c *app.Components) (*cron.Registry, error) {
	reconcile, err := cron.NewReconcileJob(cron.BatchJobParams{Logger: logg, Engine: c.Reconciler})
	if err != nil {
		return nil, err
	}
	retry, err := cron.NewRetryJob(cron.BatchJobParams{Logger: logg, Engine: c.Retry})
	if err != nil {
		return nil, err
	}
	archive, err := cron.NewArchiveJob(cron.SweepJobParams{Logger: logg, Sweeper: c.Sweeper})
	if err != nil {
		return nil, err
	}
	prune, err := cron.NewPruneJob(cron.SweepJobParams{Logger: logg, Sweeper: c.Sweeper})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   c.Outbox,
		DLQ:          outbox.NewDLQRepository(dbClient.DB()),
		Retention:    cfg.Outbox.Retention,
		DLQRetention: cfg.Outbox.DLQRetention,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, entry := range []cron.Entry{
		{Job: reconcile, Every: cfg.Cron.ReconcileInterval},
		{Job: retry, Every: cfg.Cron.RetryInterval},
		{Job: archive, Every: cfg.Cron.ArchiveInterval},
		{Job: prune, Every: cfg.Cron.PruneInterval},
		{Job: outboxRetention, Every: cfg.Cron.PruneInterval},
	} {
		if err := registry.Register(entry.Job, entry.Every); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

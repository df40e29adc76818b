package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-platform/capsync/internal/app"
	"github.com/meridian-platform/capsync/internal/assignment"
	"github.com/meridian-platform/capsync/internal/authz"
	"github.com/meridian-platform/capsync/internal/catalog"
	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/observability"
	"github.com/meridian-platform/capsync/internal/permcache"
	"github.com/meridian-platform/capsync/internal/platform/cache"
	"github.com/meridian-platform/capsync/internal/platform/db"
	"github.com/meridian-platform/capsync/internal/platform/httpx"
	"github.com/meridian-platform/capsync/internal/policy"
	"github.com/meridian-platform/capsync/internal/reconcile"
	"github.com/meridian-platform/capsync/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "capsync-worker")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(pool)
	resolver := endpoints.NewResolver(catalogRepo)
	store := assignment.NewStore(pool)
	policyRepo := policy.NewRepository(pool)
	permAPI := authz.NewClient(cfg.AuthzBaseURL, cfg.AuthzAPIToken, cfg.AuthzTimeout, logger)

	reconciler := reconcile.NewReconciler(catalogRepo, store, resolver, policyRepo, permAPI, jobClient, logger)

	cacheStore := permcache.NewRedisStore(redisClient)
	evictor := permcache.NewEvictor(cacheStore, metrics, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:  asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:     logger,
		Reconciler: reconciler,
		Evictor:    evictor,
		Metrics:    metrics,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Unhealthy", err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting worker")
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shut down")
}

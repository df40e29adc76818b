package main

import (
	"context"
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
	"github.com/meridian-platform/capsync/internal/directory"
	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/merge"
	"github.com/meridian-platform/capsync/internal/observability"
	"github.com/meridian-platform/capsync/internal/pending"
	"github.com/meridian-platform/capsync/internal/permcache"
	"github.com/meridian-platform/capsync/internal/platform/cache"
	"github.com/meridian-platform/capsync/internal/platform/db"
	"github.com/meridian-platform/capsync/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "capsync-api")

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

	metrics := observability.NewMetrics()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, jobClient, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	resolver := endpoints.NewResolver(catalogRepo)
	dir := directory.NewRepository(pool)
	store := assignment.NewStore(pool)
	permAPI := authz.NewClient(cfg.AuthzBaseURL, cfg.AuthzAPIToken, cfg.AuthzTimeout, logger)

	services := make(map[assignment.PrincipalKind]map[assignment.TargetKind]*assignment.Service)
	for _, pk := range []assignment.PrincipalKind{assignment.PrincipalRole, assignment.PrincipalUser} {
		services[pk] = make(map[assignment.TargetKind]*assignment.Service)
		instrumented := authz.Instrument(permAPI, metrics, string(pk))
		for _, tk := range []assignment.TargetKind{assignment.TargetCapability, assignment.TargetCapabilitySet} {
			services[pk][tk] = assignment.NewService(pk, tk, store, catalogRepo, resolver, dir, instrumented, jobClient, logger)
		}
	}

	cacheStore := permcache.NewRedisStore(redisClient)
	expander := permcache.NewExpander(cacheStore, store, resolver, cfg.PermissionCacheTTL, logger)
	assignmentHandler := assignment.NewHandler(logger, services, expander)

	pendingRepo := pending.NewRepository(pool)
	mergeService := merge.NewService(catalogRepo, store, pendingRepo, jobClient, logger)
	mergeHandler := merge.NewHandler(logger, mergeService, cfg.AdminTokenHash)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		CatalogHandler:    catalogHandler,
		AssignmentHandler: assignmentHandler,
		MergeHandler:      mergeHandler,
		Metrics:           metrics,
		HealthCheck: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}

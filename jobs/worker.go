package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-platform/capsync/internal/authz"
	"github.com/meridian-platform/capsync/internal/permcache"
	"github.com/meridian-platform/capsync/internal/reconcile"
	"github.com/meridian-platform/capsync/internal/shared"
)

// Worker wraps the Asynq server that drains catalog-change and
// eviction tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// ReconcileMetrics counts reconciliation failures handed back to the
// queue for retry.
type ReconcileMetrics interface {
	ReconcileError()
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts  asynq.RedisClientOpt
	Logger     *slog.Logger
	Reconciler *reconcile.Reconciler
	Evictor    *permcache.Evictor
	Metrics    ReconcileMetrics
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Reconciler == nil {
		return nil, errors.New("worker: reconciler required")
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	w := &Worker{server: srv, mux: asynq.NewServeMux(), logger: cfg.Logger}

	handle := func(ctx context.Context, ev reconcile.Event) error {
		if err := cfg.Reconciler.Handle(ctx, ev); err != nil {
			if cfg.Metrics != nil {
				cfg.Metrics.ReconcileError()
			}
			return classify(err)
		}
		return nil
	}

	w.mux.HandleFunc(TaskCapabilityUpdated, func(ctx context.Context, t *asynq.Task) error {
		var p CapabilityUpdatedPayload
		if err := unmarshal(t, &p); err != nil {
			return err
		}
		ctx = shared.ContextWithTenant(ctx, p.Tenant)
		return handle(ctx, reconcile.CapabilityUpdated{Old: p.Old, New: p.New})
	})
	w.mux.HandleFunc(TaskCapabilityDeleted, func(ctx context.Context, t *asynq.Task) error {
		var p CapabilityDeletedPayload
		if err := unmarshal(t, &p); err != nil {
			return err
		}
		ctx = shared.ContextWithTenant(ctx, p.Tenant)
		return handle(ctx, reconcile.CapabilityDeleted{Target: p.Target})
	})
	w.mux.HandleFunc(TaskCapabilitySetUpdated, func(ctx context.Context, t *asynq.Task) error {
		var p CapabilitySetUpdatedPayload
		if err := unmarshal(t, &p); err != nil {
			return err
		}
		ctx = shared.ContextWithTenant(ctx, p.Tenant)
		return handle(ctx, reconcile.CapabilitySetUpdated{Old: p.Old, New: p.New})
	})
	w.mux.HandleFunc(TaskCapabilitySetDeleted, func(ctx context.Context, t *asynq.Task) error {
		var p CapabilitySetDeletedPayload
		if err := unmarshal(t, &p); err != nil {
			return err
		}
		ctx = shared.ContextWithTenant(ctx, p.Tenant)
		return handle(ctx, reconcile.CapabilitySetDeleted{Target: p.Target})
	})
	w.mux.HandleFunc(TaskPrincipalPermissionsChanged, func(ctx context.Context, t *asynq.Task) error {
		var p PrincipalPermissionsChangedPayload
		if err := unmarshal(t, &p); err != nil {
			return err
		}
		ctx = shared.ContextWithTenant(ctx, p.Tenant)
		if cfg.Evictor != nil {
			cfg.Evictor.EvictOne(ctx, p.PrincipalID)
		}
		return nil
	})
	w.mux.HandleFunc(TaskTenantPermissionsChanged, func(ctx context.Context, t *asynq.Task) error {
		var p TenantPermissionsChangedPayload
		if err := unmarshal(t, &p); err != nil {
			return err
		}
		ctx = shared.ContextWithTenant(ctx, p.Tenant)
		if cfg.Evictor != nil {
			cfg.Evictor.EvictTenant(ctx)
		}
		return nil
	})

	return w, nil
}

// classify drops reconciliation errors the queue cannot retry away: a
// terminal authorization-server rejection stays terminal.
func classify(err error) error {
	var remote *authz.RemoteError
	if errors.As(err, &remote) && !remote.Retryable() {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// unmarshal decodes a task payload. Malformed payloads will never
// succeed on retry, so they are dropped.
func unmarshal(t *asynq.Task, out any) error {
	if err := json.Unmarshal(t.Payload(), out); err != nil {
		return fmt.Errorf("%s: decode payload: %w: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

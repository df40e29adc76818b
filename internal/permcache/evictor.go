package permcache

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/shared"
)

// EvictionRecorder counts swallowed eviction failures, since they
// surface nowhere else.
type EvictionRecorder interface {
	EvictionFailure()
}

// Evictor invalidates cached permission expansions. Every path is
// best-effort: a blank tenant, a missing store, or a store failure
// degrades to a logged no-op and never reaches the triggering
// operation.
type Evictor struct {
	store    Store
	recorder EvictionRecorder
	logger   *slog.Logger
}

// NewEvictor constructs an Evictor. recorder may be nil.
func NewEvictor(store Store, recorder EvictionRecorder, logger *slog.Logger) *Evictor {
	return &Evictor{store: store, recorder: recorder, logger: logger}
}

func (e *Evictor) recordFailure() {
	if e.recorder != nil {
		e.recorder.EvictionFailure()
	}
}

// EvictOne drops the current tenant's cached expansion for one
// principal.
func (e *Evictor) EvictOne(ctx context.Context, principalID uuid.UUID) {
	if e == nil || e.store == nil {
		return
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == "" {
		return
	}
	if err := e.store.Evict(ctx, Key(tenantID, principalID)); err != nil {
		e.recordFailure()
		e.logger.Warn("permission cache eviction failed",
			slog.String("tenant", tenantID),
			slog.String("principal_id", principalID.String()),
			slog.Any("error", err))
	}
}

// EvictTenant drops every cached expansion of the current tenant.
func (e *Evictor) EvictTenant(ctx context.Context) {
	if e == nil || e.store == nil {
		return
	}
	tenantID := shared.TenantFromContext(ctx)
	if tenantID == "" {
		return
	}
	if err := e.store.EvictByPrefix(ctx, TenantPrefix(tenantID)); err != nil {
		e.recordFailure()
		e.logger.Warn("tenant permission cache eviction failed",
			slog.String("tenant", tenantID),
			slog.Any("error", err))
	}
}

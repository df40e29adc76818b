package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-platform/capsync/internal/assignment"
	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/shared"
)

// Expander is the read-through path: it computes a principal's expanded
// endpoint list from live assignments and caches it per tenant until an
// eviction invalidates it.
type Expander struct {
	cache    Store
	store    assignment.Store
	resolver *endpoints.Resolver
	ttl      time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

var _ assignment.Expander = (*Expander)(nil)

// NewExpander constructs an Expander.
func NewExpander(cache Store, store assignment.Store, resolver *endpoints.Resolver, ttl time.Duration, logger *slog.Logger) *Expander {
	return &Expander{cache: cache, store: store, resolver: resolver, ttl: ttl, logger: logger}
}

// Permissions returns every endpoint the principal holds through live
// assignments of both shapes. Cache failures degrade to a recompute.
func (x *Expander) Permissions(ctx context.Context, pk assignment.PrincipalKind, principalID uuid.UUID) ([]endpoints.Endpoint, error) {
	tenantID := shared.TenantFromContext(ctx)
	key := ""
	if tenantID != "" && x.cache != nil {
		key = Key(tenantID, principalID)
		if data, err := x.cache.Get(ctx, key); err == nil {
			var cached []endpoints.Endpoint
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
			x.logger.Warn("discarding undecodable cache entry", slog.String("key", key))
		} else if !errors.Is(err, ErrMiss) {
			x.logger.Warn("permission cache read failed", slog.String("key", key), slog.Any("error", err))
		}
	}

	// Concurrent misses for the same principal share one recompute.
	result, err, _ := x.group.Do(string(pk)+":"+tenantID+":"+principalID.String(), func() (any, error) {
		held, err := assignment.AssignedEndpoints(ctx, x.store, x.resolver, pk, principalID, endpoints.TargetRefs{})
		if err != nil {
			return nil, fmt.Errorf("expand permissions: %w", err)
		}
		expanded := held.List()

		if key != "" {
			if data, err := json.Marshal(expanded); err == nil {
				if err := x.cache.Set(ctx, key, data, x.ttl); err != nil {
					x.logger.Warn("permission cache write failed", slog.String("key", key), slog.Any("error", err))
				}
			}
		}
		return expanded, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]endpoints.Endpoint), nil
}

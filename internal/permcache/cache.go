// Package permcache holds the process-wide cache of expanded principal
// permissions, keyed per tenant, and the evictor that invalidates it.
package permcache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMiss indicates the key is not cached.
var ErrMiss = errors.New("permcache: miss")

// Store is the key-value abstraction behind the cache. One long-lived
// implementation is created at process start and injected wherever
// needed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
	EvictByPrefix(ctx context.Context, prefix string) error
}

// Key builds the cache key for a principal's expanded permissions in a
// tenant. The tenant prefix is what tenant-wide eviction matches on.
func Key(tenantID string, principalID uuid.UUID) string {
	return tenantID + ":" + principalID.String()
}

// TenantPrefix is the shared prefix of every key in a tenant.
func TenantPrefix(tenantID string) string {
	return tenantID + ":"
}

package jobs

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-platform/capsync/internal/catalog"
	"github.com/meridian-platform/capsync/internal/shared"
)

// Client submits catalog-change and eviction tasks to the queue. It
// satisfies the catalog event publisher and the assignment notifier so
// services stay unaware of the transport.
type Client struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, logger *slog.Logger) *Client {
	return &Client{client: asynq.NewClient(redisOpts), logger: logger}
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, err error) error {
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	return err
}

// PublishCapabilityUpdated enqueues a capability redefinition for
// reconciliation.
func (c *Client) PublishCapabilityUpdated(ctx context.Context, old, updated catalog.Capability) error {
	task, err := NewCapabilityUpdatedTask(CapabilityUpdatedPayload{
		Tenant: shared.TenantFromContext(ctx),
		Old:    old,
		New:    updated,
	})
	return c.enqueue(ctx, task, err)
}

// PublishCapabilityDeleted enqueues a capability retirement.
func (c *Client) PublishCapabilityDeleted(ctx context.Context, target catalog.Capability) error {
	task, err := NewCapabilityDeletedTask(CapabilityDeletedPayload{
		Tenant: shared.TenantFromContext(ctx),
		Target: target,
	})
	return c.enqueue(ctx, task, err)
}

// PublishCapabilitySetUpdated enqueues a set membership change.
func (c *Client) PublishCapabilitySetUpdated(ctx context.Context, old, updated catalog.CapabilitySet) error {
	task, err := NewCapabilitySetUpdatedTask(CapabilitySetUpdatedPayload{
		Tenant: shared.TenantFromContext(ctx),
		Old:    old,
		New:    updated,
	})
	return c.enqueue(ctx, task, err)
}

// PublishCapabilitySetDeleted enqueues a set retirement.
func (c *Client) PublishCapabilitySetDeleted(ctx context.Context, target catalog.CapabilitySet) error {
	task, err := NewCapabilitySetDeletedTask(CapabilitySetDeletedPayload{
		Tenant: shared.TenantFromContext(ctx),
		Target: target,
	})
	return c.enqueue(ctx, task, err)
}

// PermissionsChanged enqueues a cache eviction for one principal.
// Eviction is advisory: failures are logged and swallowed so the
// triggering write never rolls back over a full queue.
func (c *Client) PermissionsChanged(ctx context.Context, principalKind string, principalID uuid.UUID) {
	task, err := NewPrincipalPermissionsChangedTask(PrincipalPermissionsChangedPayload{
		Tenant:        shared.TenantFromContext(ctx),
		PrincipalKind: principalKind,
		PrincipalID:   principalID,
	})
	if err = c.enqueue(ctx, task, err); err != nil && c.logger != nil {
		c.logger.Warn("enqueue permissions changed",
			slog.String("principal_kind", principalKind),
			slog.String("principal_id", principalID.String()),
			slog.Any("error", err))
	}
}

// TenantPermissionsChanged enqueues a tenant-wide cache eviction.
func (c *Client) TenantPermissionsChanged(ctx context.Context, tenant string) error {
	task, err := NewTenantPermissionsChangedTask(TenantPermissionsChangedPayload{Tenant: tenant})
	return c.enqueue(ctx, task, err)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

package shared

import (
	"context"
	"time"
)

// SystemActor is stamped on writes performed by background processes
// (reconciler, migrations) where no request identity is available.
const SystemActor = "system"

// AuditFields carries the created/updated stamps shared by all
// persisted assignment rows.
type AuditFields struct {
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedBy string    `json:"updated_by" db:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewAuditFields stamps fresh audit fields from the actor in context,
// falling back to SystemActor.
func NewAuditFields(ctx context.Context) AuditFields {
	actor := ActorFromContext(ctx)
	if actor == "" {
		actor = SystemActor
	}
	now := time.Now().UTC()
	return AuditFields{
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedBy: actor,
		UpdatedAt: now,
	}
}

// Package pending tracks permission records captured before their
// capability or capability-set materialized. The merge service repoints
// them; nothing deletes them here.
package pending

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PendingPermission is a not-yet-materialized permission record.
type PendingPermission struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	RoleID          uuid.UUID  `json:"role_id" db:"role_id"`
	PermissionName  string     `json:"permission_name" db:"permission_name"`
	CapabilityID    *uuid.UUID `json:"capability_id,omitempty" db:"capability_id"`
	CapabilitySetID *uuid.UUID `json:"capability_set_id,omitempty" db:"capability_set_id"`
}

// Repository repoints pending permission records during a merge.
type Repository interface {
	RepointCapability(ctx context.Context, oldID, newID uuid.UUID) (int64, error)
	RepointCapabilitySet(ctx context.Context, oldID, newID uuid.UUID) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) RepointCapability(ctx context.Context, oldID, newID uuid.UUID) (int64, error) {
	const query = `UPDATE pending_permissions SET capability_id = $2::uuid WHERE capability_id = $1::uuid`
	tag, err := r.pool.Exec(ctx, query, oldID.String(), newID.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) RepointCapabilitySet(ctx context.Context, oldID, newID uuid.UUID) (int64, error) {
	const query = `UPDATE pending_permissions SET capability_set_id = $2::uuid WHERE capability_set_id = $1::uuid`
	tag, err := r.pool.Exec(ctx, query, oldID.String(), newID.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

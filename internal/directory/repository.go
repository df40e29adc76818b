// Package directory answers principal existence questions against the
// platform's role and user records.
package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reports whether a principal exists. Assignment services use
// it to fail fast before touching rows.
type Directory interface {
	RoleExists(ctx context.Context, id uuid.UUID) (bool, error)
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Repository provides PostgreSQL backed lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RoleExists reports whether a role with the given id exists.
func (r *Repository) RoleExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1::uuid)`, id)
}

// UserExists reports whether a user with the given id exists.
func (r *Repository) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1::uuid)`, id)
}

func (r *Repository) exists(ctx context.Context, query string, id uuid.UUID) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, query, id.String()).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

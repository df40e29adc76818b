package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-platform/capsync/internal/platform/db"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type store struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL-backed assignment store.
func NewStore(pool *pgxpool.Pool) Store {
	return &store{db: pool, pool: pool}
}

func (s *store) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &store{db: tx, pool: s.pool})
	})
}

const assignmentColumns = `principal_id::text, target_id::text, created_by, created_at, updated_by, updated_at`

func scanAssignments(rows pgx.Rows, pk PrincipalKind, tk TargetKind) ([]Assignment, error) {
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var (
			a                      Assignment
			principalID, targetID  string
		)
		if err := rows.Scan(&principalID, &targetID, &a.CreatedBy, &a.CreatedAt, &a.UpdatedBy, &a.UpdatedAt); err != nil {
			return nil, err
		}
		pid, err := uuid.Parse(principalID)
		if err != nil {
			return nil, fmt.Errorf("assignment: parse principal id: %w", err)
		}
		tid, err := uuid.Parse(targetID)
		if err != nil {
			return nil, fmt.Errorf("assignment: parse target id: %w", err)
		}
		a.PrincipalKind, a.TargetKind = pk, tk
		a.PrincipalID, a.TargetID = pid, tid
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *store) List(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID uuid.UUID) ([]Assignment, error) {
	table, err := tableFor(pk, tk)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + assignmentColumns + ` FROM ` + table + ` WHERE principal_id = $1::uuid ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, principalID.String())
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows, pk, tk)
}

func (s *store) ListPage(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID uuid.UUID, limit, offset int) ([]Assignment, int, error) {
	table, err := tableFor(pk, tk)
	if err != nil {
		return nil, 0, err
	}
	var total int
	countQuery := `SELECT count(*) FROM ` + table + ` WHERE principal_id = $1::uuid`
	if err := s.db.QueryRow(ctx, countQuery, principalID.String()).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + assignmentColumns + ` FROM ` + table + ` WHERE principal_id = $1::uuid ORDER BY created_at LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, principalID.String(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	assignments, err := scanAssignments(rows, pk, tk)
	if err != nil {
		return nil, 0, err
	}
	return assignments, total, nil
}

func (s *store) ListByTarget(ctx context.Context, pk PrincipalKind, tk TargetKind, targetID uuid.UUID) ([]Assignment, error) {
	table, err := tableFor(pk, tk)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + assignmentColumns + ` FROM ` + table + ` WHERE target_id = $1::uuid ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, targetID.String())
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows, pk, tk)
}

func (s *store) Exists(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID, targetID uuid.UUID) (bool, error) {
	table, err := tableFor(pk, tk)
	if err != nil {
		return false, err
	}
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE principal_id = $1::uuid AND target_id = $2::uuid)`
	var ok bool
	if err := s.db.QueryRow(ctx, query, principalID.String(), targetID.String()).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *store) Insert(ctx context.Context, a Assignment) error {
	table, err := tableFor(a.PrincipalKind, a.TargetKind)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + table + ` (principal_id, target_id, created_by, created_at, updated_by, updated_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)`
	_, err = s.db.Exec(ctx, query,
		a.PrincipalID.String(), a.TargetID.String(),
		a.CreatedBy, a.CreatedAt, a.UpdatedBy, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s %s -> %s", ErrAlreadyExists, a.PrincipalKind, a.PrincipalID, a.TargetID)
		}
		return err
	}
	return nil
}

func (s *store) Delete(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID, targetID uuid.UUID) (bool, error) {
	table, err := tableFor(pk, tk)
	if err != nil {
		return false, err
	}
	query := `DELETE FROM ` + table + ` WHERE principal_id = $1::uuid AND target_id = $2::uuid`
	tag, err := s.db.Exec(ctx, query, principalID.String(), targetID.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *store) DeleteAll(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID uuid.UUID) (int64, error) {
	table, err := tableFor(pk, tk)
	if err != nil {
		return 0, err
	}
	query := `DELETE FROM ` + table + ` WHERE principal_id = $1::uuid`
	tag, err := s.db.Exec(ctx, query, principalID.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

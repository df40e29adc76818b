package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-platform/capsync/internal/assignment"
)

// Repository finds the policies whose principals are entitled through a
// given catalog target.
type Repository interface {
	FindRolePoliciesByTarget(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID) ([]Policy, error)
	FindUserPoliciesByTarget(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID) ([]Policy, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed policy repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

var assignmentTables = map[assignment.PrincipalKind]map[assignment.TargetKind]string{
	assignment.PrincipalRole: {
		assignment.TargetCapability:    "role_capabilities",
		assignment.TargetCapabilitySet: "role_capability_sets",
	},
	assignment.PrincipalUser: {
		assignment.TargetCapability:    "user_capabilities",
		assignment.TargetCapabilitySet: "user_capability_sets",
	},
}

func (r *repository) FindRolePoliciesByTarget(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID) ([]Policy, error) {
	return r.find(ctx, assignment.PrincipalRole, tk, targetID)
}

func (r *repository) FindUserPoliciesByTarget(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID) ([]Policy, error) {
	return r.find(ctx, assignment.PrincipalUser, tk, targetID)
}

// find returns each policy attached to a principal that holds an
// assignment on the target, with all of the policy's principal ids
// aggregated so callers can detect malformed rows.
func (r *repository) find(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, targetID uuid.UUID) ([]Policy, error) {
	assignTable, ok := assignmentTables[pk][tk]
	if !ok {
		return nil, fmt.Errorf("policy: unknown shape %s/%s", pk, tk)
	}
	policyTable, linkTable, linkColumn := "role_policies", "role_policy_roles", "role_id"
	if pk == assignment.PrincipalUser {
		policyTable, linkTable, linkColumn = "user_policies", "user_policy_users", "user_id"
	}

	query := `SELECT p.id::text, p.name, coalesce(array_agg(l.` + linkColumn + `::text) FILTER (WHERE l.` + linkColumn + ` IS NOT NULL), '{}')
		FROM ` + policyTable + ` p
		LEFT JOIN ` + linkTable + ` l ON l.policy_id = p.id
		WHERE p.id IN (
			SELECT l2.policy_id FROM ` + linkTable + ` l2
			JOIN ` + assignTable + ` a ON a.principal_id = l2.` + linkColumn + `
			WHERE a.target_id = $1::uuid
		)
		GROUP BY p.id, p.name
		ORDER BY p.name`

	rows, err := r.pool.Query(ctx, query, targetID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var (
			p       Policy
			id      string
			rawIDs  []string
		)
		if err := rows.Scan(&id, &p.Name, &rawIDs); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("policy: parse policy id: %w", err)
		}
		p.ID = parsed
		for _, raw := range rawIDs {
			principalID, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("policy: parse principal id: %w", err)
			}
			p.PrincipalIDs = append(p.PrincipalIDs, principalID)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package assignment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Store persists assignment rows. One table per principal/target shape,
// each keyed by (principal_id, target_id); the uniqueness constraint
// turns a lost create race into ErrAlreadyExists rather than a double
// grant.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	List(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID uuid.UUID) ([]Assignment, error)
	ListPage(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID uuid.UUID, limit, offset int) ([]Assignment, int, error)
	ListByTarget(ctx context.Context, pk PrincipalKind, tk TargetKind, targetID uuid.UUID) ([]Assignment, error)
	Exists(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID, targetID uuid.UUID) (bool, error)
	Insert(ctx context.Context, a Assignment) error
	Delete(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID, targetID uuid.UUID) (bool, error)
	DeleteAll(ctx context.Context, pk PrincipalKind, tk TargetKind, principalID uuid.UUID) (int64, error)
}

var tables = map[PrincipalKind]map[TargetKind]string{
	PrincipalRole: {
		TargetCapability:    "role_capabilities",
		TargetCapabilitySet: "role_capability_sets",
	},
	PrincipalUser: {
		TargetCapability:    "user_capabilities",
		TargetCapabilitySet: "user_capability_sets",
	},
}

func tableFor(pk PrincipalKind, tk TargetKind) (string, error) {
	name, ok := tables[pk][tk]
	if !ok {
		return "", fmt.Errorf("assignment: unknown shape %s/%s", pk, tk)
	}
	return name, nil
}

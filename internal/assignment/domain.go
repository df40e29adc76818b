// Package assignment owns the mapping between principals (roles, users)
// and catalog targets (capabilities, capability-sets) and derives the
// grant/revoke deltas every mutation sends to the authorization server.
package assignment

import (
	"errors"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/shared"
)

var (
	// ErrNotFound indicates the principal or a referenced target does not exist.
	ErrNotFound = errors.New("assignment: not found")
	// ErrAlreadyExists indicates the composite (principal, target) row exists.
	ErrAlreadyExists = errors.New("assignment: already exists")
	// ErrInvalidArgument indicates a malformed request (empty target list).
	ErrInvalidArgument = errors.New("assignment: invalid argument")
)

// PrincipalKind discriminates the principal side of an assignment.
type PrincipalKind string

// TargetKind discriminates the catalog side of an assignment.
type TargetKind string

const (
	PrincipalRole PrincipalKind = "role"
	PrincipalUser PrincipalKind = "user"

	TargetCapability    TargetKind = "capability"
	TargetCapabilitySet TargetKind = "capability_set"
)

// Other returns the complementary target kind.
func (k TargetKind) Other() TargetKind {
	if k == TargetCapability {
		return TargetCapabilitySet
	}
	return TargetCapability
}

// Key is the composite identity of an assignment row.
type Key struct {
	PrincipalID uuid.UUID
	TargetID    uuid.UUID
}

// Assignment is one principal↔target row. Its existence is the source
// of truth for "this principal should hold every endpoint of this
// target"; the authorization-server grant is a derived projection.
type Assignment struct {
	PrincipalKind PrincipalKind `json:"principal_kind"`
	TargetKind    TargetKind    `json:"target_kind"`
	PrincipalID   uuid.UUID     `json:"principal_id"`
	TargetID      uuid.UUID     `json:"target_id"`
	shared.AuditFields
}

// Key returns the composite identity.
func (a Assignment) Key() Key {
	return Key{PrincipalID: a.PrincipalID, TargetID: a.TargetID}
}

// Package policy looks up the system-owned role and user policy handles
// that anchor authorization-server-side grants.
package policy

import "github.com/google/uuid"

// Policy is one role-policy or user-policy row with the principal ids
// attached to it. A well-formed policy resolves to exactly one
// principal; anything else is malformed and must be skipped, never
// acted on.
type Policy struct {
	ID           uuid.UUID
	Name         string
	PrincipalIDs []uuid.UUID
}

// PrincipalID returns the single principal id when the policy is
// well-formed.
func (p Policy) PrincipalID() (uuid.UUID, bool) {
	if len(p.PrincipalIDs) != 1 {
		return uuid.Nil, false
	}
	return p.PrincipalIDs[0], true
}

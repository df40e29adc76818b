// Package catalog owns the capability and capability-set definitions:
// the permission units the rest of the system assigns to principals.
package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/endpoints"
)

// Capability is an atomic permission unit tied to zero or more HTTP
// endpoints. Identity (id, name) is immutable; the endpoint list mutates
// when the owning module redefines it.
type Capability struct {
	ID             uuid.UUID            `json:"id" db:"id"`
	Name           string               `json:"name" db:"name"`
	PermissionName string               `json:"permission_name" db:"permission_name"`
	Dummy          bool                 `json:"dummy" db:"dummy"`
	Endpoints      []endpoints.Endpoint `json:"endpoints" db:"endpoints"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" db:"updated_at"`
}

// CapabilitySet is a named grouping of capabilities assignable as a unit.
// Member order is display-only; resolution treats members as a set.
type CapabilitySet struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Name          string      `json:"name" db:"name"`
	Dummy         bool        `json:"dummy" db:"dummy"`
	CapabilityIDs []uuid.UUID `json:"capability_ids"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// ContainsCapability reports whether the set lists the given member.
func (s CapabilitySet) ContainsCapability(id uuid.UUID) bool {
	for _, member := range s.CapabilityIDs {
		if member == id {
			return true
		}
	}
	return false
}

// CapabilityName derives the deterministic capability name for a
// resource/action pair. Owning modules submit definitions under this
// name; the merge service looks identities up by it.
func CapabilityName(resource, action string) string {
	return fmt.Sprintf("%s.%s", resource, action)
}

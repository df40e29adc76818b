// Package jobs defines the asynq task types that carry catalog-change
// and permission-changed events between the API process and the worker.
package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-platform/capsync/internal/catalog"
)

const (
	// QueueDefault is the queue every capsync task runs on.
	QueueDefault = "default"

	TaskCapabilityUpdated    = "catalog:capability_updated"
	TaskCapabilityDeleted    = "catalog:capability_deleted"
	TaskCapabilitySetUpdated = "catalog:capability_set_updated"
	TaskCapabilitySetDeleted = "catalog:capability_set_deleted"

	TaskPrincipalPermissionsChanged = "permissions:principal_changed"
	TaskTenantPermissionsChanged    = "permissions:tenant_changed"
)

// CapabilityUpdatedPayload carries a capability redefinition.
type CapabilityUpdatedPayload struct {
	Tenant string             `json:"tenant"`
	Old    catalog.Capability `json:"old"`
	New    catalog.Capability `json:"new"`
}

// CapabilityDeletedPayload carries a capability retirement.
type CapabilityDeletedPayload struct {
	Tenant string             `json:"tenant"`
	Target catalog.Capability `json:"target"`
}

// CapabilitySetUpdatedPayload carries a set membership change.
type CapabilitySetUpdatedPayload struct {
	Tenant string                `json:"tenant"`
	Old    catalog.CapabilitySet `json:"old"`
	New    catalog.CapabilitySet `json:"new"`
}

// CapabilitySetDeletedPayload carries a set retirement.
type CapabilitySetDeletedPayload struct {
	Tenant string                `json:"tenant"`
	Target catalog.CapabilitySet `json:"target"`
}

// PrincipalPermissionsChangedPayload invalidates one principal's cached
// permission expansion.
type PrincipalPermissionsChangedPayload struct {
	Tenant        string    `json:"tenant"`
	PrincipalKind string    `json:"principal_kind"`
	PrincipalID   uuid.UUID `json:"principal_id"`
}

// TenantPermissionsChangedPayload invalidates a whole tenant's cached
// expansions.
type TenantPermissionsChangedPayload struct {
	Tenant string `json:"tenant"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewCapabilityUpdatedTask constructs the task for a capability
// redefinition.
func NewCapabilityUpdatedTask(p CapabilityUpdatedPayload) (*asynq.Task, error) {
	return newTask(TaskCapabilityUpdated, p)
}

// NewCapabilityDeletedTask constructs the task for a capability
// retirement.
func NewCapabilityDeletedTask(p CapabilityDeletedPayload) (*asynq.Task, error) {
	return newTask(TaskCapabilityDeleted, p)
}

// NewCapabilitySetUpdatedTask constructs the task for a set membership
// change.
func NewCapabilitySetUpdatedTask(p CapabilitySetUpdatedPayload) (*asynq.Task, error) {
	return newTask(TaskCapabilitySetUpdated, p)
}

// NewCapabilitySetDeletedTask constructs the task for a set retirement.
func NewCapabilitySetDeletedTask(p CapabilitySetDeletedPayload) (*asynq.Task, error) {
	return newTask(TaskCapabilitySetDeleted, p)
}

// NewPrincipalPermissionsChangedTask constructs the eviction task for
// one principal.
func NewPrincipalPermissionsChangedTask(p PrincipalPermissionsChangedPayload) (*asynq.Task, error) {
	return newTask(TaskPrincipalPermissionsChanged, p)
}

// NewTenantPermissionsChangedTask constructs the tenant-wide eviction
// task.
func NewTenantPermissionsChangedTask(p TenantPermissionsChangedPayload) (*asynq.Task, error) {
	return newTask(TaskTenantPermissionsChanged, p)
}

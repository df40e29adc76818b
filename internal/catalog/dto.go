package catalog

import (
	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/endpoints"
)

// EndpointRequest is one HTTP endpoint in a capability definition.
type EndpointRequest struct {
	Method string `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Path   string `json:"path" validate:"required,startswith=/"`
}

// DefineCapabilityRequest is a capability definition submitted by its
// owning module.
type DefineCapabilityRequest struct {
	Resource       string            `json:"resource" validate:"required,max=100"`
	Action         string            `json:"action" validate:"required,max=100"`
	PermissionName string            `json:"permission_name" validate:"required,max=200"`
	Endpoints      []EndpointRequest `json:"endpoints" validate:"dive"`
}

// DefineSetRequest is a capability-set definition.
type DefineSetRequest struct {
	Name          string      `json:"name" validate:"required,max=200"`
	CapabilityIDs []uuid.UUID `json:"capability_ids" validate:"required,min=1,dive,required"`
}

// PlaceholderRequest reserves a capability name ahead of its real
// definition.
type PlaceholderRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (r DefineCapabilityRequest) toDefinition() CapabilityDefinition {
	eps := make([]endpoints.Endpoint, 0, len(r.Endpoints))
	for _, e := range r.Endpoints {
		eps = append(eps, endpoints.Endpoint{Method: e.Method, Path: e.Path})
	}
	return CapabilityDefinition{
		Resource:       r.Resource,
		Action:         r.Action,
		PermissionName: r.PermissionName,
		Endpoints:      eps,
	}
}

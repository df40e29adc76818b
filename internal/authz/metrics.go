package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/endpoints"
)

// Recorder counts grant and revoke calls per principal kind.
type Recorder interface {
	GrantSent(principalKind string)
	RevokeSent(principalKind string)
}

type instrumented struct {
	api  PermissionAPI
	rec  Recorder
	kind string
}

// Instrument wraps a PermissionAPI so every successful call is counted
// under the given principal kind. A nil recorder returns the API
// unchanged.
func Instrument(api PermissionAPI, rec Recorder, principalKind string) PermissionAPI {
	if rec == nil {
		return api
	}
	return &instrumented{api: api, rec: rec, kind: principalKind}
}

func (i *instrumented) CreatePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error {
	if err := i.api.CreatePermissions(ctx, principalID, eps); err != nil {
		return err
	}
	i.rec.GrantSent(i.kind)
	return nil
}

func (i *instrumented) DeletePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error {
	if err := i.api.DeletePermissions(ctx, principalID, eps); err != nil {
		return err
	}
	i.rec.RevokeSent(i.kind)
	return nil
}

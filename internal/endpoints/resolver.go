package endpoints

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TargetEndpoints loads the endpoint lists behind capability and
// capability-set identifiers. Implemented by the catalog repository;
// capability-set identifiers are expanded through their members.
type TargetEndpoints interface {
	CapabilityEndpoints(ctx context.Context, ids []uuid.UUID) ([]Endpoint, error)
	CapabilitySetEndpoints(ctx context.Context, ids []uuid.UUID) ([]Endpoint, error)
}

// TargetRefs names a group of catalog targets by kind.
type TargetRefs struct {
	CapabilityIDs    []uuid.UUID
	CapabilitySetIDs []uuid.UUID
}

// IsEmpty reports whether no targets are referenced.
func (r TargetRefs) IsEmpty() bool {
	return len(r.CapabilityIDs) == 0 && len(r.CapabilitySetIDs) == 0
}

// Resolver computes the endpoint set uniquely attributable to a group of
// include targets: everything they cover minus what the exclude targets
// cover minus an explicit exclusion list. It is stateless; all data comes
// from the catalog reader.
type Resolver struct {
	catalog TargetEndpoints
}

// NewResolver constructs a Resolver over the given catalog reader.
func NewResolver(catalog TargetEndpoints) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns include − exclude − explicitExclude as a set.
func (r *Resolver) Resolve(ctx context.Context, include, exclude TargetRefs, explicitExclude []Endpoint) (Set, error) {
	included, err := r.load(ctx, include)
	if err != nil {
		return nil, fmt.Errorf("resolve include targets: %w", err)
	}
	if len(included) == 0 {
		return included, nil
	}
	excluded, err := r.load(ctx, exclude)
	if err != nil {
		return nil, fmt.Errorf("resolve exclude targets: %w", err)
	}
	return included.Diff(excluded).Diff(NewSet(explicitExclude...)), nil
}

func (r *Resolver) load(ctx context.Context, refs TargetRefs) (Set, error) {
	out := make(Set)
	if len(refs.CapabilityIDs) > 0 {
		eps, err := r.catalog.CapabilityEndpoints(ctx, refs.CapabilityIDs)
		if err != nil {
			return nil, err
		}
		for _, ep := range eps {
			out.Add(ep)
		}
	}
	if len(refs.CapabilitySetIDs) > 0 {
		eps, err := r.catalog.CapabilitySetEndpoints(ctx, refs.CapabilitySetIDs)
		if err != nil {
			return nil, err
		}
		for _, ep := range eps {
			out.Add(ep)
		}
	}
	return out, nil
}

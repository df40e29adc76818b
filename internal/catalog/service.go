package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/endpoints"
)

// EventPublisher delivers catalog-change events to the reconciler. The
// caller persists the new definition first; the event replays the grant
// delta against every entitled principal asynchronously.
type EventPublisher interface {
	PublishCapabilityUpdated(ctx context.Context, old, updated Capability) error
	PublishCapabilityDeleted(ctx context.Context, target Capability) error
	PublishCapabilitySetUpdated(ctx context.Context, old, updated CapabilitySet) error
	PublishCapabilitySetDeleted(ctx context.Context, target CapabilitySet) error
}

// CapabilityDefinition is a module-submitted capability description.
type CapabilityDefinition struct {
	Resource       string
	Action         string
	PermissionName string
	Endpoints      []endpoints.Endpoint
}

// SetDefinition is a module-submitted capability-set description.
type SetDefinition struct {
	Name          string
	CapabilityIDs []uuid.UUID
}

// Service handles catalog definition intake and lookup.
type Service struct {
	repo   Repository
	events EventPublisher
	logger *slog.Logger
}

// NewService constructs a catalog Service.
func NewService(repo Repository, events EventPublisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, events: events, logger: logger}
}

// DefineCapability records a capability definition submitted by its
// owning module. A new name inserts; an existing name updates in place
// and publishes the endpoint delta for reconciliation. A placeholder
// record is replaced in place and treated as an update from an empty
// endpoint list.
func (s *Service) DefineCapability(ctx context.Context, def CapabilityDefinition) (*Capability, error) {
	if def.Resource == "" || def.Action == "" {
		return nil, errors.New("catalog: resource and action required")
	}
	name := CapabilityName(def.Resource, def.Action)

	existing, err := s.repo.CapabilityByNameAny(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup capability %s: %w", name, err)
	}
	if existing == nil {
		created := Capability{
			ID:             uuid.New(),
			Name:           name,
			PermissionName: def.PermissionName,
			Endpoints:      def.Endpoints,
		}
		if err := s.repo.InsertCapability(ctx, created); err != nil {
			return nil, fmt.Errorf("insert capability %s: %w", name, err)
		}
		return &created, nil
	}

	old := *existing
	if !old.Dummy && old.PermissionName == def.PermissionName && endpointsEqual(old.Endpoints, def.Endpoints) {
		return existing, nil
	}

	updated := old
	updated.Dummy = false
	updated.PermissionName = def.PermissionName
	updated.Endpoints = def.Endpoints
	if err := s.repo.UpdateCapability(ctx, updated); err != nil {
		return nil, fmt.Errorf("update capability %s: %w", name, err)
	}

	before := old
	if old.Dummy {
		// A placeholder granted nothing; replay as growth from empty.
		before.Endpoints = nil
	}
	if err := s.events.PublishCapabilityUpdated(ctx, before, updated); err != nil {
		return nil, fmt.Errorf("publish capability update %s: %w", name, err)
	}
	return &updated, nil
}

// DeleteCapability publishes the deletion event for a capability. The
// reconciler revokes grants, detaches assignments and set memberships,
// and retires the definition.
func (s *Service) DeleteCapability(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.CapabilityByID(ctx, id)
	if err != nil {
		return err
	}
	return s.events.PublishCapabilityDeleted(ctx, *c)
}

// DefineSet records a capability-set definition. Member ids must exist.
func (s *Service) DefineSet(ctx context.Context, def SetDefinition) (*CapabilitySet, error) {
	if def.Name == "" {
		return nil, errors.New("catalog: set name required")
	}
	missing, err := s.repo.MissingCapabilityIDs(ctx, def.CapabilityIDs)
	if err != nil {
		return nil, fmt.Errorf("check set members: %w", err)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: capabilities %v", ErrNotFound, missing)
	}

	existing, err := s.repo.SetByNameAny(ctx, def.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup capability set %s: %w", def.Name, err)
	}
	if existing == nil {
		created := CapabilitySet{
			ID:            uuid.New(),
			Name:          def.Name,
			CapabilityIDs: def.CapabilityIDs,
		}
		if err := s.repo.InsertSet(ctx, created); err != nil {
			return nil, fmt.Errorf("insert capability set %s: %w", def.Name, err)
		}
		return &created, nil
	}

	old := *existing
	if !old.Dummy && memberSetsEqual(old.CapabilityIDs, def.CapabilityIDs) {
		return existing, nil
	}

	updated := old
	updated.Dummy = false
	updated.CapabilityIDs = def.CapabilityIDs
	if err := s.repo.UpdateSetMembers(ctx, updated); err != nil {
		return nil, fmt.Errorf("update capability set %s: %w", def.Name, err)
	}

	before := old
	if old.Dummy {
		before.CapabilityIDs = nil
	}
	if err := s.events.PublishCapabilitySetUpdated(ctx, before, updated); err != nil {
		return nil, fmt.Errorf("publish capability set update %s: %w", def.Name, err)
	}
	return &updated, nil
}

// DeleteSet publishes the deletion event for a capability set.
func (s *Service) DeleteSet(ctx context.Context, id uuid.UUID) error {
	set, err := s.repo.SetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.events.PublishCapabilitySetDeleted(ctx, *set)
}

// CreateCapabilityPlaceholder inserts a dummy record for a name whose
// real definition has not arrived yet. Placeholders are excluded from
// default lookups and grant nothing.
func (s *Service) CreateCapabilityPlaceholder(ctx context.Context, name string) (*Capability, error) {
	if name == "" {
		return nil, errors.New("catalog: capability name required")
	}
	created := Capability{ID: uuid.New(), Name: name, Dummy: true}
	if err := s.repo.InsertCapability(ctx, created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Capabilities looks up non-placeholder capabilities by name.
func (s *Service) Capabilities(ctx context.Context, names []string) ([]Capability, error) {
	return s.repo.CapabilitiesByNames(ctx, names)
}

// CapabilitySets looks up non-placeholder sets by id.
func (s *Service) CapabilitySets(ctx context.Context, ids []uuid.UUID) ([]CapabilitySet, error) {
	return s.repo.SetsByIDs(ctx, ids)
}

func endpointsEqual(a, b []endpoints.Endpoint) bool {
	sa, sb := endpoints.NewSet(a...), endpoints.NewSet(b...)
	return len(sa.Diff(sb)) == 0 && len(sb.Diff(sa)) == 0
}

func memberSetsEqual(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

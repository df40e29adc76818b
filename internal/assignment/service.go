package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/authz"
	"github.com/meridian-platform/capsync/internal/directory"
	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/shared"
)

// CatalogLookup is the slice of the catalog needed for target
// validation.
type CatalogLookup interface {
	MissingCapabilityIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	MissingSetIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

// Notifier receives fire-and-forget permission-changed signals used for
// cache eviction. Implementations must never return; failures are theirs
// to log.
type Notifier interface {
	PermissionsChanged(ctx context.Context, principalKind string, principalID uuid.UUID)
}

// Service orchestrates assignment mutations for one principal/target
// shape. The same implementation serves all four shapes; construct one
// per (PrincipalKind, TargetKind) pair.
type Service struct {
	pk          PrincipalKind
	tk          TargetKind
	store       Store
	catalog     CatalogLookup
	resolver    *endpoints.Resolver
	directory   directory.Directory
	permissions authz.PermissionAPI
	notifier    Notifier
	logger      *slog.Logger
}

// NewService constructs a Service for the given shape.
func NewService(
	pk PrincipalKind,
	tk TargetKind,
	store Store,
	catalog CatalogLookup,
	resolver *endpoints.Resolver,
	dir directory.Directory,
	permissions authz.PermissionAPI,
	notifier Notifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		pk:          pk,
		tk:          tk,
		store:       store,
		catalog:     catalog,
		resolver:    resolver,
		directory:   dir,
		permissions: permissions,
		notifier:    notifier,
		logger:      logger,
	}
}

// AssignedEndpoints returns every endpoint the principal currently holds
// through live assignments of both shapes, minus the targets named for
// exclusion. This is the exclusive-ownership baseline for every delta
// computation.
func AssignedEndpoints(
	ctx context.Context,
	store Store,
	resolver *endpoints.Resolver,
	pk PrincipalKind,
	principalID uuid.UUID,
	exclude endpoints.TargetRefs,
) (endpoints.Set, error) {
	refs, err := assignedRefs(ctx, store, pk, principalID, exclude)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(ctx, refs, endpoints.TargetRefs{}, nil)
}

func assignedRefs(
	ctx context.Context,
	store Store,
	pk PrincipalKind,
	principalID uuid.UUID,
	exclude endpoints.TargetRefs,
) (endpoints.TargetRefs, error) {
	excludedCaps := idSet(exclude.CapabilityIDs)
	excludedSets := idSet(exclude.CapabilitySetIDs)

	var refs endpoints.TargetRefs
	caps, err := store.List(ctx, pk, TargetCapability, principalID)
	if err != nil {
		return refs, fmt.Errorf("list %s capabilities: %w", pk, err)
	}
	for _, a := range caps {
		if _, skip := excludedCaps[a.TargetID]; !skip {
			refs.CapabilityIDs = append(refs.CapabilityIDs, a.TargetID)
		}
	}
	sets, err := store.List(ctx, pk, TargetCapabilitySet, principalID)
	if err != nil {
		return refs, fmt.Errorf("list %s capability sets: %w", pk, err)
	}
	for _, a := range sets {
		if _, skip := excludedSets[a.TargetID]; !skip {
			refs.CapabilitySetIDs = append(refs.CapabilitySetIDs, a.TargetID)
		}
	}
	return refs, nil
}

// Create assigns the targets to the principal and grants the endpoints
// this principal gains through them. In safe mode already-assigned
// targets are silently dropped; otherwise the first conflict fails the
// call before any row is written.
func (s *Service) Create(ctx context.Context, principalID uuid.UUID, targetIDs []uuid.UUID, safe bool) ([]Assignment, error) {
	if len(targetIDs) == 0 {
		return nil, fmt.Errorf("%w: no target ids given", ErrInvalidArgument)
	}
	if err := s.checkPrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	if err := s.checkTargets(ctx, targetIDs); err != nil {
		return nil, err
	}

	current, err := s.store.List(ctx, s.pk, s.tk, principalID)
	if err != nil {
		return nil, err
	}
	assigned := make(map[uuid.UUID]struct{}, len(current))
	for _, a := range current {
		assigned[a.TargetID] = struct{}{}
	}

	var toCreate []uuid.UUID
	seen := make(map[uuid.UUID]struct{}, len(targetIDs))
	for _, id := range targetIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := assigned[id]; ok {
			if safe {
				continue
			}
			return nil, fmt.Errorf("%w: target %s", ErrAlreadyExists, id)
		}
		toCreate = append(toCreate, id)
	}
	if len(toCreate) == 0 {
		return []Assignment{}, nil
	}

	// Grant only what is not already covered by the principal's other
	// live assignments of either shape.
	held, err := AssignedEndpoints(ctx, s.store, s.resolver, s.pk, principalID, endpoints.TargetRefs{})
	if err != nil {
		return nil, err
	}
	grant, err := s.resolver.Resolve(ctx, s.refs(toCreate), endpoints.TargetRefs{}, held.List())
	if err != nil {
		return nil, err
	}

	created := make([]Assignment, 0, len(toCreate))
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		for _, id := range toCreate {
			a := Assignment{
				PrincipalKind: s.pk,
				TargetKind:    s.tk,
				PrincipalID:   principalID,
				TargetID:      id,
				AuditFields:   shared.NewAuditFields(ctx),
			}
			if err := tx.Insert(ctx, a); err != nil {
				return err
			}
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(grant) > 0 {
		if err := s.permissions.CreatePermissions(ctx, principalID, grant.List()); err != nil {
			return nil, fmt.Errorf("grant endpoints: %w", err)
		}
	}
	s.notifyChanged(ctx, principalID)
	return created, nil
}

// Update replaces the principal's targets of this shape with targetIDs.
// An empty diff is a successful no-op. Grants are applied before revokes
// so an endpoint moving between a removed and an added target is never
// momentarily ungranted.
func (s *Service) Update(ctx context.Context, principalID uuid.UUID, targetIDs []uuid.UUID) ([]Assignment, error) {
	if err := s.checkPrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	current, err := s.store.List(ctx, s.pk, s.tk, principalID)
	if err != nil {
		return nil, err
	}
	currentIDs := make(map[uuid.UUID]struct{}, len(current))
	for _, a := range current {
		currentIDs[a.TargetID] = struct{}{}
	}
	requested := idSet(targetIDs)

	var added, removed, kept []uuid.UUID
	for id := range requested {
		if _, ok := currentIDs[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range currentIDs {
		if _, ok := requested[id]; ok {
			kept = append(kept, id)
		} else {
			removed = append(removed, id)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return current, nil
	}
	if err := s.checkTargets(ctx, added); err != nil {
		return nil, err
	}

	held, err := assignedRefs(ctx, s.store, s.pk, principalID, endpoints.TargetRefs{})
	if err != nil {
		return nil, err
	}
	// Grants run before revokes, so the removed targets still cover their
	// endpoints at grant time: the baseline is everything currently held.
	grant, err := s.resolver.Resolve(ctx, s.refs(added), held, nil)
	if err != nil {
		return nil, err
	}
	keptAndAdded := merge(s.refs(append(append([]uuid.UUID{}, kept...), added...)), withoutSameShape(held, s.tk))
	revoke, err := s.resolver.Resolve(ctx, s.refs(removed), keptAndAdded, nil)
	if err != nil {
		return nil, err
	}

	var inserted []Assignment
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		for _, id := range added {
			a := Assignment{
				PrincipalKind: s.pk,
				TargetKind:    s.tk,
				PrincipalID:   principalID,
				TargetID:      id,
				AuditFields:   shared.NewAuditFields(ctx),
			}
			if err := tx.Insert(ctx, a); err != nil {
				return err
			}
			inserted = append(inserted, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(grant) > 0 {
		if err := s.permissions.CreatePermissions(ctx, principalID, grant.List()); err != nil {
			return nil, fmt.Errorf("grant endpoints: %w", err)
		}
	}
	if len(revoke) > 0 {
		if err := s.permissions.DeletePermissions(ctx, principalID, revoke.List()); err != nil {
			return nil, fmt.Errorf("revoke endpoints: %w", err)
		}
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		for _, id := range removed {
			if _, err := tx.Delete(ctx, s.pk, s.tk, principalID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyChanged(ctx, principalID)

	result := inserted
	for _, a := range current {
		if _, ok := requested[a.TargetID]; ok {
			result = append(result, a)
		}
	}
	return result, nil
}

// Delete removes a single assignment and revokes the endpoints the
// principal held exclusively through it. A missing row is a no-op, not
// an error: deletion is idempotent by design.
func (s *Service) Delete(ctx context.Context, principalID, targetID uuid.UUID) error {
	exists, err := s.store.Exists(ctx, s.pk, s.tk, principalID, targetID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	remaining, err := AssignedEndpoints(ctx, s.store, s.resolver, s.pk, principalID, s.refs([]uuid.UUID{targetID}))
	if err != nil {
		return err
	}
	revoke, err := s.resolver.Resolve(ctx, s.refs([]uuid.UUID{targetID}), endpoints.TargetRefs{}, remaining.List())
	if err != nil {
		return err
	}

	if len(revoke) > 0 {
		if err := s.permissions.DeletePermissions(ctx, principalID, revoke.List()); err != nil {
			return fmt.Errorf("revoke endpoints: %w", err)
		}
	}
	if _, err := s.store.Delete(ctx, s.pk, s.tk, principalID, targetID); err != nil {
		return err
	}
	s.notifyChanged(ctx, principalID)
	return nil
}

// DeleteAll removes every assignment of this shape for the principal,
// revoking the endpoints not still covered by the complementary shape.
func (s *Service) DeleteAll(ctx context.Context, principalID uuid.UUID) error {
	if err := s.checkPrincipal(ctx, principalID); err != nil {
		return err
	}
	current, err := s.store.List(ctx, s.pk, s.tk, principalID)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return fmt.Errorf("%w: %s %s has no %s assignments", ErrNotFound, s.pk, principalID, s.tk)
	}
	removedIDs := make([]uuid.UUID, len(current))
	for i, a := range current {
		removedIDs[i] = a.TargetID
	}

	remaining, err := AssignedEndpoints(ctx, s.store, s.resolver, s.pk, principalID, s.refs(removedIDs))
	if err != nil {
		return err
	}
	revoke, err := s.resolver.Resolve(ctx, s.refs(removedIDs), endpoints.TargetRefs{}, remaining.List())
	if err != nil {
		return err
	}

	if len(revoke) > 0 {
		if err := s.permissions.DeletePermissions(ctx, principalID, revoke.List()); err != nil {
			return fmt.Errorf("revoke endpoints: %w", err)
		}
	}
	if _, err := s.store.DeleteAll(ctx, s.pk, s.tk, principalID); err != nil {
		return err
	}
	s.notifyChanged(ctx, principalID)
	return nil
}

// Find returns one page of the principal's assignments of this shape.
func (s *Service) Find(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]Assignment, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPage(ctx, s.pk, s.tk, principalID, limit, offset)
}

func (s *Service) checkPrincipal(ctx context.Context, principalID uuid.UUID) error {
	var (
		ok  bool
		err error
	)
	if s.pk == PrincipalRole {
		ok, err = s.directory.RoleExists(ctx, principalID)
	} else {
		ok, err = s.directory.UserExists(ctx, principalID)
	}
	if err != nil {
		return fmt.Errorf("check %s %s: %w", s.pk, principalID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, s.pk, principalID)
	}
	return nil
}

func (s *Service) checkTargets(ctx context.Context, targetIDs []uuid.UUID) error {
	if len(targetIDs) == 0 {
		return nil
	}
	var (
		missing []uuid.UUID
		err     error
	)
	if s.tk == TargetCapability {
		missing, err = s.catalog.MissingCapabilityIDs(ctx, targetIDs)
	} else {
		missing, err = s.catalog.MissingSetIDs(ctx, targetIDs)
	}
	if err != nil {
		return fmt.Errorf("check targets: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %ss %v", ErrNotFound, s.tk, missing)
	}
	return nil
}

func (s *Service) refs(ids []uuid.UUID) endpoints.TargetRefs {
	if s.tk == TargetCapability {
		return endpoints.TargetRefs{CapabilityIDs: ids}
	}
	return endpoints.TargetRefs{CapabilitySetIDs: ids}
}

func (s *Service) notifyChanged(ctx context.Context, principalID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	s.notifier.PermissionsChanged(ctx, string(s.pk), principalID)
}

func idSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func merge(a, b endpoints.TargetRefs) endpoints.TargetRefs {
	return endpoints.TargetRefs{
		CapabilityIDs:    append(append([]uuid.UUID{}, a.CapabilityIDs...), b.CapabilityIDs...),
		CapabilitySetIDs: append(append([]uuid.UUID{}, a.CapabilitySetIDs...), b.CapabilitySetIDs...),
	}
}

func withoutSameShape(refs endpoints.TargetRefs, tk TargetKind) endpoints.TargetRefs {
	if tk == TargetCapability {
		return endpoints.TargetRefs{CapabilitySetIDs: refs.CapabilitySetIDs}
	}
	return endpoints.TargetRefs{CapabilityIDs: refs.CapabilityIDs}
}

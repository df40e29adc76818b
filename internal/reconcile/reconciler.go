package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/assignment"
	"github.com/meridian-platform/capsync/internal/authz"
	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/policy"
)

// Catalog is the slice of the catalog repository the reconciler needs:
// member expansion for sets plus definition retirement.
type Catalog interface {
	endpoints.TargetEndpoints
	DeleteCapability(ctx context.Context, id uuid.UUID) error
	DeleteSet(ctx context.Context, id uuid.UUID) error
	RemoveCapabilityFromSets(ctx context.Context, capabilityID uuid.UUID) error
}

// Reconciler replays catalog-change deltas against entitled principals.
// Failures are isolated per principal: one principal's remote error
// never blocks the rest, and the joined error drives the event retry.
type Reconciler struct {
	catalog     Catalog
	store       assignment.Store
	resolver    *endpoints.Resolver
	policies    policy.Repository
	permissions authz.PermissionAPI
	notifier    assignment.Notifier
	logger      *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(
	cat Catalog,
	store assignment.Store,
	resolver *endpoints.Resolver,
	policies policy.Repository,
	permissions authz.PermissionAPI,
	notifier assignment.Notifier,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		catalog:     cat,
		store:       store,
		resolver:    resolver,
		policies:    policies,
		permissions: permissions,
		notifier:    notifier,
		logger:      logger,
	}
}

// Handle dispatches one catalog-change event.
func (r *Reconciler) Handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case CapabilityUpdated:
		return r.capabilityUpdated(ctx, e)
	case CapabilityDeleted:
		return r.capabilityDeleted(ctx, e)
	case CapabilitySetUpdated:
		return r.capabilitySetUpdated(ctx, e)
	case CapabilitySetDeleted:
		return r.capabilitySetDeleted(ctx, e)
	default:
		return fmt.Errorf("reconcile: unknown event type %T", ev)
	}
}

func (r *Reconciler) capabilityUpdated(ctx context.Context, ev CapabilityUpdated) error {
	oldSet := endpoints.NewSet(ev.Old.Endpoints...)
	newSet := endpoints.NewSet(ev.New.Endpoints...)
	added := newSet.Diff(oldSet)
	removed := oldSet.Diff(newSet)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return r.applyDelta(ctx, assignment.TargetCapability, ev.New.ID, added, removed)
}

func (r *Reconciler) capabilitySetUpdated(ctx context.Context, ev CapabilitySetUpdated) error {
	oldEPs, err := r.catalog.CapabilityEndpoints(ctx, ev.Old.CapabilityIDs)
	if err != nil {
		return fmt.Errorf("expand old members: %w", err)
	}
	newEPs, err := r.catalog.CapabilityEndpoints(ctx, ev.New.CapabilityIDs)
	if err != nil {
		return fmt.Errorf("expand new members: %w", err)
	}
	oldSet := endpoints.NewSet(oldEPs...)
	newSet := endpoints.NewSet(newEPs...)
	added := newSet.Diff(oldSet)
	removed := oldSet.Diff(newSet)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return r.applyDelta(ctx, assignment.TargetCapabilitySet, ev.New.ID, added, removed)
}

func (r *Reconciler) capabilityDeleted(ctx context.Context, ev CapabilityDeleted) error {
	owned := endpoints.NewSet(ev.Target.Endpoints...)
	errs := r.detachTarget(ctx, assignment.TargetCapability, ev.Target.ID, owned)
	if err := r.catalog.RemoveCapabilityFromSets(ctx, ev.Target.ID); err != nil {
		errs = append(errs, fmt.Errorf("remove capability from sets: %w", err))
	}
	if err := r.catalog.DeleteCapability(ctx, ev.Target.ID); err != nil {
		errs = append(errs, fmt.Errorf("delete capability definition: %w", err))
	}
	return errors.Join(errs...)
}

func (r *Reconciler) capabilitySetDeleted(ctx context.Context, ev CapabilitySetDeleted) error {
	eps, err := r.catalog.CapabilityEndpoints(ctx, ev.Target.CapabilityIDs)
	if err != nil {
		return fmt.Errorf("expand members: %w", err)
	}
	errs := r.detachTarget(ctx, assignment.TargetCapabilitySet, ev.Target.ID, endpoints.NewSet(eps...))
	if err := r.catalog.DeleteSet(ctx, ev.Target.ID); err != nil {
		errs = append(errs, fmt.Errorf("delete set definition: %w", err))
	}
	return errors.Join(errs...)
}

// applyDelta grants added−elsewhere and revokes removed−elsewhere for
// every principal entitled through the target, found via its policies.
func (r *Reconciler) applyDelta(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID, added, removed endpoints.Set) error {
	var errs []error
	for _, pk := range []assignment.PrincipalKind{assignment.PrincipalRole, assignment.PrincipalUser} {
		for _, principalID := range r.resolvePrincipals(ctx, pk, tk, targetID, &errs) {
			elsewhere, err := assignment.AssignedEndpoints(ctx, r.store, r.resolver, pk, principalID, excludeRefs(tk, targetID))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", pk, principalID, err))
				continue
			}
			grant := added.Diff(elsewhere)
			revoke := removed.Diff(elsewhere)
			if len(grant) > 0 {
				if err := r.permissions.CreatePermissions(ctx, principalID, grant.List()); err != nil {
					errs = append(errs, fmt.Errorf("%s %s: grant: %w", pk, principalID, err))
					continue
				}
			}
			if len(revoke) > 0 {
				if err := r.permissions.DeletePermissions(ctx, principalID, revoke.List()); err != nil {
					errs = append(errs, fmt.Errorf("%s %s: revoke: %w", pk, principalID, err))
					continue
				}
			}
			r.notify(ctx, pk, principalID)
		}
	}
	return errors.Join(errs...)
}

// detachTarget revokes each principal's exclusively-owned endpoints of
// the target and deletes the assignment row. On a revoke failure the row
// survives so the retry still finds the entitlement.
func (r *Reconciler) detachTarget(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID, owned endpoints.Set) []error {
	var errs []error
	for _, pk := range []assignment.PrincipalKind{assignment.PrincipalRole, assignment.PrincipalUser} {
		for _, principalID := range r.resolvePrincipals(ctx, pk, tk, targetID, &errs) {
			elsewhere, err := assignment.AssignedEndpoints(ctx, r.store, r.resolver, pk, principalID, excludeRefs(tk, targetID))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", pk, principalID, err))
				continue
			}
			revoke := owned.Diff(elsewhere)
			if len(revoke) > 0 {
				if err := r.permissions.DeletePermissions(ctx, principalID, revoke.List()); err != nil {
					errs = append(errs, fmt.Errorf("%s %s: revoke: %w", pk, principalID, err))
					continue
				}
			}
			if _, err := r.store.Delete(ctx, pk, tk, principalID, targetID); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: delete assignment: %w", pk, principalID, err))
				continue
			}
			r.notify(ctx, pk, principalID)
		}
	}
	return errs
}

// resolvePrincipals returns the deduplicated principal ids behind the
// target's policies, skipping malformed policies outright.
func (r *Reconciler) resolvePrincipals(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, targetID uuid.UUID, errs *[]error) []uuid.UUID {
	var (
		pols []policy.Policy
		err  error
	)
	if pk == assignment.PrincipalRole {
		pols, err = r.policies.FindRolePoliciesByTarget(ctx, tk, targetID)
	} else {
		pols, err = r.policies.FindUserPoliciesByTarget(ctx, tk, targetID)
	}
	if err != nil {
		*errs = append(*errs, fmt.Errorf("find %s policies for %s %s: %w", pk, tk, targetID, err))
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(pols))
	var out []uuid.UUID
	for _, pol := range pols {
		principalID, ok := pol.PrincipalID()
		if !ok {
			r.logger.Warn("skipping malformed policy",
				slog.String("policy", pol.Name),
				slog.Int("principal_ids", len(pol.PrincipalIDs)))
			continue
		}
		if _, dup := seen[principalID]; dup {
			continue
		}
		seen[principalID] = struct{}{}
		out = append(out, principalID)
	}
	return out
}

func (r *Reconciler) notify(ctx context.Context, pk assignment.PrincipalKind, principalID uuid.UUID) {
	if r.notifier == nil {
		return
	}
	r.notifier.PermissionsChanged(ctx, string(pk), principalID)
}

func excludeRefs(tk assignment.TargetKind, targetID uuid.UUID) endpoints.TargetRefs {
	if tk == assignment.TargetCapability {
		return endpoints.TargetRefs{CapabilityIDs: []uuid.UUID{targetID}}
	}
	return endpoints.TargetRefs{CapabilitySetIDs: []uuid.UUID{targetID}}
}

// Package merge repoints every assignment from a duplicate or renamed
// capability/capability-set identity to its replacement, then retires
// the old identity.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-platform/capsync/internal/assignment"
	"github.com/meridian-platform/capsync/internal/catalog"
	"github.com/meridian-platform/capsync/internal/pending"
	"github.com/meridian-platform/capsync/internal/shared"
)

// ErrInvalidArgument indicates a blank migration name.
var ErrInvalidArgument = errors.New("merge: invalid argument")

// MigrationError aggregates the principals whose assignments could not
// be repointed. Successful repoints are never rolled back.
type MigrationError struct {
	Failed []uuid.UUID
	Errs   []error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("merge: migration failed for %d principal(s): %v", len(e.Failed), errors.Join(e.Errs...))
}

func (e *MigrationError) Unwrap() []error {
	return e.Errs
}

// Notifier invalidates cached permission expansions after a migration.
// Per-principal invalidation covers repointed assignments; the
// tenant-wide sweep covers pending-permission repoints, which carry no
// principal to target.
type Notifier interface {
	PermissionsChanged(ctx context.Context, principalKind string, principalID uuid.UUID)
	TenantPermissionsChanged(ctx context.Context, tenant string) error
}

// Service performs name-based identity migrations.
type Service struct {
	catalog  catalog.Repository
	store    assignment.Store
	pending  pending.Repository
	notifier Notifier
	logger   *slog.Logger
}

// NewService constructs a merge Service.
func NewService(cat catalog.Repository, store assignment.Store, pend pending.Repository, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{catalog: cat, store: store, pending: pend, notifier: notifier, logger: logger}
}

// Migrate moves every assignment and pending permission record from the
// identity behind oldName to the one behind newName, independently on
// the capability axis and the capability-set axis, then deletes the old
// definitions. Each new assignment is created before its old one is
// deleted so no principal ever loses its grant. Running the same pair
// twice is a no-op the second time.
func (s *Service) Migrate(ctx context.Context, oldName, newName string) error {
	oldName = strings.TrimSpace(oldName)
	newName = strings.TrimSpace(newName)
	if oldName == "" || newName == "" {
		return fmt.Errorf("%w: old and new names are required", ErrInvalidArgument)
	}

	var (
		failed []uuid.UUID
		errs   []error
	)

	oldCap, err := s.capabilityByName(ctx, oldName)
	if err != nil {
		return err
	}
	if oldCap != nil {
		newCap, err := s.capabilityByName(ctx, newName)
		if err != nil {
			return err
		}
		if newCap == nil {
			s.logger.Warn("capability axis skipped: new name does not resolve",
				slog.String("old", oldName), slog.String("new", newName))
		} else {
			clean := s.migrateAxis(ctx, assignment.TargetCapability, oldCap.ID, newCap.ID, &failed, &errs)
			if clean {
				if _, err := s.pending.RepointCapability(ctx, oldCap.ID, newCap.ID); err != nil {
					errs = append(errs, fmt.Errorf("repoint pending capability permissions: %w", err))
				} else if err := s.catalog.DeleteCapability(ctx, oldCap.ID); err != nil {
					errs = append(errs, fmt.Errorf("delete old capability: %w", err))
				}
			}
		}
	}

	oldSet, err := s.setByName(ctx, oldName)
	if err != nil {
		return err
	}
	if oldSet != nil {
		newSet, err := s.setByName(ctx, newName)
		if err != nil {
			return err
		}
		if newSet == nil {
			s.logger.Warn("capability-set axis skipped: new name does not resolve",
				slog.String("old", oldName), slog.String("new", newName))
		} else {
			clean := s.migrateAxis(ctx, assignment.TargetCapabilitySet, oldSet.ID, newSet.ID, &failed, &errs)
			if clean {
				if _, err := s.pending.RepointCapabilitySet(ctx, oldSet.ID, newSet.ID); err != nil {
					errs = append(errs, fmt.Errorf("repoint pending set permissions: %w", err))
				} else if err := s.catalog.DeleteSet(ctx, oldSet.ID); err != nil {
					errs = append(errs, fmt.Errorf("delete old capability set: %w", err))
				}
			}
		}
	}

	if len(errs) > 0 {
		return &MigrationError{Failed: failed, Errs: errs}
	}
	if s.notifier != nil {
		if tenant := shared.TenantFromContext(ctx); tenant != "" {
			if err := s.notifier.TenantPermissionsChanged(ctx, tenant); err != nil {
				s.logger.Warn("tenant cache eviction enqueue failed",
					slog.String("tenant", tenant), slog.Any("error", err))
			}
		}
	}
	return nil
}

// migrateAxis repoints one axis for both principal kinds and reports
// whether every principal succeeded. Failed principals keep their old
// assignment so a rerun can finish the job.
func (s *Service) migrateAxis(ctx context.Context, tk assignment.TargetKind, oldID, newID uuid.UUID, failed *[]uuid.UUID, errs *[]error) bool {
	clean := true
	for _, pk := range []assignment.PrincipalKind{assignment.PrincipalRole, assignment.PrincipalUser} {
		rows, err := s.store.ListByTarget(ctx, pk, tk, oldID)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("list %s assignments for %s: %w", pk, oldID, err))
			clean = false
			continue
		}
		for _, row := range rows {
			repointed := row
			repointed.TargetID = newID
			repointed.AuditFields = shared.NewAuditFields(ctx)
			if err := s.store.Insert(ctx, repointed); err != nil && !errors.Is(err, assignment.ErrAlreadyExists) {
				*failed = append(*failed, row.PrincipalID)
				*errs = append(*errs, fmt.Errorf("%s %s: create new assignment: %w", pk, row.PrincipalID, err))
				clean = false
				continue
			}
			if _, err := s.store.Delete(ctx, pk, tk, row.PrincipalID, oldID); err != nil {
				*failed = append(*failed, row.PrincipalID)
				*errs = append(*errs, fmt.Errorf("%s %s: delete old assignment: %w", pk, row.PrincipalID, err))
				clean = false
				continue
			}
			if s.notifier != nil {
				s.notifier.PermissionsChanged(ctx, string(pk), row.PrincipalID)
			}
		}
	}
	return clean
}

func (s *Service) capabilityByName(ctx context.Context, name string) (*catalog.Capability, error) {
	c, err := s.catalog.CapabilityByName(ctx, name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup capability %s: %w", name, err)
	}
	return c, nil
}

func (s *Service) setByName(ctx context.Context, name string) (*catalog.CapabilitySet, error) {
	set, err := s.catalog.SetByName(ctx, name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup capability set %s: %w", name, err)
	}
	return set, nil
}

package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-platform/capsync/internal/assignment"
	"github.com/meridian-platform/capsync/internal/catalog"
	"github.com/meridian-platform/capsync/internal/shared"
)

// ============================================================================
// FAKES
// ============================================================================

// fakeCatalogRepo implements only the lookups and deletions the merge
// service touches; the embedded interface panics on anything else.
type fakeCatalogRepo struct {
	catalog.Repository

	capabilities map[string]catalog.Capability
	sets         map[string]catalog.CapabilitySet

	deletedCapabilities []uuid.UUID
	deletedSets         []uuid.UUID
}

func (f *fakeCatalogRepo) CapabilityByName(ctx context.Context, name string) (*catalog.Capability, error) {
	c, ok := f.capabilities[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCatalogRepo) SetByName(ctx context.Context, name string) (*catalog.CapabilitySet, error) {
	s, ok := f.sets[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &s, nil
}

func (f *fakeCatalogRepo) DeleteCapability(ctx context.Context, id uuid.UUID) error {
	for name, c := range f.capabilities {
		if c.ID == id {
			delete(f.capabilities, name)
		}
	}
	f.deletedCapabilities = append(f.deletedCapabilities, id)
	return nil
}

func (f *fakeCatalogRepo) DeleteSet(ctx context.Context, id uuid.UUID) error {
	for name, s := range f.sets {
		if s.ID == id {
			delete(f.sets, name)
		}
	}
	f.deletedSets = append(f.deletedSets, id)
	return nil
}

type storeOp struct {
	op          string
	principalID uuid.UUID
	targetID    uuid.UUID
}

type fakeStore struct {
	rows []assignment.Assignment
	ops  []storeOp

	insertErrFor map[uuid.UUID]error
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(context.Context, assignment.Store) error) error {
	return fn(ctx, f)
}

func (f *fakeStore) List(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID uuid.UUID) ([]assignment.Assignment, error) {
	return nil, nil
}

func (f *fakeStore) ListPage(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID uuid.UUID, limit, offset int) ([]assignment.Assignment, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) ListByTarget(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, targetID uuid.UUID) ([]assignment.Assignment, error) {
	var out []assignment.Assignment
	for _, a := range f.rows {
		if a.PrincipalKind == pk && a.TargetKind == tk && a.TargetID == targetID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) Exists(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID, targetID uuid.UUID) (bool, error) {
	for _, a := range f.rows {
		if a.PrincipalKind == pk && a.TargetKind == tk && a.PrincipalID == principalID && a.TargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Insert(ctx context.Context, a assignment.Assignment) error {
	if err := f.insertErrFor[a.PrincipalID]; err != nil {
		return err
	}
	if ok, _ := f.Exists(ctx, a.PrincipalKind, a.TargetKind, a.PrincipalID, a.TargetID); ok {
		return assignment.ErrAlreadyExists
	}
	f.rows = append(f.rows, a)
	f.ops = append(f.ops, storeOp{op: "insert", principalID: a.PrincipalID, targetID: a.TargetID})
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID, targetID uuid.UUID) (bool, error) {
	for i, a := range f.rows {
		if a.PrincipalKind == pk && a.TargetKind == tk && a.PrincipalID == principalID && a.TargetID == targetID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			f.ops = append(f.ops, storeOp{op: "delete", principalID: principalID, targetID: targetID})
			return true, nil
		}
	}
	f.ops = append(f.ops, storeOp{op: "delete", principalID: principalID, targetID: targetID})
	return false, nil
}

func (f *fakeStore) DeleteAll(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID uuid.UUID) (int64, error) {
	return 0, nil
}

type fakePending struct {
	capabilityRepoints [][2]uuid.UUID
	setRepoints        [][2]uuid.UUID
}

func (f *fakePending) RepointCapability(ctx context.Context, oldID, newID uuid.UUID) (int64, error) {
	f.capabilityRepoints = append(f.capabilityRepoints, [2]uuid.UUID{oldID, newID})
	return 1, nil
}

func (f *fakePending) RepointCapabilitySet(ctx context.Context, oldID, newID uuid.UUID) (int64, error) {
	f.setRepoints = append(f.setRepoints, [2]uuid.UUID{oldID, newID})
	return 1, nil
}

type recordingNotifier struct {
	notified      []uuid.UUID
	tenantEvicted []string
}

func (r *recordingNotifier) PermissionsChanged(ctx context.Context, principalKind string, principalID uuid.UUID) {
	r.notified = append(r.notified, principalID)
}

func (r *recordingNotifier) TenantPermissionsChanged(ctx context.Context, tenant string) error {
	r.tenantEvicted = append(r.tenantEvicted, tenant)
	return nil
}

// ============================================================================
// FIXTURE
// ============================================================================

type fixture struct {
	catalog  *fakeCatalogRepo
	store    *fakeStore
	pending  *fakePending
	notifier *recordingNotifier
	service  *Service

	oldCapID uuid.UUID
	newCapID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &fakeCatalogRepo{
			capabilities: map[string]catalog.Capability{},
			sets:         map[string]catalog.CapabilitySet{},
		},
		store:    &fakeStore{insertErrFor: map[uuid.UUID]error{}},
		pending:  &fakePending{},
		notifier: &recordingNotifier{},
		oldCapID: uuid.New(),
		newCapID: uuid.New(),
	}
	f.catalog.capabilities["orders:read:v1"] = catalog.Capability{ID: f.oldCapID, Name: "orders:read:v1"}
	f.catalog.capabilities["orders:read"] = catalog.Capability{ID: f.newCapID, Name: "orders:read"}
	f.service = NewService(f.catalog, f.store, f.pending, f.notifier, slog.Default())
	return f
}

func (f *fixture) assignRole(roleID, targetID uuid.UUID) {
	f.store.rows = append(f.store.rows, assignment.Assignment{
		PrincipalKind: assignment.PrincipalRole,
		TargetKind:    assignment.TargetCapability,
		PrincipalID:   roleID,
		TargetID:      targetID,
	})
}

// ============================================================================
// TESTS
// ============================================================================

func TestMigrateRejectsBlankNames(t *testing.T) {
	f := newFixture(t)
	err := f.service.Migrate(context.Background(), "  ", "orders:read")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	err = f.service.Migrate(context.Background(), "orders:read:v1", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMigrateRepointsCreateBeforeDelete(t *testing.T) {
	f := newFixture(t)
	roleID := uuid.New()
	f.assignRole(roleID, f.oldCapID)

	err := f.service.Migrate(context.Background(), "orders:read:v1", "orders:read")
	require.NoError(t, err)

	require.Len(t, f.store.ops, 2)
	assert.Equal(t, storeOp{op: "insert", principalID: roleID, targetID: f.newCapID}, f.store.ops[0])
	assert.Equal(t, storeOp{op: "delete", principalID: roleID, targetID: f.oldCapID}, f.store.ops[1])

	assert.Equal(t, [][2]uuid.UUID{{f.oldCapID, f.newCapID}}, f.pending.capabilityRepoints)
	assert.Equal(t, []uuid.UUID{f.oldCapID}, f.catalog.deletedCapabilities)
	assert.Equal(t, []uuid.UUID{roleID}, f.notifier.notified)
}

func TestMigrateSecondRunIsNoop(t *testing.T) {
	f := newFixture(t)
	f.assignRole(uuid.New(), f.oldCapID)

	require.NoError(t, f.service.Migrate(context.Background(), "orders:read:v1", "orders:read"))
	opsAfterFirst := len(f.store.ops)

	// The old definition is gone, so the second run has nothing to do.
	require.NoError(t, f.service.Migrate(context.Background(), "orders:read:v1", "orders:read"))
	assert.Len(t, f.store.ops, opsAfterFirst)
	assert.Len(t, f.catalog.deletedCapabilities, 1)
	assert.Len(t, f.pending.capabilityRepoints, 1)
}

func TestMigrateToleratesExistingNewAssignment(t *testing.T) {
	f := newFixture(t)
	roleID := uuid.New()
	f.assignRole(roleID, f.oldCapID)
	f.assignRole(roleID, f.newCapID)

	err := f.service.Migrate(context.Background(), "orders:read:v1", "orders:read")
	require.NoError(t, err)

	// The duplicate insert is absorbed; the old row is still removed and
	// the old definition retired.
	assert.Len(t, f.store.rows, 1)
	assert.Equal(t, f.newCapID, f.store.rows[0].TargetID)
	assert.Equal(t, []uuid.UUID{f.oldCapID}, f.catalog.deletedCapabilities)
}

func TestMigrateSkipsAxisWhenNewNameUnknown(t *testing.T) {
	f := newFixture(t)
	delete(f.catalog.capabilities, "orders:read")
	f.assignRole(uuid.New(), f.oldCapID)

	err := f.service.Migrate(context.Background(), "orders:read:v1", "orders:read")
	require.NoError(t, err)

	assert.Empty(t, f.store.ops)
	assert.Empty(t, f.catalog.deletedCapabilities)
	assert.Empty(t, f.pending.capabilityRepoints)
}

func TestMigratePartialFailureKeepsOldDefinition(t *testing.T) {
	f := newFixture(t)
	healthy := uuid.New()
	broken := uuid.New()
	f.assignRole(healthy, f.oldCapID)
	f.assignRole(broken, f.oldCapID)
	f.store.insertErrFor[broken] = fmt.Errorf("connection reset")

	err := f.service.Migrate(context.Background(), "orders:read:v1", "orders:read")
	require.Error(t, err)

	var migErr *MigrationError
	require.True(t, errors.As(err, &migErr))
	assert.Equal(t, []uuid.UUID{broken}, migErr.Failed)

	// The failed principal keeps its old row for a rerun; the definition
	// and pending records stay put until the axis is clean.
	ok, _ := f.store.Exists(context.Background(), assignment.PrincipalRole, assignment.TargetCapability, broken, f.oldCapID)
	assert.True(t, ok)
	ok, _ = f.store.Exists(context.Background(), assignment.PrincipalRole, assignment.TargetCapability, healthy, f.newCapID)
	assert.True(t, ok)
	assert.Empty(t, f.catalog.deletedCapabilities)
	assert.Empty(t, f.pending.capabilityRepoints)
}

func TestMigrateSweepsTenantCacheWhenClean(t *testing.T) {
	f := newFixture(t)
	f.assignRole(uuid.New(), f.oldCapID)
	ctx := shared.ContextWithTenant(context.Background(), "acme")

	require.NoError(t, f.service.Migrate(ctx, "orders:read:v1", "orders:read"))
	assert.Equal(t, []string{"acme"}, f.notifier.tenantEvicted)
}

func TestMigrateSkipsTenantSweepOnPartialFailure(t *testing.T) {
	f := newFixture(t)
	broken := uuid.New()
	f.assignRole(broken, f.oldCapID)
	f.store.insertErrFor[broken] = fmt.Errorf("connection reset")
	ctx := shared.ContextWithTenant(context.Background(), "acme")

	require.Error(t, f.service.Migrate(ctx, "orders:read:v1", "orders:read"))
	assert.Empty(t, f.notifier.tenantEvicted)
}

func TestMigrateHandlesBothAxesIndependently(t *testing.T) {
	f := newFixture(t)
	oldSetID := uuid.New()
	newSetID := uuid.New()
	f.catalog.sets["orders:read:v1"] = catalog.CapabilitySet{ID: oldSetID, Name: "orders:read:v1"}
	f.catalog.sets["orders:read"] = catalog.CapabilitySet{ID: newSetID, Name: "orders:read"}

	roleID := uuid.New()
	f.assignRole(roleID, f.oldCapID)
	f.store.rows = append(f.store.rows, assignment.Assignment{
		PrincipalKind: assignment.PrincipalRole,
		TargetKind:    assignment.TargetCapabilitySet,
		PrincipalID:   roleID,
		TargetID:      oldSetID,
	})

	err := f.service.Migrate(context.Background(), "orders:read:v1", "orders:read")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{f.oldCapID}, f.catalog.deletedCapabilities)
	assert.Equal(t, []uuid.UUID{oldSetID}, f.catalog.deletedSets)
	assert.Equal(t, [][2]uuid.UUID{{oldSetID, newSetID}}, f.pending.setRepoints)
}

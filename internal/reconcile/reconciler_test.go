package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-platform/capsync/internal/assignment"
	"github.com/meridian-platform/capsync/internal/catalog"
	"github.com/meridian-platform/capsync/internal/endpoints"
	"github.com/meridian-platform/capsync/internal/policy"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeCatalog struct {
	capabilities map[uuid.UUID][]endpoints.Endpoint
	sets         map[uuid.UUID][]endpoints.Endpoint

	lookups           int
	deletedCapability []uuid.UUID
	deletedSets       []uuid.UUID
	detachedFromSets  []uuid.UUID
}

func (f *fakeCatalog) CapabilityEndpoints(ctx context.Context, ids []uuid.UUID) ([]endpoints.Endpoint, error) {
	f.lookups++
	var out []endpoints.Endpoint
	for _, id := range ids {
		out = append(out, f.capabilities[id]...)
	}
	return out, nil
}

func (f *fakeCatalog) CapabilitySetEndpoints(ctx context.Context, ids []uuid.UUID) ([]endpoints.Endpoint, error) {
	f.lookups++
	var out []endpoints.Endpoint
	for _, id := range ids {
		out = append(out, f.sets[id]...)
	}
	return out, nil
}

func (f *fakeCatalog) DeleteCapability(ctx context.Context, id uuid.UUID) error {
	f.deletedCapability = append(f.deletedCapability, id)
	return nil
}

func (f *fakeCatalog) DeleteSet(ctx context.Context, id uuid.UUID) error {
	f.deletedSets = append(f.deletedSets, id)
	return nil
}

func (f *fakeCatalog) RemoveCapabilityFromSets(ctx context.Context, capabilityID uuid.UUID) error {
	f.detachedFromSets = append(f.detachedFromSets, capabilityID)
	return nil
}

type fakeStore struct {
	rows []assignment.Assignment
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(context.Context, assignment.Store) error) error {
	return fn(ctx, f)
}

func (f *fakeStore) List(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID uuid.UUID) ([]assignment.Assignment, error) {
	var out []assignment.Assignment
	for _, a := range f.rows {
		if a.PrincipalKind == pk && a.TargetKind == tk && a.PrincipalID == principalID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPage(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID uuid.UUID, limit, offset int) ([]assignment.Assignment, int, error) {
	all, _ := f.List(ctx, pk, tk, principalID)
	return all, len(all), nil
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
	f.rows = append(f.rows, a)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID, targetID uuid.UUID) (bool, error) {
	for i, a := range f.rows {
		if a.PrincipalKind == pk && a.TargetKind == tk && a.PrincipalID == principalID && a.TargetID == targetID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteAll(ctx context.Context, pk assignment.PrincipalKind, tk assignment.TargetKind, principalID uuid.UUID) (int64, error) {
	return 0, nil
}

type fakePolicies struct {
	rolePolicies map[uuid.UUID][]policy.Policy
	userPolicies map[uuid.UUID][]policy.Policy
	queries      int
}

func (f *fakePolicies) FindRolePoliciesByTarget(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID) ([]policy.Policy, error) {
	f.queries++
	return f.rolePolicies[targetID], nil
}

func (f *fakePolicies) FindUserPoliciesByTarget(ctx context.Context, tk assignment.TargetKind, targetID uuid.UUID) ([]policy.Policy, error) {
	f.queries++
	return f.userPolicies[targetID], nil
}

type permCall struct {
	op          string
	principalID uuid.UUID
	eps         []endpoints.Endpoint
}

type recordingPermissions struct {
	calls   []permCall
	failFor map[uuid.UUID]error
}

func (r *recordingPermissions) CreatePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error {
	if err := r.failFor[principalID]; err != nil {
		return err
	}
	r.calls = append(r.calls, permCall{op: "create", principalID: principalID, eps: eps})
	return nil
}

func (r *recordingPermissions) DeletePermissions(ctx context.Context, principalID uuid.UUID, eps []endpoints.Endpoint) error {
	if err := r.failFor[principalID]; err != nil {
		return err
	}
	r.calls = append(r.calls, permCall{op: "delete", principalID: principalID, eps: eps})
	return nil
}

type noopNotifier struct{}

func (noopNotifier) PermissionsChanged(ctx context.Context, principalKind string, principalID uuid.UUID) {
}

// ============================================================================
// FIXTURE
// ============================================================================

type fixture struct {
	catalog    *fakeCatalog
	store      *fakeStore
	policies   *fakePolicies
	perms      *recordingPermissions
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &fakeCatalog{
			capabilities: map[uuid.UUID][]endpoints.Endpoint{},
			sets:         map[uuid.UUID][]endpoints.Endpoint{},
		},
		store: &fakeStore{},
		policies: &fakePolicies{
			rolePolicies: map[uuid.UUID][]policy.Policy{},
			userPolicies: map[uuid.UUID][]policy.Policy{},
		},
		perms: &recordingPermissions{failFor: map[uuid.UUID]error{}},
	}
	resolver := endpoints.NewResolver(f.catalog)
	f.reconciler = NewReconciler(f.catalog, f.store, resolver, f.policies, f.perms, noopNotifier{}, slog.Default())
	return f
}

func (f *fixture) entitleRole(roleID, targetID uuid.UUID, tk assignment.TargetKind) {
	f.policies.rolePolicies[targetID] = append(f.policies.rolePolicies[targetID], policy.Policy{
		ID:           uuid.New(),
		Name:         "role policy",
		PrincipalIDs: []uuid.UUID{roleID},
	})
	f.store.rows = append(f.store.rows, assignment.Assignment{
		PrincipalKind: assignment.PrincipalRole,
		TargetKind:    tk,
		PrincipalID:   roleID,
		TargetID:      targetID,
	})
}

var (
	epList = endpoints.Endpoint{Method: "GET", Path: "/orders"}
	epGet  = endpoints.Endpoint{Method: "GET", Path: "/orders/{id}"}
	epPost = endpoints.Endpoint{Method: "POST", Path: "/orders"}
)

// ============================================================================
// TESTS
// ============================================================================

func TestCapabilityUpdatedNoopSkipsPolicyLookups(t *testing.T) {
	f := newFixture(t)
	capID := uuid.New()
	old := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList}}
	updated := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList}}

	err := f.reconciler.Handle(context.Background(), CapabilityUpdated{Old: old, New: updated})
	require.NoError(t, err)
	assert.Zero(t, f.policies.queries)
	assert.Empty(t, f.perms.calls)
}

func TestCapabilityUpdatedGrantsAndRevokesDelta(t *testing.T) {
	f := newFixture(t)
	capID := uuid.New()
	roleID := uuid.New()
	f.catalog.capabilities[capID] = []endpoints.Endpoint{epList, epPost}
	f.entitleRole(roleID, capID, assignment.TargetCapability)

	old := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList, epGet}}
	updated := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList, epPost}}

	err := f.reconciler.Handle(context.Background(), CapabilityUpdated{Old: old, New: updated})
	require.NoError(t, err)

	require.Len(t, f.perms.calls, 2)
	assert.Equal(t, "create", f.perms.calls[0].op)
	assert.Equal(t, []endpoints.Endpoint{epPost}, f.perms.calls[0].eps)
	assert.Equal(t, "delete", f.perms.calls[1].op)
	assert.Equal(t, []endpoints.Endpoint{epGet}, f.perms.calls[1].eps)
}

func TestCapabilityUpdatedSparesEndpointsHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	capID := uuid.New()
	otherCap := uuid.New()
	roleID := uuid.New()
	f.catalog.capabilities[capID] = []endpoints.Endpoint{epList}
	f.catalog.capabilities[otherCap] = []endpoints.Endpoint{epGet}
	f.entitleRole(roleID, capID, assignment.TargetCapability)
	f.store.rows = append(f.store.rows, assignment.Assignment{
		PrincipalKind: assignment.PrincipalRole,
		TargetKind:    assignment.TargetCapability,
		PrincipalID:   roleID,
		TargetID:      otherCap,
	})

	old := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList, epGet}}
	updated := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList}}

	err := f.reconciler.Handle(context.Background(), CapabilityUpdated{Old: old, New: updated})
	require.NoError(t, err)

	// epGet is still covered through otherCap, so nothing is revoked.
	assert.Empty(t, f.perms.calls)
}

func TestMalformedPolicyIsSkipped(t *testing.T) {
	f := newFixture(t)
	capID := uuid.New()
	roleID := uuid.New()
	f.catalog.capabilities[capID] = []endpoints.Endpoint{epList, epPost}
	f.entitleRole(roleID, capID, assignment.TargetCapability)
	f.policies.rolePolicies[capID] = append(f.policies.rolePolicies[capID], policy.Policy{
		ID:           uuid.New(),
		Name:         "broken policy",
		PrincipalIDs: []uuid.UUID{uuid.New(), uuid.New()},
	})

	old := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList}}
	updated := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList, epPost}}

	err := f.reconciler.Handle(context.Background(), CapabilityUpdated{Old: old, New: updated})
	require.NoError(t, err)

	// Only the well-formed policy's principal was touched.
	require.Len(t, f.perms.calls, 1)
	assert.Equal(t, roleID, f.perms.calls[0].principalID)
}

func TestPerPrincipalFailureIsolation(t *testing.T) {
	f := newFixture(t)
	capID := uuid.New()
	failing := uuid.New()
	healthy := uuid.New()
	f.catalog.capabilities[capID] = []endpoints.Endpoint{epList, epPost}
	f.entitleRole(failing, capID, assignment.TargetCapability)
	f.entitleRole(healthy, capID, assignment.TargetCapability)
	f.perms.failFor[failing] = errors.New("remote 503")

	old := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList}}
	updated := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList, epPost}}

	err := f.reconciler.Handle(context.Background(), CapabilityUpdated{Old: old, New: updated})
	require.Error(t, err)

	// The healthy principal was still processed.
	require.Len(t, f.perms.calls, 1)
	assert.Equal(t, healthy, f.perms.calls[0].principalID)
}

func TestCapabilitySetUpdatedExpandsMembers(t *testing.T) {
	f := newFixture(t)
	memberA := uuid.New()
	memberB := uuid.New()
	setID := uuid.New()
	roleID := uuid.New()
	f.catalog.capabilities[memberA] = []endpoints.Endpoint{epList}
	f.catalog.capabilities[memberB] = []endpoints.Endpoint{epPost}
	f.catalog.sets[setID] = []endpoints.Endpoint{epPost}
	f.entitleRole(roleID, setID, assignment.TargetCapabilitySet)

	old := catalog.CapabilitySet{ID: setID, CapabilityIDs: []uuid.UUID{memberA}}
	updated := catalog.CapabilitySet{ID: setID, CapabilityIDs: []uuid.UUID{memberB}}

	err := f.reconciler.Handle(context.Background(), CapabilitySetUpdated{Old: old, New: updated})
	require.NoError(t, err)

	require.Len(t, f.perms.calls, 2)
	assert.Equal(t, "create", f.perms.calls[0].op)
	assert.Equal(t, []endpoints.Endpoint{epPost}, f.perms.calls[0].eps)
	assert.Equal(t, "delete", f.perms.calls[1].op)
	assert.Equal(t, []endpoints.Endpoint{epList}, f.perms.calls[1].eps)
}

func TestCapabilityDeletedDetachesAndRetires(t *testing.T) {
	f := newFixture(t)
	capID := uuid.New()
	roleID := uuid.New()
	f.entitleRole(roleID, capID, assignment.TargetCapability)

	target := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList}}
	err := f.reconciler.Handle(context.Background(), CapabilityDeleted{Target: target})
	require.NoError(t, err)

	require.Len(t, f.perms.calls, 1)
	assert.Equal(t, "delete", f.perms.calls[0].op)
	assert.Empty(t, f.store.rows)
	assert.Equal(t, []uuid.UUID{capID}, f.catalog.detachedFromSets)
	assert.Equal(t, []uuid.UUID{capID}, f.catalog.deletedCapability)
}

func TestCapabilityDeletedKeepsRowOnRevokeFailure(t *testing.T) {
	f := newFixture(t)
	capID := uuid.New()
	roleID := uuid.New()
	f.entitleRole(roleID, capID, assignment.TargetCapability)
	f.perms.failFor[roleID] = errors.New("remote 502")

	target := catalog.Capability{ID: capID, Endpoints: []endpoints.Endpoint{epList}}
	err := f.reconciler.Handle(context.Background(), CapabilityDeleted{Target: target})
	require.Error(t, err)

	// The assignment row survives so a retry still finds it.
	assert.Len(t, f.store.rows, 1)
}

func TestCapabilitySetDeletedRetiresDefinition(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	setID := uuid.New()
	roleID := uuid.New()
	f.catalog.capabilities[member] = []endpoints.Endpoint{epList}
	f.entitleRole(roleID, setID, assignment.TargetCapabilitySet)

	target := catalog.CapabilitySet{ID: setID, CapabilityIDs: []uuid.UUID{member}}
	err := f.reconciler.Handle(context.Background(), CapabilitySetDeleted{Target: target})
	require.NoError(t, err)

	require.Len(t, f.perms.calls, 1)
	assert.Equal(t, []endpoints.Endpoint{epList}, f.perms.calls[0].eps)
	assert.Equal(t, []uuid.UUID{setID}, f.catalog.deletedSets)
	assert.Empty(t, f.store.rows)
}

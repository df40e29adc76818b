package endpoints

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	capabilities map[uuid.UUID][]Endpoint
	sets         map[uuid.UUID][]Endpoint
	err          error
}

func (f *fakeCatalog) CapabilityEndpoints(ctx context.Context, ids []uuid.UUID) ([]Endpoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Endpoint
	for _, id := range ids {
		out = append(out, f.capabilities[id]...)
	}
	return out, nil
}

func (f *fakeCatalog) CapabilitySetEndpoints(ctx context.Context, ids []uuid.UUID) ([]Endpoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Endpoint
	for _, id := range ids {
		out = append(out, f.sets[id]...)
	}
	return out, nil
}

var (
	epOrdersList  = Endpoint{Method: "GET", Path: "/orders"}
	epOrdersGet   = Endpoint{Method: "GET", Path: "/orders/{id}"}
	epOrdersPost  = Endpoint{Method: "POST", Path: "/orders"}
	epInvoiceList = Endpoint{Method: "GET", Path: "/invoices"}
)

func TestResolveIncludeMinusExclude(t *testing.T) {
	capA := uuid.New()
	capB := uuid.New()
	catalog := &fakeCatalog{capabilities: map[uuid.UUID][]Endpoint{
		capA: {epOrdersList, epOrdersGet, epOrdersPost},
		capB: {epOrdersGet},
	}}
	resolver := NewResolver(catalog)

	got, err := resolver.Resolve(context.Background(),
		TargetRefs{CapabilityIDs: []uuid.UUID{capA}},
		TargetRefs{CapabilityIDs: []uuid.UUID{capB}},
		nil)
	require.NoError(t, err)

	assert.True(t, got.Contains(epOrdersList))
	assert.True(t, got.Contains(epOrdersPost))
	assert.False(t, got.Contains(epOrdersGet))
}

func TestResolveExplicitExclusionList(t *testing.T) {
	capA := uuid.New()
	catalog := &fakeCatalog{capabilities: map[uuid.UUID][]Endpoint{
		capA: {epOrdersList, epOrdersPost},
	}}
	resolver := NewResolver(catalog)

	got, err := resolver.Resolve(context.Background(),
		TargetRefs{CapabilityIDs: []uuid.UUID{capA}},
		TargetRefs{},
		[]Endpoint{epOrdersPost})
	require.NoError(t, err)

	assert.Equal(t, []Endpoint{epOrdersList}, got.List())
}

func TestResolveExpandsSetMembers(t *testing.T) {
	setID := uuid.New()
	catalog := &fakeCatalog{sets: map[uuid.UUID][]Endpoint{
		setID: {epOrdersList, epInvoiceList},
	}}
	resolver := NewResolver(catalog)

	got, err := resolver.Resolve(context.Background(),
		TargetRefs{CapabilitySetIDs: []uuid.UUID{setID}},
		TargetRefs{},
		nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResolveEmptyIncludeSkipsExcludeLookup(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("catalog down")}
	resolver := NewResolver(catalog)

	got, err := resolver.Resolve(context.Background(), TargetRefs{}, TargetRefs{}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolvePropagatesCatalogError(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("catalog down")}
	resolver := NewResolver(catalog)

	_, err := resolver.Resolve(context.Background(),
		TargetRefs{CapabilityIDs: []uuid.UUID{uuid.New()}},
		TargetRefs{},
		nil)
	require.Error(t, err)
}

func TestSetListIsSortedAndDeduplicated(t *testing.T) {
	s := NewSet(epOrdersPost, epOrdersList, epOrdersList, epInvoiceList)
	list := s.List()

	require.Len(t, list, 3)
	assert.Equal(t, epInvoiceList, list[0])
	assert.Equal(t, epOrdersList, list[1])
	assert.Equal(t, epOrdersPost, list[2])
}

func TestSetDiffAndUnion(t *testing.T) {
	a := NewSet(epOrdersList, epOrdersGet)
	b := NewSet(epOrdersGet, epOrdersPost)

	diff := a.Diff(b)
	require.Len(t, diff, 1)
	assert.True(t, diff.Contains(epOrdersList))

	union := a.Union(b)
	assert.Len(t, union, 3)
}

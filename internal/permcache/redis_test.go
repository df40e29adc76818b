package permcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-platform/capsync/internal/shared"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := Key("acme", uuid.New())

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, key, []byte(`["x"]`), time.Minute))
	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`["x"]`), data)

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStoreEvict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("acme", uuid.New())

	require.NoError(t, store.Set(ctx, key, []byte("v"), 0))
	require.NoError(t, store.Evict(ctx, key))
	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	// Evicting an absent key is not an error.
	require.NoError(t, store.Evict(ctx, key))
}

func TestRedisStoreEvictByPrefixSparesOtherTenants(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	acmeA := Key("acme", uuid.New())
	acmeB := Key("acme", uuid.New())
	globex := Key("globex", uuid.New())

	require.NoError(t, store.Set(ctx, acmeA, []byte("a"), 0))
	require.NoError(t, store.Set(ctx, acmeB, []byte("b"), 0))
	require.NoError(t, store.Set(ctx, globex, []byte("g"), 0))

	require.NoError(t, store.EvictByPrefix(ctx, TenantPrefix("acme")))

	_, err := store.Get(ctx, acmeA)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = store.Get(ctx, acmeB)
	assert.ErrorIs(t, err, ErrMiss)
	data, err := store.Get(ctx, globex)
	require.NoError(t, err)
	assert.Equal(t, []byte("g"), data)
}

func TestRedisStoreEvictByPrefixEmptyKeyspace(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.EvictByPrefix(context.Background(), TenantPrefix("acme")))
}

func TestEvictorRequiresTenant(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := Key("acme", uuid.New())
	require.NoError(t, store.Set(ctx, key, []byte("v"), 0))

	// No tenant in context: nothing is evicted.
	evictor := NewEvictor(store, nil, testLogger())
	evictor.EvictTenant(ctx)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

type countingRecorder struct {
	failures int
}

func (c *countingRecorder) EvictionFailure() { c.failures++ }

func TestEvictorSwallowsStoreFailure(t *testing.T) {
	rec := &countingRecorder{}
	evictor := NewEvictor(brokenStore{}, rec, testLogger())
	ctx := shared.ContextWithTenant(context.Background(), "acme")

	// Neither call propagates the store failure.
	evictor.EvictOne(ctx, uuid.New())
	evictor.EvictTenant(ctx)

	assert.Equal(t, 2, rec.failures)
}

func TestEvictorDropsTenantKeys(t *testing.T) {
	store, _ := newTestStore(t)
	principalID := uuid.New()
	ctx := shared.ContextWithTenant(context.Background(), "acme")
	require.NoError(t, store.Set(ctx, Key("acme", principalID), []byte("v"), 0))

	evictor := NewEvictor(store, nil, testLogger())
	evictor.EvictOne(ctx, principalID)

	_, err := store.Get(ctx, Key("acme", principalID))
	assert.ErrorIs(t, err, ErrMiss)
}

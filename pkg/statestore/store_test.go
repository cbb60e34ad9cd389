package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return NewStore(client, ""), mr
}

func TestGetMissingKey(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSetReturnsPrevious(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetSet(ctx, "key", "first")
	assert.ErrorIs(t, err, ErrNotFound)

	previous, err := store.GetSet(ctx, "key", "second")
	require.NoError(t, err)
	assert.Equal(t, "first", previous)

	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestSetWithExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithExpiry(ctx, "key", "value", time.Hour))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetWithoutExpiryPersists(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithExpiry(ctx, "key", "value", 0))

	mr.FastForward(240 * time.Hour)

	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestAddToSetRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddToSet(ctx, "set", "a", time.Hour))

	mr.FastForward(30 * time.Minute)

	require.NoError(t, store.AddToSet(ctx, "set", "b", time.Hour))

	mr.FastForward(45 * time.Minute)

	members, err := store.SetMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)
}

func TestKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(client, "akl:")

	require.NoError(t, store.SetWithExpiry(context.Background(), "key", "value", 0))

	value, err := mr.Get("akl:key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "apc:vehicleIdState:59484", VehicleStateKey("59484"))
	assert.Equal(t, "apc:vehicleTripInfo:59484", VehicleTripInfoKey("59484"))
	// The misspelling is part of the published key contract
	assert.Equal(t, "apc:vehicleIdMigratred:59484", MigrationMarkerKey("59484"))
	assert.Equal(t, "trip:occupancy:59484", LegacyOccupancyKey("59484"))
	assert.Equal(t, "apc:vehicleId:59484", LegacyCountKey("59484"))
	assert.Equal(t, "apc:lostConnections20220810", LostConnectionsKey("20220810"))
	assert.Equal(t, "apc:lostConnections20220810:59484|trip-1", LostConnectionsDetailKey("20220810", "59484|trip-1"))
}

package occupancy

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/apcflow/apcflow/pkg/config"
	"github.com/apcflow/apcflow/pkg/dilax"
	"github.com/apcflow/apcflow/pkg/fleet"
	"github.com/apcflow/apcflow/pkg/statestore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTripID = "249-820055-46440-2-1104313-919ae291"
const testStopID = "0140-56c57897"
const testVehicleID = "59484"
const testLabel = "AMP        484"

type fakeIdentityResolver struct {
	identities map[string]*fleet.VehicleIdentity
}

func (f *fakeIdentityResolver) ResolveIdentity(ctx context.Context, label string) (*fleet.VehicleIdentity, error) {
	return f.identities[label], nil
}

type fakeTripResolver struct {
	allocation *fleet.TripAllocation
}

func (f *fakeTripResolver) CurrentAllocation(ctx context.Context, vehicleID string) (*fleet.TripAllocation, error) {
	return f.allocation, nil
}

type fakeStopResolver struct {
	stopID string
}

func (f *fakeStopResolver) NearestTrainStop(ctx context.Context, latitude float64, longitude float64, radiusMeters int) (string, error) {
	return f.stopID, nil
}

func defaultIdentities() map[string]*fleet.VehicleIdentity {
	return map[string]*fleet.VehicleIdentity{
		testLabel: {
			VehicleID: testVehicleID,
			Capacity:  fleet.VehicleCapacity{Seating: 230, Total: 373},
		},
	}
}

func defaultAllocation() *fleet.TripAllocation {
	return &fleet.TripAllocation{
		TripID:      testTripID,
		ServiceDate: "20220810",
		StartTime:   "07:30:00",
	}
}

func newTestProcessor(t *testing.T, trips fleet.TripResolver) (*Processor, *statestore.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := statestore.NewStore(client, "")

	processor := NewProcessor(
		store,
		&fakeIdentityResolver{identities: defaultIdentities()},
		trips,
		&fakeStopResolver{stopID: testStopID},
		config.Defaults(),
	)

	return processor, store
}

func makeEvent(t *testing.T, token int64, in int, out int) *dilax.Event {
	t.Helper()

	payload := fmt.Sprintf(`{
		"device": {"site": "AM484"},
		"clock": {"utc": %d},
		"wpt": {"lat": "-36.8485", "lon": "174.7633"},
		"doors": [{"in": %d, "out": %d}]
	}`, token, in, out)

	event, err := dilax.ParseEvent([]byte(payload))
	require.NoError(t, err)

	return event
}

func loadState(t *testing.T, store *statestore.Store) VehicleOccupancyState {
	t.Helper()

	stateJSON, err := store.Get(context.Background(), statestore.VehicleStateKey(testVehicleID))
	require.NoError(t, err)

	var state VehicleOccupancyState
	require.NoError(t, json.Unmarshal([]byte(stateJSON), &state))

	return state
}

func TestProcessFreshVehicle(t *testing.T) {
	processor, store := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	enrichedEvent, err := processor.Process(context.Background(), makeEvent(t, 1660073400, 6, 4))
	require.NoError(t, err)

	require.NotNil(t, enrichedEvent.TripID)
	assert.Equal(t, testTripID, *enrichedEvent.TripID)
	require.NotNil(t, enrichedEvent.StopID)
	assert.Equal(t, testStopID, *enrichedEvent.StopID)
	require.NotNil(t, enrichedEvent.StartDate)
	assert.Equal(t, "20220810", *enrichedEvent.StartDate)
	require.NotNil(t, enrichedEvent.StartTime)
	assert.Equal(t, "07:30:00", *enrichedEvent.StartTime)

	state := loadState(t, store)
	assert.Equal(t, 6, state.Count)
	assert.Equal(t, int64(1660073400), state.Token)
	assert.Equal(t, testTripID, state.LastTripID)
	assert.Equal(t, OccupancyStatusEmpty, state.OccupancyStatus)

	// Shadow keys for legacy consumers
	occupancyValue, err := store.Get(context.Background(), statestore.LegacyOccupancyKey(testVehicleID))
	require.NoError(t, err)
	assert.Equal(t, "EMPTY", occupancyValue)

	countValue, err := store.Get(context.Background(), statestore.LegacyCountKey(testVehicleID))
	require.NoError(t, err)
	assert.Equal(t, "6", countValue)

	tripInfoJSON, err := store.Get(context.Background(), statestore.VehicleTripInfoKey(testVehicleID))
	require.NoError(t, err)

	var tripInfo VehicleTripInfo
	require.NoError(t, json.Unmarshal([]byte(tripInfoJSON), &tripInfo))
	assert.Equal(t, testVehicleID, tripInfo.VehicleID)
	assert.Equal(t, testLabel, tripInfo.Label)
	assert.Equal(t, testTripID, tripInfo.TripID)
	assert.Equal(t, testStopID, tripInfo.StopID)
	assert.NotZero(t, tripInfo.LastReceivedTimestamp)
}

func TestProcessRunningCount(t *testing.T) {
	processor, store := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	ctx := context.Background()

	_, err := processor.Process(ctx, makeEvent(t, 100, 6, 4))
	require.NoError(t, err)
	assert.Equal(t, 6, loadState(t, store).Count)

	_, err = processor.Process(ctx, makeEvent(t, 101, 10, 2))
	require.NoError(t, err)
	assert.Equal(t, 14, loadState(t, store).Count)

	_, err = processor.Process(ctx, makeEvent(t, 102, 0, 20))
	require.NoError(t, err)
	// Clamped at zero, never negative
	assert.Equal(t, 0, loadState(t, store).Count)
}

func TestProcessStaleTokenLeavesStateUntouched(t *testing.T) {
	processor, store := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	ctx := context.Background()

	_, err := processor.Process(ctx, makeEvent(t, 200, 6, 0))
	require.NoError(t, err)

	before, err := store.Get(ctx, statestore.VehicleStateKey(testVehicleID))
	require.NoError(t, err)

	// Same token, then an older one
	_, err = processor.Process(ctx, makeEvent(t, 200, 50, 50))
	require.NoError(t, err)
	_, err = processor.Process(ctx, makeEvent(t, 150, 50, 50))
	require.NoError(t, err)

	after, err := store.Get(ctx, statestore.VehicleStateKey(testVehicleID))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProcessStaleTokenStillWritesTripInfo(t *testing.T) {
	processor, store := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	ctx := context.Background()

	_, err := processor.Process(ctx, makeEvent(t, 200, 6, 0))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, statestore.VehicleTripInfoKey(testVehicleID)))

	_, err = processor.Process(ctx, makeEvent(t, 150, 1, 1))
	require.NoError(t, err)

	_, err = store.Get(ctx, statestore.VehicleTripInfoKey(testVehicleID))
	assert.NoError(t, err)
}

func TestProcessTripChangeResetsCount(t *testing.T) {
	trips := &fakeTripResolver{allocation: defaultAllocation()}
	processor, store := newTestProcessor(t, trips)

	ctx := context.Background()

	_, err := processor.Process(ctx, makeEvent(t, 300, 40, 0))
	require.NoError(t, err)
	assert.Equal(t, 40, loadState(t, store).Count)

	trips.allocation = &fleet.TripAllocation{
		TripID:      "250-820056-50000-2-1104314-5b21fe01",
		ServiceDate: "20220810",
		StartTime:   "09:00:00",
	}

	// Outs belong to the previous trip, only ins apply after a change
	_, err = processor.Process(ctx, makeEvent(t, 301, 5, 30))
	require.NoError(t, err)

	state := loadState(t, store)
	assert.Equal(t, 5, state.Count)
	assert.Equal(t, "250-820056-50000-2-1104314-5b21fe01", state.LastTripID)
}

func TestProcessNoAllocationResetsCount(t *testing.T) {
	trips := &fakeTripResolver{allocation: defaultAllocation()}
	processor, store := newTestProcessor(t, trips)

	ctx := context.Background()

	_, err := processor.Process(ctx, makeEvent(t, 400, 40, 0))
	require.NoError(t, err)

	trips.allocation = nil

	_, err = processor.Process(ctx, makeEvent(t, 401, 3, 10))
	require.NoError(t, err)

	assert.Equal(t, 3, loadState(t, store).Count)
}

func TestProcessUnknownLabelStillEnriches(t *testing.T) {
	processor, store := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	event, err := dilax.ParseEvent([]byte(`{
		"device": {"site": "ZZ999"},
		"clock": {"utc": 500},
		"wpt": {"lat": "-36.8485", "lon": "174.7633"},
		"doors": [{"in": 1, "out": 0}]
	}`))
	require.NoError(t, err)

	enrichedEvent, err := processor.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Nil(t, enrichedEvent.TripID)
	require.NotNil(t, enrichedEvent.StopID)
	assert.Equal(t, testStopID, *enrichedEvent.StopID)

	// No state for an unknown vehicle
	_, err = store.Get(context.Background(), statestore.VehicleStateKey(testVehicleID))
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestProcessMissingSiteCode(t *testing.T) {
	processor, _ := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	event, err := dilax.ParseEvent([]byte(`{"clock": {"utc": 500}, "doors": [{"in": 1, "out": 0}]}`))
	require.NoError(t, err)

	enrichedEvent, err := processor.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Nil(t, enrichedEvent.TripID)
	assert.Nil(t, enrichedEvent.StopID)
}

func TestMigrationImportsLegacyKeys(t *testing.T) {
	processor, store := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	ctx := context.Background()

	require.NoError(t, store.SetWithExpiry(ctx, statestore.LegacyTripKey(testVehicleID), testTripID, 0))
	require.NoError(t, store.SetWithExpiry(ctx, statestore.LegacyCountKey(testVehicleID), "25", 0))

	_, err := processor.Process(ctx, makeEvent(t, 600, 2, 3))
	require.NoError(t, err)

	state := loadState(t, store)
	// Imported count 25, minus 3 out, plus 2 in
	assert.Equal(t, 24, state.Count)
	assert.Equal(t, testTripID, state.LastTripID)

	marker, err := store.Get(ctx, statestore.MigrationMarkerKey(testVehicleID))
	require.NoError(t, err)
	assert.Equal(t, "true", marker)
}

func TestMigrationRunsOnce(t *testing.T) {
	processor, store := newTestProcessor(t, &fakeTripResolver{allocation: defaultAllocation()})

	ctx := context.Background()

	require.NoError(t, store.SetWithExpiry(ctx, statestore.MigrationMarkerKey(testVehicleID), "true", 0))
	require.NoError(t, store.SetWithExpiry(ctx, statestore.LegacyCountKey(testVehicleID), "25", 0))

	_, err := processor.Process(ctx, makeEvent(t, 700, 2, 0))
	require.NoError(t, err)

	// Marker already present, the legacy count is not imported
	assert.Equal(t, 2, loadState(t, store).Count)
}

func TestProcessMissingCapacitySkipsState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := statestore.NewStore(client, "")

	identities := map[string]*fleet.VehicleIdentity{
		testLabel: {VehicleID: testVehicleID},
	}

	processor := NewProcessor(
		store,
		&fakeIdentityResolver{identities: identities},
		&fakeTripResolver{allocation: defaultAllocation()},
		&fakeStopResolver{stopID: testStopID},
		config.Defaults(),
	)

	enrichedEvent, err := processor.Process(context.Background(), makeEvent(t, 800, 6, 4))
	require.NoError(t, err)

	// Enrichment still happens
	require.NotNil(t, enrichedEvent.TripID)
	assert.Equal(t, testTripID, *enrichedEvent.TripID)

	_, err = store.Get(context.Background(), statestore.VehicleStateKey(testVehicleID))
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

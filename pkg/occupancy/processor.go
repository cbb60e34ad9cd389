package occupancy

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/apcflow/apcflow/pkg/config"
	"github.com/apcflow/apcflow/pkg/dilax"
	"github.com/apcflow/apcflow/pkg/fleet"
	"github.com/apcflow/apcflow/pkg/statestore"
	"github.com/rs/zerolog/log"
)

// Processor is the per-vehicle occupancy state engine. It enriches Dilax
// events with trip context and maintains the running count under a
// per-vehicle critical section. Process always returns an enriched event;
// the only error it returns is a state store outage on the primary write.
type Processor struct {
	store    *statestore.Store
	identity fleet.IdentityResolver
	trips    fleet.TripResolver
	stops    fleet.StopResolver

	config config.Config
	locks  *keyLock
}

func NewProcessor(store *statestore.Store, identity fleet.IdentityResolver, trips fleet.TripResolver, stops fleet.StopResolver, cfg config.Config) *Processor {
	return &Processor{
		store:    store,
		identity: identity,
		trips:    trips,
		stops:    stops,

		config: cfg,
		locks:  newKeyLock(cfg.MaxPendingLocks),
	}
}

func (p *Processor) Process(ctx context.Context, event *dilax.Event) (*dilax.EnrichedEvent, error) {
	enriched := dilax.NewEnrichedEvent(event.Raw())

	label := dilax.ResolveVehicleLabel(event.Device.Site)
	if label == "" {
		log.Debug().Str("site", event.Device.Site).Msg("No vehicle label for site code")
		return enriched, nil
	}

	identity, err := p.identity.ResolveIdentity(ctx, label)
	if err != nil {
		log.Error().Err(err).Str("label", label).Msg("Failed to resolve vehicle identity")
		identity = nil
	}

	var allocation *fleet.TripAllocation
	if identity != nil {
		allocation, err = p.trips.CurrentAllocation(ctx, identity.VehicleID)
		if err != nil {
			log.Error().Err(err).Str("vehicleid", identity.VehicleID).Msg("Failed to resolve trip allocation")
			allocation = nil
		}
	}

	if allocation != nil {
		enriched.TripID = &allocation.TripID
		enriched.StartDate = &allocation.ServiceDate
		enriched.StartTime = &allocation.StartTime
	}

	if latitude, longitude, ok := event.Coordinates(); ok {
		stopID, err := p.stops.NearestTrainStop(ctx, latitude, longitude, p.config.StopSearchRadiusMeters)
		if err != nil {
			log.Error().Err(err).Str("label", label).Msg("Failed to resolve nearest stop")
		} else if stopID != "" {
			enriched.StopID = &stopID
		}
	}

	if identity == nil {
		return enriched, nil
	}

	if identity.Capacity.Seating <= 0 || identity.Capacity.Total <= 0 {
		log.Warn().Str("vehicleid", identity.VehicleID).Str("label", label).Msg("Vehicle has no capacity information, skipping state update")
		return enriched, nil
	}

	err = p.updateVehicleState(ctx, event, enriched, label, identity, allocation)

	return enriched, err
}

// updateVehicleState runs the serialized section for a single vehicle:
// token dedup, count update, classification and persistence.
func (p *Processor) updateVehicleState(ctx context.Context, event *dilax.Event, enriched *dilax.EnrichedEvent, label string, identity *fleet.VehicleIdentity, allocation *fleet.TripAllocation) error {
	vehicleID := identity.VehicleID

	release, err := p.locks.Acquire(vehicleID)
	if err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Dropping state update")
		return nil
	}
	defer release()

	stateKey := statestore.VehicleStateKey(vehicleID)

	var state VehicleOccupancyState
	expectedPrevious := ""

	previousRaw, err := p.store.Get(ctx, stateKey)
	if err == nil {
		expectedPrevious = previousRaw
		if err := json.Unmarshal([]byte(previousRaw), &state); err != nil {
			log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to decode stored occupancy state")
			state = VehicleOccupancyState{}
		}
	} else if err == statestore.ErrNotFound {
		if imported := p.importLegacyState(ctx, vehicleID); imported != nil {
			state = *imported
		}
	} else {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to read occupancy state")
	}

	token := int64(event.Clock.UTC)

	if token <= state.Token {
		log.Debug().
			Str("vehicleid", vehicleID).
			Int64("token", token).
			Int64("statetoken", state.Token).
			Msg("Discarding stale or duplicate event")

		indexProcessAuditEvent(ProcessAuditElasticEvent{
			Timestamp: time.Now(),
			VehicleID: vehicleID,
			Label:     label,
			Accepted:  false,
			Reason:    "STALE_TOKEN",
			Token:     token,
		})

		p.writeTripInfo(ctx, vehicleID, label, event, enriched)

		return nil
	}

	var resolvedTripID string
	if allocation != nil {
		resolvedTripID = allocation.TripID
	}

	tripChanged := false
	if resolvedTripID != "" {
		if state.LastTripID == "" {
			// First observation of a trip for this vehicle, not a change
			state.LastTripID = resolvedTripID
		} else if state.LastTripID != resolvedTripID {
			tripChanged = true
			state.LastTripID = resolvedTripID
		}
	}

	inTotal, outTotal := event.DoorTotals()

	var newCount int
	if resolvedTripID == "" || tripChanged {
		// Outs from the previous trip must not debit the new trip's count
		log.Info().
			Str("vehicleid", vehicleID).
			Str("tripid", resolvedTripID).
			Bool("tripchanged", tripChanged).
			Msg("Resetting occupancy count")

		newCount = inTotal
	} else {
		preClamp := state.Count - outTotal
		if preClamp < 0 {
			log.Warn().
				Str("vehicleid", vehicleID).
				Int("count", state.Count).
				Int("out", outTotal).
				Msg("Occupancy count would have gone negative, clamping to zero")
			preClamp = 0
		}

		newCount = preClamp + inTotal
	}

	state.Count = newCount
	state.Token = token
	state.OccupancyStatus = ClassifyOccupancy(newCount, identity.Capacity.Seating, identity.Capacity.Total)

	if err := p.persistState(ctx, vehicleID, &state, expectedPrevious); err != nil {
		return err
	}

	p.writeTripInfo(ctx, vehicleID, label, event, enriched)

	return nil
}

// persistState swaps the new state in atomically and compares the swapped-out
// value against what was read at the start of the critical section. A
// mismatch means another writer interleaved; this is advisory only and is
// never retried. Only a failure of the swap itself is returned as an error.
func (p *Processor) persistState(ctx context.Context, vehicleID string, state *VehicleOccupancyState, expectedPrevious string) error {
	stateKey := statestore.VehicleStateKey(vehicleID)

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}

	swappedOut, err := p.store.GetSet(ctx, stateKey, string(stateJSON))
	if err != nil && err != statestore.ErrNotFound {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to persist occupancy state")
		return err
	}

	if swappedOut != expectedPrevious {
		log.Warn().
			Str("vehicleid", vehicleID).
			Str("expected", expectedPrevious).
			Str("found", swappedOut).
			Msg("Dirty write detected on occupancy state")

		indexProcessAuditEvent(ProcessAuditElasticEvent{
			Timestamp: time.Now(),
			VehicleID: vehicleID,
			Accepted:  true,
			Reason:    "DIRTY_WRITE",
			Count:     state.Count,
			Token:     state.Token,
		})
	}

	if err := p.store.Expire(ctx, stateKey, p.config.StateTTL); err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to refresh occupancy state TTL")
	}

	// Shadow keys for legacy consumers, each isolated from the primary write
	if err := p.store.SetWithExpiry(ctx, statestore.LegacyOccupancyKey(vehicleID), string(state.OccupancyStatus), p.config.LegacyOccupancyTTL); err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to write legacy occupancy key")
	}

	if err := p.store.SetWithExpiry(ctx, statestore.LegacyCountKey(vehicleID), strconv.Itoa(state.Count), p.config.LegacyCountTTL); err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to write legacy count key")
	}

	return nil
}

// writeTripInfo persists the latest-known snapshot for the vehicle. Written
// on every processed event, including stale discards; failures are logged
// only.
func (p *Processor) writeTripInfo(ctx context.Context, vehicleID string, label string, event *dilax.Event, enriched *dilax.EnrichedEvent) {
	tripInfo := VehicleTripInfo{
		VehicleID:             vehicleID,
		Label:                 label,
		RawEvent:              event.Raw(),
		LastReceivedTimestamp: time.Now().Unix(),
	}

	if enriched.TripID != nil {
		tripInfo.TripID = *enriched.TripID
	}
	if enriched.StopID != nil {
		tripInfo.StopID = *enriched.StopID
	}

	tripInfoJSON, err := json.Marshal(tripInfo)
	if err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to encode vehicle trip info")
		return
	}

	if err := p.store.SetWithExpiry(ctx, statestore.VehicleTripInfoKey(vehicleID), string(tripInfoJSON), p.config.TripInfoTTL); err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to write vehicle trip info")
	}
}

package occupancy

import (
	"context"
	"strconv"

	"github.com/apcflow/apcflow/pkg/statestore"
	"github.com/rs/zerolog/log"
)

// importLegacyState seeds a vehicle's state from the pre-migration key
// formats. It only runs when no current-format state exists and the one-time
// marker is absent, and always lands the marker afterwards so the import
// never repeats. Racing instances converge on the same seed values, so the
// worst case of a race is a harmless re-import.
func (p *Processor) importLegacyState(ctx context.Context, vehicleID string) *VehicleOccupancyState {
	markerKey := statestore.MigrationMarkerKey(vehicleID)

	if _, err := p.store.Get(ctx, markerKey); err == nil {
		return nil
	}

	var state *VehicleOccupancyState

	legacyTrip, tripErr := p.store.Get(ctx, statestore.LegacyTripKey(vehicleID))
	legacyCount, countErr := p.store.Get(ctx, statestore.LegacyCountKey(vehicleID))

	if tripErr == nil || countErr == nil {
		state = &VehicleOccupancyState{}

		if tripErr == nil {
			state.LastTripID = legacyTrip
		}

		if countErr == nil {
			if count, err := strconv.Atoi(legacyCount); err == nil && count >= 0 {
				state.Count = count
			}
		}

		log.Info().
			Str("vehicleid", vehicleID).
			Str("lasttripid", state.LastTripID).
			Int("count", state.Count).
			Msg("Imported legacy occupancy state")
	}

	if err := p.store.SetWithExpiry(ctx, markerKey, "true", 0); err != nil {
		log.Error().Err(err).Str("vehicleid", vehicleID).Msg("Failed to write migration marker")
	}

	return state
}

package statestore

import "fmt"

// Key layout shared with the legacy occupancy consumers. The misspelling in
// the migration marker key is part of the published contract and must not be
// corrected.
const (
	vehicleStateKeyFormat    = "apc:vehicleIdState:%s"
	vehicleTripInfoKeyFormat = "apc:vehicleTripInfo:%s"
	migrationMarkerKeyFormat = "apc:vehicleIdMigratred:%s"

	legacyOccupancyKeyFormat = "trip:occupancy:%s"
	legacyCountKeyFormat     = "apc:vehicleId:%s"
	legacyTripKeyFormat      = "apc:vehicleIdTrip:%s"

	lostConnectionsKeyFormat       = "apc:lostConnections%s"
	lostConnectionsDetailKeyFormat = "apc:lostConnections%s:%s"
)

func VehicleStateKey(vehicleID string) string {
	return fmt.Sprintf(vehicleStateKeyFormat, vehicleID)
}

func VehicleTripInfoKey(vehicleID string) string {
	return fmt.Sprintf(vehicleTripInfoKeyFormat, vehicleID)
}

func MigrationMarkerKey(vehicleID string) string {
	return fmt.Sprintf(migrationMarkerKeyFormat, vehicleID)
}

func LegacyOccupancyKey(vehicleID string) string {
	return fmt.Sprintf(legacyOccupancyKeyFormat, vehicleID)
}

func LegacyCountKey(vehicleID string) string {
	return fmt.Sprintf(legacyCountKeyFormat, vehicleID)
}

func LegacyTripKey(vehicleID string) string {
	return fmt.Sprintf(legacyTripKeyFormat, vehicleID)
}

// LostConnectionsKey is the day-scoped dedup set, day formatted as YYYYMMDD.
func LostConnectionsKey(day string) string {
	return fmt.Sprintf(lostConnectionsKeyFormat, day)
}

func LostConnectionsDetailKey(day string, member string) string {
	return fmt.Sprintf(lostConnectionsDetailKeyFormat, day, member)
}

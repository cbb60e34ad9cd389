package occupancy

import "encoding/json"

type OccupancyStatus string

const (
	OccupancyStatusEmpty              OccupancyStatus = "EMPTY"
	OccupancyStatusManySeatsAvailable OccupancyStatus = "MANY_SEATS_AVAILABLE"
	OccupancyStatusFewSeatsAvailable  OccupancyStatus = "FEW_SEATS_AVAILABLE"
	OccupancyStatusStandingRoomOnly   OccupancyStatus = "STANDING_ROOM_ONLY"
	OccupancyStatusFull               OccupancyStatus = "FULL"
)

// VehicleOccupancyState is the per-vehicle running state. Its JSON shape is
// a compatibility contract with other readers of the state key.
// Count never goes negative; Token never decreases across accepted updates.
type VehicleOccupancyState struct {
	Count           int             `json:"count"`
	Token           int64           `json:"token"`
	LastTripID      string          `json:"lastTripId,omitempty"`
	OccupancyStatus OccupancyStatus `json:"occupancyStatus,omitempty"`
}

// VehicleTripInfo is the latest-known snapshot for a vehicle, written on
// every processed event. The lost connection detector reads it as a
// liveness proxy.
type VehicleTripInfo struct {
	VehicleID             string          `json:"vehicleId"`
	Label                 string          `json:"label"`
	TripID                string          `json:"tripId,omitempty"`
	StopID                string          `json:"stopId,omitempty"`
	RawEvent              json.RawMessage `json:"rawEvent"`
	LastReceivedTimestamp int64           `json:"lastReceivedTimestamp"`
}

// ClassifyOccupancy maps a passenger count onto the five-level crowding
// classification. The legacy engine compared truncated integer load
// percentages, which integer division reproduces exactly; boundary counts
// depend on this and it must not be replaced with float comparisons.
func ClassifyOccupancy(count int, seatingCapacity int, totalCapacity int) OccupancyStatus {
	if seatingCapacity <= 0 || totalCapacity <= 0 {
		return ""
	}

	seatingLoad := count * 100 / seatingCapacity

	switch {
	case seatingLoad < 5:
		return OccupancyStatusEmpty
	case seatingLoad < 40:
		return OccupancyStatusManySeatsAvailable
	case seatingLoad < 90:
		return OccupancyStatusFewSeatsAvailable
	}

	if count*100/totalCapacity < 90 {
		return OccupancyStatusStandingRoomOnly
	}

	return OccupancyStatusFull
}

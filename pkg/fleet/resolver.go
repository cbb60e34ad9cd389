package fleet

import "context"

type VehicleCapacity struct {
	Seating int `json:"seating"`
	Total   int `json:"total"`
}

type VehicleIdentity struct {
	VehicleID string          `json:"vehicleId"`
	Capacity  VehicleCapacity `json:"capacity"`
}

// TripAllocation is the trip a vehicle is currently assigned to.
type TripAllocation struct {
	TripID      string `json:"tripId"`
	ServiceDate string `json:"serviceDate"`
	StartTime   string `json:"startTime"`
}

// VehicleAllocation is a scheduled assignment of a vehicle to a trip,
// bounded by start/end unix timestamps.
type VehicleAllocation struct {
	VehicleID     string `json:"vehicleId"`
	VehicleLabel  string `json:"vehicleLabel"`
	TripID        string `json:"tripId"`
	ServiceDate   string `json:"serviceDate"`
	StartTime     string `json:"startTime"`
	StartDatetime int64  `json:"startDatetime"`
	EndDatetime   int64  `json:"endDatetime"`
}

// The resolver interfaces all treat "not found" as a nil/empty result with a
// nil error. Errors mean the lookup itself failed; callers degrade those to
// absent results and log.

type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, label string) (*VehicleIdentity, error)
}

type TripResolver interface {
	CurrentAllocation(ctx context.Context, vehicleID string) (*TripAllocation, error)
}

type StopResolver interface {
	NearestTrainStop(ctx context.Context, latitude float64, longitude float64, radiusMeters int) (string, error)
}

type AllocationSource interface {
	AllAllocations(ctx context.Context) ([]VehicleAllocation, error)
}

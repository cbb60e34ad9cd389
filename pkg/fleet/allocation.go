package fleet

import (
	"context"
	"fmt"
	"net/url"
)

// AllocationClient talks to the vehicle allocation API, covering both the
// per-vehicle current allocation lookup and the full allocation dump the
// lost connection detector scans.
type AllocationClient struct {
	BaseURL string
}

func (c *AllocationClient) CurrentAllocation(ctx context.Context, vehicleID string) (*TripAllocation, error) {
	requestURL := fmt.Sprintf("%s/vehicles/%s/allocation", c.BaseURL, url.PathEscape(vehicleID))

	var allocation TripAllocation
	found, err := fetchJSON(ctx, requestURL, &allocation)
	if err != nil {
		return nil, err
	}

	if !found || allocation.TripID == "" {
		return nil, nil
	}

	return &allocation, nil
}

func (c *AllocationClient) AllAllocations(ctx context.Context) ([]VehicleAllocation, error) {
	requestURL := fmt.Sprintf("%s/allocations", c.BaseURL)

	var allocations []VehicleAllocation
	if _, err := fetchJSON(ctx, requestURL, &allocations); err != nil {
		return nil, err
	}

	return allocations, nil
}

package fleet

import (
	"context"
	"fmt"
)

// StopClient resolves coordinates to the nearest station stop.
type StopClient struct {
	BaseURL string
}

type nearestStopResponse struct {
	StopID string `json:"stopId"`
}

func (c *StopClient) NearestTrainStop(ctx context.Context, latitude float64, longitude float64, radiusMeters int) (string, error) {
	requestURL := fmt.Sprintf("%s/stops/nearest?lat=%f&lon=%f&radius=%d", c.BaseURL, latitude, longitude, radiusMeters)

	var response nearestStopResponse
	found, err := fetchJSON(ctx, requestURL, &response)
	if err != nil {
		return "", err
	}

	if !found {
		return "", nil
	}

	return response.StopID, nil
}

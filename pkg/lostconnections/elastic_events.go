package lostconnections

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apcflow/apcflow/pkg/elastic_client"
)

type LostConnectionElasticEvent struct {
	Timestamp time.Time `json:"timestamp"`

	VehicleID    string `json:"vehicleId"`
	VehicleLabel string `json:"vehicleLabel"`
	TripID       string `json:"tripId"`

	AllocationStart int64 `json:"allocationStart"`
	LastReceived    int64 `json:"lastReceived"`
}

func indexLostConnectionEvent(candidate LostConnectionCandidate, label string) {
	yearNumber, weekNumber := candidate.DetectionTime.ISOWeek()
	indexName := fmt.Sprintf("apc-lostconnection-events-%d-%d", yearNumber, weekNumber)

	event := LostConnectionElasticEvent{
		Timestamp: candidate.DetectionTime,

		VehicleID:    candidate.Allocation.VehicleID,
		VehicleLabel: label,
		TripID:       candidate.Allocation.TripID,

		AllocationStart: candidate.Allocation.StartDatetime,
	}

	if candidate.TripInfo != nil {
		event.LastReceived = candidate.TripInfo.LastReceivedTimestamp
	}

	elasticEvent, _ := json.Marshal(event)

	elastic_client.IndexRequest(indexName, bytes.NewReader(elasticEvent))
}

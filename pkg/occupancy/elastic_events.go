package occupancy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apcflow/apcflow/pkg/elastic_client"
)

type ProcessAuditElasticEvent struct {
	Timestamp time.Time `json:"timestamp"`

	VehicleID string `json:"vehicleId"`
	Label     string `json:"label"`

	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`

	Count int   `json:"count"`
	Token int64 `json:"token"`
}

func indexProcessAuditEvent(event ProcessAuditElasticEvent) {
	yearNumber, weekNumber := event.Timestamp.ISOWeek()
	indexName := fmt.Sprintf("apc-process-events-%d-%d", yearNumber, weekNumber)

	elasticEvent, _ := json.Marshal(event)

	elastic_client.IndexRequest(indexName, bytes.NewReader(elasticEvent))
}

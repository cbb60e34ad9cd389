package dilax

import (
	"encoding/json"
	"strconv"
	"strings"
)

// UnixSeconds tolerates the two encodings the Dilax units emit for their
// clock field, a JSON number or a numeric string.
type UnixSeconds int64

func (u *UnixSeconds) UnmarshalJSON(data []byte) error {
	value := strings.Trim(string(data), `"`)

	if value == "" || value == "null" {
		*u = 0
		return nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// Some firmware revisions report fractional seconds
		parsedFloat, floatErr := strconv.ParseFloat(value, 64)
		if floatErr != nil {
			return err
		}
		parsed = int64(parsedFloat)
	}

	*u = UnixSeconds(parsed)

	return nil
}

type Door struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// Event is a single passenger counting record from an onboard Dilax unit.
// The original payload is retained so enrichment can republish it untouched.
type Event struct {
	Device struct {
		Site string `json:"site"`
	} `json:"device"`

	Clock struct {
		UTC UnixSeconds `json:"utc"`
	} `json:"clock"`

	WPT struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	} `json:"wpt"`

	Doors []Door `json:"doors"`

	raw json.RawMessage
}

func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	event.raw = make(json.RawMessage, len(payload))
	copy(event.raw, payload)

	return &event, nil
}

func (e *Event) Raw() json.RawMessage {
	return e.raw
}

// Coordinates parses the optional GPS fix. ok is false when the unit had no
// fix or the fields are not decimal strings.
func (e *Event) Coordinates() (float64, float64, bool) {
	if e.WPT.Lat == "" || e.WPT.Lon == "" {
		return 0, 0, false
	}

	lat, latErr := strconv.ParseFloat(e.WPT.Lat, 64)
	lon, lonErr := strconv.ParseFloat(e.WPT.Lon, 64)

	if latErr != nil || lonErr != nil {
		return 0, 0, false
	}

	return lat, lon, true
}

// DoorTotals sums boardings and alightings across every door record.
func (e *Event) DoorTotals() (int, int) {
	var in, out int

	for _, door := range e.Doors {
		in += door.In
		out += door.Out
	}

	return in, out
}

// EnrichedEvent is the republished form of an event: the original payload
// plus the resolved trip context. Unresolved fields serialise as JSON null.
type EnrichedEvent struct {
	StopID    *string
	TripID    *string
	StartDate *string
	StartTime *string

	raw json.RawMessage
}

func NewEnrichedEvent(raw json.RawMessage) *EnrichedEvent {
	return &EnrichedEvent{raw: raw}
}

func (e *EnrichedEvent) MarshalJSON() ([]byte, error) {
	payload := map[string]interface{}{}

	if len(e.raw) > 0 {
		if err := json.Unmarshal(e.raw, &payload); err != nil {
			return nil, err
		}
	}

	payload["stop_id"] = stringOrNil(e.StopID)
	payload["trip_id"] = stringOrNil(e.TripID)
	payload["start_date"] = stringOrNil(e.StartDate)
	payload["start_time"] = stringOrNil(e.StartTime)

	return json.Marshal(payload)
}

func stringOrNil(value *string) interface{} {
	if value == nil {
		return nil
	}

	return *value
}

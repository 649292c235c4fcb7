package domain

import (
	"context"
	"time"
)

// FeedRecord represents the flat JSON structure produced by the collectors.
// Every measurement is optional; a null or missing field means "not observed".
type FeedRecord struct {
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Timestamp     string   `json:"timestamp,omitempty"` // RFC 3339
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	WindSpeed     *float64 `json:"wind_speed,omitempty"`
	WindDirection *float64 `json:"wind_direction,omitempty"`
	DrynessIndex  *float64 `json:"dryness_index,omitempty"`
	Source        string   `json:"source"`
	RegionName    string   `json:"region_name,omitempty"`
}

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Observation is one normalized environmental reading for a coordinate and time.
// It is transient: only what is absorbed into a zone outlives the call.
type Observation struct {
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timestamp     time.Time `json:"timestamp"`
	Temperature   *float64  `json:"temperature,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	WindSpeed     *float64  `json:"wind_speed,omitempty"`
	WindDirection *float64  `json:"wind_direction,omitempty"`
	DrynessIndex  *float64  `json:"dryness_index,omitempty"`
	Source        string    `json:"source"`
	RegionName    string    `json:"region_name,omitempty"`
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Float returns a pointer to v. Handy for building observations in code.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

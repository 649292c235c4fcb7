package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ParseRawObservation deserializes a RawEvent's value into an Observation.
// It expects the flat JSON FeedRecord produced by the collectors.
func ParseRawObservation(raw RawEvent) (Observation, error) {
	var rec FeedRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return Observation{}, fmt.Errorf("parse raw observation: %w: %w", ErrInvalidObservation, err)
	}
	if rec.Latitude == nil || rec.Longitude == nil {
		return Observation{}, fmt.Errorf("parse raw observation: %w: latitude and longitude are required", ErrInvalidObservation)
	}

	ts, err := parseTimestamp(rec.Timestamp, raw.Timestamp)
	if err != nil {
		return Observation{}, fmt.Errorf("parse raw observation: %w: %w", ErrInvalidObservation, err)
	}

	source := rec.Source
	if source == "" {
		source = raw.Headers["source"]
	}

	obs := Observation{
		Latitude:      *rec.Latitude,
		Longitude:     *rec.Longitude,
		Timestamp:     ts,
		Temperature:   rec.Temperature,
		Humidity:      rec.Humidity,
		WindSpeed:     rec.WindSpeed,
		WindDirection: rec.WindDirection,
		DrynessIndex:  rec.DrynessIndex,
		Source:        source,
		RegionName:    rec.RegionName,
	}
	return NormalizeObservation(obs)
}

// NormalizeObservation validates coordinates and cleans measurements:
// non-finite values become absent, wind direction is folded into [0,360),
// the source defaults to "unknown" and a zero timestamp becomes now.
func NormalizeObservation(obs Observation) (Observation, error) {
	if err := ValidateCoordinates(obs.Latitude, obs.Longitude); err != nil {
		return Observation{}, err
	}

	obs.Temperature = finite(obs.Temperature)
	obs.Humidity = finite(obs.Humidity)
	obs.WindSpeed = finite(obs.WindSpeed)
	obs.DrynessIndex = finite(obs.DrynessIndex)
	if d := finite(obs.WindDirection); d != nil {
		deg := math.Mod(*d, 360)
		if deg < 0 {
			deg += 360
		}
		obs.WindDirection = &deg
	} else {
		obs.WindDirection = nil
	}

	obs.Source = strings.TrimSpace(obs.Source)
	if obs.Source == "" {
		obs.Source = "unknown"
	}
	obs.RegionName = strings.TrimSpace(obs.RegionName)
	if obs.Timestamp.IsZero() {
		obs.Timestamp = clock.Now().UTC()
	}
	return obs, nil
}

// ValidateCoordinates rejects latitudes outside [-90,90], longitudes outside
// [-180,180] and non-finite values.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return &CoordinateError{Latitude: lat, Longitude: lon}
	}
	return nil
}

// DefaultRegionName is the name given to a zone no one has named.
func DefaultRegionName(lat, lon float64) string {
	return fmt.Sprintf("Region near %.2f, %.2f", lat, lon)
}

// SerializeZone marshals a zone into an OutputEvent keyed by zone id.
func SerializeZone(z RiskZone) (OutputEvent, error) {
	value, err := json.Marshal(z)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize zone: %w", err)
	}
	return OutputEvent{
		Key:   []byte(z.ID),
		Value: value,
		Headers: map[string]string{
			"zone_id":       z.ID,
			"risk_category": string(z.RiskCategory),
			"updated_at":    z.LastUpdated.UTC().Format(time.RFC3339),
		},
	}, nil
}

// parseTimestamp prefers the record's own timestamp, then the message time.
// An empty result is filled in by NormalizeObservation.
func parseTimestamp(value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q is not RFC 3339", ErrInvalidObservation, value)
	}
	return t.UTC(), nil
}

func finite(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	v := *p
	return &v
}

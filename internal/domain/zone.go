package domain

import "time"

// RiskCategory is the coarse label derived from a zone's risk level.
type RiskCategory string

const (
	RiskLow    RiskCategory = "Low"
	RiskMedium RiskCategory = "Medium"
	RiskHigh   RiskCategory = "High"
)

// ParseRiskCategory accepts the exact category labels.
func ParseRiskCategory(s string) (RiskCategory, bool) {
	switch RiskCategory(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskCategory(s), true
	default:
		return "", false
	}
}

// RiskZone is the canonical, deduplicated record for a geographic point.
// Its centroid is the most recent merged observation's coordinates.
type RiskZone struct {
	ID               string       `json:"id"`
	RegionName       string       `json:"region_name"`
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	RiskLevel        float64      `json:"risk_level"`
	RiskCategory     RiskCategory `json:"risk_category"`
	Temperature      *float64     `json:"temperature,omitempty"`
	Humidity         *float64     `json:"humidity,omitempty"`
	WindSpeed        *float64     `json:"wind_speed,omitempty"`
	WindDirection    *float64     `json:"wind_direction,omitempty"`
	DrynessIndex     *float64     `json:"dryness_index,omitempty"`
	Source           string       `json:"source"`
	LastUpdated      time.Time    `json:"last_updated"`
	ObservationCount int          `json:"observation_count"`
}

// Clone returns a deep copy so callers never share measurement pointers
// with the index.
func (z RiskZone) Clone() RiskZone {
	z.Temperature = cloneFloat(z.Temperature)
	z.Humidity = cloneFloat(z.Humidity)
	z.WindSpeed = cloneFloat(z.WindSpeed)
	z.WindDirection = cloneFloat(z.WindDirection)
	z.DrynessIndex = cloneFloat(z.DrynessIndex)
	return z
}

// Conditions returns the zone's merged attributes in observation form, which
// is what the scorer consumes.
func (z RiskZone) Conditions() Observation {
	return Observation{
		Latitude:      z.Latitude,
		Longitude:     z.Longitude,
		Timestamp:     z.LastUpdated,
		Temperature:   cloneFloat(z.Temperature),
		Humidity:      cloneFloat(z.Humidity),
		WindSpeed:     cloneFloat(z.WindSpeed),
		WindDirection: cloneFloat(z.WindDirection),
		DrynessIndex:  cloneFloat(z.DrynessIndex),
		Source:        z.Source,
		RegionName:    z.RegionName,
	}
}

// Absorb overwrites the zone's attributes with the observation's non-nil
// fields. Nil fields keep their prior value. The centroid always moves to the
// observation's coordinates.
func (z *RiskZone) Absorb(obs Observation) {
	z.Latitude = obs.Latitude
	z.Longitude = obs.Longitude
	if obs.Temperature != nil {
		z.Temperature = cloneFloat(obs.Temperature)
	}
	if obs.Humidity != nil {
		z.Humidity = cloneFloat(obs.Humidity)
	}
	if obs.WindSpeed != nil {
		z.WindSpeed = cloneFloat(obs.WindSpeed)
	}
	if obs.WindDirection != nil {
		z.WindDirection = cloneFloat(obs.WindDirection)
	}
	if obs.DrynessIndex != nil {
		z.DrynessIndex = cloneFloat(obs.DrynessIndex)
	}
	if obs.Source != "" {
		z.Source = obs.Source
	}
	if obs.RegionName != "" {
		z.RegionName = obs.RegionName
	}
}

// SpreadPoint is one simulated future state of a zone. It is never persisted.
type SpreadPoint struct {
	ZoneID    string    `json:"zone_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	RiskLevel float64   `json:"risk_level"`
	Timestamp time.Time `json:"timestamp"`
}

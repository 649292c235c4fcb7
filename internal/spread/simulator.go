// Package spread projects a zone's fire front forward in time.
//
// The model is a deterministic approximation: each step moves the front
// downwind by a distance proportional to wind speed, and nudges risk up or
// down depending on how dry and windy the zone is. Inputs are the zone
// snapshot only, so identical snapshots always produce identical output.
package spread

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/geo"
	"github.com/couchcryptid/wildfire-risk-engine/internal/risk"
)

// ErrInvalidConfig is returned for non-positive tuning values.
var ErrInvalidConfig = errors.New("invalid spread config")

const (
	DefaultRateConstant    = 0.0005
	DefaultDriftScale      = 0.05
	DefaultMaxHorizonHours = 72
	DefaultStepHours       = 1
)

// Config tunes the simulator.
type Config struct {
	// RateConstant is degrees travelled per km/h of wind per hour.
	RateConstant float64 `koanf:"rate_constant" yaml:"rate_constant"`
	// DriftScale is the largest per-hour change in risk level.
	DriftScale      float64 `koanf:"drift_scale" yaml:"drift_scale"`
	MaxHorizonHours int     `koanf:"max_horizon_hours" yaml:"max_horizon_hours"`
}

// DefaultConfig returns the simulator defaults.
func DefaultConfig() Config {
	return Config{
		RateConstant:    DefaultRateConstant,
		DriftScale:      DefaultDriftScale,
		MaxHorizonHours: DefaultMaxHorizonHours,
	}
}

// Validate rejects non-positive values.
func (c Config) Validate() error {
	var errs []error
	if !(c.RateConstant > 0) {
		errs = append(errs, fmt.Errorf("rate constant must be positive, got %v", c.RateConstant))
	}
	if !(c.DriftScale >= 0) {
		errs = append(errs, fmt.Errorf("drift scale must not be negative, got %v", c.DriftScale))
	}
	if c.MaxHorizonHours <= 0 {
		errs = append(errs, fmt.Errorf("max horizon must be positive, got %d", c.MaxHorizonHours))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Forecast is a simulation together with its summary.
type Forecast struct {
	Zone                domain.RiskZone      `json:"zone"`
	HorizonHours        int                  `json:"horizon_hours"`
	StepHours           int                  `json:"step_hours"`
	Points              []domain.SpreadPoint `json:"points"`
	MaxSpreadDistanceKm float64              `json:"max_spread_distance_km"`
	WindDirection       *float64             `json:"wind_direction,omitempty"`
}

// Simulator runs spread simulations. It holds no mutable state and is safe
// for concurrent use.
type Simulator struct {
	cfg    Config
	scorer *risk.Scorer
}

// New validates cfg and returns a Simulator that derives risk drift from
// scorer's normalization.
func New(cfg Config, scorer *risk.Scorer) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg, scorer: scorer}, nil
}

// MaxHorizonHours returns the longest horizon the simulator accepts.
func (s *Simulator) MaxHorizonHours() int { return s.cfg.MaxHorizonHours }

// Simulate returns floor(horizonHours/stepHours) points, one per step, with
// strictly increasing timestamps. A stepHours of zero selects one hour.
// Horizons outside (0, max] and steps that are negative or longer than the
// horizon fail with a *domain.HorizonError. Cancelling ctx stops the run
// between steps.
func (s *Simulator) Simulate(ctx context.Context, zone domain.RiskZone, horizonHours, stepHours int) ([]domain.SpreadPoint, error) {
	if stepHours == 0 {
		stepHours = DefaultStepHours
	}
	if err := s.checkHorizon(horizonHours, stepHours); err != nil {
		return nil, err
	}

	steps := horizonHours / stepHours
	stepDur := time.Duration(stepHours) * time.Hour
	dLat, dLon := s.displacement(zone, stepHours)
	drift := s.drift(zone, stepHours)

	points := make([]domain.SpreadPoint, 0, steps)
	lat, lon, level := zone.Latitude, zone.Longitude, zone.RiskLevel
	for k := 1; k <= steps; k++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulate zone %s: %w", zone.ID, err)
		}
		lat = clampLatitude(lat + dLat)
		lon = wrapLongitude(lon + dLon)
		level = risk.Clamp(level + drift)
		points = append(points, domain.SpreadPoint{
			ZoneID:    zone.ID,
			Latitude:  lat,
			Longitude: lon,
			RiskLevel: level,
			Timestamp: zone.LastUpdated.Add(time.Duration(k) * stepDur),
		})
	}
	return points, nil
}

// Forecast runs Simulate and summarizes how far the front travels.
func (s *Simulator) Forecast(ctx context.Context, zone domain.RiskZone, horizonHours, stepHours int) (Forecast, error) {
	if stepHours == 0 {
		stepHours = DefaultStepHours
	}
	points, err := s.Simulate(ctx, zone, horizonHours, stepHours)
	if err != nil {
		return Forecast{}, err
	}

	origin := geo.Point{Lat: zone.Latitude, Lon: zone.Longitude}
	var maxKm float64
	for _, p := range points {
		maxKm = math.Max(maxKm, geo.DistanceKm(origin, geo.Point{Lat: p.Latitude, Lon: p.Longitude}))
	}

	f := Forecast{
		Zone:                zone.Clone(),
		HorizonHours:        horizonHours,
		StepHours:           stepHours,
		Points:              points,
		MaxSpreadDistanceKm: math.Round(maxKm*100) / 100,
	}
	if zone.WindDirection != nil {
		d := *zone.WindDirection
		f.WindDirection = &d
	}
	return f, nil
}

func (s *Simulator) checkHorizon(horizonHours, stepHours int) error {
	if horizonHours <= 0 || horizonHours > s.cfg.MaxHorizonHours || stepHours < 0 || stepHours > horizonHours {
		return &domain.HorizonError{HorizonHours: horizonHours, StepHours: stepHours, MaxHours: s.cfg.MaxHorizonHours}
	}
	return nil
}

// displacement is the per-step movement in degrees along the wind bearing.
// Zones without a wind direction or speed do not move.
func (s *Simulator) displacement(zone domain.RiskZone, stepHours int) (dLat, dLon float64) {
	if zone.WindDirection == nil || zone.WindSpeed == nil || *zone.WindSpeed <= 0 {
		return 0, 0
	}
	dist := s.cfg.RateConstant * *zone.WindSpeed * float64(stepHours)
	theta := *zone.WindDirection * math.Pi / 180
	return dist * math.Cos(theta), dist * math.Sin(theta)
}

// drift is the per-step change in risk. Intensity blends the dry-air and wind
// factors with the scorer's weights; above 0.5 the fire intensifies.
func (s *Simulator) drift(zone domain.RiskZone, stepHours int) float64 {
	f := s.scorer.Factors(zone.Conditions())
	w := s.scorer.Config().Weights

	intensity := (f.Humidity + f.Wind) / 2
	if total := w.Humidity + w.Wind; total > 0 {
		intensity = (w.Humidity*f.Humidity + w.Wind*f.Wind) / total
	}
	return s.cfg.DriftScale * (intensity - 0.5) * float64(stepHours)
}

func clampLatitude(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// wrapLongitude folds longitudes past the antimeridian back into [-180, 180).
func wrapLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

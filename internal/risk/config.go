package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when weights or ranges cannot produce a score in [0,1].
var ErrInvalidConfig = errors.New("invalid risk config")

// weightSumTolerance absorbs float rounding in configured weights.
const weightSumTolerance = 1e-6

// Range is the plausible span of a raw measurement. Values outside it are
// clamped before weighting.
type Range struct {
	Min float64 `koanf:"min" yaml:"min"`
	Max float64 `koanf:"max" yaml:"max"`
}

// Weights are the per-factor contributions to the score. They must sum to 1.
type Weights struct {
	Temperature float64 `koanf:"temperature" yaml:"temperature"`
	Humidity    float64 `koanf:"humidity" yaml:"humidity"`
	Wind        float64 `koanf:"wind" yaml:"wind"`
	Dryness     float64 `koanf:"dryness" yaml:"dryness"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Temperature + w.Humidity + w.Wind + w.Dryness
}

// Ranges hold the normalization span for each factor. Temperature is in °C,
// humidity in percent, wind in km/h; dryness is already an index.
type Ranges struct {
	Temperature Range `koanf:"temperature" yaml:"temperature"`
	Humidity    Range `koanf:"humidity" yaml:"humidity"`
	Wind        Range `koanf:"wind" yaml:"wind"`
	Dryness     Range `koanf:"dryness" yaml:"dryness"`
}

// Config is the tunable part of the scorer.
type Config struct {
	Weights Weights `koanf:"weights" yaml:"weights"`
	Ranges  Ranges  `koanf:"ranges" yaml:"ranges"`
}

// DefaultConfig returns the weighting used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{Temperature: 0.25, Humidity: 0.30, Wind: 0.25, Dryness: 0.20},
		Ranges: Ranges{
			Temperature: Range{Min: 0, Max: 45},
			Humidity:    Range{Min: 0, Max: 100},
			Wind:        Range{Min: 0, Max: 60},
			Dryness:     Range{Min: 0, Max: 1},
		},
	}
}

// Validate checks that weights are non-negative and sum to 1 and that every
// range is non-empty.
func (c Config) Validate() error {
	var errs []error
	for name, w := range map[string]float64{
		"temperature": c.Weights.Temperature,
		"humidity":    c.Weights.Humidity,
		"wind":        c.Weights.Wind,
		"dryness":     c.Weights.Dryness,
	} {
		if w < 0 || math.IsNaN(w) {
			errs = append(errs, fmt.Errorf("weight %s must be non-negative, got %v", name, w))
		}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > weightSumTolerance {
		errs = append(errs, fmt.Errorf("weights must sum to 1, got %v", sum))
	}
	for name, r := range map[string]Range{
		"temperature": c.Ranges.Temperature,
		"humidity":    c.Ranges.Humidity,
		"wind":        c.Ranges.Wind,
		"dryness":     c.Ranges.Dryness,
	} {
		if !(r.Min < r.Max) {
			errs = append(errs, fmt.Errorf("range %s: min %v must be below max %v", name, r.Min, r.Max))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

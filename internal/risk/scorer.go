// Package risk turns an observation's environmental readings into a fire-risk
// level in [0,1].
package risk

import (
	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

// neutral is the contribution of a factor with no reading, so missing data
// neither raises nor lowers the score.
const neutral = 0.5

// Category thresholds: levels above these bounds move up a category.
const (
	mediumAbove = 0.4
	highAbove   = 0.7
)

// Factors are the normalized per-factor contributions, each in [0,1] and
// oriented so that 1 means more dangerous.
type Factors struct {
	Temperature float64
	Humidity    float64
	Wind        float64
	Dryness     float64
}

// Scorer computes risk levels. It is immutable and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// NewScorer validates cfg and returns a Scorer.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Factors normalizes the readings in obs. Humidity is inverted: drier air
// scores higher.
func (s *Scorer) Factors(obs domain.Observation) Factors {
	r := s.cfg.Ranges
	f := Factors{
		Temperature: normalize(obs.Temperature, r.Temperature),
		Humidity:    normalize(obs.Humidity, r.Humidity),
		Wind:        normalize(obs.WindSpeed, r.Wind),
		Dryness:     normalize(obs.DrynessIndex, r.Dryness),
	}
	if obs.Humidity != nil {
		f.Humidity = 1 - f.Humidity
	}
	return f
}

// Score returns the weighted risk level for obs, clamped to [0,1].
func (s *Scorer) Score(obs domain.Observation) float64 {
	return s.Combine(s.Factors(obs))
}

// Combine applies the configured weights to already-normalized factors.
func (s *Scorer) Combine(f Factors) float64 {
	w := s.cfg.Weights
	return Clamp(w.Temperature*f.Temperature + w.Humidity*f.Humidity + w.Wind*f.Wind + w.Dryness*f.Dryness)
}

// CategoryFor buckets a risk level: Low up to 0.4, Medium up to 0.7, High above.
func CategoryFor(level float64) domain.RiskCategory {
	switch {
	case level > highAbove:
		return domain.RiskHigh
	case level > mediumAbove:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Clamp bounds v to [0,1]. NaN maps to 0.
func Clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v >= 0:
		return v
	default:
		return 0
	}
}

func normalize(v *float64, r Range) float64 {
	if v == nil {
		return neutral
	}
	return Clamp((*v - r.Min) / (r.Max - r.Min))
}

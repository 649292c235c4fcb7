package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/couchcryptid/wildfire-risk-engine/internal/risk"
	"github.com/couchcryptid/wildfire-risk-engine/internal/spread"
)

// ErrUnknownKey is returned when the engine config file names an option the
// engine does not recognize.
var ErrUnknownKey = errors.New("unknown engine config key")

// Engine is the tuning the engine recognizes. Every option has a default;
// a YAML file may override any of them and the environment overrides the
// scalar ones.
type Engine struct {
	DedupToleranceDegrees float64       `koanf:"dedup_tolerance_degrees"`
	Risk                  risk.Config   `koanf:"risk"`
	Spread                spread.Config `koanf:"spread"`
	Alert                 AlertTuning   `koanf:"alert"`
}

// AlertTuning tunes alert matching and deduplication.
type AlertTuning struct {
	CooldownWindowHours float64 `koanf:"cooldown_window_hours"`
	MatchRadiusDegrees  float64 `koanf:"match_radius_degrees"`
	MinRiskDelta        float64 `koanf:"min_risk_delta"`
}

// CooldownWindow returns the cooldown as a duration.
func (a AlertTuning) CooldownWindow() time.Duration {
	return time.Duration(a.CooldownWindowHours * float64(time.Hour))
}

// DefaultEngine returns the built-in tuning.
func DefaultEngine() *Engine {
	return &Engine{
		DedupToleranceDegrees: 0.01,
		Risk:                  risk.DefaultConfig(),
		Spread:                spread.DefaultConfig(),
		Alert: AlertTuning{
			CooldownWindowHours: 6,
			MatchRadiusDegrees:  0.1,
			MinRiskDelta:        0,
		},
	}
}

// engineEnv maps environment variables to engine config keys. Normalization
// ranges are file-only.
var engineEnv = map[string]string{
	"dedup_tolerance_degrees":    "dedup_tolerance_degrees",
	"risk_weight_temperature":    "risk.weights.temperature",
	"risk_weight_humidity":       "risk.weights.humidity",
	"risk_weight_wind":           "risk.weights.wind",
	"risk_weight_dryness":        "risk.weights.dryness",
	"spread_rate_constant":       "spread.rate_constant",
	"spread_drift_scale":         "spread.drift_scale",
	"max_horizon_hours":          "spread.max_horizon_hours",
	"cooldown_window_hours":      "alert.cooldown_window_hours",
	"alert_match_radius_degrees": "alert.match_radius_degrees",
	"alert_min_risk_delta":       "alert.min_risk_delta",
}

func engineEnvTransform(key string) string {
	return engineEnv[strings.ToLower(key)]
}

// LoadEngine layers defaults, the optional YAML file at path and environment
// overrides, then validates the result. Keys in the file that the engine does
// not recognize are rejected.
func LoadEngine(path string) (*Engine, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultEngine(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load engine defaults: %w", err)
	}
	known := k.Keys()

	if path != "" {
		fk := koanf.New(".")
		if err := fk.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load engine config file %s: %w", path, err)
		}
		var unknown []string
		for _, key := range fk.Keys() {
			if !slices.Contains(known, key) {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(unknown, ", "))
		}
		if err := k.Merge(fk); err != nil {
			return nil, fmt.Errorf("merge engine config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", engineEnvTransform), nil); err != nil {
		return nil, fmt.Errorf("load engine environment: %w", err)
	}

	cfg := &Engine{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

// Validate checks every option's range.
func (e *Engine) Validate() error {
	var errs []error
	if !(e.DedupToleranceDegrees > 0) {
		errs = append(errs, fmt.Errorf("dedup_tolerance_degrees must be positive, got %v", e.DedupToleranceDegrees))
	}
	if err := e.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := e.Spread.Validate(); err != nil {
		errs = append(errs, err)
	}
	if e.Alert.CooldownWindow() < time.Second {
		errs = append(errs, fmt.Errorf("cooldown_window_hours must be positive, got %v", e.Alert.CooldownWindowHours))
	}
	if !(e.Alert.MatchRadiusDegrees > 0) {
		errs = append(errs, fmt.Errorf("match_radius_degrees must be positive, got %v", e.Alert.MatchRadiusDegrees))
	}
	if e.Alert.MinRiskDelta < 0 {
		errs = append(errs, fmt.Errorf("min_risk_delta must not be negative, got %v", e.Alert.MinRiskDelta))
	}
	return errors.Join(errs...)
}

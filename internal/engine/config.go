package engine

import (
	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/config"
)

// ConfigFromService maps loaded service configuration onto engine tuning.
func ConfigFromService(cfg *config.Config) Config {
	e := cfg.Engine
	if e == nil {
		e = config.DefaultEngine()
	}
	return Config{
		Tolerance: e.DedupToleranceDegrees,
		Risk:      e.Risk,
		Spread:    e.Spread,
		Alert: alert.Config{
			MatchRadius:    e.Alert.MatchRadiusDegrees,
			CooldownWindow: e.Alert.CooldownWindow(),
			Workers:        cfg.DeliveryWorkers,
			QueueSize:      cfg.DeliveryQueueSize,
		},
		MinRiskDelta: e.Alert.MinRiskDelta,
	}
}

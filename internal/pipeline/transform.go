package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/engine"
)

// Ingester absorbs a normalized observation into the zone index.
type Ingester interface {
	Ingest(ctx context.Context, obs domain.Observation) (engine.IngestResult, error)
}

// ObservationTransformer implements Transformer by feeding each parsed
// observation through the engine and serializing the updated zone.
type ObservationTransformer struct {
	ingester Ingester
	logger   *slog.Logger
}

// NewTransformer creates an ObservationTransformer.
func NewTransformer(ingester Ingester, logger *slog.Logger) *ObservationTransformer {
	return &ObservationTransformer{
		ingester: ingester,
		logger:   logger,
	}
}

func (t *ObservationTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	obs, err := domain.ParseRawObservation(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	res, err := t.ingester.Ingest(ctx, obs)
	switch {
	case errors.Is(err, engine.ErrZoneNotPersisted):
		// The zone is live in memory; the pipeline's flusher saves it.
		t.logger.Warn("zone save deferred", "zone_id", res.Zone.ID, "error", err)
	case err != nil:
		return domain.OutputEvent{}, err
	}
	if len(res.Alerts) > 0 {
		t.logger.Info("alerts raised",
			"zone_id", res.Zone.ID,
			"risk_level", res.Zone.RiskLevel,
			"count", len(res.Alerts),
		)
	}

	return domain.SerializeZone(res.Zone)
}

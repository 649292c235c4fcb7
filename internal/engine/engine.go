// Package engine wires the zone index, scorer, spread simulator and alert
// dispatcher into the operation surface the transports call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/geo"
	"github.com/couchcryptid/wildfire-risk-engine/internal/observability"
	"github.com/couchcryptid/wildfire-risk-engine/internal/risk"
	"github.com/couchcryptid/wildfire-risk-engine/internal/spread"
	"github.com/couchcryptid/wildfire-risk-engine/internal/zone"
)

// ErrReadOnlyDirectory is returned when subscribers are registered against a
// directory that does not accept writes.
var ErrReadOnlyDirectory = errors.New("subscriber directory is read-only")

// ErrZoneNotPersisted marks an ingest whose zone update is live in memory but
// not yet saved. The zone is retried by FlushZones.
var ErrZoneNotPersisted = errors.New("zone not persisted")

// ZoneStore persists zones outside the process. Saves happen after the index
// has released its locks.
type ZoneStore interface {
	SaveZone(ctx context.Context, z domain.RiskZone) error
	LoadZones(ctx context.Context) ([]domain.RiskZone, error)
}

// SubscriberRegistry is a directory that accepts subscriber views.
type SubscriberRegistry interface {
	Put(sub domain.Subscriber) error
}

// Config holds the engine tuning.
type Config struct {
	Tolerance float64
	Risk      risk.Config
	Spread    spread.Config
	Alert     alert.Config
	// MinRiskDelta suppresses alert evaluation for merges that moved the
	// risk level by less than this. Zero evaluates on any change.
	MinRiskDelta float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Tolerance: zone.DefaultTolerance,
		Risk:      risk.DefaultConfig(),
		Spread:    spread.DefaultConfig(),
		Alert:     alert.DefaultConfig(),
	}
}

// Deps are the engine's collaborators. Geocoder and ZoneStore are optional.
type Deps struct {
	Geocoder   domain.RegionGeocoder
	ZoneStore  ZoneStore
	AlertStore alert.Store
	Directory  alert.SubscriberDirectory
	Notifier   alert.Notifier
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Clock      clockwork.Clock
}

// IngestResult describes what one observation did.
type IngestResult struct {
	Zone    domain.RiskZone
	Created bool
	Alerts  []domain.Alert
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg        Config
	scorer     *risk.Scorer
	zones      *zone.Index
	simulator  *spread.Simulator
	dispatcher *alert.Dispatcher
	geocoder   domain.RegionGeocoder
	zoneStore  ZoneStore
	directory  alert.SubscriberDirectory
	logger     *slog.Logger
	metrics    *observability.Metrics

	// unsaved maps zone IDs whose last save failed to the sequence number of
	// that failure.
	unsavedMu  sync.Mutex
	unsaved    map[string]uint64
	unsavedSeq uint64
}

// New validates cfg and builds the engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.MinRiskDelta < 0 {
		return nil, fmt.Errorf("min risk delta must not be negative, got %v", cfg.MinRiskDelta)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	scorer, err := risk.NewScorer(cfg.Risk)
	if err != nil {
		return nil, err
	}
	simulator, err := spread.New(cfg.Spread, scorer)
	if err != nil {
		return nil, err
	}
	dispatcher, err := alert.NewDispatcher(cfg.Alert, deps.AlertStore, deps.Directory, deps.Notifier, deps.Logger, deps.Metrics, alert.WithClock(deps.Clock))
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		scorer:     scorer,
		zones:      zone.New(scorer, cfg.Tolerance, zone.WithClock(deps.Clock)),
		simulator:  simulator,
		dispatcher: dispatcher,
		geocoder:   deps.Geocoder,
		zoneStore:  deps.ZoneStore,
		directory:  deps.Directory,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		unsaved:    make(map[string]uint64),
	}, nil
}

// Restore loads persisted zones into the index.
func (e *Engine) Restore(ctx context.Context) error {
	if e.zoneStore == nil {
		return nil
	}
	zones, err := e.zoneStore.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("restore zones: %w", err)
	}
	e.zones.Restore(zones)
	e.metrics.ZonesTracked.Set(float64(e.zones.Len()))
	e.logger.Info("zones restored", "count", len(zones))
	return nil
}

// RunDelivery runs the alert delivery workers until ctx is cancelled.
func (e *Engine) RunDelivery(ctx context.Context) error {
	return e.dispatcher.Run(ctx)
}

// Ingest normalizes obs, names its region, merges it into the zone index,
// persists the zone and evaluates alerts when the risk changed enough.
// Alert evaluation failures are logged, not returned: the zone update has
// already happened. A failed save still evaluates alerts and returns the
// result alongside an error wrapping ErrZoneNotPersisted.
func (e *Engine) Ingest(ctx context.Context, obs domain.Observation) (IngestResult, error) {
	obs, err := domain.NormalizeObservation(obs)
	if err != nil {
		return IngestResult{}, err
	}
	obs = domain.EnrichWithRegion(ctx, obs, e.geocoder, e.logger)

	upd, err := e.zones.Upsert(obs)
	if err != nil {
		return IngestResult{}, err
	}
	if upd.Created {
		e.metrics.ZoneUpserts.WithLabelValues("created").Inc()
		e.metrics.ZonesTracked.Set(float64(e.zones.Len()))
	} else {
		e.metrics.ZoneUpserts.WithLabelValues("merged").Inc()
	}

	saveErr := e.saveZone(ctx, upd.Zone)

	res := IngestResult{Zone: upd.Zone, Created: upd.Created}
	if !e.shouldEvaluate(upd) {
		return res, saveErr
	}
	alerts, err := e.dispatcher.Evaluate(ctx, upd.Zone)
	if err != nil {
		e.logger.Error("alert evaluation failed", "zone_id", upd.Zone.ID, "error", err)
	}
	res.Alerts = alerts
	return res, saveErr
}

// saveZone persists z, tracking it for FlushZones on failure.
func (e *Engine) saveZone(ctx context.Context, z domain.RiskZone) error {
	if e.zoneStore == nil {
		return nil
	}
	if err := e.zoneStore.SaveZone(ctx, z); err != nil {
		e.metrics.ZoneSaveErrors.Inc()
		e.markUnsaved(z.ID)
		return fmt.Errorf("save zone %s: %w: %w", z.ID, ErrZoneNotPersisted, err)
	}
	return nil
}

func (e *Engine) markUnsaved(id string) {
	e.unsavedMu.Lock()
	defer e.unsavedMu.Unlock()
	e.unsavedSeq++
	e.unsaved[id] = e.unsavedSeq
	e.metrics.ZonesUnsaved.Set(float64(len(e.unsaved)))
}

// clearUnsaved forgets id unless a newer save failed after seq was read.
func (e *Engine) clearUnsaved(id string, seq uint64) {
	e.unsavedMu.Lock()
	defer e.unsavedMu.Unlock()
	if e.unsaved[id] == seq {
		delete(e.unsaved, id)
	}
	e.metrics.ZonesUnsaved.Set(float64(len(e.unsaved)))
}

// UnsavedZones returns how many zones are waiting to be persisted.
func (e *Engine) UnsavedZones() int {
	e.unsavedMu.Lock()
	defer e.unsavedMu.Unlock()
	return len(e.unsaved)
}

// FlushZones saves the current snapshot of every zone whose last save
// failed. Zones that still fail stay pending; their errors are joined.
func (e *Engine) FlushZones(ctx context.Context) error {
	if e.zoneStore == nil {
		return nil
	}
	e.unsavedMu.Lock()
	pending := maps.Clone(e.unsaved)
	e.unsavedMu.Unlock()

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(pending)) {
		z, err := e.zones.Get(id)
		if err != nil {
			e.clearUnsaved(id, pending[id])
			continue
		}
		if err := e.zoneStore.SaveZone(ctx, z); err != nil {
			e.metrics.ZoneSaveErrors.Inc()
			errs = append(errs, fmt.Errorf("save zone %s: %w", id, err))
			continue
		}
		e.clearUnsaved(id, pending[id])
	}
	return errors.Join(errs...)
}

func (e *Engine) shouldEvaluate(upd zone.Update) bool {
	if upd.Created {
		return true
	}
	delta := upd.RiskDelta()
	if e.cfg.MinRiskDelta == 0 {
		return delta > 0
	}
	return delta >= e.cfg.MinRiskDelta
}

// UpsertObservation ingests one observation and returns the canonical zone.
func (e *Engine) UpsertObservation(ctx context.Context, obs domain.Observation) (domain.RiskZone, error) {
	res, err := e.Ingest(ctx, obs)
	return res.Zone, err
}

// QueryZone returns the zone matching (lat, lon). A non-positive tolerance
// uses the dedup tolerance.
func (e *Engine) QueryZone(lat, lon, tolerance float64) (domain.RiskZone, error) {
	return e.zones.QueryByCoordinate(lat, lon, tolerance)
}

// QueryZones lists zones, highest risk first.
func (e *Engine) QueryZones(f zone.Filter) []domain.RiskZone {
	return e.zones.List(f)
}

// ZonesInBox returns zones whose centroid lies inside b.
func (e *Engine) ZonesInBox(b geo.BoundingBox) ([]domain.RiskZone, error) {
	return e.zones.QueryByBoundingBox(b)
}

// GetZone returns one zone by id.
func (e *Engine) GetZone(id string) (domain.RiskZone, error) {
	return e.zones.Get(id)
}

// SimulateSpread projects the zone forward from a snapshot taken now.
func (e *Engine) SimulateSpread(ctx context.Context, zoneID string, horizonHours, stepHours int) ([]domain.SpreadPoint, error) {
	f, err := e.ForecastSpread(ctx, zoneID, horizonHours, stepHours)
	if err != nil {
		return nil, err
	}
	return f.Points, nil
}

// ForecastSpread is SimulateSpread with the distance summary.
func (e *Engine) ForecastSpread(ctx context.Context, zoneID string, horizonHours, stepHours int) (spread.Forecast, error) {
	z, err := e.zones.Get(zoneID)
	if err != nil {
		return spread.Forecast{}, err
	}
	start := time.Now()
	f, err := e.simulator.Forecast(ctx, z, horizonHours, stepHours)
	if errors.Is(err, domain.ErrInvalidHorizon) {
		e.metrics.SimulationRejected.Inc()
	}
	if err != nil {
		return spread.Forecast{}, err
	}
	e.metrics.SimulationDuration.Observe(time.Since(start).Seconds())
	return f, nil
}

// ListAlerts returns a subscriber's alerts newest first.
func (e *Engine) ListAlerts(ctx context.Context, subscriberID string, filter domain.AlertFilter, offset, limit int) ([]domain.Alert, error) {
	return e.dispatcher.ListAlerts(ctx, subscriberID, filter, offset, limit)
}

// GetAlert returns one of the subscriber's alerts.
func (e *Engine) GetAlert(ctx context.Context, subscriberID, alertID string) (domain.Alert, error) {
	return e.dispatcher.GetAlert(ctx, subscriberID, alertID)
}

// MarkAlertRead moves an alert to Read; repeating it is a no-op.
func (e *Engine) MarkAlertRead(ctx context.Context, alertID string) (domain.Alert, error) {
	return e.dispatcher.MarkRead(ctx, alertID)
}

// MarkAllAlertsRead marks every unread alert of the subscriber read.
func (e *Engine) MarkAllAlertsRead(ctx context.Context, subscriberID string) (int, error) {
	return e.dispatcher.MarkAllRead(ctx, subscriberID)
}

// Redeliver re-queues an alert's failed channels.
func (e *Engine) Redeliver(ctx context.Context, alertID string) ([]domain.Channel, error) {
	return e.dispatcher.Redeliver(ctx, alertID)
}

// FailedDeliveries lists alerts with a failed channel.
func (e *Engine) FailedDeliveries(ctx context.Context, limit int) ([]domain.Alert, error) {
	return e.dispatcher.FailedDeliveries(ctx, limit)
}

// RegisterSubscriber stores a subscriber view in the directory.
func (e *Engine) RegisterSubscriber(sub domain.Subscriber) error {
	reg, ok := e.directory.(SubscriberRegistry)
	if !ok {
		return ErrReadOnlyDirectory
	}
	return reg.Put(sub)
}

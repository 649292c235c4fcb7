// Package alert turns zone updates into subscriber alerts and tracks their
// read and delivery state.
//
// Alert creation is idempotent per (subscriber, zone, cooldown bucket): the
// Store's Create is the single atomic check-then-create step. Deliveries run
// on a worker pool fed by a bounded queue, so Evaluate returns once alerts
// are stored and never waits on a Notifier.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/geo"
	"github.com/couchcryptid/wildfire-risk-engine/internal/observability"
)

// ErrInvalidConfig is returned for non-positive tuning values.
var ErrInvalidConfig = errors.New("invalid alert config")

const (
	DefaultMatchRadius    = 0.1
	DefaultCooldownWindow = 6 * time.Hour
	DefaultWorkers        = 4
	DefaultQueueSize      = 1024

	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Config tunes the dispatcher.
type Config struct {
	// MatchRadius is how far, in degrees, a subscriber's home may be from a
	// zone and still be alerted.
	MatchRadius    float64
	CooldownWindow time.Duration
	Workers        int
	QueueSize      int
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		MatchRadius:    DefaultMatchRadius,
		CooldownWindow: DefaultCooldownWindow,
		Workers:        DefaultWorkers,
		QueueSize:      DefaultQueueSize,
	}
}

// Validate rejects values the dispatcher cannot run with.
func (c Config) Validate() error {
	var errs []error
	if !(c.MatchRadius > 0) {
		errs = append(errs, fmt.Errorf("match radius must be positive, got %v", c.MatchRadius))
	}
	if c.CooldownWindow < time.Second {
		errs = append(errs, fmt.Errorf("cooldown window must be at least 1s, got %v", c.CooldownWindow))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue size must be positive, got %d", c.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// SubscriberLookup is implemented by directories that can resolve a single
// subscriber, which re-delivery uses to rebuild notifications.
type SubscriberLookup interface {
	Get(id string) (domain.Subscriber, bool)
}

// Dispatcher is the alert state machine. It is safe for concurrent use.
type Dispatcher struct {
	cfg       Config
	store     Store
	directory SubscriberDirectory
	notifier  Notifier
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	newID     func() string

	jobs chan Notification
	wg   sync.WaitGroup

	// stopMu guards stopped against concurrent enqueues, so nothing lands in
	// jobs after the final drain.
	stopMu  sync.RWMutex
	stopped bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source for created_at and cooldown buckets.
func WithClock(c clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithIDGenerator replaces the UUID generator for new alerts.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

// NewDispatcher validates cfg and returns a Dispatcher. Call Run to start
// delivering.
func NewDispatcher(cfg Config, store Store, directory SubscriberDirectory, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		cfg:       cfg,
		store:     store,
		directory: directory,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		newID:     uuid.NewString,
		jobs:      make(chan Notification, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run starts the delivery workers and blocks until ctx is cancelled and the
// workers have finished their current notification. Notifications still
// queued at that point, or enqueued afterwards, are recorded as Failed so
// the retry sweep can pick them up.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("alert delivery started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
	for range d.cfg.Workers {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	<-ctx.Done()
	d.wg.Wait()

	d.stopMu.Lock()
	d.stopped = true
	d.stopMu.Unlock()

	abandoned := d.drain(ctx)
	d.logger.Info("alert delivery stopped", "abandoned", abandoned)
	return nil
}

// drain marks every queued notification Failed and returns how many there were.
func (d *Dispatcher) drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case job := <-d.jobs:
			d.metrics.Deliveries.WithLabelValues(string(job.Channel), string(domain.DeliveryFailed)).Inc()
			d.record(ctx, job, domain.DeliveryFailed)
			n++
		default:
			return n
		}
	}
}

// Evaluate alerts every subscriber the directory lists near the zone.
func (d *Dispatcher) Evaluate(ctx context.Context, zone domain.RiskZone) ([]domain.Alert, error) {
	bbox := geo.Around(geo.Point{Lat: zone.Latitude, Lon: zone.Longitude}, d.cfg.MatchRadius)
	subs, err := d.directory.ListForRegion(ctx, bbox)
	if err != nil {
		return nil, fmt.Errorf("list subscribers for zone %s: %w", zone.ID, err)
	}
	return d.EvaluateSubscribers(ctx, zone, subs)
}

// EvaluateSubscribers creates an alert for each subscriber within the match
// radius whose threshold the zone's risk meets, unless one already exists for
// the current cooldown bucket. It returns only newly created alerts, each with
// its channels Pending, and queues their deliveries.
func (d *Dispatcher) EvaluateSubscribers(ctx context.Context, zone domain.RiskZone, subs []domain.Subscriber) ([]domain.Alert, error) {
	now := d.clock.Now().UTC()
	bucket := CooldownBucket(now, d.cfg.CooldownWindow)

	var created []domain.Alert
	for _, sub := range d.match(zone, subs) {
		a := domain.Alert{
			ID:             d.newID(),
			SubscriberID:   sub.ID,
			ZoneID:         zone.ID,
			RiskLevel:      zone.RiskLevel,
			Message:        Message(zone),
			CreatedAt:      now,
			State:          domain.Unread,
			Delivery:       make(map[domain.Channel]domain.DeliveryState),
			CooldownBucket: bucket,
		}
		channels := uniqueChannels(sub.Channels)
		for _, ch := range channels {
			a.Delivery[ch] = domain.DeliveryPending
		}

		stored, ok, err := d.store.Create(ctx, a)
		if err != nil {
			return created, fmt.Errorf("create alert for subscriber %s zone %s: %w", sub.ID, zone.ID, err)
		}
		if !ok {
			d.metrics.AlertsDeduplicated.Inc()
			continue
		}
		d.metrics.AlertsCreated.Inc()
		d.logger.Info("alert created",
			"alert_id", stored.ID,
			"subscriber_id", sub.ID,
			"zone_id", zone.ID,
			"risk_level", zone.RiskLevel,
		)
		created = append(created, stored)

		for _, ch := range channels {
			d.enqueue(ctx, notificationFor(stored, sub, ch))
		}
	}
	return created, nil
}

// MarkRead moves an alert to Read. Marking a Read alert again is a no-op.
func (d *Dispatcher) MarkRead(ctx context.Context, alertID string) (domain.Alert, error) {
	return d.store.MarkRead(ctx, alertID)
}

// MarkAllRead moves every Unread alert of the subscriber to Read and returns
// how many changed. Alerts created after the call starts stay Unread.
func (d *Dispatcher) MarkAllRead(ctx context.Context, subscriberID string) (int, error) {
	return d.store.MarkAllRead(ctx, subscriberID)
}

// ListAlerts returns the subscriber's alerts newest first. The limit defaults
// to DefaultListLimit and is capped at MaxListLimit.
func (d *Dispatcher) ListAlerts(ctx context.Context, subscriberID string, filter domain.AlertFilter, offset, limit int) ([]domain.Alert, error) {
	return d.store.ListBySubscriber(ctx, subscriberID, filter, max(offset, 0), listLimit(limit))
}

// GetAlert returns one alert if it belongs to the subscriber.
func (d *Dispatcher) GetAlert(ctx context.Context, subscriberID, alertID string) (domain.Alert, error) {
	a, err := d.store.Get(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	if a.SubscriberID != subscriberID {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	return a, nil
}

// FailedDeliveries lists alerts with at least one Failed channel for an
// external retry sweep.
func (d *Dispatcher) FailedDeliveries(ctx context.Context, limit int) ([]domain.Alert, error) {
	return d.store.ListFailed(ctx, listLimit(limit))
}

// Redeliver moves the alert's Failed channels back to Pending and queues them
// again. It returns the channels queued.
func (d *Dispatcher) Redeliver(ctx context.Context, alertID string) ([]domain.Channel, error) {
	a, err := d.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}

	sub := domain.Subscriber{ID: a.SubscriberID}
	if lookup, ok := d.directory.(SubscriberLookup); ok {
		if s, found := lookup.Get(a.SubscriberID); found {
			sub = s
		}
	}

	failed := a.FailedChannels()
	for _, ch := range failed {
		if err := d.store.SetDelivery(ctx, a.ID, ch, domain.DeliveryPending); err != nil {
			return nil, fmt.Errorf("reset delivery %s for alert %s: %w", ch, a.ID, err)
		}
		d.enqueue(ctx, notificationFor(a, sub, ch))
	}
	if len(failed) > 0 {
		d.logger.Info("alert re-delivery queued", "alert_id", a.ID, "channels", failed)
	}
	return failed, nil
}

// match returns the subscribers inside the match radius whose threshold is
// met, nearest first.
func (d *Dispatcher) match(zone domain.RiskZone, subs []domain.Subscriber) []domain.Subscriber {
	if len(subs) == 0 {
		return nil
	}
	index := geo.NewHashGrid[domain.Subscriber](d.cfg.MatchRadius)
	for _, s := range subs {
		index.Put(s.ID, geo.Point{Lat: s.Latitude, Lon: s.Longitude}, s)
	}

	var out []domain.Subscriber
	for _, e := range index.Within(geo.Point{Lat: zone.Latitude, Lon: zone.Longitude}, d.cfg.MatchRadius) {
		if e.Value.AlertThreshold <= zone.RiskLevel {
			out = append(out, e.Value)
		}
	}
	return out
}

// enqueue hands a notification to the workers without blocking. A full queue
// or a stopped dispatcher records the delivery as Failed so the retry sweep
// picks it up.
func (d *Dispatcher) enqueue(ctx context.Context, n Notification) {
	d.stopMu.RLock()
	if d.stopped {
		d.stopMu.RUnlock()
		d.logger.Warn("alert delivery stopped, marking delivery failed",
			"alert_id", n.AlertID,
			"channel", n.Channel,
		)
		d.record(ctx, n, domain.DeliveryFailed)
		return
	}
	select {
	case d.jobs <- n:
		d.stopMu.RUnlock()
		return
	default:
	}
	d.stopMu.RUnlock()

	d.metrics.DeliveryQueueDrops.Inc()
	d.logger.Warn("delivery queue full, marking delivery failed",
		"alert_id", n.AlertID,
		"channel", n.Channel,
	)
	d.record(ctx, n, domain.DeliveryFailed)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.jobs:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	state := domain.DeliverySent
	if err := d.notifier.Send(ctx, n); err != nil {
		state = domain.DeliveryFailed
		d.logger.Warn("alert delivery failed",
			"alert_id", n.AlertID,
			"subscriber_id", n.Subscriber.ID,
			"channel", n.Channel,
			"error", err,
		)
	}
	d.metrics.Deliveries.WithLabelValues(string(n.Channel), string(state)).Inc()
	d.record(ctx, n, state)
}

func (d *Dispatcher) record(ctx context.Context, n Notification, state domain.DeliveryState) {
	// Outcomes are recorded even when the service is shutting down.
	if err := d.store.SetDelivery(context.WithoutCancel(ctx), n.AlertID, n.Channel, state); err != nil {
		d.logger.Error("record delivery outcome failed",
			"alert_id", n.AlertID,
			"channel", n.Channel,
			"state", state,
			"error", err,
		)
	}
}

// CooldownBucket returns floor(now / window) in whole seconds.
func CooldownBucket(now time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	unix := now.Unix()
	b := unix / secs
	if unix%secs < 0 {
		b--
	}
	return b
}

// Message is the text sent for a zone alert.
func Message(zone domain.RiskZone) string {
	return fmt.Sprintf("High fire risk detected in %s. Risk level: %.2f", zone.RegionName, zone.RiskLevel)
}

func notificationFor(a domain.Alert, sub domain.Subscriber, ch domain.Channel) Notification {
	return Notification{
		AlertID:    a.ID,
		ZoneID:     a.ZoneID,
		Channel:    ch,
		Subscriber: sub,
		Message:    a.Message,
		RiskLevel:  a.RiskLevel,
	}
}

func uniqueChannels(chs []domain.Channel) []domain.Channel {
	out := slices.Clone(chs)
	slices.Sort(out)
	return slices.Compact(out)
}

func listLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/observability"
)

var testNow = time.Date(2025, 8, 14, 13, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	fail  map[domain.Channel]bool
	calls atomic.Int64
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[n.Channel] {
		return errors.New("gateway unavailable")
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) setFail(ch domain.Channel, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[domain.Channel]bool)
	}
	r.fail[ch] = fail
}

type fixture struct {
	d        *Dispatcher
	store    *MemoryStore
	dir      *MemoryDirectory
	notifier *recordingNotifier
	metrics  *observability.Metrics
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		dir:      NewMemoryDirectory(),
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetricsForTesting(),
		clock:    clockwork.NewFakeClockAt(testNow),
	}
	var n atomic.Int64
	d, err := NewDispatcher(cfg, f.store, f.dir, f.notifier, discardLogger(), f.metrics,
		WithClock(f.clock),
		WithIDGenerator(func() string { return fmt.Sprintf("alert-%03d", n.Add(1)) }),
	)
	require.NoError(t, err)
	f.d = d
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func hotZone() domain.RiskZone {
	return domain.RiskZone{
		ID:         "zone-1",
		RegionName: "Los Angeles",
		Latitude:   34.05,
		Longitude:  -118.24,
		RiskLevel:  0.73,
	}
}

func subscriber(id string, threshold float64, chs ...domain.Channel) domain.Subscriber {
	return domain.Subscriber{ID: id, Latitude: 34.05, Longitude: -118.24, AlertThreshold: threshold, Channels: chs}
}

func TestEvaluate_CreatesUnreadPendingAlert(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.dir.Put(subscriber("sub-1", 0.6, domain.ChannelApp, domain.ChannelEmail)))

	alerts, err := f.d.Evaluate(context.Background(), hotZone())
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "alert-001", a.ID)
	assert.Equal(t, "sub-1", a.SubscriberID)
	assert.Equal(t, "zone-1", a.ZoneID)
	assert.Equal(t, domain.Unread, a.State)
	assert.Equal(t, testNow, a.CreatedAt)
	assert.Equal(t, 0.73, a.RiskLevel)
	assert.Equal(t, "High fire risk detected in Los Angeles. Risk level: 0.73", a.Message)
	assert.Equal(t, map[domain.Channel]domain.DeliveryState{
		domain.ChannelApp:   domain.DeliveryPending,
		domain.ChannelEmail: domain.DeliveryPending,
	}, a.Delivery)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsCreated))
}

func TestEvaluate_SkipsUnmatchedSubscribers(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	far := subscriber("far", 0.1)
	far.Latitude = 36
	subs := []domain.Subscriber{
		subscriber("too-high", 0.9),
		far,
		subscriber("equal", 0.73),
	}

	alerts, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), subs)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "equal", alerts[0].SubscriberID, "threshold equal to risk should alert")
}

func TestEvaluate_DedupWithinCooldown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	subs := []domain.Subscriber{subscriber("sub-1", 0.6, domain.ChannelApp)}

	first, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), subs)
	require.NoError(t, err)
	second, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), subs)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	all, err := f.d.ListAlerts(context.Background(), "sub-1", domain.FilterAll, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsDeduplicated))

	f.clock.Advance(DefaultCooldownWindow)
	third, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), subs)
	require.NoError(t, err)
	assert.Len(t, third, 1, "a new cooldown bucket allows a new alert")
}

func TestEvaluate_ConcurrentCallsCreateOneAlert(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	subs := []domain.Subscriber{subscriber("sub-1", 0.5, domain.ChannelSMS)}

	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alerts, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), subs)
			assert.NoError(t, err)
			total.Add(int64(len(alerts)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), total.Load())
}

func TestEvaluate_DoesNotBlockOnDelivery(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	block := make(chan struct{})
	f.d.notifier = NotifierFunc(func(ctx context.Context, _ Notification) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	f.run(t)
	t.Cleanup(func() { close(block) })

	done := make(chan struct{})
	go func() {
		_, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), []domain.Subscriber{subscriber("sub-1", 0.5, domain.ChannelApp)})
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("evaluate blocked on the notifier")
	}
}

func TestDelivery_RecordsOutcomes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.notifier.setFail(domain.ChannelSMS, true)
	f.run(t)

	alerts, err := f.d.EvaluateSubscribers(context.Background(), hotZone(),
		[]domain.Subscriber{subscriber("sub-1", 0.5, domain.ChannelApp, domain.ChannelSMS)})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	id := alerts[0].ID

	require.Eventually(t, func() bool {
		a, err := f.store.Get(context.Background(), id)
		return err == nil &&
			a.Delivery[domain.ChannelApp] == domain.DeliverySent &&
			a.Delivery[domain.ChannelSMS] == domain.DeliveryFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("app", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues("sms", "failed")))

	failed, err := f.d.FailedDeliveries(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)

	f.notifier.setFail(domain.ChannelSMS, false)
	channels, err := f.d.Redeliver(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []domain.Channel{domain.ChannelSMS}, channels)

	require.Eventually(t, func() bool {
		a, err := f.store.Get(context.Background(), id)
		return err == nil && a.Delivery[domain.ChannelSMS] == domain.DeliverySent
	}, 2*time.Second, 10*time.Millisecond)

	failed, err = f.d.FailedDeliveries(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRedeliver_UsesDirectorySubscriber(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	sub := subscriber("sub-1", 0.5, domain.ChannelEmail)
	require.NoError(t, f.dir.Put(sub))
	f.notifier.setFail(domain.ChannelEmail, true)
	f.run(t)

	alerts, err := f.d.Evaluate(context.Background(), hotZone())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Eventually(t, func() bool {
		a, _ := f.store.Get(context.Background(), alerts[0].ID)
		return a.Delivery[domain.ChannelEmail] == domain.DeliveryFailed
	}, 2*time.Second, 10*time.Millisecond)

	f.notifier.setFail(domain.ChannelEmail, false)
	_, err = f.d.Redeliver(context.Background(), alerts[0].ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)
	f.notifier.mu.Lock()
	assert.Equal(t, sub, f.notifier.sent[0].Subscriber)
	f.notifier.mu.Unlock()
}

func TestRedeliver_UnknownAlert(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.d.Redeliver(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
}

func TestDelivery_QueueFullMarksFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	f := newFixture(t, cfg)

	// No workers are running, so the second channel cannot be queued.
	alerts, err := f.d.EvaluateSubscribers(context.Background(), hotZone(),
		[]domain.Subscriber{subscriber("sub-1", 0.5, domain.ChannelApp, domain.ChannelEmail)})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a, err := f.store.Get(context.Background(), alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, a.Delivery[domain.ChannelApp])
	assert.Equal(t, domain.DeliveryFailed, a.Delivery[domain.ChannelEmail])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DeliveryQueueDrops))
}

func TestRun_StopFailsQueuedDeliveries(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	// Nothing is delivering yet, so every notification waits in the queue.
	for i := range 50 {
		zone := hotZone()
		zone.ID = fmt.Sprintf("zone-%02d", i)
		alerts, err := f.d.EvaluateSubscribers(ctx, zone, []domain.Subscriber{subscriber("sub-1", 0.5, domain.ChannelApp)})
		require.NoError(t, err)
		require.Len(t, alerts, 1)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, f.d.Run(cancelled))

	failed, err := f.d.FailedDeliveries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 50, "queued deliveries must be recoverable by the retry sweep")
	for _, a := range failed {
		assert.Equal(t, domain.DeliveryFailed, a.Delivery[domain.ChannelApp], "alert %s", a.ID)
	}

	// Alerts raised after delivery stopped are failed immediately.
	late, err := f.d.EvaluateSubscribers(ctx, hotZone(), []domain.Subscriber{subscriber("sub-2", 0.5, domain.ChannelSMS)})
	require.NoError(t, err)
	require.Len(t, late, 1)
	a, err := f.store.Get(ctx, late[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, a.Delivery[domain.ChannelSMS])
	assert.Empty(t, f.d.jobs)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	alerts, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), []domain.Subscriber{subscriber("sub-1", 0.5)})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a, err := f.d.MarkRead(context.Background(), alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Read, a.State)

	a, err = f.d.MarkRead(context.Background(), alerts[0].ID)
	require.NoError(t, err, "marking a read alert again is a no-op")
	assert.Equal(t, domain.Read, a.State)

	_, err = f.d.MarkRead(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
}

func TestMarkAllRead(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	for i := range 3 {
		z := hotZone()
		z.ID = fmt.Sprintf("zone-%d", i)
		_, err := f.d.EvaluateSubscribers(ctx, z, []domain.Subscriber{subscriber("sub-1", 0.5), subscriber("sub-2", 0.5)})
		require.NoError(t, err)
	}

	n, err := f.d.MarkAllRead(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	unread, err := f.d.ListAlerts(ctx, "sub-1", domain.FilterUnread, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)

	other, err := f.d.ListAlerts(ctx, "sub-2", domain.FilterUnread, 0, 0)
	require.NoError(t, err)
	assert.Len(t, other, 3, "other subscribers are untouched")

	z := hotZone()
	z.ID = "zone-new"
	_, err = f.d.EvaluateSubscribers(ctx, z, []domain.Subscriber{subscriber("sub-1", 0.5)})
	require.NoError(t, err)
	unread, err = f.d.ListAlerts(ctx, "sub-1", domain.FilterUnread, 0, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 1, "alerts created after the bulk update stay unread")

	n, err = f.d.MarkAllRead(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkAllRead_ConcurrentWithEvaluate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			z := hotZone()
			z.ID = fmt.Sprintf("zone-%d", i)
			_, err := f.d.EvaluateSubscribers(ctx, z, []domain.Subscriber{subscriber("sub-1", 0.5)})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := f.d.MarkAllRead(ctx, "sub-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := f.d.MarkAllRead(ctx, "sub-1")
	require.NoError(t, err)
	unread, err := f.d.ListAlerts(ctx, "sub-1", domain.FilterUnread, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
	all, err := f.d.ListAlerts(ctx, "sub-1", domain.FilterAll, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 50)
}

func TestListAlerts_NewestFirstWithPaging(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	for i := range 5 {
		z := hotZone()
		z.ID = fmt.Sprintf("zone-%d", i)
		_, err := f.d.EvaluateSubscribers(ctx, z, []domain.Subscriber{subscriber("sub-1", 0.5)})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	_, err := f.d.MarkRead(ctx, "alert-005")
	require.NoError(t, err)

	page, err := f.d.ListAlerts(ctx, "sub-1", domain.FilterAll, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "alert-004", page[0].ID)
	assert.Equal(t, "alert-003", page[1].ID)

	read, err := f.d.ListAlerts(ctx, "sub-1", domain.FilterRead, 0, 0)
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, "alert-005", read[0].ID)
}

func TestGetAlert_ScopedToSubscriber(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	alerts, err := f.d.EvaluateSubscribers(context.Background(), hotZone(), []domain.Subscriber{subscriber("sub-1", 0.5)})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	got, err := f.d.GetAlert(context.Background(), "sub-1", alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, alerts[0].ID, got.ID)

	_, err = f.d.GetAlert(context.Background(), "sub-2", alerts[0].ID)
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
}

func TestCooldownBucket(t *testing.T) {
	window := 6 * time.Hour
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, CooldownBucket(base, window), CooldownBucket(base.Add(5*time.Hour+59*time.Minute), window))
	assert.Equal(t, CooldownBucket(base, window)+1, CooldownBucket(base.Add(6*time.Hour), window))
	assert.Equal(t, int64(-1), CooldownBucket(time.Unix(-1, 0), window))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	_, err := NewDispatcher(Config{}, NewMemoryStore(), NewMemoryDirectory(), &recordingNotifier{}, discardLogger(), observability.NewMetricsForTesting())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "match radius")
	assert.Contains(t, err.Error(), "cooldown window")
}

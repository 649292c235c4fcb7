// Package notifier decorates alert notifiers with rate limiting and a
// circuit breaker so a failing delivery backend sheds load instead of tying
// up the delivery workers.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/observability"
)

// Settings tunes the decorator.
type Settings struct {
	Name string
	// RatePerSecond caps sends; Burst allows short spikes above it.
	RatePerSecond float64
	Burst         int
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes are let through while half-open.
	HalfOpenRequests uint32
}

// DefaultSettings returns production defaults for the given send rate.
func DefaultSettings(name string, ratePerSecond float64) Settings {
	return Settings{
		Name:                name,
		RatePerSecond:       ratePerSecond,
		Burst:               max(1, int(ratePerSecond)),
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Resilient wraps an alert.Notifier. It implements alert.Notifier.
type Resilient struct {
	inner   alert.Notifier
	cb      *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
	name    string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResilient wraps inner with a token-bucket limiter and a breaker.
func NewResilient(inner alert.Notifier, s Settings, metrics *observability.Metrics, logger *slog.Logger) *Resilient {
	r := &Resilient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(s.RatePerSecond), s.Burst),
		name:    s.Name,
		metrics: metrics,
		logger:  logger,
	}
	metrics.NotifierBreakerState.WithLabelValues(s.Name).Set(0)

	r.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notifier circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
			metrics.NotifierBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return r
}

// Send waits for a rate token, then delivers through the breaker. An open
// breaker fails the send immediately without calling the wrapped notifier.
func (r *Resilient) Send(ctx context.Context, n alert.Notification) error {
	if err := r.limiter.Wait(ctx); err != nil {
		r.metrics.NotifierRequests.WithLabelValues(r.name, "throttled").Inc()
		return fmt.Errorf("notifier %s rate limit: %w", r.name, err)
	}

	_, err := r.cb.Execute(func() (struct{}, error) {
		return struct{}{}, r.inner.Send(ctx, n)
	})
	switch {
	case err == nil:
		r.metrics.NotifierRequests.WithLabelValues(r.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		r.metrics.NotifierRequests.WithLabelValues(r.name, "rejected").Inc()
	default:
		r.metrics.NotifierRequests.WithLabelValues(r.name, "failure").Inc()
	}
	return err
}

// State reports the breaker state.
func (r *Resilient) State() gobreaker.State {
	return r.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

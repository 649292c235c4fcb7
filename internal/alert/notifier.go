package alert

import (
	"context"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

// Notification is one channel delivery of an alert.
type Notification struct {
	AlertID    string            `json:"alert_id"`
	ZoneID     string            `json:"zone_id"`
	Channel    domain.Channel    `json:"channel"`
	Subscriber domain.Subscriber `json:"subscriber"`
	Message    string            `json:"message"`
	RiskLevel  float64           `json:"risk_level"`
}

// Notifier delivers a notification over its channel. A nil error means the
// delivery was accepted (Sent); any error records it as Failed.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

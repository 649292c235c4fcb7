package domain

import "time"

// Channel is a delivery channel a subscriber can opt into.
type Channel string

const (
	ChannelApp   Channel = "app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ParseChannel accepts the lower-case channel names.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelApp, ChannelEmail, ChannelSMS:
		return Channel(s), true
	default:
		return "", false
	}
}

// Subscriber is the view of a user the dispatcher needs. It is owned by the
// account system, not by the engine.
type Subscriber struct {
	ID             string    `json:"id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AlertThreshold float64   `json:"alert_threshold"`
	Channels       []Channel `json:"channels"`
}

// ReadState is the subscriber-facing state of an alert. The only transition is
// Unread to Read.
type ReadState string

const (
	Unread ReadState = "unread"
	Read   ReadState = "read"
)

// DeliveryState tracks one channel's delivery attempt.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// CooldownKey identifies an alert for deduplication. At most one alert exists
// per key.
type CooldownKey struct {
	SubscriberID string
	ZoneID       string
	Bucket       int64
}

// Alert is a notification created when a zone crosses a subscriber's threshold.
type Alert struct {
	ID             string                    `json:"id"`
	SubscriberID   string                    `json:"subscriber_id"`
	ZoneID         string                    `json:"zone_id"`
	RiskLevel      float64                   `json:"risk_level"`
	Message        string                    `json:"message"`
	CreatedAt      time.Time                 `json:"created_at"`
	State          ReadState                 `json:"state"`
	Delivery       map[Channel]DeliveryState `json:"delivery"`
	CooldownBucket int64                     `json:"cooldown_bucket"`
}

// Key returns the alert's cooldown key.
func (a Alert) Key() CooldownKey {
	return CooldownKey{SubscriberID: a.SubscriberID, ZoneID: a.ZoneID, Bucket: a.CooldownBucket}
}

// Clone returns a copy with its own delivery map.
func (a Alert) Clone() Alert {
	if a.Delivery != nil {
		d := make(map[Channel]DeliveryState, len(a.Delivery))
		for ch, st := range a.Delivery {
			d[ch] = st
		}
		a.Delivery = d
	}
	return a
}

// FailedChannels returns the channels whose last attempt failed, in a stable order.
func (a Alert) FailedChannels() []Channel {
	var out []Channel
	for _, ch := range []Channel{ChannelApp, ChannelEmail, ChannelSMS} {
		if a.Delivery[ch] == DeliveryFailed {
			out = append(out, ch)
		}
	}
	return out
}

// AlertFilter selects alerts by read state.
type AlertFilter string

const (
	FilterAll    AlertFilter = "all"
	FilterUnread AlertFilter = "unread"
	FilterRead   AlertFilter = "read"
)

// ParseAlertFilter maps a query value to a filter; empty means all.
func ParseAlertFilter(s string) (AlertFilter, bool) {
	switch AlertFilter(s) {
	case "", FilterAll:
		return FilterAll, true
	case FilterUnread, FilterRead:
		return AlertFilter(s), true
	default:
		return "", false
	}
}

// Matches reports whether an alert in state s passes the filter.
func (f AlertFilter) Matches(s ReadState) bool {
	switch f {
	case FilterUnread:
		return s == Unread
	case FilterRead:
		return s == Read
	default:
		return true
	}
}

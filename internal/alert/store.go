package alert

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

// Store persists alerts. Create must be atomic on the alert's cooldown key:
// of any number of concurrent creates for one key, exactly one reports
// created=true and the rest receive the stored alert.
type Store interface {
	Create(ctx context.Context, a domain.Alert) (stored domain.Alert, created bool, err error)
	SetDelivery(ctx context.Context, alertID string, ch domain.Channel, state domain.DeliveryState) error
	MarkRead(ctx context.Context, alertID string) (domain.Alert, error)
	// MarkAllRead marks every unread alert of the subscriber read in one
	// atomic step and returns how many changed.
	MarkAllRead(ctx context.Context, subscriberID string) (int, error)
	Get(ctx context.Context, alertID string) (domain.Alert, error)
	// ListBySubscriber returns alerts newest first.
	ListBySubscriber(ctx context.Context, subscriberID string, filter domain.AlertFilter, offset, limit int) ([]domain.Alert, error)
	// ListFailed returns alerts with at least one failed channel, oldest first.
	ListFailed(ctx context.Context, limit int) ([]domain.Alert, error)
}

// MemoryStore is the in-process Store. A single mutex makes every operation,
// including MarkAllRead, atomic with respect to Create.
type MemoryStore struct {
	mu           sync.Mutex
	alerts       map[string]*domain.Alert
	byKey        map[domain.CooldownKey]string
	bySubscriber map[string][]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:       make(map[string]*domain.Alert),
		byKey:        make(map[domain.CooldownKey]string),
		bySubscriber: make(map[string][]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, a domain.Alert) (domain.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[a.Key()]; ok {
		return s.alerts[id].Clone(), false, nil
	}
	stored := a.Clone()
	s.alerts[a.ID] = &stored
	s.byKey[a.Key()] = a.ID
	s.bySubscriber[a.SubscriberID] = append(s.bySubscriber[a.SubscriberID], a.ID)
	return stored.Clone(), true, nil
}

func (s *MemoryStore) SetDelivery(_ context.Context, alertID string, ch domain.Channel, state domain.DeliveryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return domain.ErrAlertNotFound
	}
	if a.Delivery == nil {
		a.Delivery = make(map[domain.Channel]domain.DeliveryState)
	}
	a.Delivery[ch] = state
	return nil
}

func (s *MemoryStore) MarkRead(_ context.Context, alertID string) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	a.State = domain.Read
	return a.Clone(), nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, subscriberID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.bySubscriber[subscriberID] {
		if a := s.alerts[id]; a.State == domain.Unread {
			a.State = domain.Read
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Get(_ context.Context, alertID string) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListBySubscriber(_ context.Context, subscriberID string, filter domain.AlertFilter, offset, limit int) ([]domain.Alert, error) {
	s.mu.Lock()
	var out []domain.Alert
	for _, id := range s.bySubscriber[subscriberID] {
		if a := s.alerts[id]; filter.Matches(a.State) {
			out = append(out, a.Clone())
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, newestFirst)
	return page(out, offset, limit), nil
}

func (s *MemoryStore) ListFailed(_ context.Context, limit int) ([]domain.Alert, error) {
	s.mu.Lock()
	var out []domain.Alert
	for _, a := range s.alerts {
		if len(a.FailedChannels()) > 0 {
			out = append(out, a.Clone())
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.Alert) int { return -newestFirst(a, b) })
	return page(out, 0, limit), nil
}

func newestFirst(a, b domain.Alert) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func page(alerts []domain.Alert, offset, limit int) []domain.Alert {
	if offset >= len(alerts) {
		return []domain.Alert{}
	}
	alerts = alerts[max(offset, 0):]
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

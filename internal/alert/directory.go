package alert

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/geo"
)

// directoryCellSize buckets subscribers at roughly 11 km.
const directoryCellSize = 0.1

// ErrInvalidSubscriber is returned for subscriber views the dispatcher cannot use.
var ErrInvalidSubscriber = errors.New("invalid subscriber")

// SubscriberDirectory supplies the subscribers living in a region.
type SubscriberDirectory interface {
	ListForRegion(ctx context.Context, bbox geo.BoundingBox) ([]domain.Subscriber, error)
}

// MemoryDirectory is a SubscriberDirectory backed by the shared spatial index.
// The account system pushes subscriber views into it.
type MemoryDirectory struct {
	index geo.SpatialIndex[domain.Subscriber]
}

var _ SubscriberDirectory = (*MemoryDirectory)(nil)

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{index: geo.NewHashGrid[domain.Subscriber](directoryCellSize)}
}

// Put registers or replaces a subscriber after validating it.
func (d *MemoryDirectory) Put(sub domain.Subscriber) error {
	if err := ValidateSubscriber(sub); err != nil {
		return err
	}
	sub.Channels = slices.Clone(sub.Channels)
	d.index.Put(sub.ID, geo.Point{Lat: sub.Latitude, Lon: sub.Longitude}, sub)
	return nil
}

// Remove drops a subscriber and reports whether it existed.
func (d *MemoryDirectory) Remove(id string) bool {
	return d.index.Delete(id)
}

// Get returns one subscriber.
func (d *MemoryDirectory) Get(id string) (domain.Subscriber, bool) {
	e, ok := d.index.Get(id)
	e.Value.Channels = slices.Clone(e.Value.Channels)
	return e.Value, ok
}

// ListForRegion returns the subscribers whose home lies inside bbox, ordered by id.
func (d *MemoryDirectory) ListForRegion(_ context.Context, bbox geo.BoundingBox) ([]domain.Subscriber, error) {
	entries := d.index.InBox(bbox)
	out := make([]domain.Subscriber, 0, len(entries))
	for _, e := range entries {
		e.Value.Channels = slices.Clone(e.Value.Channels)
		out = append(out, e.Value)
	}
	return out, nil
}

// ValidateSubscriber checks the fields the dispatcher relies on.
func ValidateSubscriber(sub domain.Subscriber) error {
	if sub.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSubscriber)
	}
	if err := domain.ValidateCoordinates(sub.Latitude, sub.Longitude); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubscriber, err)
	}
	if sub.AlertThreshold < 0 || sub.AlertThreshold > 1 {
		return fmt.Errorf("%w: alert threshold %v outside [0,1]", ErrInvalidSubscriber, sub.AlertThreshold)
	}
	for _, ch := range sub.Channels {
		if _, ok := domain.ParseChannel(string(ch)); !ok {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidSubscriber, ch)
		}
	}
	return nil
}

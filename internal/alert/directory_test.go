package alert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/geo"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	require.NoError(t, d.Put(domain.Subscriber{ID: "la", Latitude: 34.05, Longitude: -118.24, AlertThreshold: 0.5, Channels: []domain.Channel{domain.ChannelApp}}))
	require.NoError(t, d.Put(domain.Subscriber{ID: "sf", Latitude: 37.77, Longitude: -122.42, AlertThreshold: 0.5}))

	subs, err := d.ListForRegion(context.Background(), geo.Around(geo.Point{Lat: 34, Lon: -118.2}, 0.5))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "la", subs[0].ID)

	got, ok := d.Get("sf")
	require.True(t, ok)
	assert.Equal(t, 37.77, got.Latitude)

	assert.True(t, d.Remove("sf"))
	_, ok = d.Get("sf")
	assert.False(t, ok)
}

func TestMemoryDirectory_PutReplacesLocation(t *testing.T) {
	d := NewMemoryDirectory()
	require.NoError(t, d.Put(domain.Subscriber{ID: "s", Latitude: 10, Longitude: 10}))
	require.NoError(t, d.Put(domain.Subscriber{ID: "s", Latitude: 20, Longitude: 20}))

	old, err := d.ListForRegion(context.Background(), geo.Around(geo.Point{Lat: 10, Lon: 10}, 1))
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestValidateSubscriber(t *testing.T) {
	tests := []struct {
		name    string
		sub     domain.Subscriber
		wantErr string
	}{
		{name: "valid", sub: domain.Subscriber{ID: "a", AlertThreshold: 0.3, Channels: []domain.Channel{domain.ChannelSMS}}},
		{name: "missing id", sub: domain.Subscriber{}, wantErr: "id is required"},
		{name: "bad coordinate", sub: domain.Subscriber{ID: "a", Latitude: 95}, wantErr: "invalid coordinate"},
		{name: "threshold", sub: domain.Subscriber{ID: "a", AlertThreshold: 1.5}, wantErr: "threshold"},
		{name: "channel", sub: domain.Subscriber{ID: "a", Channels: []domain.Channel{"pigeon"}}, wantErr: "unknown channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubscriber(tt.sub)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

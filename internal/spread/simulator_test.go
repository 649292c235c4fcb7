package spread

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/risk"
)

var start = time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC)

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	scorer, err := risk.NewScorer(risk.DefaultConfig())
	require.NoError(t, err)
	sim, err := New(DefaultConfig(), scorer)
	require.NoError(t, err)
	return sim
}

func testZone() domain.RiskZone {
	return domain.RiskZone{
		ID:            "zone-1",
		Latitude:      34.05,
		Longitude:     -118.24,
		RiskLevel:     0.73,
		Temperature:   domain.Float(38),
		Humidity:      domain.Float(15),
		WindSpeed:     domain.Float(40),
		WindDirection: domain.Float(90),
		LastUpdated:   start,
	}
}

func TestSimulate_LengthAndOrdering(t *testing.T) {
	sim := newTestSimulator(t)

	points, err := sim.Simulate(context.Background(), testZone(), 24, 1)
	require.NoError(t, err)
	require.Len(t, points, 24)

	for i, p := range points {
		assert.Equal(t, "zone-1", p.ZoneID)
		assert.Equal(t, start.Add(time.Duration(i+1)*time.Hour), p.Timestamp)
		if i > 0 {
			assert.True(t, p.Timestamp.After(points[i-1].Timestamp))
		}
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	sim := newTestSimulator(t)
	z := testZone()

	first, err := sim.Simulate(context.Background(), z, 24, 1)
	require.NoError(t, err)
	second, err := sim.Simulate(context.Background(), z, 24, 1)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("simulation not reproducible (-first +second):\n%s", diff)
	}
}

func TestSimulate_Golden(t *testing.T) {
	sim := newTestSimulator(t)
	z := testZone()

	// East wind at 40 km/h moves 0.02 degrees of longitude per hour. Humidity
	// factor 0.85 and wind factor 2/3 weighted 0.30/0.25 give intensity
	// 0.7667, so risk rises by 0.05 * 0.2667 = 0.01333 per hour.
	want := []domain.SpreadPoint{
		{ZoneID: "zone-1", Latitude: 34.05, Longitude: -118.22, RiskLevel: 0.74333, Timestamp: start.Add(1 * time.Hour)},
		{ZoneID: "zone-1", Latitude: 34.05, Longitude: -118.20, RiskLevel: 0.75667, Timestamp: start.Add(2 * time.Hour)},
		{ZoneID: "zone-1", Latitude: 34.05, Longitude: -118.18, RiskLevel: 0.77, Timestamp: start.Add(3 * time.Hour)},
	}

	got, err := sim.Simulate(context.Background(), z, 3, 1)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Fatalf("spread points mismatch (-want +got):\n%s", diff)
	}
}

func TestSimulate_StepSize(t *testing.T) {
	sim := newTestSimulator(t)

	tests := []struct {
		horizon, step, want int
	}{
		{horizon: 24, step: 1, want: 24},
		{horizon: 24, step: 5, want: 4},
		{horizon: 72, step: 6, want: 12},
		{horizon: 7, step: 0, want: 7},
		{horizon: 3, step: 3, want: 1},
	}
	for _, tt := range tests {
		points, err := sim.Simulate(context.Background(), testZone(), tt.horizon, tt.step)
		require.NoError(t, err)
		assert.Len(t, points, tt.want, "horizon %d step %d", tt.horizon, tt.step)
	}

	points, err := sim.Simulate(context.Background(), testZone(), 24, 5)
	require.NoError(t, err)
	assert.Equal(t, start.Add(20*time.Hour), points[3].Timestamp)
}

func TestSimulate_RejectsInvalidHorizon(t *testing.T) {
	sim := newTestSimulator(t)

	tests := []struct {
		name          string
		horizon, step int
	}{
		{name: "zero horizon", horizon: 0, step: 1},
		{name: "negative horizon", horizon: -5, step: 1},
		{name: "above max", horizon: 100, step: 1},
		{name: "negative step", horizon: 10, step: -1},
		{name: "step longer than horizon", horizon: 4, step: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := sim.Simulate(context.Background(), testZone(), tt.horizon, tt.step)
			require.ErrorIs(t, err, domain.ErrInvalidHorizon)
			assert.Nil(t, points)

			var he *domain.HorizonError
			require.True(t, errors.As(err, &he))
			assert.Equal(t, DefaultMaxHorizonHours, he.MaxHours)
		})
	}
}

func TestSimulate_MaxHorizonAccepted(t *testing.T) {
	sim := newTestSimulator(t)
	points, err := sim.Simulate(context.Background(), testZone(), 72, 1)
	require.NoError(t, err)
	assert.Len(t, points, 72)
}

func TestSimulate_NoWindStaysPut(t *testing.T) {
	sim := newTestSimulator(t)
	z := testZone()
	z.WindDirection = nil

	points, err := sim.Simulate(context.Background(), z, 5, 1)
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, z.Latitude, p.Latitude)
		assert.Equal(t, z.Longitude, p.Longitude)
	}
}

func TestSimulate_RiskWeakensWhenHumidAndCalm(t *testing.T) {
	sim := newTestSimulator(t)
	z := testZone()
	z.Humidity = domain.Float(90)
	z.WindSpeed = domain.Float(5)
	z.RiskLevel = 0.02

	points, err := sim.Simulate(context.Background(), z, 10, 1)
	require.NoError(t, err)
	assert.Less(t, points[0].RiskLevel, z.RiskLevel)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.RiskLevel, 0.0)
	}
	assert.Equal(t, 0.0, points[len(points)-1].RiskLevel)
}

func TestSimulate_RiskClampedAtOne(t *testing.T) {
	sim := newTestSimulator(t)
	z := testZone()
	z.Humidity = domain.Float(0)
	z.WindSpeed = domain.Float(60)
	z.RiskLevel = 0.99

	points, err := sim.Simulate(context.Background(), z, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, points[9].RiskLevel)
}

func TestSimulate_WrapsAntimeridian(t *testing.T) {
	sim := newTestSimulator(t)
	z := testZone()
	z.Longitude = 179.99

	points, err := sim.Simulate(context.Background(), z, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, -179.99, points[0].Longitude, 1e-9)
}

func TestSimulate_Cancelled(t *testing.T) {
	sim := newTestSimulator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Simulate(ctx, testZone(), 24, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulate_DoesNotMutateZone(t *testing.T) {
	sim := newTestSimulator(t)
	z := testZone()
	before := z.Clone()

	_, err := sim.Simulate(context.Background(), z, 24, 1)
	require.NoError(t, err)
	assert.Equal(t, before, z)
}

func TestForecast(t *testing.T) {
	sim := newTestSimulator(t)

	f, err := sim.Forecast(context.Background(), testZone(), 10, 0)
	require.NoError(t, err)

	assert.Equal(t, 10, f.HorizonHours)
	assert.Equal(t, 1, f.StepHours)
	assert.Len(t, f.Points, 10)
	// 10 steps of 0.02 degrees at 111 km per degree.
	assert.InDelta(t, 22.2, f.MaxSpreadDistanceKm, 0.01)
	require.NotNil(t, f.WindDirection)
	assert.Equal(t, 90.0, *f.WindDirection)
	assert.Equal(t, "zone-1", f.Zone.ID)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	err := Config{RateConstant: 0, DriftScale: -1, MaxHorizonHours: 0}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "rate constant")
	assert.Contains(t, err.Error(), "drift scale")
	assert.Contains(t, err.Error(), "max horizon")
}

package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

func TestGenerate_Reproducible(t *testing.T) {
	a := generate(rand.New(rand.NewPCG(7, 7)), clockwork.NewFakeClockAt(baseDate), 50, time.Minute)
	b := generate(rand.New(rand.NewPCG(7, 7)), clockwork.NewFakeClockAt(baseDate), 50, time.Minute)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different feeds (-first +second):\n%s", diff)
	}
}

func TestGenerate_RecordsParse(t *testing.T) {
	records := generate(rand.New(rand.NewPCG(1, 1)), clockwork.NewFakeClockAt(baseDate), 100, time.Minute)
	require.Len(t, records, 100)

	assert.Equal(t, baseDate.Format(time.RFC3339), records[0].Timestamp)
	assert.Equal(t, baseDate.Add(99*time.Minute).Format(time.RFC3339), records[99].Timestamp)

	for i, rec := range records {
		require.NotNil(t, rec.Latitude, "record %d", i)
		require.NotNil(t, rec.Longitude, "record %d", i)
		assert.NoError(t, domain.ValidateCoordinates(*rec.Latitude, *rec.Longitude), "record %d", i)
		if rec.Humidity != nil {
			assert.GreaterOrEqual(t, *rec.Humidity, 0.0)
			assert.LessOrEqual(t, *rec.Humidity, 100.0)
		}
		if rec.DrynessIndex != nil {
			assert.GreaterOrEqual(t, *rec.DrynessIndex, 0.0)
			assert.LessOrEqual(t, *rec.DrynessIndex, 1.0)
		}
		assert.NotEmpty(t, rec.Source)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 37.7749, round(37.77491, 4))
	assert.Equal(t, -122.4194, round(-122.41936, 4))
	assert.Equal(t, 0.5, round(0.49999, 2))
}

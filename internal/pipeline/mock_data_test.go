package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/pipeline"
)

func TestObservationTransformer_WithMockFeed(t *testing.T) {
	eng := newTestEngine(t)
	transformer := pipeline.NewTransformer(eng, discardLogger())

	records := readFeedRecords(t)
	require.Len(t, records, 6)

	zones := make(map[string]domain.RiskZone)
	for i, rec := range records {
		out, err := transformer.Transform(context.Background(), rawEventFromRecord(t, rec))
		require.NoError(t, err, "record %d", i)

		var z domain.RiskZone
		require.NoError(t, json.Unmarshal(out.Value, &z))
		assert.Equal(t, []byte(z.ID), out.Key)
		assert.Equal(t, z.ID, out.Headers["zone_id"])
		assert.Equal(t, string(z.RiskCategory), out.Headers["risk_category"])
		assert.GreaterOrEqual(t, z.RiskLevel, 0.0)
		assert.LessOrEqual(t, z.RiskLevel, 1.0)
		zones[z.ID] = z
	}

	// Two San Francisco readings and two Los Angeles readings merge.
	assert.Len(t, zones, 4)

	var la domain.RiskZone
	for _, z := range zones {
		if z.RegionName == "Los Angeles" {
			la = z
		}
	}
	require.NotEmpty(t, la.ID)
	assert.Equal(t, 2, la.ObservationCount)
	assert.Equal(t, domain.RiskHigh, la.RiskCategory)
	require.NotNil(t, la.Humidity)
	assert.InDelta(t, 7.0, *la.Humidity, 1e-9)
	require.NotNil(t, la.Temperature)
	assert.InDelta(t, 41.0, *la.Temperature, 1e-9)
	assert.Equal(t, "station-la-02", la.Source)

	// A reading with no measurements scores neutral.
	for _, z := range zones {
		if z.Source == "station-den-01" {
			assert.InDelta(t, 0.5, z.RiskLevel, 1e-9)
			assert.Equal(t, domain.RiskMedium, z.RiskCategory)
		}
	}
}

func readFeedRecords(t *testing.T) []domain.FeedRecord {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("testdata", "observations.json"))
	require.NoError(t, err)

	var records []domain.FeedRecord
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func rawEventFromRecord(t *testing.T, rec domain.FeedRecord) domain.RawEvent {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	return domain.RawEvent{
		Value: payload,
		Topic: "raw-fire-observations",
	}
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/config"
	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"latitude":37.77,"longitude":-122.42}`),
		Topic:     "raw-fire-observations",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("station-sf-01")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"latitude":37.77,"longitude":-122.42}`, string(raw.Value))
	assert.Equal(t, "raw-fire-observations", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "station-sf-01", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestToMessage(t *testing.T) {
	now := time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC)
	out, err := domain.SerializeZone(domain.RiskZone{
		ID:           "zone-1",
		Latitude:     37.77,
		Longitude:    -122.42,
		RiskLevel:    0.82,
		RiskCategory: domain.RiskHigh,
		LastUpdated:  now,
	})
	require.NoError(t, err)

	msg := toMessage(out)

	assert.Equal(t, []byte("zone-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"risk_category":"High"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "risk_category", msg.Headers[0].Key)
	assert.Equal(t, []byte("High"), msg.Headers[0].Value)
	assert.Equal(t, "updated_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)
	assert.Equal(t, "zone_id", msg.Headers[2].Key)
}

type recordingWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func testNotification() alert.Notification {
	return alert.Notification{
		AlertID:    "alert-1",
		ZoneID:     "zone-1",
		Channel:    domain.ChannelEmail,
		Subscriber: domain.Subscriber{ID: "sub-1", Latitude: 37.77, Longitude: -122.42, AlertThreshold: 0.7},
		Message:    "High fire risk detected in San Francisco. Risk level: 0.82",
		RiskLevel:  0.82,
	}
}

func TestNotifier_Send(t *testing.T) {
	w := &recordingWriter{}
	n := &Notifier{writer: w, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, n.Send(context.Background(), testNotification()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("alert-1"), msg.Key)
	assert.Equal(t, "channel", msg.Headers[0].Key)
	assert.Equal(t, []byte("email"), msg.Headers[0].Value)
	assert.Equal(t, []byte("sub-1"), msg.Headers[1].Value)

	var got alert.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, testNotification(), got)
}

func TestProducersFlushWithoutWaitingForFullBatches(t *testing.T) {
	cfg := &config.Config{
		KafkaBrokers:     []string{"localhost:9092"},
		KafkaSinkTopic:   "fire-risk-zones",
		KafkaNotifyTopic: "fire-alert-deliveries",
		BatchSize:        50,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n := NewNotifier(cfg, logger)
	nw, ok := n.writer.(*kafkago.Writer)
	require.True(t, ok)
	assert.Equal(t, "fire-alert-deliveries", nw.Topic)
	assert.Equal(t, 1, nw.BatchSize, "each send must flush on its own")
	assert.LessOrEqual(t, nw.BatchTimeout, 10*time.Millisecond)

	w := NewWriter(cfg, logger)
	assert.Equal(t, "fire-risk-zones", w.writer.Topic)
	assert.Equal(t, 50, w.writer.BatchSize)
	assert.LessOrEqual(t, w.writer.BatchTimeout, 10*time.Millisecond)

	require.NoError(t, n.Close())
	require.NoError(t, w.Close())
}

func TestNotifier_SendError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	n := &Notifier{writer: w, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := n.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert-1/email")
}

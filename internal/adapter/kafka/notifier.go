package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/config"
)

// messageWriter is the subset of kafkago.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier hands alert deliveries to downstream channel workers (push, email,
// SMS gateways) through the notify topic. A successful write counts as Sent.
// It implements alert.Notifier.
type Notifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewNotifier creates a producer for the configured notify topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	return &Notifier{writer: newNotifyWriter(cfg), logger: logger}
}

// newNotifyWriter flushes every message on its own. Each Send is a
// synchronous single-message write, so waiting to fill a batch would stall
// the delivery worker for the full batch timeout.
func newNotifyWriter(cfg *config.Config) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaNotifyTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    1,
		BatchTimeout: flushTimeout,
	}
}

func (n *Notifier) Send(ctx context.Context, note alert.Notification) error {
	msg, err := notificationMessage(note)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification %s/%s: %w", note.AlertID, note.Channel, err)
	}
	n.logger.Debug("notification published", "alert_id", note.AlertID, "channel", note.Channel)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

func notificationMessage(note alert.Notification) (kafkago.Message, error) {
	data, err := json.Marshal(note)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(note.AlertID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "channel", Value: []byte(note.Channel)},
			{Key: "subscriber_id", Value: []byte(note.Subscriber.ID)},
		},
	}, nil
}

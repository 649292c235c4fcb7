package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

const alertColumns = `id, subscriber_id, zone_id, risk_level, message, created_at, state, delivery, cooldown_bucket`

// AlertStore implements alert.Store.
type AlertStore struct {
	db *sql.DB
}

var _ alert.Store = (*AlertStore)(nil)

// NewAlertStore returns a store over db.
func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

// Create inserts the alert unless one already exists for its cooldown key,
// in which case the existing alert is returned with created=false.
func (s *AlertStore) Create(ctx context.Context, a domain.Alert) (domain.Alert, bool, error) {
	delivery, err := json.Marshal(deliveryOrEmpty(a.Delivery))
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("encode delivery: %w", err)
	}

	insert := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subscriber_id, zone_id, cooldown_bucket) DO NOTHING
		RETURNING ` + alertColumns
	stored, err := scanAlert(s.db.QueryRowContext(ctx, insert,
		a.ID, a.SubscriberID, a.ZoneID, a.RiskLevel, a.Message, a.CreatedAt.UTC(),
		string(a.State), delivery, a.CooldownBucket,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, false, fmt.Errorf("create alert: %w", err)
	}

	existing := `SELECT ` + alertColumns + ` FROM alerts
		WHERE subscriber_id = $1 AND zone_id = $2 AND cooldown_bucket = $3`
	stored, err = scanAlert(s.db.QueryRowContext(ctx, existing, a.SubscriberID, a.ZoneID, a.CooldownBucket))
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("load existing alert: %w", err)
	}
	return stored, false, nil
}

func (s *AlertStore) SetDelivery(ctx context.Context, alertID string, ch domain.Channel, state domain.DeliveryState) error {
	query := `
		UPDATE alerts
		SET delivery = jsonb_set(delivery, ARRAY[$2::text], to_jsonb($3::text), true)
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, alertID, string(ch), string(state))
	if err != nil {
		return fmt.Errorf("set delivery %s/%s: %w", alertID, ch, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set delivery rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

func (s *AlertStore) MarkRead(ctx context.Context, alertID string) (domain.Alert, error) {
	query := `UPDATE alerts SET state = $2 WHERE id = $1 RETURNING ` + alertColumns
	a, err := scanAlert(s.db.QueryRowContext(ctx, query, alertID, string(domain.Read)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("mark alert %s read: %w", alertID, err)
	}
	return a, nil
}

// MarkAllRead is a single UPDATE, so it is atomic with respect to concurrent
// inserts for the subscriber.
func (s *AlertStore) MarkAllRead(ctx context.Context, subscriberID string) (int, error) {
	query := `UPDATE alerts SET state = $2 WHERE subscriber_id = $1 AND state = $3`
	res, err := s.db.ExecContext(ctx, query, subscriberID, string(domain.Read), string(domain.Unread))
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", subscriberID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all read rows affected: %w", err)
	}
	return int(n), nil
}

func (s *AlertStore) Get(ctx context.Context, alertID string) (domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(s.db.QueryRowContext(ctx, query, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	return a, nil
}

func (s *AlertStore) ListBySubscriber(ctx context.Context, subscriberID string, filter domain.AlertFilter, offset, limit int) ([]domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE subscriber_id = $1 AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC, id DESC
		OFFSET $3 LIMIT NULLIF($4, 0)`
	state := ""
	if filter != domain.FilterAll {
		state = string(filter)
	}
	return s.list(ctx, query, subscriberID, state, max(offset, 0), limit)
}

func (s *AlertStore) ListFailed(ctx context.Context, limit int) ([]domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE EXISTS (SELECT 1 FROM jsonb_each_text(delivery) d WHERE d.value = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($2, 0)`
	return s.list(ctx, query, string(domain.DeliveryFailed), limit)
}

func (s *AlertStore) list(ctx context.Context, query string, args ...any) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := []domain.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (domain.Alert, error) {
	var (
		a        domain.Alert
		state    string
		delivery []byte
	)
	if err := row.Scan(
		&a.ID, &a.SubscriberID, &a.ZoneID, &a.RiskLevel, &a.Message, &a.CreatedAt,
		&state, &delivery, &a.CooldownBucket,
	); err != nil {
		return domain.Alert{}, err
	}
	a.State = domain.ReadState(state)
	a.CreatedAt = a.CreatedAt.UTC()
	if err := json.Unmarshal(delivery, &a.Delivery); err != nil {
		return domain.Alert{}, fmt.Errorf("decode delivery for %s: %w", a.ID, err)
	}
	return a, nil
}

func deliveryOrEmpty(d map[domain.Channel]domain.DeliveryState) map[domain.Channel]domain.DeliveryState {
	if d == nil {
		return map[domain.Channel]domain.DeliveryState{}
	}
	return d
}

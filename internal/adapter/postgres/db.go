// Package postgres persists zones and alerts in PostgreSQL through lib/pq.
// The alert table's unique constraint on (subscriber_id, zone_id,
// cooldown_bucket) is what makes alert creation idempotent across replicas.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Schema creates the tables the stores need. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS risk_zones (
	id                TEXT PRIMARY KEY,
	region_name       TEXT NOT NULL,
	latitude          DOUBLE PRECISION NOT NULL,
	longitude         DOUBLE PRECISION NOT NULL,
	risk_level        DOUBLE PRECISION NOT NULL,
	risk_category     TEXT NOT NULL,
	temperature       DOUBLE PRECISION,
	humidity          DOUBLE PRECISION,
	wind_speed        DOUBLE PRECISION,
	wind_direction    DOUBLE PRECISION,
	dryness_index     DOUBLE PRECISION,
	source            TEXT NOT NULL,
	last_updated      TIMESTAMPTZ NOT NULL,
	observation_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	subscriber_id   TEXT NOT NULL,
	zone_id         TEXT NOT NULL,
	risk_level      DOUBLE PRECISION NOT NULL,
	message         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	state           TEXT NOT NULL,
	delivery        JSONB NOT NULL DEFAULT '{}'::jsonb,
	cooldown_bucket BIGINT NOT NULL,
	UNIQUE (subscriber_id, zone_id, cooldown_bucket)
);

CREATE INDEX IF NOT EXISTS alerts_subscriber_created_idx ON alerts (subscriber_id, created_at DESC, id DESC);
`

// Open connects to the database, configures the pool and verifies the
// connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to postgres")
	return db, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

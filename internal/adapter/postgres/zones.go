package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
)

// ZoneStore implements engine.ZoneStore.
type ZoneStore struct {
	db *sql.DB
}

// NewZoneStore returns a store over db.
func NewZoneStore(db *sql.DB) *ZoneStore {
	return &ZoneStore{db: db}
}

// SaveZone upserts a zone snapshot. Saves happen outside the index lock, so
// two snapshots of one zone can race here; the observation count only grows,
// and an older snapshot never overwrites a newer one.
func (s *ZoneStore) SaveZone(ctx context.Context, z domain.RiskZone) error {
	query := `
		INSERT INTO risk_zones (id, region_name, latitude, longitude, risk_level, risk_category,
			temperature, humidity, wind_speed, wind_direction, dryness_index,
			source, last_updated, observation_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			region_name = EXCLUDED.region_name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			risk_level = EXCLUDED.risk_level,
			risk_category = EXCLUDED.risk_category,
			temperature = EXCLUDED.temperature,
			humidity = EXCLUDED.humidity,
			wind_speed = EXCLUDED.wind_speed,
			wind_direction = EXCLUDED.wind_direction,
			dryness_index = EXCLUDED.dryness_index,
			source = EXCLUDED.source,
			last_updated = EXCLUDED.last_updated,
			observation_count = EXCLUDED.observation_count
		WHERE risk_zones.observation_count < EXCLUDED.observation_count
	`
	_, err := s.db.ExecContext(ctx, query,
		z.ID, z.RegionName, z.Latitude, z.Longitude, z.RiskLevel, string(z.RiskCategory),
		nullFloat(z.Temperature), nullFloat(z.Humidity), nullFloat(z.WindSpeed),
		nullFloat(z.WindDirection), nullFloat(z.DrynessIndex),
		z.Source, z.LastUpdated.UTC(), z.ObservationCount,
	)
	if err != nil {
		return fmt.Errorf("save zone %s: %w", z.ID, err)
	}
	return nil
}

// LoadZones returns every persisted zone.
func (s *ZoneStore) LoadZones(ctx context.Context) ([]domain.RiskZone, error) {
	query := `
		SELECT id, region_name, latitude, longitude, risk_level, risk_category,
			temperature, humidity, wind_speed, wind_direction, dryness_index,
			source, last_updated, observation_count
		FROM risk_zones
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	defer rows.Close()

	var zones []domain.RiskZone
	for rows.Next() {
		var (
			z                                 domain.RiskZone
			category                          string
			temp, hum, wind, windDir, dryness sql.NullFloat64
		)
		if err := rows.Scan(
			&z.ID, &z.RegionName, &z.Latitude, &z.Longitude, &z.RiskLevel, &category,
			&temp, &hum, &wind, &windDir, &dryness,
			&z.Source, &z.LastUpdated, &z.ObservationCount,
		); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		z.RiskCategory = domain.RiskCategory(category)
		z.Temperature = floatPtr(temp)
		z.Humidity = floatPtr(hum)
		z.WindSpeed = floatPtr(wind)
		z.WindDirection = floatPtr(windDir)
		z.DrynessIndex = floatPtr(dryness)
		z.LastUpdated = z.LastUpdated.UTC()
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

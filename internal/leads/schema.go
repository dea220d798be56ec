// internal/leads/schema.go
package leads

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the lead tables and seed rows if they do not exist yet.
// Written as "ensure state exists" so that racing processes (or a re-run after
// a partial failure) converge on the same state: CREATE IF NOT EXISTS plus
// ON CONFLICT DO NOTHING throughout. Safe to run from the startup guard and
// safe to run twice.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS iae_categories (
			iae_code        TEXT PRIMARY KEY,
			valor_tipologia INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS businesses (
			id                          TEXT PRIMARY KEY,
			name                        TEXT NOT NULL,
			iae_code                    TEXT NOT NULL,
			rentability                 DOUBLE PRECISION NOT NULL DEFAULT 0,
			proximity_to_urban_center_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			latitude                    DOUBLE PRECISION NOT NULL,
			longitude                   DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_businesses_lat_lon ON businesses (latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_businesses_iae_code ON businesses (iae_code)`,

		`INSERT INTO iae_categories (iae_code, valor_tipologia) VALUES
			('E471.1', 800),
			('G651.2', 450),
			('G651.3', 470),
			('G651.4', 490)
		ON CONFLICT (iae_code) DO NOTHING`,

		`INSERT INTO businesses
			(id, name, iae_code, rentability, proximity_to_urban_center_m, latitude, longitude)
		VALUES
			('biz_001', 'Madrid Central Grill',  'E471.1', 85.0, 100.0, 40.4167, -3.7037),
			('biz_002', 'Retiro Coffee',         'G651.2', 65.0, 200.0, 40.4150, -3.6850),
			('biz_003', 'Madrid Central Coffee', 'G651.3', 68.0, 190.0, 40.4130, -3.6810),
			('biz_004', 'Sol Coffee',            'G651.4', 62.0,  90.0, 40.4230, -3.6110)
		ON CONFLICT (id) DO NOTHING`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// internal/leads/postgres.go
package leads

import (
	"context"
	"database/sql"
	"errors"
	"math"

	apperrors "leadscout/internal/common/errors"
	"leadscout/internal/common/metrics"
)

// metersPerDegreeLat is the approximate north-south span of one degree of
// latitude, used only for the coarse bounding-box prefilter.
const metersPerDegreeLat = 111320.0

const candidateColumns = `
	b.id, b.name, b.iae_code, b.rentability, b.proximity_to_urban_center_m,
	b.latitude, b.longitude, COALESCE(i.valor_tipologia, 0)`

// PostgresRepository is the primary Repository backed by the businesses and
// iae_categories tables.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CandidatesNear prefilters with a latitude/longitude bounding box around the
// query point. The box over-returns (corners lie outside the radius); exact
// filtering happens in the orchestrator.
func (r *PostgresRepository) CandidatesNear(ctx context.Context, query SearchQuery) ([]Business, error) {
	minLat, maxLat, minLon, maxLon := boundingBox(query)

	rows, err := r.db.QueryContext(ctx, `
		SELECT`+candidateColumns+`
		FROM businesses b
		LEFT JOIN iae_categories i ON i.iae_code = b.iae_code
		WHERE b.latitude BETWEEN $1 AND $2
		  AND b.longitude BETWEEN $3 AND $4`,
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		metrics.RepositoryErrors.WithLabelValues("postgres").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}
	defer rows.Close()

	return scanBusinesses(rows)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Business, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+candidateColumns+`
		FROM businesses b
		LEFT JOIN iae_categories i ON i.iae_code = b.iae_code
		WHERE b.id = $1`, id)

	var b Business
	err := row.Scan(
		&b.ID, &b.Name, &b.IAECode, &b.Rentability, &b.UrbanProximityM,
		&b.Coordinates.Lat, &b.Coordinates.Lon, &b.TypologyValue,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewLeadNotFoundError(id)
	}
	if err != nil {
		metrics.RepositoryErrors.WithLabelValues("postgres").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}
	return &b, nil
}

func (r *PostgresRepository) CandidatesBySector(ctx context.Context, sectorPrefix, excludeID string) ([]Business, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+candidateColumns+`
		FROM businesses b
		LEFT JOIN iae_categories i ON i.iae_code = b.iae_code
		WHERE b.iae_code LIKE $1 || '%'
		  AND b.id <> $2`,
		sectorPrefix, excludeID)
	if err != nil {
		metrics.RepositoryErrors.WithLabelValues("postgres").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}
	defer rows.Close()

	return scanBusinesses(rows)
}

func (r *PostgresRepository) UpsertTypology(ctx context.Context, cat TypologyCategory) (*TypologyCategory, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO iae_categories (iae_code, valor_tipologia)
		VALUES ($1, $2)
		ON CONFLICT (iae_code) DO UPDATE SET valor_tipologia = EXCLUDED.valor_tipologia
		RETURNING iae_code, valor_tipologia`,
		cat.IAECode, cat.ValorTipologia)

	var out TypologyCategory
	if err := row.Scan(&out.IAECode, &out.ValorTipologia); err != nil {
		metrics.RepositoryErrors.WithLabelValues("postgres").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}
	return &out, nil
}

func scanBusinesses(rows *sql.Rows) ([]Business, error) {
	var out []Business
	for rows.Next() {
		var b Business
		err := rows.Scan(
			&b.ID, &b.Name, &b.IAECode, &b.Rentability, &b.UrbanProximityM,
			&b.Coordinates.Lat, &b.Coordinates.Lon, &b.TypologyValue,
		)
		if err != nil {
			metrics.RepositoryErrors.WithLabelValues("postgres").Inc()
			return nil, apperrors.NewRepositoryUnavailableError(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		metrics.RepositoryErrors.WithLabelValues("postgres").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}
	return out, nil
}

// boundingBox converts a radius in meters into a lat/lon window. Longitude
// degrees shrink with cos(lat); near the poles the window widens to the full
// longitude range instead of dividing by ~0.
func boundingBox(query SearchQuery) (minLat, maxLat, minLon, maxLon float64) {
	latDelta := query.RadiusM / metersPerDegreeLat

	cosLat := math.Cos(query.Lat * math.Pi / 180)
	lonDelta := 180.0
	if cosLat > 1e-6 {
		lonDelta = query.RadiusM / (metersPerDegreeLat * cosLat)
	}

	minLat = math.Max(query.Lat-latDelta, -90)
	maxLat = math.Min(query.Lat+latDelta, 90)
	minLon = math.Max(query.Lon-lonDelta, -180)
	maxLon = math.Min(query.Lon+lonDelta, 180)
	return
}

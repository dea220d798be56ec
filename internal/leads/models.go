// internal/leads/models.go
package leads

import (
	"fmt"
	"math"

	apperrors "leadscout/internal/common/errors"
	"leadscout/internal/geo"
)

// Business is a candidate location as the repository yields it. Read-only for
// the duration of a search.
type Business struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	IAECode         string         `json:"iae_code"`
	Rentability     float64        `json:"rentability"`                 // expected range 0-100
	UrbanProximityM float64        `json:"proximity_to_urban_center_m"` // static attribute, carried through
	Coordinates     geo.Coordinate `json:"coordinates"`
	TypologyValue   float64        `json:"-"` // resolved from the IAE typology table, 0 when unknown
}

// TypologyCategory maps an IAE activity code to its typology weight (0-1000).
type TypologyCategory struct {
	IAECode        string `json:"iae_code"`
	ValorTipologia int    `json:"valor_tipologia"`
}

// SectorPrefix returns the sector portion of an IAE code used for competitor
// matching (e.g. "G651.2" → "G6").
func SectorPrefix(iaeCode string) string {
	if len(iaeCode) < 2 {
		return iaeCode
	}
	return iaeCode[:2]
}

// SearchQuery is a radius search around a query point. RadiusM is meters.
type SearchQuery struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius"`
}

// Center returns the query point as a coordinate.
func (q SearchQuery) Center() geo.Coordinate {
	return geo.Coordinate{Lat: q.Lat, Lon: q.Lon}
}

// Validate rejects malformed queries with INVALID_QUERY. A zero radius is
// legal and matches only candidates at the exact query point.
func (q SearchQuery) Validate() error {
	if math.IsNaN(q.RadiusM) || math.IsInf(q.RadiusM, 0) || q.RadiusM < 0 {
		return apperrors.NewInvalidQueryError(fmt.Sprintf("radius must be >= 0, got %v", q.RadiusM))
	}
	if err := q.Center().Validate(); err != nil {
		return apperrors.NewInvalidQueryError(err.Error())
	}
	return nil
}

// ScoredLead is a business plus its computed distance from the query point and
// its conversion score. Distance >= 0; Metric in [0,1).
type ScoredLead struct {
	Business
	DistanceFromSearchM float64 `json:"distance_from_search_m"`
	Metric              float64 `json:"metric"`
}

// SearchResult is the ordered outcome of a search: sorted by metric descending,
// ties broken by distance ascending, every element within the query radius.
type SearchResult struct {
	Count int          `json:"count"`
	Leads []ScoredLead `json:"businesses"`
}

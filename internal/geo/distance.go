// Package geo provides great-circle distance math over decimal-degree coordinates.
// Pure functions only: no I/O, no shared state.
package geo

import (
	"fmt"
	"math"

	apperrors "leadscout/internal/common/errors"
)

// EarthRadiusM is Earth's mean radius in meters.
const EarthRadiusM = 6371000.0

// Coordinate is a geographic point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the coordinate lies in latitude [-90,90] and longitude [-180,180].
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return apperrors.NewInvalidCoordinateError(fmt.Sprintf("non-finite coordinate: lat=%v lon=%v", c.Lat, c.Lon))
	}
	if c.Lat < -90 || c.Lat > 90 {
		return apperrors.NewInvalidCoordinateError(fmt.Sprintf("latitude out of range: %v", c.Lat))
	}
	if c.Lon < -180 || c.Lon > 180 {
		return apperrors.NewInvalidCoordinateError(fmt.Sprintf("longitude out of range: %v", c.Lon))
	}
	return nil
}

// Distance returns the haversine great-circle distance between a and b in meters.
// Symmetric, non-negative, zero iff a == b within floating tolerance.
func Distance(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusM * c, nil
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

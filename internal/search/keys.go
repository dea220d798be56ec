// internal/search/keys.go
package search

import (
	"fmt"
	"math"

	"leadscout/internal/leads"
)

// Cache key strategy:
//   - Radius search: search:v1:{lat}:{lon}:{radius}
//   - Competitors:   competitors:v1:{businessId}:{lat}:{lon}:{radius}
//
// Coordinates are rounded to 5 decimals (~1 m) and the radius to 0.1 m before
// formatting, so two queries that differ only by floating noise share one key.
// This is the deduplication invariant the cache layer depends on.

func searchKey(q leads.SearchQuery) string {
	return fmt.Sprintf("search:v1:%.5f:%.5f:%.1f",
		quantize(q.Lat, 1e5), quantize(q.Lon, 1e5), quantize(q.RadiusM, 10))
}

func competitorsKey(businessID string, q leads.SearchQuery) string {
	return fmt.Sprintf("competitors:v1:%s:%.5f:%.5f:%.1f",
		businessID, quantize(q.Lat, 1e5), quantize(q.Lon, 1e5), quantize(q.RadiusM, 10))
}

// quantize rounds v to the key precision and collapses negative zero, so
// values straddling zero by sub-precision noise ("-0.00000" vs "0.00000")
// cannot fragment into two keys.
func quantize(v, scale float64) float64 {
	q := math.Round(v*scale) / scale
	if q == 0 {
		return 0
	}
	return q
}

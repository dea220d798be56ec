package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"leadscout/internal/leads"
)

func TestSearchKey_NegativeZeroCollapses(t *testing.T) {
	atOrigin := searchKey(leads.SearchQuery{Lat: 0, Lon: 0, RadiusM: 100})
	justBelow := searchKey(leads.SearchQuery{Lat: -0.0000001, Lon: -0.0000001, RadiusM: 100})

	assert.Equal(t, atOrigin, justBelow, "sub-precision noise across zero must map to one key")
	assert.NotContains(t, atOrigin, "-0.00000")
}

func TestSearchKey_PrecisionBuckets(t *testing.T) {
	base := leads.SearchQuery{Lat: 40.4168, Lon: -3.7038, RadiusM: 1000}

	noisy := base
	noisy.Lat += 0.000001
	noisy.RadiusM += 0.01
	assert.Equal(t, searchKey(base), searchKey(noisy))

	moved := base
	moved.Lat += 0.001
	assert.NotEqual(t, searchKey(base), searchKey(moved))

	wider := base
	wider.RadiusM += 1
	assert.NotEqual(t, searchKey(base), searchKey(wider))
}

func TestCompetitorsKey_IncludesBusinessID(t *testing.T) {
	q := leads.SearchQuery{Lat: 40.4168, Lon: -3.7038, RadiusM: 1000}
	assert.NotEqual(t, competitorsKey("biz_002", q), competitorsKey("biz_003", q))
	assert.NotEqual(t, searchKey(q), competitorsKey("biz_002", q))
}

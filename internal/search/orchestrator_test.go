package search

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout/internal/cache"
	apperrors "leadscout/internal/common/errors"
	"leadscout/internal/common/logger"
	"leadscout/internal/geo"
	"leadscout/internal/leads"
	"leadscout/internal/scoring"
)

// fakeRepo is an in-memory Repository with call-count instrumentation.
type fakeRepo struct {
	businesses []leads.Business
	err        error

	candidatesCalls int32
	sectorCalls     int32
	findCalls       int32
}

func (f *fakeRepo) CandidatesNear(ctx context.Context, query leads.SearchQuery) ([]leads.Business, error) {
	atomic.AddInt32(&f.candidatesCalls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.businesses, nil
}

func (f *fakeRepo) FindByID(ctx context.Context, id string) (*leads.Business, error) {
	atomic.AddInt32(&f.findCalls, 1)
	if f.err != nil {
		return nil, f.err
	}
	for _, b := range f.businesses {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, apperrors.NewLeadNotFoundError(id)
}

func (f *fakeRepo) CandidatesBySector(ctx context.Context, sectorPrefix, excludeID string) ([]leads.Business, error) {
	atomic.AddInt32(&f.sectorCalls, 1)
	if f.err != nil {
		return nil, f.err
	}
	var out []leads.Business
	for _, b := range f.businesses {
		if b.ID != excludeID && leads.SectorPrefix(b.IAECode) == sectorPrefix {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertTypology(ctx context.Context, cat leads.TypologyCategory) (*leads.TypologyCategory, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &cat, nil
}

var madridCenter = leads.SearchQuery{Lat: 40.4168, Lon: -3.7038, RadiusM: 10000}

func madridBusinesses() []leads.Business {
	return []leads.Business{
		{
			ID: "biz_001", Name: "Madrid Central Grill", IAECode: "E471.1",
			Rentability: 85, UrbanProximityM: 100, TypologyValue: 800,
			Coordinates: geo.Coordinate{Lat: 40.4167, Lon: -3.7037},
		},
		{
			ID: "biz_002", Name: "Retiro Coffee", IAECode: "G651.2",
			Rentability: 65, UrbanProximityM: 200, TypologyValue: 450,
			Coordinates: geo.Coordinate{Lat: 40.4150, Lon: -3.6850},
		},
		{
			ID: "biz_003", Name: "Madrid Central Coffee", IAECode: "G651.3",
			Rentability: 68, UrbanProximityM: 190, TypologyValue: 470,
			Coordinates: geo.Coordinate{Lat: 40.4130, Lon: -3.6810},
		},
		{
			ID: "biz_far", Name: "Barcelona Bar", IAECode: "G651.2",
			Rentability: 99, UrbanProximityM: 10, TypologyValue: 900,
			Coordinates: geo.Coordinate{Lat: 41.3851, Lon: 2.1734},
		},
	}
}

func newTestService(t *testing.T, repo leads.Repository) *Service {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	coordinator := cache.NewCoordinator(client, cache.NewRedisLock(client), cache.Options{
		TTL:          5 * time.Minute,
		PollInterval: 10 * time.Millisecond,
	}, logger.NewNoOpLogger())

	return NewService(repo, coordinator, scoring.NewScorer(1), logger.NewTestLogger(t))
}

func TestSearch_InvalidQueries(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)

	tests := []struct {
		name  string
		query leads.SearchQuery
	}{
		{"negative radius", leads.SearchQuery{Lat: 40, Lon: -3, RadiusM: -1}},
		{"latitude out of range", leads.SearchQuery{Lat: 95, Lon: -3, RadiusM: 100}},
		{"longitude out of range", leads.SearchQuery{Lat: 40, Lon: -185, RadiusM: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tt.query)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeInvalidQuery, apperrors.CodeOf(err))
		})
	}

	assert.Zero(t, atomic.LoadInt32(&repo.candidatesCalls), "invalid queries must never reach the repository")
}

func TestSearch_FiltersByRadiusAndRanks(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)

	result, err := svc.Search(context.Background(), madridCenter)
	require.NoError(t, err)

	// Barcelona is ~504 km out: excluded outright despite its near-perfect
	// attributes, not merely ranked low.
	require.Equal(t, 3, result.Count)
	for _, lead := range result.Leads {
		assert.NotEqual(t, "biz_far", lead.ID)
		assert.LessOrEqual(t, lead.DistanceFromSearchM, madridCenter.RadiusM)
		assert.GreaterOrEqual(t, lead.DistanceFromSearchM, 0.0)
		assert.GreaterOrEqual(t, lead.Metric, 0.0)
		assert.Less(t, lead.Metric, 1.0)
	}

	// Ordered by metric descending. biz_001 dominates on every input, so it
	// must come first even though all three are within radius.
	assert.Equal(t, "biz_001", result.Leads[0].ID)
	for i := 1; i < len(result.Leads); i++ {
		assert.GreaterOrEqual(t, result.Leads[i-1].Metric, result.Leads[i].Metric)
	}
}

func TestSearch_HigherScoreWinsRegardlessOfDistance(t *testing.T) {
	// The strong candidate is farther from the query point than the weak one;
	// with raw-meter proximity decay its attribute advantage still dominates.
	repo := &fakeRepo{businesses: []leads.Business{
		{
			ID: "weak_near", IAECode: "G651.2", Rentability: 5, TypologyValue: 50,
			Coordinates: geo.Coordinate{Lat: 40.4170, Lon: -3.7038},
		},
		{
			ID: "strong_far", IAECode: "E471.1", Rentability: 100, TypologyValue: 1000,
			Coordinates: geo.Coordinate{Lat: 40.4300, Lon: -3.7038},
		},
	}}
	svc := newTestService(t, repo)

	result, err := svc.Search(context.Background(), madridCenter)
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)

	assert.Equal(t, "strong_far", result.Leads[0].ID)
	assert.Greater(t, result.Leads[0].DistanceFromSearchM, result.Leads[1].DistanceFromSearchM)
}

func TestSearch_ZeroRadiusMatchesOnlyExactPoint(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)

	result, err := svc.Search(context.Background(), leads.SearchQuery{Lat: 40.4168, Lon: -3.7038, RadiusM: 0})
	require.NoError(t, err)
	assert.Zero(t, result.Count)
	assert.Empty(t, result.Leads)

	// A candidate exactly at the query point survives radius zero.
	atPoint := leads.Business{
		ID: "at_point", IAECode: "G651.2", Rentability: 50, TypologyValue: 500,
		Coordinates: geo.Coordinate{Lat: 41.0, Lon: -3.0},
	}
	repo2 := &fakeRepo{businesses: []leads.Business{atPoint}}
	svc2 := newTestService(t, repo2)

	result, err = svc2.Search(context.Background(), leads.SearchQuery{Lat: 41.0, Lon: -3.0, RadiusM: 0})
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "at_point", result.Leads[0].ID)
	assert.Zero(t, result.Leads[0].DistanceFromSearchM)
}

func TestSearch_CacheIdempotence(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)
	ctx := context.Background()

	first, err := svc.Search(ctx, madridCenter)
	require.NoError(t, err)
	second, err := svc.Search(ctx, madridCenter)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.candidatesCalls), "repeat query within TTL must not hit the repository")
	assert.Equal(t, first, second)

	// The cached copy carries everything the computed one did, including
	// fields hidden from the API response.
	for i := range second.Leads {
		assert.NotZero(t, second.Leads[i].TypologyValue)
		assert.Equal(t, first.Leads[i].TypologyValue, second.Leads[i].TypologyValue)
	}
}

func TestSearch_KeyNormalizationDeduplicates(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.Search(ctx, leads.SearchQuery{Lat: 40.4168, Lon: -3.7038, RadiusM: 10000})
	require.NoError(t, err)

	// Sub-precision floating noise must map to the same cache key.
	_, err = svc.Search(ctx, leads.SearchQuery{Lat: 40.41680000004, Lon: -3.70380000002, RadiusM: 10000.00001})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.candidatesCalls))
}

func TestSearch_RepositoryErrorPropagatesUncached(t *testing.T) {
	repo := &fakeRepo{err: apperrors.NewRepositoryUnavailableError(assert.AnError)}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.Search(ctx, madridCenter)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRepositoryUnavailable, apperrors.CodeOf(err))

	_, err = svc.Search(ctx, madridCenter)
	require.Error(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&repo.candidatesCalls), "error outcomes must not be cached")
}

func TestCompetitors_SameSectorWithinRadius(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)

	result, err := svc.Competitors(context.Background(), "biz_002", madridCenter)
	require.NoError(t, err)

	// Sector G6: biz_003 qualifies; biz_far shares the sector but is out of
	// radius; biz_001 is another sector; the target itself is excluded.
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "biz_003", result.Leads[0].ID)
}

func TestCompetitors_UnknownBusinessNotCached(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.Competitors(ctx, "missing", madridCenter)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeLeadNotFound, apperrors.CodeOf(err))

	_, err = svc.Competitors(ctx, "missing", madridCenter)
	require.Error(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&repo.findCalls))
}

func TestCompetitors_CachedPerBusiness(t *testing.T) {
	repo := &fakeRepo{businesses: madridBusinesses()}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.Competitors(ctx, "biz_002", madridCenter)
	require.NoError(t, err)
	_, err = svc.Competitors(ctx, "biz_002", madridCenter)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.sectorCalls))

	// A different target is a different key.
	_, err = svc.Competitors(ctx, "biz_003", madridCenter)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&repo.sectorCalls))
}

// Package search composes the distance calculator, the conversion scorer, the
// lead repository and the cache coordinator into the ranked radius search.
package search

import (
	"context"
	"math"
	"sort"
	"time"

	"leadscout/internal/cache"
	"leadscout/internal/common/logger"
	"leadscout/internal/common/metrics"
	"leadscout/internal/geo"
	"leadscout/internal/leads"
	"leadscout/internal/scoring"
)

// Cache is the coordinator surface the orchestrator needs.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, compute cache.ComputeFunc) (*leads.SearchResult, error)
}

// Service is the search orchestrator.
type Service struct {
	repo   leads.Repository
	cache  Cache
	scorer *scoring.Scorer
	logger logger.Logger
}

func NewService(repo leads.Repository, c Cache, scorer *scoring.Scorer, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  c,
		scorer: scorer,
		logger: log.WithFields(map[string]interface{}{"component": "search"}),
	}
}

// Search returns businesses within the query radius ranked by conversion
// score. Results are cached under the normalized query key; errors never are.
func (s *Service) Search(ctx context.Context, query leads.SearchQuery) (*leads.SearchResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	}()

	return s.cache.GetOrCompute(ctx, searchKey(query), func(ctx context.Context) (*leads.SearchResult, error) {
		candidates, err := s.repo.CandidatesNear(ctx, query)
		if err != nil {
			return nil, err
		}
		return s.rank(query, candidates)
	})
}

// Competitors ranks businesses sharing the target's IAE sector within the
// radius, excluding the target itself. An unknown id fails with
// LEAD_NOT_FOUND from inside the compute closure, so it is never cached.
func (s *Service) Competitors(ctx context.Context, businessID string, query leads.SearchQuery) (*leads.SearchResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("competitors").Observe(time.Since(start).Seconds())
	}()

	return s.cache.GetOrCompute(ctx, competitorsKey(businessID, query), func(ctx context.Context) (*leads.SearchResult, error) {
		target, err := s.repo.FindByID(ctx, businessID)
		if err != nil {
			return nil, err
		}

		candidates, err := s.repo.CandidatesBySector(ctx, leads.SectorPrefix(target.IAECode), target.ID)
		if err != nil {
			return nil, err
		}
		return s.rank(query, candidates)
	})
}

// UpsertTypology adjusts an IAE typology weight used by the scoring metric.
func (s *Service) UpsertTypology(ctx context.Context, cat leads.TypologyCategory) (*leads.TypologyCategory, error) {
	return s.repo.UpsertTypology(ctx, cat)
}

// rank performs the exact phase the repository prefilter only approximates:
// per-candidate distance, strict radius cut, scoring, ordering. All-or-nothing:
// any distance or scoring failure aborts the whole search rather than
// returning a truncated list.
func (s *Service) rank(query leads.SearchQuery, candidates []leads.Business) (*leads.SearchResult, error) {
	center := query.Center()

	scored := make([]leads.ScoredLead, 0, len(candidates))
	for _, b := range candidates {
		dist, err := geo.Distance(center, b.Coordinates)
		if err != nil {
			return nil, err
		}
		if dist > query.RadiusM {
			continue
		}

		metric, err := s.scorer.Score(b.Rentability, b.TypologyValue, dist)
		if err != nil {
			return nil, err
		}

		scored = append(scored, leads.ScoredLead{
			Business:            b,
			DistanceFromSearchM: math.Round(dist*100) / 100,
			Metric:              metric,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Metric != scored[j].Metric {
			return scored[i].Metric > scored[j].Metric
		}
		return scored[i].DistanceFromSearchM < scored[j].DistanceFromSearchM
	})

	return &leads.SearchResult{Count: len(scored), Leads: scored}, nil
}

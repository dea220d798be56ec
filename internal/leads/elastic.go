// internal/leads/elastic.go
package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	apperrors "leadscout/internal/common/errors"
	"leadscout/internal/common/metrics"
	"leadscout/internal/geo"

	"github.com/elastic/go-elasticsearch/v8"
)

// ElasticRepository is the alternative Repository over an Elasticsearch index
// of denormalized business documents (typology_value resolved at index time).
// Its geo_distance prefilter is already radius-accurate, but the orchestrator
// still applies exact filtering, so slight over-return is harmless.
type ElasticRepository struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticRepository(client *elasticsearch.Client, index string) *ElasticRepository {
	return &ElasticRepository{client: client, index: index}
}

type businessDoc struct {
	Name            string  `json:"name"`
	IAECode         string  `json:"iae_code"`
	Rentability     float64 `json:"rentability"`
	UrbanProximityM float64 `json:"proximity_to_urban_center_m"`
	Location        struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"location"`
	TypologyValue float64 `json:"typology_value"`
}

type searchEnvelope struct {
	Hits struct {
		Hits []struct {
			ID     string      `json:"_id"`
			Source businessDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *ElasticRepository) CandidatesNear(ctx context.Context, query SearchQuery) ([]Business, error) {
	esQuery := map[string]interface{}{
		"size": 1000,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": map[string]interface{}{
					"geo_distance": map[string]interface{}{
						"distance": fmt.Sprintf("%.0fm", query.RadiusM),
						"location": map[string]interface{}{
							"lat": query.Lat,
							"lon": query.Lon,
						},
					},
				},
			},
		},
	}
	return r.search(ctx, esQuery)
}

func (r *ElasticRepository) FindByID(ctx context.Context, id string) (*Business, error) {
	esQuery := map[string]interface{}{
		"size": 1,
		"query": map[string]interface{}{
			"ids": map[string]interface{}{
				"values": []string{id},
			},
		},
	}

	hits, err := r.search(ctx, esQuery)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, apperrors.NewLeadNotFoundError(id)
	}
	return &hits[0], nil
}

func (r *ElasticRepository) CandidatesBySector(ctx context.Context, sectorPrefix, excludeID string) ([]Business, error) {
	esQuery := map[string]interface{}{
		"size": 1000,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": map[string]interface{}{
					"prefix": map[string]interface{}{
						"iae_code": sectorPrefix,
					},
				},
				"must_not": map[string]interface{}{
					"ids": map[string]interface{}{
						"values": []string{excludeID},
					},
				},
			},
		},
	}
	return r.search(ctx, esQuery)
}

// UpsertTypology is unsupported here: typology weights live in Postgres and
// reach the index through reindexing, not through this API.
func (r *ElasticRepository) UpsertTypology(ctx context.Context, cat TypologyCategory) (*TypologyCategory, error) {
	return nil, apperrors.NewRepositoryUnavailableError(
		fmt.Errorf("typology upsert is not supported by the elasticsearch repository"))
}

func (r *ElasticRepository) search(ctx context.Context, esQuery map[string]interface{}) ([]Business, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		metrics.RepositoryErrors.WithLabelValues("elasticsearch").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		metrics.RepositoryErrors.WithLabelValues("elasticsearch").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(fmt.Errorf("elasticsearch: %s", res.Status()))
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		metrics.RepositoryErrors.WithLabelValues("elasticsearch").Inc()
		return nil, apperrors.NewRepositoryUnavailableError(err)
	}

	out := make([]Business, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		doc := hit.Source
		out = append(out, Business{
			ID:              hit.ID,
			Name:            doc.Name,
			IAECode:         doc.IAECode,
			Rentability:     doc.Rentability,
			UrbanProximityM: doc.UrbanProximityM,
			Coordinates:     geo.Coordinate{Lat: doc.Location.Lat, Lon: doc.Location.Lon},
			TypologyValue:   doc.TypologyValue,
		})
	}
	return out, nil
}

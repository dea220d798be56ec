// internal/leads/repository.go
package leads

import "context"

// Repository yields candidate businesses for scoring. Implementations may
// over-return (prefilter by a bounding region rather than the exact radius);
// the search orchestrator performs exact distance filtering.
//
// Any backend failure must surface as REPOSITORY_UNAVAILABLE; a missing
// business id as LEAD_NOT_FOUND.
type Repository interface {
	// CandidatesNear returns a superset of the businesses that might fall
	// within the query radius, with TypologyValue resolved.
	CandidatesNear(ctx context.Context, query SearchQuery) ([]Business, error)

	// FindByID returns a single business.
	FindByID(ctx context.Context, id string) (*Business, error)

	// CandidatesBySector returns businesses sharing an IAE sector prefix,
	// excluding excludeID, with TypologyValue resolved.
	CandidatesBySector(ctx context.Context, sectorPrefix, excludeID string) ([]Business, error)

	// UpsertTypology inserts or updates an IAE typology weight.
	UpsertTypology(ctx context.Context, cat TypologyCategory) (*TypologyCategory, error)
}

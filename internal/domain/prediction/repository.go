package prediction

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for stored predictions
type Repository interface {
	// Upsert inserts a prediction or updates the existing row for the same
	// (field_season_id, model_version_id) pair
	Upsert(ctx context.Context, p *Prediction) error

	// UpsertBatch applies a batch of upserts in a single transaction.
	// The whole batch commits or rolls back together; this is the commit
	// point granularity for backfill runs.
	UpsertBatch(ctx context.Context, ps []*Prediction) error

	// GetByPair returns the prediction for a (field_season, model_version)
	// pair, or ErrNotFound
	GetByPair(ctx context.Context, fieldSeasonID, modelVersionID uuid.UUID) (*Prediction, error)

	// DeleteByModelVersion removes all predictions produced by a model
	// version, returning the number of rows removed
	DeleteByModelVersion(ctx context.Context, modelVersionID uuid.UUID) (int64, error)
}

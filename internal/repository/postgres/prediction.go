package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"demeter/internal/domain/prediction"
	"demeter/pkg/errors"
)

// Compile-time check
var _ prediction.Repository = (*PredictionRepository)(nil)

const predictionUpsert = `
	INSERT INTO model_predictions (
		id, field_season_id, model_version_id,
		predicted_yield, confidence_lower, confidence_upper,
		feature_contributions, created_at, updated_at
	) VALUES (
		$1, $2, $3,
		$4, $5, $6,
		$7, NOW(), NOW()
	)
	ON CONFLICT (field_season_id, model_version_id) DO UPDATE SET
		predicted_yield = EXCLUDED.predicted_yield,
		confidence_lower = EXCLUDED.confidence_lower,
		confidence_upper = EXCLUDED.confidence_upper,
		feature_contributions = EXCLUDED.feature_contributions,
		updated_at = NOW()`

// PredictionRepository implements prediction.Repository using PostgreSQL
type PredictionRepository struct {
	db *sqlx.DB
}

// NewPredictionRepository creates a new prediction repository
func NewPredictionRepository(db *sqlx.DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// Upsert inserts or updates the prediction for a (field_season,
// model_version) pair. Re-predicting updates the existing row, never
// duplicates it.
func (r *PredictionRepository) Upsert(ctx context.Context, p *prediction.Prediction) error {
	_, err := r.db.ExecContext(ctx, predictionUpsert,
		p.ID, p.FieldSeasonID, p.ModelVersionID,
		p.PredictedYield, p.ConfidenceLower, p.ConfidenceUpper,
		p.FeatureContributions,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert prediction")
	}
	return nil
}

// UpsertBatch applies a batch of upserts in a single transaction. This is
// the backfill commit point: the whole batch lands or none of it does.
func (r *PredictionRepository) UpsertBatch(ctx context.Context, ps []*prediction.Prediction) error {
	if len(ps) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for i, p := range ps {
		_, err := tx.ExecContext(ctx, predictionUpsert,
			p.ID, p.FieldSeasonID, p.ModelVersionID,
			p.PredictedYield, p.ConfidenceLower, p.ConfidenceUpper,
			p.FeatureContributions,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to upsert prediction at index %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit prediction batch")
	}

	return nil
}

// GetByPair returns the prediction for a (field_season, model_version) pair
func (r *PredictionRepository) GetByPair(ctx context.Context, fieldSeasonID, modelVersionID uuid.UUID) (*prediction.Prediction, error) {
	var p prediction.Prediction

	query := `
		SELECT id, field_season_id, model_version_id,
			   predicted_yield, confidence_lower, confidence_upper,
			   feature_contributions, created_at, updated_at
		FROM model_predictions
		WHERE field_season_id = $1 AND model_version_id = $2`

	err := r.db.GetContext(ctx, &p, query, fieldSeasonID, modelVersionID)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound,
			"no prediction for field_season %s under model version %s", fieldSeasonID, modelVersionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get prediction")
	}

	return &p, nil
}

// DeleteByModelVersion removes all predictions produced by a model version
func (r *PredictionRepository) DeleteByModelVersion(ctx context.Context, modelVersionID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM model_predictions WHERE model_version_id = $1`, modelVersionID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete predictions")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return rows, nil
}

package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"demeter/internal/domain/modelversion"
	"demeter/pkg/errors"
)

// Compile-time check
var _ modelversion.Repository = (*ModelVersionRepository)(nil)

const modelVersionColumns = `
	id, version_tag, model_type, model_params,
	training_data_range, performance_metrics,
	feature_list, preprocessing_steps,
	is_production, training_date, notes, created_by`

// ModelVersionRepository implements modelversion.Repository using PostgreSQL
type ModelVersionRepository struct {
	db *sqlx.DB
}

// NewModelVersionRepository creates a new model version repository
func NewModelVersionRepository(db *sqlx.DB) *ModelVersionRepository {
	return &ModelVersionRepository{db: db}
}

// Create inserts a new catalog row
func (r *ModelVersionRepository) Create(ctx context.Context, mv *modelversion.ModelVersion) error {
	query := `
		INSERT INTO model_versions (
			id, version_tag, model_type, model_params,
			training_data_range, performance_metrics,
			feature_list, preprocessing_steps,
			is_production, training_date, notes, created_by
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8,
			$9, $10, $11, $12
		)`

	_, err := r.db.ExecContext(ctx, query,
		mv.ID, mv.VersionTag, mv.ModelType, mv.ModelParams,
		mv.TrainingDataRange, mv.PerformanceMetrics,
		mv.FeatureList, mv.PreprocessingSteps,
		mv.IsProduction, mv.TrainingDate, mv.Notes, mv.CreatedBy,
	)

	if err != nil {
		return errors.Wrap(err, "failed to create model version")
	}

	return nil
}

// GetByID retrieves a version by identifier
func (r *ModelVersionRepository) GetByID(ctx context.Context, id uuid.UUID) (*modelversion.ModelVersion, error) {
	var mv modelversion.ModelVersion

	query := `SELECT` + modelVersionColumns + `
		FROM model_versions
		WHERE id = $1`

	err := r.db.GetContext(ctx, &mv, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "model version %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get model version")
	}

	return &mv, nil
}

// GetByTag retrieves a version by its tag
func (r *ModelVersionRepository) GetByTag(ctx context.Context, tag string) (*modelversion.ModelVersion, error) {
	var mv modelversion.ModelVersion

	query := `SELECT` + modelVersionColumns + `
		FROM model_versions
		WHERE version_tag = $1`

	err := r.db.GetContext(ctx, &mv, query, tag)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "model version with tag %q not found", tag)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get model version by tag")
	}

	return &mv, nil
}

// List returns versions ordered by training date, most recent first
func (r *ModelVersionRepository) List(ctx context.Context, limit int) ([]*modelversion.ModelVersion, error) {
	if limit <= 0 {
		limit = 10 // Default limit
	}

	var versions []*modelversion.ModelVersion

	query := `SELECT` + modelVersionColumns + `
		FROM model_versions
		ORDER BY training_date DESC
		LIMIT $1`

	err := r.db.SelectContext(ctx, &versions, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list model versions")
	}

	return versions, nil
}

// GetProduction returns the current production version, or nil when no model
// has been promoted yet
func (r *ModelVersionRepository) GetProduction(ctx context.Context) (*modelversion.ModelVersion, error) {
	var mv modelversion.ModelVersion

	query := `SELECT` + modelVersionColumns + `
		FROM model_versions
		WHERE is_production`

	err := r.db.GetContext(ctx, &mv, query)
	if err == sql.ErrNoRows {
		// Expected state before the first promotion
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get production model version")
	}

	return &mv, nil
}

// SetProduction promotes a version: the existence check, the unset of the
// previous flag and the set of the new one all run inside one transaction,
// so a failure leaves the previous production state untouched and there is
// never a window with zero or two production rows.
func (r *ModelVersionRepository) SetProduction(ctx context.Context, id uuid.UUID) (*modelversion.ModelVersion, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var mv modelversion.ModelVersion
	query := `SELECT` + modelVersionColumns + `
		FROM model_versions
		WHERE id = $1
		FOR UPDATE`

	err = tx.GetContext(ctx, &mv, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "model version %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get model version for promotion")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE model_versions SET is_production = FALSE WHERE is_production`); err != nil {
		return nil, errors.Wrap(err, "failed to unset previous production flag")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE model_versions SET is_production = TRUE WHERE id = $1`, id); err != nil {
		return nil, errors.Wrap(err, "failed to set production flag")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit production swap")
	}

	mv.IsProduction = true
	return &mv, nil
}

// Delete removes a catalog row
func (r *ModelVersionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM model_versions WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete model version")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "model version %s not found", id)
	}

	return nil
}

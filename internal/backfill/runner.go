package backfill

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"demeter/internal/adapters/config"
	"demeter/internal/domain/prediction"
	"demeter/internal/events"
	"demeter/internal/jobs"
	"demeter/internal/metrics"
	"demeter/internal/predictor"
	"demeter/pkg/errors"
	"demeter/pkg/logger"
)

// Record is one field-season awaiting a prediction
type Record struct {
	FieldSeasonID uuid.UUID
	Input         map[string]interface{}
}

// RecordSource fetches field-seasons that have no stored prediction under the
// given model version. Implemented against the platform's field data, which
// lives outside this service's schema.
type RecordSource interface {
	// FetchUnpredicted returns up to limit unpredicted records. An empty
	// slice means the backfill is complete. Records already predicted under
	// the model version must not be returned, which is what makes re-runs
	// resume instead of repeating work.
	FetchUnpredicted(ctx context.Context, modelVersionID uuid.UUID, limit int) ([]Record, error)
}

// Runner drives a backfill: it pulls unpredicted records in batches, predicts
// each with per-item failure isolation, and commits every batch as one
// transaction. Progress is written to the job store after each batch, so a
// poller sees movement while the run is live.
type Runner struct {
	predictions prediction.Repository
	source      RecordSource
	service     *predictor.Service
	jobStore    jobs.Store
	publisher   *events.Publisher
	cfg         config.BackfillConfig
	log         *logger.Logger
}

// NewRunner wires a backfill runner. The publisher may be nil.
func NewRunner(
	predictions prediction.Repository,
	source RecordSource,
	service *predictor.Service,
	jobStore jobs.Store,
	publisher *events.Publisher,
	cfg config.BackfillConfig,
) *Runner {
	return &Runner{
		predictions: predictions,
		source:      source,
		service:     service,
		jobStore:    jobStore,
		publisher:   publisher,
		cfg:         cfg,
		log:         logger.Get().With("component", "backfill_runner"),
	}
}

// Start creates a job and runs the backfill synchronously, returning the
// finished job. Callers wanting async execution run Start in a goroutine and
// poll the job store.
func (r *Runner) Start(ctx context.Context, versionTag string) (*jobs.Job, error) {
	job := jobs.NewJob(versionTag)
	if err := r.jobStore.Create(ctx, job); err != nil {
		return nil, errors.Wrap(err, "failed to create backfill job")
	}

	job.Status = jobs.StatusRunning
	if err := r.jobStore.Update(ctx, job); err != nil {
		return nil, errors.Wrap(err, "failed to mark backfill job running")
	}

	if err := r.run(ctx, job, versionTag); err != nil {
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
		r.finish(ctx, job)
		return job, err
	}

	job.Status = jobs.StatusCompleted
	r.finish(ctx, job)

	if r.publisher != nil {
		_ = r.publisher.PublishBackfillCompleted(ctx, events.BackfillEvent{
			JobID:      job.ID.String(),
			VersionTag: versionTag,
			Processed:  job.Processed,
			Failed:     job.Failed,
			OccurredAt: time.Now().UTC(),
		})
	}

	return job, nil
}

func (r *Runner) run(ctx context.Context, job *jobs.Job, versionTag string) error {
	// Resolve the model before touching data so a missing artifact fails
	// the job immediately, not mid-run
	if err := r.service.EnsureVersion(ctx, versionTag); err != nil {
		return err
	}

	modelVersionID, err := uuid.Parse(r.service.CurrentVersionID())
	if err != nil {
		return errors.Wrap(err, "failed to resolve model version id")
	}

	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "backfill cancelled")
		default:
		}

		records, err := r.source.FetchUnpredicted(ctx, modelVersionID, batchSize)
		if err != nil {
			return errors.Wrap(err, "failed to fetch unpredicted records")
		}
		if len(records) == 0 {
			return nil
		}

		committed, err := r.processBatch(ctx, job, modelVersionID, versionTag, records)
		if err != nil {
			return err
		}

		if err := r.jobStore.Update(ctx, job); err != nil {
			r.log.Warnw("Failed to update backfill job progress", "job_id", job.ID, "error", err)
		}

		if len(records) < batchSize {
			return nil
		}

		// Failed records stay unpredicted and are served again by the
		// source. A full batch that commits nothing would repeat forever,
		// so stop and leave the remainder to a later run.
		if committed == 0 {
			r.log.Warnw("Backfill batch made no progress, stopping",
				"job_id", job.ID,
				"failed_total", job.Failed,
			)
			return nil
		}
	}
}

// processBatch predicts every record in the batch and commits the successes
// as one transaction, returning how many rows were committed. A record whose
// prediction fails is counted and skipped; it stays unpredicted and surfaces
// again on a re-run.
func (r *Runner) processBatch(ctx context.Context, job *jobs.Job, modelVersionID uuid.UUID, versionTag string, records []Record) (int, error) {
	start := time.Now()

	rows := make([]*prediction.Prediction, 0, len(records))
	for _, record := range records {
		result, err := r.service.Predict(ctx, record.Input, versionTag)
		if err != nil {
			job.Failed++
			metrics.BackfillProcessed.WithLabelValues("error").Inc()
			r.log.Warnw("Backfill prediction failed",
				"field_season_id", record.FieldSeasonID,
				"error", err,
			)
			continue
		}

		contributions, _ := json.Marshal(map[string]interface{}{
			"feature_names":  result.FeatureNames,
			"feature_values": result.FeatureValues,
		})

		rows = append(rows, &prediction.Prediction{
			ID:                   uuid.New(),
			FieldSeasonID:        record.FieldSeasonID,
			ModelVersionID:       modelVersionID,
			PredictedYield:       result.PredictedYield,
			ConfidenceLower:      result.ConfidenceLower,
			ConfidenceUpper:      result.ConfidenceUpper,
			FeatureContributions: contributions,
		})
	}

	if len(rows) > 0 {
		if err := r.predictions.UpsertBatch(ctx, rows); err != nil {
			return 0, errors.Wrap(err, "failed to commit backfill batch")
		}
	}

	job.Processed += len(rows)
	job.Total += len(records)
	for range rows {
		metrics.BackfillProcessed.WithLabelValues("success").Inc()
	}
	metrics.BackfillBatchDuration.Observe(time.Since(start).Seconds())

	r.log.Infow("Backfill batch committed",
		"job_id", job.ID,
		"batch", len(records),
		"committed", len(rows),
		"processed_total", job.Processed,
		"failed_total", job.Failed,
	)
	return len(rows), nil
}

func (r *Runner) finish(ctx context.Context, job *jobs.Job) {
	now := time.Now().UTC()
	job.FinishedAt = &now
	if err := r.jobStore.Update(ctx, job); err != nil {
		r.log.Warnw("Failed to persist final backfill job state", "job_id", job.ID, "error", err)
	}
}

package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"demeter/internal/artifact"
	"demeter/internal/domain/modelversion"
	"demeter/internal/events"
	"demeter/internal/metrics"
	"demeter/internal/ml"
	"demeter/pkg/errors"
	"demeter/pkg/logger"
)

// Registry is the single source of truth for model versions: it pairs the
// on-disk artifact store with the database-backed catalog and owns the
// production flag.
type Registry struct {
	store     *artifact.Store
	catalog   modelversion.Repository
	publisher *events.Publisher
	log       *logger.Logger
}

// New constructs a registry. The publisher may be nil when event streaming
// is disabled.
func New(store *artifact.Store, catalog modelversion.Repository, publisher *events.Publisher) *Registry {
	return &Registry{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		log:       logger.Get().With("component", "model_registry"),
	}
}

// RegisterParams carries everything the trainer (or import tooling) hands
// over for a new model version
type RegisterParams struct {
	Model       ml.Model
	ModelType   modelversion.ModelFamily
	FeatureList []string

	ModelParams   map[string]interface{}
	TrainingRange modelversion.TrainingRange

	// Metrics are sanitized at this boundary: non-numeric values are
	// dropped before persisting
	Metrics map[string]interface{}

	Contract *modelversion.Contract

	// VersionTag is optional; a UTC timestamp tag is generated when empty
	VersionTag string
	Notes      string
	CreatedBy  string
}

// Register persists the artifact set and inserts the catalog row, returning
// the version tag. A caller-supplied tag that already exists in the catalog
// is rejected with ErrAlreadyExists; silently overwriting the artifact while
// inserting a second row would leave store and catalog inconsistent.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (string, error) {
	if p.Model == nil {
		return "", errors.Wrap(errors.ErrInvalidInput, "model is required")
	}
	if len(p.FeatureList) == 0 {
		return "", errors.Wrap(errors.ErrInvalidInput, "feature list is required")
	}
	if !p.ModelType.Valid() {
		return "", errors.Wrapf(errors.ErrUnsupportedModelType, "unknown model family %q", p.ModelType)
	}

	tag := p.VersionTag
	if tag == "" {
		tag = "v" + time.Now().UTC().Format("20060102_150405")
	} else {
		if _, err := r.catalog.GetByTag(ctx, tag); err == nil {
			return "", errors.Wrapf(errors.ErrAlreadyExists, "version tag %q already registered", tag)
		} else if !errors.Is(err, errors.ErrNotFound) {
			return "", errors.Wrap(err, "failed to check version tag")
		}
	}

	cleanMetrics := modelversion.SanitizeMetrics(p.Metrics)

	if err := r.store.Save(tag, p.Model, p.FeatureList, p.Contract, cleanMetrics, p.ModelParams); err != nil {
		return "", errors.Wrapf(err, "failed to save artifact for %s", tag)
	}

	mv, err := buildCatalogRow(tag, p, cleanMetrics)
	if err != nil {
		return "", err
	}
	if err := r.catalog.Create(ctx, mv); err != nil {
		return "", errors.Wrapf(err, "failed to create catalog row for %s", tag)
	}

	metrics.ModelsRegistered.WithLabelValues(string(p.ModelType)).Inc()
	r.log.Infow("Model version registered",
		"version_tag", tag,
		"model_type", p.ModelType,
		"features", len(p.FeatureList),
	)

	if r.publisher != nil {
		_ = r.publisher.PublishModelRegistered(ctx, events.ModelEvent{
			VersionTag: tag,
			ModelType:  string(p.ModelType),
			OccurredAt: time.Now().UTC(),
		})
	}

	return tag, nil
}

func buildCatalogRow(tag string, p RegisterParams, cleanMetrics map[string]float64) (*modelversion.ModelVersion, error) {
	params, err := json.Marshal(orEmpty(p.ModelParams))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal model params")
	}
	trainingRange, err := json.Marshal(p.TrainingRange)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal training range")
	}
	perfMetrics, err := json.Marshal(cleanMetrics)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metrics")
	}
	contract := p.Contract
	if contract == nil {
		contract = &modelversion.Contract{}
	}
	preprocessing, err := json.Marshal(contract)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal preprocessing contract")
	}

	createdBy := p.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}

	return &modelversion.ModelVersion{
		ID:                 uuid.New(),
		VersionTag:         tag,
		ModelType:          p.ModelType,
		ModelParams:        params,
		TrainingDataRange:  trainingRange,
		PerformanceMetrics: perfMetrics,
		FeatureList:        pq.StringArray(p.FeatureList),
		PreprocessingSteps: preprocessing,
		IsProduction:       false,
		TrainingDate:       time.Now().UTC(),
		Notes:              p.Notes,
		CreatedBy:          createdBy,
	}, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// LoadModel loads the full artifact set for a catalog version. A catalog row
// whose artifact directory has been deleted is a consistency violation; the
// ErrArtifactNotFound is propagated, never defaulted.
func (r *Registry) LoadModel(ctx context.Context, versionTag string) (*artifact.Artifact, *modelversion.ModelVersion, error) {
	mv, err := r.catalog.GetByTag(ctx, versionTag)
	if err != nil {
		return nil, nil, err
	}

	art, err := r.store.Load(versionTag)
	if err != nil {
		metrics.ModelLoads.WithLabelValues("unknown", "error").Inc()
		return nil, nil, err
	}

	metrics.ModelLoads.WithLabelValues(string(art.Format), "success").Inc()
	return art, mv, nil
}

// GetProduction returns the production catalog row, or nil when no model has
// been promoted. Callers must treat nil as the expected pre-training state.
func (r *Registry) GetProduction(ctx context.Context) (*modelversion.ModelVersion, error) {
	return r.catalog.GetProduction(ctx)
}

// LoadProduction resolves and loads the current production model, failing
// with ErrNoProductionModel when none is promoted
func (r *Registry) LoadProduction(ctx context.Context) (*artifact.Artifact, *modelversion.ModelVersion, error) {
	mv, err := r.catalog.GetProduction(ctx)
	if err != nil {
		return nil, nil, err
	}
	if mv == nil {
		return nil, nil, errors.ErrNoProductionModel
	}

	art, err := r.store.Load(mv.VersionTag)
	if err != nil {
		metrics.ModelLoads.WithLabelValues("unknown", "error").Inc()
		return nil, nil, err
	}

	metrics.ModelLoads.WithLabelValues(string(art.Format), "success").Inc()
	return art, mv, nil
}

// SetProduction promotes a version to production, atomically unsetting the
// previous flag
func (r *Registry) SetProduction(ctx context.Context, id uuid.UUID) (*modelversion.ModelVersion, error) {
	mv, err := r.catalog.SetProduction(ctx, id)
	if err != nil {
		return nil, err
	}

	r.log.Infow("Model version promoted to production", "version_tag", mv.VersionTag)

	if r.publisher != nil {
		_ = r.publisher.PublishModelPromoted(ctx, events.ModelEvent{
			VersionTag: mv.VersionTag,
			ModelType:  string(mv.ModelType),
			OccurredAt: time.Now().UTC(),
		})
	}

	return mv, nil
}

// ListLatest returns catalog summaries ordered by training date descending
func (r *Registry) ListLatest(ctx context.Context, limit int) ([]modelversion.Summary, error) {
	versions, err := r.catalog.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]modelversion.Summary, len(versions))
	for i, mv := range versions {
		summaries[i] = mv.Summarize()
	}
	return summaries, nil
}

// ListArtifactVersions returns the version tags present on disk
func (r *Registry) ListArtifactVersions() ([]string, error) {
	return r.store.ListVersions()
}

// VersionDir returns the artifact directory for a version tag. Paths inside
// the preprocessing contract are resolved relative to this directory.
func (r *Registry) VersionDir(versionTag string) string {
	return r.store.VersionDir(versionTag)
}

// Delete removes a version from both the catalog and the artifact store,
// reporting whether anything existed under the tag
func (r *Registry) Delete(ctx context.Context, versionTag string) (bool, error) {
	existed := false

	mv, err := r.catalog.GetByTag(ctx, versionTag)
	switch {
	case err == nil:
		if err := r.catalog.Delete(ctx, mv.ID); err != nil {
			return false, err
		}
		existed = true
	case errors.Is(err, errors.ErrNotFound):
		// Artifact may still exist on disk (externally placed, never registered)
	default:
		return false, err
	}

	onDisk, err := r.store.Delete(versionTag)
	if err != nil {
		return existed, err
	}
	existed = existed || onDisk

	if existed {
		r.log.Infow("Model version deleted", "version_tag", versionTag)
		if r.publisher != nil && mv != nil {
			_ = r.publisher.PublishModelDeleted(ctx, events.ModelEvent{
				VersionTag: versionTag,
				ModelType:  string(mv.ModelType),
				OccurredAt: time.Now().UTC(),
			})
		}
	}

	return existed, nil
}

package predictor

import (
	"context"
	"path/filepath"
	"time"

	"demeter/internal/adapters/config"
	"demeter/internal/artifact"
	"demeter/internal/domain/modelversion"
	"demeter/internal/domain/prediction"
	"demeter/internal/metrics"
	"demeter/internal/ml"
	"demeter/internal/ml/features"
	"demeter/pkg/errors"
	"demeter/pkg/logger"
)

// ModelSource resolves catalog versions into loaded artifacts. Satisfied by
// the registry; narrowed to an interface so serving tests can stub loading.
type ModelSource interface {
	LoadModel(ctx context.Context, versionTag string) (*artifact.Artifact, *modelversion.ModelVersion, error)
	GetProduction(ctx context.Context) (*modelversion.ModelVersion, error)
	VersionDir(versionTag string) string
}

// defaultAliases map the external field names callers commonly send to the
// internal feature names models were trained with. Contract aliases extend
// this set and win on conflicts.
var defaultAliases = map[string]string{
	"crop":    "crop_name_en",
	"variety": "variety_name_en",
}

// loadedModel is the cached serving state for one version tag
type loadedModel struct {
	model       ml.Model
	format      artifact.Format
	versionTag  string
	versionID   string
	family      modelversion.ModelFamily
	featureList []string
	contract    *modelversion.Contract
	metrics     map[string]float64
	cropStats   StatsTable
}

// Service serves yield predictions against one cached model at a time,
// starting unloaded. A request for a different tag, or a production
// promotion observed between requests, swaps the cache.
//
// Service is not safe for concurrent use; callers own serialization.
type Service struct {
	source   ModelSource
	engineer *features.Engineer
	cfg      config.PredictionConfig
	log      *logger.Logger

	current *loadedModel
}

// NewService creates an unloaded prediction service
func NewService(source ModelSource, cfg config.PredictionConfig) *Service {
	return &Service{
		source:   source,
		engineer: features.NewEngineer(),
		cfg:      cfg,
		log:      logger.Get().With("component", "prediction_service"),
	}
}

// EnsureVersion loads the requested version into the cache without serving a
// prediction. An empty tag targets the current production model.
func (s *Service) EnsureVersion(ctx context.Context, versionTag string) error {
	return s.ensureModel(ctx, versionTag)
}

// CurrentVersion returns the tag of the cached model, empty when unloaded
func (s *Service) CurrentVersion() string {
	if s.current == nil {
		return ""
	}
	return s.current.versionTag
}

// CurrentFamily returns the model family of the cached model
func (s *Service) CurrentFamily() modelversion.ModelFamily {
	if s.current == nil {
		return ""
	}
	return s.current.family
}

// CurrentModel exposes the cached model and its feature list for
// explainability, which operates on the same loaded artifact
func (s *Service) CurrentModel() (ml.Model, []string, bool) {
	if s.current == nil {
		return nil, nil, false
	}
	return s.current.model, s.current.featureList, true
}

// ensureModel makes the cache hold the requested version. An empty tag means
// "current production": the catalog is consulted on every call so a
// promotion made after the cache was filled is picked up without a restart.
func (s *Service) ensureModel(ctx context.Context, versionTag string) error {
	target := versionTag
	if target == "" {
		mv, err := s.source.GetProduction(ctx)
		if err != nil {
			return err
		}
		if mv == nil {
			return errors.ErrNoProductionModel
		}
		target = mv.VersionTag
	}

	if s.current != nil && s.current.versionTag == target {
		return nil
	}

	art, mv, err := s.source.LoadModel(ctx, target)
	if err != nil {
		return err
	}

	loaded := &loadedModel{
		model:       art.Model,
		format:      art.Format,
		versionTag:  mv.VersionTag,
		versionID:   mv.ID.String(),
		family:      mv.ModelType,
		featureList: art.FeatureList,
		contract:    art.Contract,
		metrics:     art.Metrics,
	}
	if loaded.contract == nil {
		loaded.contract = mv.Contract()
	}
	if len(loaded.metrics) == 0 {
		loaded.metrics = mv.Metrics()
	}

	if loaded.contract.TargetStandardization == modelversion.StandardizationCropZScore &&
		loaded.contract.CropStatisticsFile != "" {
		path := filepath.Join(s.source.VersionDir(mv.VersionTag), loaded.contract.CropStatisticsFile)
		table, err := LoadCropStats(path)
		if err != nil {
			// Back-transform failures never block serving; raw
			// standardized predictions are returned instead
			s.log.Warnw("Failed to load crop statistics, predictions stay standardized",
				"version_tag", mv.VersionTag,
				"path", path,
				"error", err,
			)
		} else {
			loaded.cropStats = table
		}
	}

	if s.current != nil {
		s.log.Infow("Model cache swapped",
			"previous", s.current.versionTag,
			"current", loaded.versionTag,
		)
	} else {
		s.log.Infow("Model loaded",
			"version_tag", loaded.versionTag,
			"format", loaded.format,
			"features", len(loaded.featureList),
		)
	}

	s.current = loaded
	return nil
}

// Predict serves one prediction. An empty versionTag targets the current
// production model. The pipeline is: load or reuse the cached model, alias
// input fields, compute derived features unless the contract bypasses them,
// reconcile against the trained feature list, run the model, back-transform
// standardized output, and attach the confidence interval.
func (s *Service) Predict(ctx context.Context, input map[string]interface{}, versionTag string) (*prediction.Result, error) {
	start := time.Now()

	if err := s.ensureModel(ctx, versionTag); err != nil {
		metrics.Predictions.WithLabelValues(versionTag, "error").Inc()
		return nil, err
	}
	cur := s.current

	result, err := s.predictLoaded(cur, input)
	if err != nil {
		metrics.Predictions.WithLabelValues(cur.versionTag, "error").Inc()
		return nil, err
	}

	metrics.Predictions.WithLabelValues(cur.versionTag, "success").Inc()
	metrics.PredictionDuration.WithLabelValues(cur.versionTag).Observe(time.Since(start).Seconds())
	return result, nil
}

func (s *Service) predictLoaded(cur *loadedModel, input map[string]interface{}) (*prediction.Result, error) {
	if len(input) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "prediction input is empty")
	}

	row := features.FromRecord(input)
	s.applyAliases(row, cur.contract)

	if !cur.contract.SkipEngineering() {
		s.engineer.PrepareRecord(row)
	}

	s.reconcile(row, cur)

	vector, err := row.Select(cur.featureList)
	if err != nil {
		return nil, err
	}

	raw, err := cur.model.Predict(vector)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s failed to predict", cur.versionTag)
	}

	predicted := s.backTransform(raw, vector, cur)
	lower, upper := s.confidenceInterval(predicted, cur)

	vals := vector.Values()
	featureValues := make([]interface{}, len(vals))
	for i, v := range vals {
		if v.Categorical {
			featureValues[i] = v.Str
		} else {
			featureValues[i] = v.Num
		}
	}

	return &prediction.Result{
		PredictedYield:  predicted,
		ConfidenceLower: lower,
		ConfidenceUpper: upper,
		VersionTag:      cur.versionTag,
		FeatureNames:    vector.Columns(),
		FeatureValues:   featureValues,
	}, nil
}

// applyAliases copies values from external field names to their internal
// feature names. A destination the caller already filled is left alone.
func (s *Service) applyAliases(row *features.Row, contract *modelversion.Contract) {
	apply := func(src, dst string) {
		if row.Has(dst) {
			return
		}
		if v, ok := row.Get(src); ok {
			row.Set(dst, v)
		}
	}
	for src, dst := range defaultAliases {
		apply(src, dst)
	}
	for src, dst := range contract.InputAliases {
		apply(src, dst)
	}
}

// reconcile fills every expected feature and coerces each to the type the
// model was trained with. Categorical features default to "Missing", numeric
// features to 0.0. Extra columns are left on the row; Select drops them.
func (s *Service) reconcile(row *features.Row, cur *loadedModel) {
	categorical := cur.contract.CategoricalSet()
	for _, name := range s.engineer.CategoricalColumns {
		categorical[name] = true
	}

	for _, name := range cur.featureList {
		v, ok := row.Get(name)
		switch {
		case !ok && categorical[name]:
			row.SetStr(name, "Missing")
		case !ok:
			row.SetNum(name, 0.0)
		case categorical[name] && !v.Categorical:
			row.SetStr(name, v.Text())
		case !categorical[name] && v.Categorical:
			row.SetNum(name, v.Float())
		}
	}
}

// backTransform undoes target standardization on raw model output. A crop
// missing from the statistics table is logged and the raw value kept; a
// partial table must not fail serving.
func (s *Service) backTransform(raw float64, vector *features.Row, cur *loadedModel) float64 {
	if cur.contract.TargetStandardization != modelversion.StandardizationCropZScore {
		return raw
	}
	// No table means the contract named no statistics file or it failed to
	// load; the warning was emitted at load time
	if cur.cropStats == nil {
		return raw
	}

	cropCol := cur.contract.CropColumn
	if cropCol == "" {
		cropCol = "crop_name_en"
	}

	crop := ""
	if v, ok := vector.Get(cropCol); ok {
		crop = v.Text()
	}

	stats, ok := cur.cropStats.Lookup(crop)
	if !ok {
		s.log.Warnw("Crop missing from statistics table, returning standardized prediction",
			"crop", crop,
			"version_tag", cur.versionTag,
		)
		return raw
	}

	return raw*stats.Std + stats.Mean
}

// confidenceInterval builds the symmetric Gaussian band around a prediction
// from the validation RMSE recorded at training time
func (s *Service) confidenceInterval(predicted float64, cur *loadedModel) (float64, float64) {
	rmse, ok := cur.metrics["val_rmse"]
	if !ok || rmse <= 0 {
		rmse = s.cfg.DefaultRMSE
	}
	margin := s.cfg.ConfidenceZ * rmse
	return predicted - margin, predicted + margin
}

// BatchPredict serves a batch with per-item failure isolation: one bad
// record produces one failed slot, never aborts the batch. The model is
// resolved once for the whole batch.
func (s *Service) BatchPredict(ctx context.Context, inputs []map[string]interface{}, versionTag string) ([]prediction.BatchItem, error) {
	if err := s.ensureModel(ctx, versionTag); err != nil {
		return nil, err
	}
	cur := s.current

	items := make([]prediction.BatchItem, len(inputs))
	for i, input := range inputs {
		result, err := s.predictLoaded(cur, input)
		if err != nil {
			metrics.Predictions.WithLabelValues(cur.versionTag, "error").Inc()
			items[i] = prediction.BatchItem{Success: false, Error: err.Error()}
			continue
		}
		metrics.Predictions.WithLabelValues(cur.versionTag, "success").Inc()
		items[i] = prediction.BatchItem{Success: true, Result: result}
	}

	return items, nil
}

// CurrentVersionID returns the catalog id of the cached model as a string,
// empty when unloaded. Used when persisting predictions.
func (s *Service) CurrentVersionID() string {
	if s.current == nil {
		return ""
	}
	return s.current.versionID
}

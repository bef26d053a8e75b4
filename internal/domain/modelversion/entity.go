package modelversion

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ModelVersion is one catalog entry for a trained or imported model artifact
// set. Rows are immutable after registration except for the production flag.
type ModelVersion struct {
	ID         uuid.UUID   `db:"id"`
	VersionTag string      `db:"version_tag"`
	ModelType  ModelFamily `db:"model_type"`

	ModelParams        json.RawMessage `db:"model_params"`
	TrainingDataRange  json.RawMessage `db:"training_data_range"`
	PerformanceMetrics json.RawMessage `db:"performance_metrics"`

	// FeatureList is the ordered column list the model expects as input.
	// Order is significant and must match the trained model's input order.
	FeatureList pq.StringArray `db:"feature_list"`

	PreprocessingSteps json.RawMessage `db:"preprocessing_steps"`

	IsProduction bool      `db:"is_production"`
	TrainingDate time.Time `db:"training_date"`
	Notes        string    `db:"notes"`
	CreatedBy    string    `db:"created_by"`
}

// ModelFamily identifies the model implementation family. It is decided once
// at registration time and carried in the catalog; it is never re-inferred
// from the loaded model object.
type ModelFamily string

const (
	FamilyLightGBM     ModelFamily = "lightgbm"
	FamilyXGBoost      ModelFamily = "xgboost"
	FamilyRandomForest ModelFamily = "random_forest"
	FamilyCatBoost     ModelFamily = "catboost"
	FamilyOther        ModelFamily = "other"
)

// Valid checks if the family is a known value
func (f ModelFamily) Valid() bool {
	switch f {
	case FamilyLightGBM, FamilyXGBoost, FamilyRandomForest, FamilyCatBoost, FamilyOther:
		return true
	}
	return false
}

// IsTree reports whether the family has an exact tree-based attribution
// strategy in the explainability engine
func (f ModelFamily) IsTree() bool {
	switch f {
	case FamilyLightGBM, FamilyXGBoost, FamilyRandomForest, FamilyCatBoost:
		return true
	}
	return false
}

// TargetStandardization enumerates supported target back-transforms
type TargetStandardization string

const (
	StandardizationNone       TargetStandardization = ""
	StandardizationCropZScore TargetStandardization = "crop_zscore"
)

// Contract is the structured preprocessing contract embedded in
// preprocessing_steps. It controls how raw input maps to the feature vector a
// model was trained with, so internally trained and externally imported
// artifacts can be served through the same path.
type Contract struct {
	// Description is a free-form note about the preprocessing applied at
	// training time
	Description string `json:"description,omitempty"`

	// InputAliases maps external field names to internal feature names,
	// e.g. crop -> crop_name_en. An alias never overwrites a destination
	// key the caller supplied explicitly.
	InputAliases map[string]string `json:"input_aliases,omitempty"`

	// SkipFeatureEngineering bypasses derived-feature computation.
	// ExternalModel implies the same; external artifacts carry their own
	// pre-shaped feature schema.
	SkipFeatureEngineering bool `json:"skip_feature_engineering,omitempty"`
	ExternalModel          bool `json:"external_model,omitempty"`

	// CategoricalFeatures are coerced to strings rather than numerics,
	// with "Missing" as the default fill value
	CategoricalFeatures []string `json:"categorical_features,omitempty"`

	// TargetStandardization selects the back-transform applied to raw
	// model output. CropColumn names the feature holding the crop value
	// used for the per-crop statistics lookup.
	TargetStandardization TargetStandardization `json:"target_standardization,omitempty"`
	CropColumn            string                `json:"crop_column,omitempty"`

	// CropStatisticsFile is a path to the per-crop mean/std lookup table,
	// relative to the version's artifact directory
	CropStatisticsFile string `json:"crop_statistics_file,omitempty"`
}

// SkipEngineering reports whether derived-feature computation is bypassed
func (c *Contract) SkipEngineering() bool {
	if c == nil {
		return false
	}
	return c.SkipFeatureEngineering || c.ExternalModel
}

// CategoricalSet returns the categorical feature names as a set
func (c *Contract) CategoricalSet() map[string]bool {
	set := make(map[string]bool)
	if c == nil {
		return set
	}
	for _, name := range c.CategoricalFeatures {
		set[name] = true
	}
	return set
}

// TrainingRange describes the season bounds and record count of the data a
// model was trained on
type TrainingRange struct {
	StartSeason int `json:"start_season"`
	EndSeason   int `json:"end_season"`
	RecordCount int `json:"record_count"`
}

// Contract decodes the preprocessing contract from the stored steps.
// A missing or empty column yields an empty contract, never an error:
// older rows predate the structured sub-object.
func (m *ModelVersion) Contract() *Contract {
	var c Contract
	if len(m.PreprocessingSteps) == 0 {
		return &c
	}
	if err := json.Unmarshal(m.PreprocessingSteps, &c); err != nil {
		return &Contract{}
	}
	return &c
}

// Metrics decodes the stored performance metrics map
func (m *ModelVersion) Metrics() map[string]float64 {
	metrics := make(map[string]float64)
	if len(m.PerformanceMetrics) == 0 {
		return metrics
	}
	_ = json.Unmarshal(m.PerformanceMetrics, &metrics)
	return metrics
}

// Features returns the ordered feature list as a plain slice
func (m *ModelVersion) Features() []string {
	return []string(m.FeatureList)
}

// SanitizeMetrics drops non-numeric metric values at the registration
// boundary so the stored map is always name -> float
func SanitizeMetrics(raw map[string]interface{}) map[string]float64 {
	clean := make(map[string]float64, len(raw))
	for name, value := range raw {
		switch v := value.(type) {
		case float64:
			clean[name] = v
		case float32:
			clean[name] = float64(v)
		case int:
			clean[name] = float64(v)
		case int64:
			clean[name] = float64(v)
		case json.Number:
			if f, err := v.Float64(); err == nil {
				clean[name] = f
			}
		}
	}
	return clean
}

// Summary is the compact listing shape returned to admin surfaces
type Summary struct {
	ID           uuid.UUID          `json:"model_version_id"`
	VersionTag   string             `json:"version_tag"`
	ModelType    ModelFamily        `json:"model_type"`
	TrainingDate time.Time          `json:"training_date"`
	IsProduction bool               `json:"is_production"`
	Metrics      map[string]float64 `json:"performance_metrics"`
	FeatureCount int                `json:"feature_count"`
}

// Summarize converts a catalog row into its listing shape
func (m *ModelVersion) Summarize() Summary {
	return Summary{
		ID:           m.ID,
		VersionTag:   m.VersionTag,
		ModelType:    m.ModelType,
		TrainingDate: m.TrainingDate,
		IsProduction: m.IsProduction,
		Metrics:      m.Metrics(),
		FeatureCount: len(m.FeatureList),
	}
}

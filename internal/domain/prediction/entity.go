package prediction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Prediction is one stored prediction for a field-season under a specific
// model version. At most one row exists per (field_season_id,
// model_version_id); re-predicting updates the existing row.
type Prediction struct {
	ID             uuid.UUID `db:"id"`
	FieldSeasonID  uuid.UUID `db:"field_season_id"`
	ModelVersionID uuid.UUID `db:"model_version_id"`

	PredictedYield  float64 `db:"predicted_yield"`
	ConfidenceLower float64 `db:"confidence_lower"`
	ConfidenceUpper float64 `db:"confidence_upper"`

	// FeatureContributions optionally holds per-feature attribution values
	FeatureContributions json.RawMessage `db:"feature_contributions"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Result is the serving-path output for one prediction request
type Result struct {
	PredictedYield  float64 `json:"predicted_yield"`
	ConfidenceLower float64 `json:"confidence_lower"`
	ConfidenceUpper float64 `json:"confidence_upper"`

	// VersionTag identifies the model version that produced the result
	VersionTag string `json:"model_version"`

	// FeatureNames and FeatureValues are the exact, ordered feature vector
	// handed to the model, retained for explainability reuse
	FeatureNames  []string      `json:"feature_names"`
	FeatureValues []interface{} `json:"feature_values"`
}

// BatchItem is one slot of a batch prediction result. Failures are isolated
// per item; partial success is the normal outcome.
type BatchItem struct {
	Success bool    `json:"success"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

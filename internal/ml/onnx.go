package ml

import (
	onnxruntime "github.com/yalue/onnxruntime_go"

	"demeter/internal/ml/features"
	"demeter/pkg/errors"
)

// ONNXModel wraps an ONNX Runtime session for externally imported regression
// artifacts (e.g. CatBoost models exported outside this codebase). The
// session consumes a fixed-width numeric vector and yields a single raw
// prediction.
type ONNXModel struct {
	session     *onnxruntime.DynamicAdvancedSession
	inputName   string
	outputName  string
	numFeatures int
}

// LoadONNXModel loads an ONNX regression model from file. numFeatures must
// match the artifact's declared feature list length.
func LoadONNXModel(modelPath string, numFeatures int) (*ONNXModel, error) {
	// Initialize ONNX runtime environment (only once)
	err := onnxruntime.InitializeEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize ONNX runtime")
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	// Input: "input" (feature vector), output: "variable" (prediction)
	session, err := onnxruntime.NewDynamicAdvancedSession(modelPath,
		[]string{"input"}, []string{"variable"}, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ONNX model")
	}

	return &ONNXModel{
		session:     session,
		inputName:   "input",
		outputName:  "variable",
		numFeatures: numFeatures,
	}, nil
}

// NumFeatures returns the expected input vector width
func (m *ONNXModel) NumFeatures() int {
	return m.numFeatures
}

// Predict runs inference on the reconciled feature row. Cells are coerced to
// numerics in column order; the row width must match the model's input width.
func (m *ONNXModel) Predict(row *features.Row) (float64, error) {
	if m.session == nil {
		return 0, errors.New("model session is nil")
	}

	vector := row.Floats()
	if len(vector) != m.numFeatures {
		return 0, errors.Wrapf(errors.ErrSchemaMismatch,
			"feature vector width %d does not match model input width %d", len(vector), m.numFeatures)
	}

	// Input tensor: shape [1, num_features]
	inputShape := onnxruntime.NewShape(1, int64(len(vector)))
	inputTensor, err := onnxruntime.NewTensor(inputShape, vector)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	// Output tensor: single prediction, shape [1, 1]
	output := make([]float64, 1)
	outputShape := onnxruntime.NewShape(1, 1)
	outputTensor, err := onnxruntime.NewTensor(outputShape, output)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create output tensor")
	}
	defer outputTensor.Destroy()

	inputs := []onnxruntime.Value{inputTensor}
	outputs := []onnxruntime.Value{outputTensor}
	if err := m.session.Run(inputs, outputs); err != nil {
		return 0, errors.Wrap(err, "inference failed")
	}

	return output[0], nil
}

// Destroy cleans up the ONNX session
func (m *ONNXModel) Destroy() {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
}

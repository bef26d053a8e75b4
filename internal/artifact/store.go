package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"

	"demeter/internal/domain/modelversion"
	"demeter/internal/ml"
	"demeter/pkg/errors"
	"demeter/pkg/logger"
)

// Fixed file names inside each version directory
const (
	gobFileName      = "model.gob"
	onnxFileName     = "model.onnx"
	featuresFileName = "features.json"
	metricsFileName  = "metrics.json"
	paramsFileName   = "params.json"
)

// Format identifies which model binary encoding a version directory holds
type Format string

const (
	// FormatGob is the generic serialized-object format for internally
	// trained models
	FormatGob Format = "gob"

	// FormatONNX is the specialized tree-model binary format for
	// externally sourced artifacts
	FormatONNX Format = "onnx"
)

// featureSchema is the on-disk shape of features.json
type featureSchema struct {
	FeatureNames  []string               `json:"feature_names"`
	Preprocessing *modelversion.Contract `json:"preprocessing"`
}

// Artifact is one fully loaded model artifact set
type Artifact struct {
	Model       ml.Model
	Format      Format
	FeatureList []string
	Contract    *modelversion.Contract
	Metrics     map[string]float64
	Params      map[string]interface{}
}

// Store manages the on-disk artifact tree: one directory per version tag
// holding the model binary, feature schema, metrics and hyperparameters as
// four co-located files. Artifacts are never mutated in place; new versions
// get new directories.
type Store struct {
	baseDir string
	log     *logger.Logger
}

// NewStore creates a store rooted at baseDir, creating it if absent
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create model store directory %s", baseDir)
	}
	return &Store{
		baseDir: baseDir,
		log:     logger.Get().With("component", "artifact_store"),
	}, nil
}

// VersionDir returns the artifact directory for a version tag
func (s *Store) VersionDir(versionTag string) string {
	return filepath.Join(s.baseDir, versionTag)
}

// Save writes a model and its metadata files under the version tag,
// creating the directory if absent. Overwriting an existing tag is allowed
// but there is no atomicity across the four files; callers should use unique
// tags.
func (s *Store) Save(versionTag string, model ml.Model, featureList []string,
	contract *modelversion.Contract, metrics map[string]float64, params map[string]interface{}) error {

	dir := s.VersionDir(versionTag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create version directory %s", dir)
	}

	f, err := os.Create(filepath.Join(dir, gobFileName))
	if err != nil {
		return errors.Wrap(err, "failed to create model file")
	}
	if err := ml.EncodeGob(f, model); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close model file")
	}

	schema := featureSchema{FeatureNames: featureList, Preprocessing: contract}
	if contract == nil {
		schema.Preprocessing = &modelversion.Contract{}
	}
	if err := writeJSON(filepath.Join(dir, featuresFileName), schema); err != nil {
		return err
	}
	if metrics == nil {
		metrics = map[string]float64{}
	}
	if err := writeJSON(filepath.Join(dir, metricsFileName), metrics); err != nil {
		return err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := writeJSON(filepath.Join(dir, paramsFileName), params); err != nil {
		return err
	}

	s.log.Infow("Artifact saved", "version_tag", versionTag, "features", len(featureList))
	return nil
}

// Load reads a full artifact set by version tag. A missing directory or any
// missing required file fails with ErrArtifactNotFound carrying the path.
// The model binary loader is selected by file presence: the generic gob
// format when model.gob exists, otherwise the ONNX binary.
func (s *Store) Load(versionTag string) (*Artifact, error) {
	dir := s.VersionDir(versionTag)

	for _, name := range []string{featuresFileName, metricsFileName, paramsFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(errors.ErrArtifactNotFound, "version %s: missing %s", versionTag, path)
		}
	}

	format, err := DetectFormat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "version %s", versionTag)
	}

	var schema featureSchema
	if err := readJSON(filepath.Join(dir, featuresFileName), &schema); err != nil {
		return nil, errors.Wrapf(errors.ErrSchemaMismatch, "version %s: malformed feature schema: %v", versionTag, err)
	}
	if schema.Preprocessing == nil {
		schema.Preprocessing = &modelversion.Contract{}
	}

	metrics := map[string]float64{}
	if err := readJSON(filepath.Join(dir, metricsFileName), &metrics); err != nil {
		return nil, errors.Wrapf(err, "version %s: malformed metrics file", versionTag)
	}
	params := map[string]interface{}{}
	if err := readJSON(filepath.Join(dir, paramsFileName), &params); err != nil {
		return nil, errors.Wrapf(err, "version %s: malformed params file", versionTag)
	}

	var model ml.Model
	switch format {
	case FormatGob:
		f, err := os.Open(filepath.Join(dir, gobFileName))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrArtifactNotFound, "version %s: %v", versionTag, err)
		}
		model, err = ml.DecodeGob(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "version %s", versionTag)
		}
	case FormatONNX:
		onnxModel, err := ml.LoadONNXModel(filepath.Join(dir, onnxFileName), len(schema.FeatureNames))
		if err != nil {
			return nil, errors.Wrapf(err, "version %s", versionTag)
		}
		model = onnxModel
	}

	s.log.Infow("Artifact loaded", "version_tag", versionTag, "format", format)
	return &Artifact{
		Model:       model,
		Format:      format,
		FeatureList: schema.FeatureNames,
		Contract:    schema.Preprocessing,
		Metrics:     metrics,
		Params:      params,
	}, nil
}

// DetectFormat selects the model binary format for a version directory by
// file presence. The generic gob format takes precedence when both binaries
// exist; neither present is ErrArtifactNotFound.
func DetectFormat(dir string) (Format, error) {
	if _, err := os.Stat(filepath.Join(dir, gobFileName)); err == nil {
		return FormatGob, nil
	}
	if _, err := os.Stat(filepath.Join(dir, onnxFileName)); err == nil {
		return FormatONNX, nil
	}
	return "", errors.Wrapf(errors.ErrArtifactNotFound,
		"missing model binary: expected one of %s or %s in %s", gobFileName, onnxFileName, dir)
}

// ListVersions returns all version tags present on disk
func (s *Store) ListVersions() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read model store directory")
	}

	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			tags = append(tags, e.Name())
		}
	}
	return tags, nil
}

// Delete removes a version directory, reporting whether it existed
func (s *Store) Delete(versionTag string) (bool, error) {
	dir := s.VersionDir(versionTag)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, errors.Wrapf(err, "failed to delete version %s", versionTag)
	}
	s.log.Infow("Artifact deleted", "version_tag", versionTag)
	return true, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

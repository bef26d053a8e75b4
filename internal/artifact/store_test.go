package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demeter/internal/domain/modelversion"
	"demeter/internal/ml"
	"demeter/internal/ml/features"
	"demeter/pkg/errors"
)

func testModel() *ml.LinearModel {
	return &ml.LinearModel{
		Coefficients: map[string]float64{"acres": 1.5},
		Intercept:    50,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	contract := &modelversion.Contract{
		InputAliases:          map[string]string{"crop": "crop_name_en"},
		TargetStandardization: modelversion.StandardizationCropZScore,
		CropStatisticsFile:    "crop_statistics.csv",
	}
	err := store.Save("v20240101_000000", testModel(), []string{"acres"}, contract,
		map[string]float64{"val_rmse": 8.2}, map[string]interface{}{"n_estimators": 400.0})
	require.NoError(t, err)

	art, err := store.Load("v20240101_000000")
	require.NoError(t, err)

	assert.Equal(t, FormatGob, art.Format)
	assert.Equal(t, []string{"acres"}, art.FeatureList)
	assert.Equal(t, 8.2, art.Metrics["val_rmse"])
	assert.Equal(t, 400.0, art.Params["n_estimators"])
	assert.Equal(t, "crop_name_en", art.Contract.InputAliases["crop"])
	assert.Equal(t, modelversion.StandardizationCropZScore, art.Contract.TargetStandardization)

	row := features.NewRow()
	row.SetNum("acres", 100)
	pred, err := art.Model.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, 200.0, pred)
}

func TestLoadMissingVersion(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))
}

func TestLoadMissingMetadataFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("v1", testModel(), []string{"acres"}, nil, nil, nil))

	require.NoError(t, os.Remove(filepath.Join(store.VersionDir("v1"), "metrics.json")))

	_, err := store.Load("v1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))
}

func TestLoadMalformedFeatureSchema(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("v1", testModel(), []string{"acres"}, nil, nil, nil))

	path := filepath.Join(store.VersionDir("v1"), "features.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := store.Load("v1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
}

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()

	_, err := DetectFormat(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("onnx"), 0o644))
	format, err := DetectFormat(dir)
	require.NoError(t, err)
	assert.Equal(t, FormatONNX, format)

	// gob takes precedence when both binaries exist
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.gob"), []byte("gob"), 0o644))
	format, err = DetectFormat(dir)
	require.NoError(t, err)
	assert.Equal(t, FormatGob, format)
}

func TestListVersionsAndDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("v1", testModel(), []string{"acres"}, nil, nil, nil))
	require.NoError(t, store.Save("v2", testModel(), []string{"acres"}, nil, nil, nil))

	tags, err := store.ListVersions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v2"}, tags)

	existed, err := store.Delete("v1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete("v1")
	require.NoError(t, err)
	assert.False(t, existed)

	tags, err = store.ListVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, tags)
}

func TestSaveOverwritesExistingTag(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("v1", testModel(), []string{"acres"}, nil, nil, nil))

	updated := &ml.LinearModel{Coefficients: map[string]float64{"acres": 2}, Intercept: 0}
	require.NoError(t, store.Save("v1", updated, []string{"acres"}, nil, nil, nil))

	art, err := store.Load("v1")
	require.NoError(t, err)

	row := features.NewRow()
	row.SetNum("acres", 10)
	pred, err := art.Model.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, 20.0, pred)
}

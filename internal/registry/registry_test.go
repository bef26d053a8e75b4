package registry

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"demeter/internal/artifact"
	"demeter/internal/domain/modelversion"
	"demeter/internal/ml"
	"demeter/internal/ml/features"
	"demeter/pkg/errors"
)

// MockCatalog is a mock for modelversion.Repository
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Create(ctx context.Context, mv *modelversion.ModelVersion) error {
	args := m.Called(ctx, mv)
	return args.Error(0)
}

func (m *MockCatalog) GetByID(ctx context.Context, id uuid.UUID) (*modelversion.ModelVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*modelversion.ModelVersion), args.Error(1)
}

func (m *MockCatalog) GetByTag(ctx context.Context, tag string) (*modelversion.ModelVersion, error) {
	args := m.Called(ctx, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*modelversion.ModelVersion), args.Error(1)
}

func (m *MockCatalog) List(ctx context.Context, limit int) ([]*modelversion.ModelVersion, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*modelversion.ModelVersion), args.Error(1)
}

func (m *MockCatalog) GetProduction(ctx context.Context) (*modelversion.ModelVersion, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*modelversion.ModelVersion), args.Error(1)
}

func (m *MockCatalog) SetProduction(ctx context.Context, id uuid.UUID) (*modelversion.ModelVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*modelversion.ModelVersion), args.Error(1)
}

func (m *MockCatalog) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func testModel() *ml.LinearModel {
	return &ml.LinearModel{Coefficients: map[string]float64{"acres": 1.5}, Intercept: 50}
}

func newTestRegistry(t *testing.T, catalog *MockCatalog) *Registry {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	return New(store, catalog, nil)
}

func TestRegisterGeneratesTimestampTag(t *testing.T) {
	catalog := &MockCatalog{}
	catalog.On("Create", mock.Anything, mock.Anything).Return(nil)
	reg := newTestRegistry(t, catalog)

	tag, err := reg.Register(context.Background(), RegisterParams{
		Model:       testModel(),
		ModelType:   modelversion.FamilyOther,
		FeatureList: []string{"acres"},
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^v\d{8}_\d{6}$`), tag)
	catalog.AssertExpectations(t)
}

func TestRegisterDuplicateTagRejected(t *testing.T) {
	catalog := &MockCatalog{}
	catalog.On("GetByTag", mock.Anything, "v1").Return(&modelversion.ModelVersion{VersionTag: "v1"}, nil)
	reg := newTestRegistry(t, catalog)

	_, err := reg.Register(context.Background(), RegisterParams{
		Model:       testModel(),
		ModelType:   modelversion.FamilyOther,
		FeatureList: []string{"acres"},
		VersionTag:  "v1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists))
}

func TestRegisterInvalidFamily(t *testing.T) {
	catalog := &MockCatalog{}
	reg := newTestRegistry(t, catalog)

	_, err := reg.Register(context.Background(), RegisterParams{
		Model:       testModel(),
		ModelType:   "boosted_weirdness",
		FeatureList: []string{"acres"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedModelType))
}

func TestRegisterValidation(t *testing.T) {
	catalog := &MockCatalog{}
	reg := newTestRegistry(t, catalog)

	_, err := reg.Register(context.Background(), RegisterParams{
		ModelType:   modelversion.FamilyOther,
		FeatureList: []string{"acres"},
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = reg.Register(context.Background(), RegisterParams{
		Model:     testModel(),
		ModelType: modelversion.FamilyOther,
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestRegisterThenLoadRoundTrip(t *testing.T) {
	catalog := &MockCatalog{}
	var created *modelversion.ModelVersion
	catalog.On("GetByTag", mock.Anything, "v_round_trip").Return(nil, errors.ErrNotFound).Once()
	catalog.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*modelversion.ModelVersion)
	}).Return(nil)
	reg := newTestRegistry(t, catalog)

	tag, err := reg.Register(context.Background(), RegisterParams{
		Model:       testModel(),
		ModelType:   modelversion.FamilyOther,
		FeatureList: []string{"acres"},
		Metrics:     map[string]interface{}{"val_rmse": 8.2, "best_model": "linear"},
		VersionTag:  "v_round_trip",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "v_round_trip", tag)

	// Non-numeric metrics are dropped before persisting
	assert.JSONEq(t, `{"val_rmse": 8.2}`, string(created.PerformanceMetrics))

	catalog.On("GetByTag", mock.Anything, "v_round_trip").Return(created, nil)
	art, mv, err := reg.LoadModel(context.Background(), "v_round_trip")
	require.NoError(t, err)
	assert.Equal(t, created.ID, mv.ID)
	assert.Equal(t, []string{"acres"}, art.FeatureList)

	row := features.NewRow()
	row.SetNum("acres", 100)
	pred, err := art.Model.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, 200.0, pred)
}

func TestLoadModelMissingArtifact(t *testing.T) {
	catalog := &MockCatalog{}
	catalog.On("GetByTag", mock.Anything, "v_ghost").Return(&modelversion.ModelVersion{
		ID:         uuid.New(),
		VersionTag: "v_ghost",
	}, nil)
	reg := newTestRegistry(t, catalog)

	_, _, err := reg.LoadModel(context.Background(), "v_ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))
}

func TestLoadProductionNonePromoted(t *testing.T) {
	catalog := &MockCatalog{}
	catalog.On("GetProduction", mock.Anything).Return(nil, nil)
	reg := newTestRegistry(t, catalog)

	_, _, err := reg.LoadProduction(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoProductionModel))
}

func TestListLatest(t *testing.T) {
	catalog := &MockCatalog{}
	catalog.On("List", mock.Anything, 2).Return([]*modelversion.ModelVersion{
		{VersionTag: "v2", ModelType: modelversion.FamilyLightGBM},
		{VersionTag: "v1", ModelType: modelversion.FamilyOther},
	}, nil)
	reg := newTestRegistry(t, catalog)

	summaries, err := reg.ListLatest(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "v2", summaries[0].VersionTag)
	assert.Equal(t, "v1", summaries[1].VersionTag)
}

func TestDeleteRemovesCatalogAndArtifact(t *testing.T) {
	catalog := &MockCatalog{}
	id := uuid.New()
	catalog.On("GetByTag", mock.Anything, "v1").Return(&modelversion.ModelVersion{ID: id, VersionTag: "v1"}, nil)
	catalog.On("Delete", mock.Anything, id).Return(nil)

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("v1", testModel(), []string{"acres"}, nil, nil, nil))
	reg := New(store, catalog, nil)

	existed, err := reg.Delete(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, existed)

	tags, err := store.ListVersions()
	require.NoError(t, err)
	assert.Empty(t, tags)
	catalog.AssertExpectations(t)
}

func TestDeleteUnknownTag(t *testing.T) {
	catalog := &MockCatalog{}
	catalog.On("GetByTag", mock.Anything, "nope").Return(nil, errors.ErrNotFound)
	reg := newTestRegistry(t, catalog)

	existed, err := reg.Delete(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, existed)
}

package ml

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demeter/internal/ml/features"
)

// twoSplitTree builds a small depth-two tree:
//
//	acres <= 50 -> left subtree on crop, else leaf 30
func twoSplitTree() *TreeNode {
	return &TreeNode{
		Feature:   "acres",
		Threshold: 50,
		Value:     20,
		Left: &TreeNode{
			Feature:     "crop",
			Category:    "corn",
			Categorical: true,
			Value:       15,
			Left:        &TreeNode{Value: 18},
			Right:       &TreeNode{Value: 12},
		},
		Right: &TreeNode{Value: 30},
	}
}

func TestTreeEnsemblePredictBoosted(t *testing.T) {
	m := &TreeEnsemble{
		Trees:     []*TreeNode{twoSplitTree()},
		BaseScore: 100,
	}

	row := features.NewRow()
	row.SetNum("acres", 40)
	row.SetStr("crop", "corn")

	pred, err := m.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, 118.0, pred)

	row.SetNum("acres", 60)
	pred, err = m.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, 130.0, pred)
}

func TestTreeEnsemblePredictAveraged(t *testing.T) {
	m := &TreeEnsemble{
		Trees:    []*TreeNode{twoSplitTree(), twoSplitTree()},
		Averaged: true,
	}

	row := features.NewRow()
	row.SetNum("acres", 40)
	row.SetStr("crop", "soybean")

	pred, err := m.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, 12.0, pred)
}

func TestTreeEnsemblePredictEmpty(t *testing.T) {
	m := &TreeEnsemble{}
	_, err := m.Predict(features.NewRow())
	require.Error(t, err)
}

func TestPathContributionsExactDecomposition(t *testing.T) {
	m := &TreeEnsemble{
		Trees:     []*TreeNode{twoSplitTree()},
		BaseScore: 100,
	}

	row := features.NewRow()
	row.SetNum("acres", 40)
	row.SetStr("crop", "corn")

	pred, err := m.Predict(row)
	require.NoError(t, err)

	base, contrib, err := m.PathContributions(row)
	require.NoError(t, err)

	// acres split: 20 -> 15, crop split: 15 -> 18
	assert.Equal(t, -5.0, contrib["acres"])
	assert.Equal(t, 3.0, contrib["crop"])

	sum := base
	for _, c := range contrib {
		sum += c
	}
	assert.InDelta(t, pred, sum, 1e-9)
}

func TestPathContributionsAveragedDecomposition(t *testing.T) {
	m := &TreeEnsemble{
		Trees:    []*TreeNode{twoSplitTree(), twoSplitTree()},
		Averaged: true,
	}

	row := features.NewRow()
	row.SetNum("acres", 70)

	pred, err := m.Predict(row)
	require.NoError(t, err)

	base, contrib, err := m.PathContributions(row)
	require.NoError(t, err)

	sum := base
	for _, c := range contrib {
		sum += c
	}
	assert.InDelta(t, pred, sum, 1e-9)
}

func TestLinearModelPredict(t *testing.T) {
	m := &LinearModel{
		Coefficients: map[string]float64{"a": 2, "b": -1},
		Intercept:    10,
	}

	row := features.NewRow()
	row.SetNum("a", 3)
	row.SetNum("b", 4)

	pred, err := m.Predict(row)
	require.NoError(t, err)
	assert.Equal(t, 12.0, pred)
}

func TestGobRoundTripPreservesPredictions(t *testing.T) {
	original := &TreeEnsemble{
		Trees:     []*TreeNode{twoSplitTree()},
		BaseScore: 100,
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeGob(&buf, original))

	decoded, err := DecodeGob(&buf)
	require.NoError(t, err)
	require.IsType(t, &TreeEnsemble{}, decoded)

	row := features.NewRow()
	row.SetNum("acres", 40)
	row.SetStr("crop", "corn")

	p1, err := original.Predict(row)
	require.NoError(t, err)
	p2, err := decoded.Predict(row)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(p2))
	assert.Equal(t, p1, p2)
}

func TestEncodeGobNilModel(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, EncodeGob(&buf, nil))
}

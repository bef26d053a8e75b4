package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numericRow(n, p, k, acres float64) *Row {
	row := NewRow()
	row.SetNum(ColTotalN, n)
	row.SetNum(ColTotalP, p)
	row.SetNum(ColTotalK, k)
	row.SetNum(ColAcres, acres)
	return row
}

func TestSafeDivide(t *testing.T) {
	assert.Equal(t, 2.0, SafeDivide(10, 5, 0))
	assert.Equal(t, 0.0, SafeDivide(10, 0, 0))
	assert.Equal(t, 1.5, SafeDivide(10, 0, 1.5))
}

func TestNutrientRatios(t *testing.T) {
	e := NewEngineer()
	row := numericRow(120, 60, 30, 100)

	e.NutrientRatios(row)

	assert.Equal(t, 2.0, row.Num("n_p_ratio"))
	assert.Equal(t, 4.0, row.Num("n_k_ratio"))
	assert.Equal(t, 2.0, row.Num("p_k_ratio"))
}

func TestNutrientRatiosZeroDenominator(t *testing.T) {
	e := NewEngineer()
	row := numericRow(120, 0, 0, 100)

	e.NutrientRatios(row)

	assert.Equal(t, 0.0, row.Num("n_p_ratio"))
	assert.Equal(t, 0.0, row.Num("n_k_ratio"))
	assert.Equal(t, 0.0, row.Num("p_k_ratio"))
}

func TestIntensityFeatures(t *testing.T) {
	e := NewEngineer()
	row := numericRow(100, 50, 25, 10)

	e.IntensityFeatures(row)

	assert.Equal(t, 175.0, row.Num("total_nutrients_lb_ac"))
	assert.Equal(t, 1750.0, row.Num("nutrient_x_acres"))
}

func TestInteractions(t *testing.T) {
	e := NewEngineer()
	row := numericRow(100, 50, 25, 10)

	e.Interactions(row)

	assert.Equal(t, 1000.0, row.Num("N_x_acres"))
	assert.Equal(t, 5000.0, row.Num("N_x_P"))
	assert.Equal(t, 2500.0, row.Num("N_x_K"))
	assert.Equal(t, 1250.0, row.Num("P_x_K"))
}

func TestInteractionsSkipMissingColumns(t *testing.T) {
	e := NewEngineer()
	row := NewRow()
	row.SetNum(ColTotalN, 100)

	e.Interactions(row)

	assert.False(t, row.Has("N_x_P"))
	assert.False(t, row.Has("N_x_acres"))
}

func TestRegionalAverages(t *testing.T) {
	e := NewEngineer()

	r1 := NewRow()
	r1.SetStr("county", "story")
	r1.SetStr("state", "iowa")
	r1.SetStr("crop", "corn")
	r1.SetNum(ColYield, 180)

	r2 := NewRow()
	r2.SetStr("county", "story")
	r2.SetStr("state", "iowa")
	r2.SetStr("crop", "corn")
	r2.SetNum(ColYield, 200)

	r3 := NewRow()
	r3.SetStr("county", "polk")
	r3.SetStr("state", "iowa")
	r3.SetStr("crop", "corn")
	r3.SetNum(ColYield, 160)

	frame := NewFrame(r1, r2, r3)
	require.NoError(t, e.RegionalAverages(frame))

	assert.Equal(t, 190.0, r1.Num("county_crop_avg_yield"))
	assert.Equal(t, 160.0, r3.Num("county_crop_avg_yield"))
	assert.Equal(t, 180.0, r1.Num("state_crop_avg_yield"))
	assert.Equal(t, 180.0, r1.Num("crop_overall_avg_yield"))
}

func TestRegionalAveragesRequireYield(t *testing.T) {
	e := NewEngineer()
	row := NewRow()
	row.SetStr("crop", "corn")

	err := e.RegionalAverages(NewFrame(row))
	require.Error(t, err)
}

func TestEncodeFrequency(t *testing.T) {
	e := NewEngineer()

	r1 := NewRow()
	r1.SetStr("crop", "corn")
	r2 := NewRow()
	r2.SetStr("crop", "corn")
	r3 := NewRow()
	r3.SetStr("crop", "soybean")
	frame := NewFrame(r1, r2, r3)

	_, err := e.EncodeCategoricals(frame, EncodeFrequency, nil, nil)
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, r1.Num("crop_freq"), 1e-9)
	assert.InDelta(t, 1.0/3.0, r3.Num("crop_freq"), 1e-9)
}

func TestEncodeTargetFitAndReuse(t *testing.T) {
	e := NewEngineer()

	r1 := NewRow()
	r1.SetStr("crop", "corn")
	r2 := NewRow()
	r2.SetStr("crop", "corn")
	r3 := NewRow()
	r3.SetStr("crop", "soybean")
	frame := NewFrame(r1, r2, r3)

	fitted, err := e.EncodeCategoricals(frame, EncodeTarget, []float64{180, 200, 60}, nil)
	require.NoError(t, err)
	require.NotNil(t, fitted)

	assert.Equal(t, 190.0, r1.Num("crop_encoded"))
	assert.Equal(t, 60.0, r3.Num("crop_encoded"))

	// Apply the fitted encodings to a new frame; an unseen category falls
	// back to the global mean
	unseen := NewRow()
	unseen.SetStr("crop", "wheat")
	_, err = e.EncodeCategoricals(NewFrame(unseen), EncodeTarget, nil, fitted)
	require.NoError(t, err)
	assert.InDelta(t, fitted.GlobalMean, unseen.Num("crop_encoded"), 1e-9)
}

func TestEncodeTargetLengthMismatch(t *testing.T) {
	e := NewEngineer()
	row := NewRow()
	row.SetStr("crop", "corn")

	_, err := e.EncodeCategoricals(NewFrame(row), EncodeTarget, []float64{1, 2}, nil)
	require.Error(t, err)
}

func TestPrepareRecord(t *testing.T) {
	e := NewEngineer()
	row := numericRow(120, 60, 30, 100)
	row.SetStr("crop", "corn")

	e.PrepareRecord(row)

	assert.True(t, row.Has("n_p_ratio"))
	assert.True(t, row.Has("total_nutrients_lb_ac"))
	assert.True(t, row.Has("N_x_P"))
	// Single-record frequency encoding is always 1.0
	assert.Equal(t, 1.0, row.Num("crop_freq"))
	// Regional averages need a full frame and are never computed per record
	assert.False(t, row.Has("county_crop_avg_yield"))
}

func TestRowSelectOrderAndMissing(t *testing.T) {
	row := NewRow()
	row.SetNum("b", 2)
	row.SetNum("a", 1)

	selected, err := row.Select([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, selected.Columns())
	assert.Equal(t, []float64{1, 2}, selected.Floats())

	_, err = row.Select([]string{"a", "missing"})
	require.Error(t, err)
}

func TestFromRecordCoercion(t *testing.T) {
	row := FromRecord(map[string]interface{}{
		"n":    float64(12),
		"i":    7,
		"s":    "corn",
		"b":    true,
		"nil":  nil,
		"misc": []int{1},
	})

	assert.Equal(t, 12.0, row.Num("n"))
	assert.Equal(t, 7.0, row.Num("i"))
	v, ok := row.Get("s")
	require.True(t, ok)
	assert.True(t, v.Categorical)
	assert.Equal(t, 1.0, row.Num("b"))
	assert.False(t, row.Has("nil"))
	assert.True(t, row.Has("misc"))
}

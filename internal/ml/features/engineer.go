package features

import (
	"demeter/pkg/errors"
	"demeter/pkg/logger"
)

// Raw input column names the pipeline derives from
const (
	ColTotalN = "totalN_per_ac"
	ColTotalP = "totalP_per_ac"
	ColTotalK = "totalK_per_ac"
	ColAcres  = "acres"
	ColYield  = "yield_bu_ac"
	ColCrop   = "crop"
	ColState  = "state"
	ColCounty = "county"
)

// EncodingMethod selects how categorical columns become numerics
type EncodingMethod string

const (
	// EncodeTarget maps each category to the mean of the target variable.
	// Requires a target series; unseen categories fall back to the global
	// target mean.
	EncodeTarget EncodingMethod = "target"

	// EncodeFrequency maps each category to its relative frequency within
	// the given batch. Unseen categories fall back to 0.
	EncodeFrequency EncodingMethod = "frequency"
)

// TargetEncodings holds fitted category -> target-mean maps so training and
// inference apply the identical transform for a given model version
type TargetEncodings struct {
	ByColumn   map[string]map[string]float64 `json:"by_column"`
	GlobalMean float64                       `json:"global_mean"`
}

// Engineer derives the numeric feature vector a model expects from raw
// field-season records. Given the same input and the same fitted encodings it
// is fully deterministic; no state is read outside explicit parameters.
type Engineer struct {
	// CategoricalColumns are the raw columns subject to encoding
	CategoricalColumns []string

	log *logger.Logger
}

// NewEngineer creates an engineer with the default categorical columns
func NewEngineer() *Engineer {
	return &Engineer{
		CategoricalColumns: []string{"crop", "variety", "state", "county"},
		log:                logger.Get().With("component", "feature_engineer"),
	}
}

// SafeDivide divides a by b, returning def when b is zero
func SafeDivide(a, b, def float64) float64 {
	if b == 0 {
		return def
	}
	return a / b
}

// NutrientRatios adds the N:P, N:K and P:K ratio features. Division by zero
// or a missing denominator yields 0.0, not NaN; a zero ratio is the contract
// default for an unknowable balance.
func (e *Engineer) NutrientRatios(row *Row) {
	n := row.Num(ColTotalN)
	p := row.Num(ColTotalP)
	k := row.Num(ColTotalK)

	row.SetNum("n_p_ratio", SafeDivide(n, p, 0.0))
	row.SetNum("n_k_ratio", SafeDivide(n, k, 0.0))
	row.SetNum("p_k_ratio", SafeDivide(p, k, 0.0))
}

// IntensityFeatures adds management intensity features: the total nutrient
// application and its interaction with field size
func (e *Engineer) IntensityFeatures(row *Row) {
	total := row.Num(ColTotalN) + row.Num(ColTotalP) + row.Num(ColTotalK)
	row.SetNum("total_nutrients_lb_ac", total)
	row.SetNum("nutrient_x_acres", total*row.Num(ColAcres))
}

// Interactions adds pairwise interaction terms among N, P, K and acres.
// A term is only produced when both source columns are present.
func (e *Engineer) Interactions(row *Row) {
	pairs := []struct {
		a, b, out string
	}{
		{ColTotalN, ColAcres, "N_x_acres"},
		{ColTotalP, ColAcres, "P_x_acres"},
		{ColTotalK, ColAcres, "K_x_acres"},
		{ColTotalN, ColTotalP, "N_x_P"},
		{ColTotalN, ColTotalK, "N_x_K"},
		{ColTotalP, ColTotalK, "P_x_K"},
	}
	for _, p := range pairs {
		if row.Has(p.a) && row.Has(p.b) {
			row.SetNum(p.out, row.Num(p.a)*row.Num(p.b))
		}
	}
}

// RegionalAverages adds county/state/crop historical yield means. Only
// computable when the yield column is present, i.e. during a training fit;
// a single inference record has no historical aggregation to draw on.
func (e *Engineer) RegionalAverages(frame *Frame) error {
	for _, row := range frame.Rows {
		if !row.Has(ColYield) {
			return errors.Wrap(errors.ErrInvalidInput, "regional averages require a yield column on every row")
		}
	}

	countyCrop := newGroupMean()
	stateCrop := newGroupMean()
	crop := newGroupMean()

	for _, row := range frame.Rows {
		y := row.Num(ColYield)
		countyCrop.add(groupKey(row, ColCounty, ColCrop), y)
		stateCrop.add(groupKey(row, ColState, ColCrop), y)
		crop.add(groupKey(row, ColCrop), y)
	}

	for _, row := range frame.Rows {
		row.SetNum("county_crop_avg_yield", countyCrop.mean(groupKey(row, ColCounty, ColCrop)))
		row.SetNum("state_crop_avg_yield", stateCrop.mean(groupKey(row, ColState, ColCrop)))
		row.SetNum("crop_overall_avg_yield", crop.mean(groupKey(row, ColCrop)))
	}
	return nil
}

// EncodeCategoricals encodes the configured categorical columns. Target
// encoding needs target values aligned with the frame rows; pass fitted
// encodings instead to reuse a training-time fit at inference.
func (e *Engineer) EncodeCategoricals(frame *Frame, method EncodingMethod, target []float64, fitted *TargetEncodings) (*TargetEncodings, error) {
	switch method {
	case EncodeTarget:
		return e.encodeTarget(frame, target, fitted)
	case EncodeFrequency:
		e.encodeFrequency(frame)
		return nil, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown encoding method %q", method)
	}
}

func (e *Engineer) encodeTarget(frame *Frame, target []float64, fitted *TargetEncodings) (*TargetEncodings, error) {
	if fitted == nil {
		if len(target) != frame.Len() {
			return nil, errors.Wrapf(errors.ErrInvalidInput,
				"target series length %d does not match frame length %d", len(target), frame.Len())
		}
		fitted = e.fitTargetEncodings(frame, target)
	}

	for _, row := range frame.Rows {
		for _, col := range e.CategoricalColumns {
			v, ok := row.Get(col)
			if !ok {
				continue
			}
			means := fitted.ByColumn[col]
			encoded, seen := means[v.Text()]
			if !seen {
				// Unseen category at inference time
				encoded = fitted.GlobalMean
			}
			row.SetNum(col+"_encoded", encoded)
		}
	}
	return fitted, nil
}

func (e *Engineer) fitTargetEncodings(frame *Frame, target []float64) *TargetEncodings {
	fitted := &TargetEncodings{ByColumn: make(map[string]map[string]float64)}

	var sum float64
	for _, t := range target {
		sum += t
	}
	if len(target) > 0 {
		fitted.GlobalMean = sum / float64(len(target))
	}

	for _, col := range e.CategoricalColumns {
		gm := newGroupMean()
		for i, row := range frame.Rows {
			if v, ok := row.Get(col); ok {
				gm.add(v.Text(), target[i])
			}
		}
		if len(gm.sums) > 0 {
			fitted.ByColumn[col] = gm.means()
		}
	}
	return fitted
}

func (e *Engineer) encodeFrequency(frame *Frame) {
	n := float64(frame.Len())
	for _, col := range e.CategoricalColumns {
		counts := make(map[string]float64)
		for _, row := range frame.Rows {
			if v, ok := row.Get(col); ok {
				counts[v.Text()]++
			}
		}
		for _, row := range frame.Rows {
			freq := 0.0
			if v, ok := row.Get(col); ok {
				freq = counts[v.Text()] / n
			}
			row.SetNum(col+"_freq", freq)
		}
	}
}

// FitOptions controls a training-time Prepare call
type FitOptions struct {
	Target          []float64
	Method          EncodingMethod
	Fitted          *TargetEncodings
	ComputeRegional bool
}

// Prepare runs the full pipeline over a training frame in fixed order:
// ratios, intensity, regional averages, encoding, interactions. Returns the
// fitted target encodings when target encoding was fit here.
func (e *Engineer) Prepare(frame *Frame, opts FitOptions) (*TargetEncodings, error) {
	for _, row := range frame.Rows {
		e.NutrientRatios(row)
		e.IntensityFeatures(row)
	}

	if opts.ComputeRegional {
		if err := e.RegionalAverages(frame); err != nil {
			return nil, err
		}
	}

	method := opts.Method
	if method == "" {
		method = EncodeFrequency
	}
	fitted, err := e.EncodeCategoricals(frame, method, opts.Target, opts.Fitted)
	if err != nil {
		return nil, err
	}

	for _, row := range frame.Rows {
		e.Interactions(row)
	}
	return fitted, nil
}

// PrepareRecord runs the inference-mode pipeline on a single record:
// ratios, intensity, interactions and batch frequency encoding. Regional
// averages are never computed here.
func (e *Engineer) PrepareRecord(row *Row) {
	e.NutrientRatios(row)
	e.IntensityFeatures(row)
	e.Interactions(row)
	e.encodeFrequency(NewFrame(row))
}

// groupMean accumulates per-key sums and counts
type groupMean struct {
	sums   map[string]float64
	counts map[string]float64
}

func newGroupMean() *groupMean {
	return &groupMean{sums: make(map[string]float64), counts: make(map[string]float64)}
}

func (g *groupMean) add(key string, v float64) {
	g.sums[key] += v
	g.counts[key]++
}

func (g *groupMean) mean(key string) float64 {
	if g.counts[key] == 0 {
		return 0.0
	}
	return g.sums[key] / g.counts[key]
}

func (g *groupMean) means() map[string]float64 {
	out := make(map[string]float64, len(g.sums))
	for k := range g.sums {
		out[k] = g.mean(k)
	}
	return out
}

func groupKey(row *Row, cols ...string) string {
	key := ""
	for _, c := range cols {
		if v, ok := row.Get(c); ok {
			key += v.Text()
		}
		key += "|"
	}
	return key
}

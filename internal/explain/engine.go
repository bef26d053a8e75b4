package explain

import (
	"math"
	"sort"

	"demeter/internal/domain/modelversion"
	"demeter/internal/ml"
	"demeter/internal/ml/features"
	"demeter/pkg/errors"
	"demeter/pkg/logger"
)

// Contribution is one feature's share of a single prediction
type Contribution struct {
	Feature string `json:"feature"`

	// Value is the input value the feature had for this prediction
	Value interface{} `json:"value"`

	// Attribution is the signed raw contribution in target units
	Attribution float64 `json:"attribution"`

	// Direction is "positive" or "negative" per the attribution sign
	Direction string `json:"direction"`

	// Importance is the absolute attribution normalized so all features
	// sum to 1.0
	Importance float64 `json:"importance"`
}

// Explanation decomposes one prediction into per-feature contributions
type Explanation struct {
	BaseValue        float64            `json:"base_value"`
	TopFeatures      []Contribution     `json:"top_features"`
	AllContributions map[string]float64 `json:"all_contributions"`
}

// treeAttributor is satisfied by models that support exact path attribution
type treeAttributor interface {
	PathContributions(row *features.Row) (float64, map[string]float64, error)
}

// Engine computes per-prediction feature attributions. Tree-family models
// get exact path decomposition; anything else falls back to a perturbation
// approximation. The attribution strategy is resolved once per version and
// rebuilt when the served version or model changes.
type Engine struct {
	log   *logger.Logger
	cache *attributionStrategy
}

// attributionStrategy is the per-version resolution of how to attribute:
// exact path decomposition when the model supports it, perturbation
// otherwise. Resolving once per version also keeps the fallback warning to
// one line per version instead of one per request.
type attributionStrategy struct {
	versionTag string
	model      ml.Model
	attributor treeAttributor
}

// NewEngine creates an explainability engine
func NewEngine() *Engine {
	return &Engine{
		log: logger.Get().With("component", "explainability"),
	}
}

// Explain attributes one prediction to its input features. The row must be
// the exact reconciled feature vector the model consumed; topN limits the
// ranked list, with 10 as the default and all contributions always included
// unranked.
func (e *Engine) Explain(row *features.Row, model ml.Model, family modelversion.ModelFamily, versionTag string, topN int) (*Explanation, error) {
	if model == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no model to explain")
	}
	if topN <= 0 {
		topN = 10
	}

	strategy := e.resolveStrategy(model, family, versionTag)

	var (
		base    float64
		contrib map[string]float64
		err     error
	)
	if strategy.attributor != nil {
		base, contrib, err = strategy.attributor.PathContributions(row)
	} else {
		base, contrib, err = e.perturbationContributions(row, model)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compute attributions for %s", versionTag)
	}

	return buildExplanation(row, base, contrib, topN), nil
}

// resolveStrategy returns the cached attribution strategy, rebuilding it when
// the version tag or the loaded model changed since the last request
func (e *Engine) resolveStrategy(model ml.Model, family modelversion.ModelFamily, versionTag string) *attributionStrategy {
	if e.cache != nil && e.cache.versionTag == versionTag && e.cache.model == model {
		return e.cache
	}

	if e.cache != nil && e.cache.versionTag != versionTag {
		e.log.Infow("Explainer cache invalidated by version switch",
			"previous", e.cache.versionTag,
			"current", versionTag,
		)
	}

	strategy := &attributionStrategy{versionTag: versionTag, model: model}
	if attributor, ok := model.(treeAttributor); ok && family.IsTree() {
		strategy.attributor = attributor
	} else {
		e.log.Warnw("Model family has no exact attribution, using perturbation approximation",
			"model_type", family,
			"version_tag", versionTag,
		)
	}

	e.cache = strategy
	return strategy
}

// perturbationContributions approximates attribution by re-predicting with
// one feature at a time replaced by a neutral value (0.0, or "Missing" for
// categoricals) and measuring the prediction shift. Approximate and not
// additive, but works for any model.
func (e *Engine) perturbationContributions(row *features.Row, model ml.Model) (float64, map[string]float64, error) {
	actual, err := model.Predict(row)
	if err != nil {
		return 0, nil, err
	}

	contrib := make(map[string]float64)
	for _, name := range row.Columns() {
		v, _ := row.Get(name)

		perturbed := row.Clone()
		if v.Categorical {
			perturbed.SetStr(name, "Missing")
		} else {
			perturbed.SetNum(name, 0.0)
		}

		shifted, err := model.Predict(perturbed)
		if err != nil {
			return 0, nil, err
		}
		contrib[name] = actual - shifted
	}

	var total float64
	for _, c := range contrib {
		total += c
	}
	return actual - total, contrib, nil
}

func buildExplanation(row *features.Row, base float64, contrib map[string]float64, topN int) *Explanation {
	all := make([]Contribution, 0, len(contrib))
	var totalAbs float64
	for _, c := range contrib {
		totalAbs += math.Abs(c)
	}

	for feature, c := range contrib {
		direction := "positive"
		if c < 0 {
			direction = "negative"
		}

		importance := 0.0
		if totalAbs > 0 {
			importance = math.Abs(c) / totalAbs
		}

		var value interface{}
		if v, ok := row.Get(feature); ok {
			if v.Categorical {
				value = v.Str
			} else {
				value = v.Num
			}
		}

		all = append(all, Contribution{
			Feature:     feature,
			Value:       value,
			Attribution: c,
			Direction:   direction,
			Importance:  importance,
		})
	}

	sort.Slice(all, func(i, j int) bool {
		if math.Abs(all[i].Attribution) != math.Abs(all[j].Attribution) {
			return math.Abs(all[i].Attribution) > math.Abs(all[j].Attribution)
		}
		return all[i].Feature < all[j].Feature
	})

	top := all
	if len(top) > topN {
		top = top[:topN]
	}

	return &Explanation{
		BaseValue:        base,
		TopFeatures:      top,
		AllContributions: contrib,
	}
}

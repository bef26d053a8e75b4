package ml

import (
	"demeter/internal/ml/features"
	"demeter/pkg/errors"
)

// TreeNode is one node of a regression tree. Internal nodes carry a split on
// a named feature; every node carries the expected target value of the
// training samples that reached it, which makes exact path attribution
// possible without revisiting training data.
type TreeNode struct {
	// Feature is the split column; empty on leaves
	Feature string

	// Numeric split: descend left when x <= Threshold.
	// Categorical split: descend left when the value equals Category.
	Threshold   float64
	Category    string
	Categorical bool

	Left  *TreeNode
	Right *TreeNode

	// Value is the node's expected target value; on leaves it is the
	// prediction contribution
	Value float64
}

// IsLeaf reports whether the node has no children
func (n *TreeNode) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// next returns the child selected by the row's value for this split
func (n *TreeNode) next(row *features.Row) *TreeNode {
	v, _ := row.Get(n.Feature)
	if n.Categorical {
		if v.Text() == n.Category {
			return n.Left
		}
		return n.Right
	}
	if v.Float() <= n.Threshold {
		return n.Left
	}
	return n.Right
}

// TreeEnsemble is a regression tree ensemble, the in-process representation
// of internally trained lightgbm/xgboost/random_forest models. Boosted
// ensembles sum leaf values on top of BaseScore; averaged ensembles take the
// mean leaf value.
type TreeEnsemble struct {
	Trees     []*TreeNode
	BaseScore float64
	Averaged  bool
}

// Predict runs the row through every tree and combines leaf values
func (m *TreeEnsemble) Predict(row *features.Row) (float64, error) {
	if len(m.Trees) == 0 {
		return 0, errors.Wrap(errors.ErrInvalidInput, "ensemble has no trees")
	}

	var sum float64
	for _, root := range m.Trees {
		node := root
		for !node.IsLeaf() {
			node = node.next(row)
		}
		sum += node.Value
	}

	if m.Averaged {
		return sum / float64(len(m.Trees)), nil
	}
	return m.BaseScore + sum, nil
}

// PathContributions decomposes a prediction into per-feature contributions by
// walking each tree's decision path: every split moves the expected value
// from the parent node to the chosen child, and that delta is attributed to
// the split feature. The decomposition is exact:
// base + sum(contributions) equals the prediction.
func (m *TreeEnsemble) PathContributions(row *features.Row) (float64, map[string]float64, error) {
	if len(m.Trees) == 0 {
		return 0, nil, errors.Wrap(errors.ErrInvalidInput, "ensemble has no trees")
	}

	contrib := make(map[string]float64)
	var base float64

	scale := 1.0
	if m.Averaged {
		scale = 1.0 / float64(len(m.Trees))
	} else {
		base = m.BaseScore
	}

	for _, root := range m.Trees {
		base += root.Value * scale
		node := root
		for !node.IsLeaf() {
			child := node.next(row)
			contrib[node.Feature] += (child.Value - node.Value) * scale
			node = child
		}
	}

	return base, contrib, nil
}

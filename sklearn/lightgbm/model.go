package lightgbm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// Node represents a single node in a regression tree.
// Internal nodes send x[SplitFeature] <= Threshold to LeftChild.
type Node struct {
	LeftChild    int     `msgpack:"left"`  // -1 for leaves
	RightChild   int     `msgpack:"right"` // -1 for leaves
	SplitFeature int     `msgpack:"feature"`
	Threshold    float64 `msgpack:"threshold"`
	Gain         float64 `msgpack:"gain"`

	LeafValue float64 `msgpack:"value"`
	LeafCount int     `msgpack:"count"`
	Depth     int     `msgpack:"depth"`
}

// IsLeaf returns true if the node is a leaf node
func (n *Node) IsLeaf() bool {
	return n.LeftChild == -1 && n.RightChild == -1
}

// Tree represents a single boosted tree. Node 0 is the root.
type Tree struct {
	NumLeaves     int     `msgpack:"num_leaves"`
	ShrinkageRate float64 `msgpack:"shrinkage"`
	Nodes         []Node  `msgpack:"nodes"`
}

// Predict makes a prediction for a single sample using this tree
func (t *Tree) Predict(features []float64) float64 {
	nodeID := 0
	for nodeID >= 0 && nodeID < len(t.Nodes) {
		node := &t.Nodes[nodeID]
		if node.IsLeaf() {
			return node.LeafValue * t.ShrinkageRate
		}
		if features[node.SplitFeature] <= node.Threshold {
			nodeID = node.LeftChild
		} else {
			nodeID = node.RightChild
		}
	}
	return 0
}

// Model is a fitted binary GBDT: raw score = InitScore + Σ tree outputs,
// probability of the positive class = sigmoid(raw score).
type Model struct {
	Objective   string  `msgpack:"objective"`
	NumFeatures int     `msgpack:"num_features"`
	InitScore   float64 `msgpack:"init_score"`
	Trees       []Tree  `msgpack:"trees"`

	// BestIteration is the number of trees used for prediction (0 = all).
	BestIteration int `msgpack:"best_iteration"`
}

func (m *Model) numIteration() int {
	if m.BestIteration > 0 && m.BestIteration < len(m.Trees) {
		return m.BestIteration
	}
	return len(m.Trees)
}

// PredictRaw returns the raw margin for one sample.
func (m *Model) PredictRaw(features []float64) float64 {
	score := m.InitScore
	for i := 0; i < m.numIteration(); i++ {
		score += m.Trees[i].Predict(features)
	}
	return score
}

// PredictProba returns P(positive) for one sample.
func (m *Model) PredictProba(features []float64) float64 {
	return sigmoid(m.PredictRaw(features))
}

// RawScores applies PredictRaw to every row of X.
func (m *Model) RawScores(X mat.Matrix) (*mat.VecDense, error) {
	rows, cols := X.Dims()
	if cols != m.NumFeatures {
		return nil, errors.NewDimensionError("Model.RawScores", m.NumFeatures, cols, 1)
	}
	out := mat.NewVecDense(rows, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		out.SetVec(i, m.PredictRaw(row))
	}
	return out, nil
}

// FeatureImportance sums per feature either the number of splits
// ("split") or the split gains ("gain") over all trees.
func (m *Model) FeatureImportance(importanceType string) []float64 {
	imp := make([]float64, m.NumFeatures)
	for i := 0; i < m.numIteration(); i++ {
		for _, node := range m.Trees[i].Nodes {
			if node.IsLeaf() {
				continue
			}
			if importanceType == "gain" {
				imp[node.SplitFeature] += node.Gain
			} else {
				imp[node.SplitFeature]++
			}
		}
	}
	return imp
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

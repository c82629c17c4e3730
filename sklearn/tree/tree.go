// Package tree implements a CART decision tree classifier.
//
// The tree is used on its own and as the base learner of
// sklearn/ensemble.RandomForestClassifier, whose impurity-based feature
// importances drive feature selection.
package tree

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// Node is one node of a fitted tree. Leaves have Feature == -1.
type Node struct {
	Feature   int       `msgpack:"feature"`
	Threshold float64   `msgpack:"threshold"`
	Left      int       `msgpack:"left"`
	Right     int       `msgpack:"right"`
	NSamples  int       `msgpack:"n_samples"`
	Impurity  float64   `msgpack:"impurity"`
	Value     []float64 `msgpack:"value"` // class probabilities at this node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// DecisionTreeClassifier is a CART classifier with gini or entropy
// impurity. Samples go left when x[feature] <= threshold.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// ハイパーパラメータ
	criterion       string
	maxDepth        int // <= 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // <= 0 means all features
	randomState     int64

	// 学習結果
	nodes               []Node
	classes_            []float64
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
	depth_              int
	nLeaves_            int
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the impurity measure, "gini" or "entropy".
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) { dt.criterion = criterion }
}

// WithMaxDepth limits the tree depth. Zero or negative means unlimited.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxDepth = depth }
}

// WithMinSamplesSplit sets the minimum node size that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples in each child.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesLeaf = n }
}

// WithMaxFeatures sets how many randomly drawn features each split considers.
func WithMaxFeatures(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxFeatures = n }
}

// WithRandomState seeds the feature sampling.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.randomState = seed }
}

// NewDecisionTreeClassifier creates an unfitted tree with scikit-learn defaults.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

func (dt *DecisionTreeClassifier) validate() error {
	if dt.criterion != "gini" && dt.criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	}
	return nil
}

// Fit builds the tree. y is an n×1 matrix (or vector) of class labels.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	if err := dt.validate(); err != nil {
		return err
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != n {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", n, yr, 0)
	}

	dt.classes_ = uniqueSorted(y)
	dt.nClasses_ = len(dt.classes_)
	dt.nFeatures_ = p

	b := &builder{
		dt:     dt,
		X:      mat.DenseCopyOf(X),
		y:      make([]int, n),
		rng:    rand.New(rand.NewPCG(uint64(dt.randomState), uint64(dt.randomState))),
		gains:  make([]float64, p),
		nTotal: float64(n),
	}
	for i := 0; i < n; i++ {
		b.y[i] = sort.SearchFloat64s(dt.classes_, y.At(i, 0))
	}
	if dt.criterion == "entropy" {
		b.impurity = entropy
	} else {
		b.impurity = gini
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	dt.nodes = dt.nodes[:0]
	dt.depth_, dt.nLeaves_ = 0, 0
	b.build(idx, 0)

	total := 0.0
	for _, g := range b.gains {
		total += g
	}
	dt.featureImportances_ = make([]float64, p)
	if total > 0 {
		for j, g := range b.gains {
			dt.featureImportances_[j] = g / total
		}
	}

	dt.state.SetDimensions(p, n)
	dt.state.SetFitted()
	return nil
}

type builder struct {
	dt       *DecisionTreeClassifier
	X        *mat.Dense
	y        []int
	rng      *rand.Rand
	impurity func(counts []float64, n float64) float64
	gains    []float64
	nTotal   float64
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	pos       int // samples [0,pos) of the sorted order go left
}

// build appends the subtree for idx and returns its node index.
func (b *builder) build(idx []int, depth int) int {
	dt := b.dt
	counts := make([]float64, dt.nClasses_)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	n := float64(len(idx))
	imp := b.impurity(counts, n)

	value := make([]float64, len(counts))
	for k, c := range counts {
		value[k] = c / n
	}
	id := len(dt.nodes)
	dt.nodes = append(dt.nodes, Node{Feature: -1, Left: -1, Right: -1, NSamples: len(idx), Impurity: imp, Value: value})
	if depth > dt.depth_ {
		dt.depth_ = depth
	}

	leaf := imp <= 0 ||
		len(idx) < dt.minSamplesSplit ||
		len(idx) < 2*dt.minSamplesLeaf ||
		(dt.maxDepth > 0 && depth >= dt.maxDepth)
	if leaf {
		dt.nLeaves_++
		return id
	}

	best, order, ok := b.bestSplit(idx, counts, imp)
	if !ok {
		dt.nLeaves_++
		return id
	}

	b.gains[best.feature] += n / b.nTotal * best.gain
	left := append([]int(nil), order[:best.pos]...)
	right := append([]int(nil), order[best.pos:]...)

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	nd := &dt.nodes[id]
	nd.Feature = best.feature
	nd.Threshold = best.threshold
	nd.Left = l
	nd.Right = r
	return id
}

// bestSplit scans every candidate feature. The first split with the
// highest gain wins; a zero-gain split is still taken so an impure node can
// keep splitting.
func (b *builder) bestSplit(idx []int, counts []float64, parentImp float64) (split, []int, bool) {
	dt := b.dt
	features := b.candidateFeatures()
	n := float64(len(idx))

	best := split{feature: -1, gain: math.Inf(-1)}
	var bestOrder []int
	order := make([]int, len(idx))
	left := make([]float64, len(counts))
	right := make([]float64, len(counts))

	for _, f := range features {
		copy(order, idx)
		sort.SliceStable(order, func(a, c int) bool { return b.X.At(order[a], f) < b.X.At(order[c], f) })

		for k := range left {
			left[k] = 0
			right[k] = counts[k]
		}
		for pos := 1; pos < len(order); pos++ {
			c := b.y[order[pos-1]]
			left[c]++
			right[c]--

			v0, v1 := b.X.At(order[pos-1], f), b.X.At(order[pos], f)
			if v0 == v1 {
				continue
			}
			if pos < dt.minSamplesLeaf || len(order)-pos < dt.minSamplesLeaf {
				continue
			}
			nl, nr := float64(pos), n-float64(pos)
			gain := parentImp - (nl/n)*b.impurity(left, nl) - (nr/n)*b.impurity(right, nr)
			if gain > best.gain+1e-12 {
				best = split{feature: f, threshold: (v0 + v1) / 2, gain: math.Max(gain, 0), pos: pos}
				bestOrder = append(bestOrder[:0], order...)
			}
		}
	}
	return best, bestOrder, best.feature >= 0
}

func (b *builder) candidateFeatures() []int {
	p := b.dt.nFeatures_
	features := make([]int, p)
	for j := range features {
		features[j] = j
	}
	m := b.dt.maxFeatures
	if m <= 0 || m >= p {
		return features
	}
	b.rng.Shuffle(p, func(i, j int) { features[i], features[j] = features[j], features[i] })
	features = features[:m]
	sort.Ints(features)
	return features
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	s := 1.0
	for _, c := range counts {
		q := c / n
		s -= q * q
	}
	return s
}

func entropy(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	s := 0.0
	for _, c := range counts {
		if c > 0 {
			q := c / n
			s -= q * math.Log2(q)
		}
	}
	return s
}

func uniqueSorted(y mat.Matrix) []float64 {
	r, _ := y.Dims()
	seen := make(map[float64]bool)
	out := make([]float64, 0, 2)
	for i := 0; i < r; i++ {
		v := y.At(i, 0)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func (dt *DecisionTreeClassifier) leaf(x []float64) *Node {
	i := 0
	for {
		nd := &dt.nodes[i]
		if nd.IsLeaf() {
			return nd
		}
		if x[nd.Feature] <= nd.Threshold {
			i = nd.Left
		} else {
			i = nd.Right
		}
	}
}

// PredictProba returns an n×nClasses matrix of class probabilities, columns
// in Classes() order.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	n, p := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeClassifier", "PredictProba", p); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, dt.nClasses_, nil)
	row := make([]float64, p)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, dt.leaf(row).Value)
	}
	return out, nil
}

// Predict returns an n×1 matrix of predicted class labels.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	n, p := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeClassifier", "Predict", p); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, 1, nil)
	row := make([]float64, p)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		value := dt.leaf(row).Value
		best := 0
		for k := 1; k < len(value); k++ {
			if value[k] > value[best] {
				best = k
			}
		}
		out.Set(i, 0, dt.classes_[best])
	}
	return out, nil
}

// Score returns the mean accuracy on (X, y), or 0 when prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := X.Dims()
	if n == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Classes returns the sorted class labels seen during Fit.
func (dt *DecisionTreeClassifier) Classes() []int {
	out := make([]int, len(dt.classes_))
	for i, c := range dt.classes_ {
		out[i] = int(c)
	}
	return out
}

// GetFeatureImportances returns the normalised total impurity decrease per
// feature. A tree that never split has all-zero importances.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the depth of the fitted tree; a single leaf has depth 0.
func (dt *DecisionTreeClassifier) GetDepth() int { return dt.depth_ }

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int { return dt.nLeaves_ }

// Nodes returns the fitted nodes; index 0 is the root.
func (dt *DecisionTreeClassifier) Nodes() []Node { return dt.nodes }

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.state.IsFitted() }

// GetParams returns the hyperparameters using scikit-learn names.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"random_state":      dt.randomState,
	}
}

// SetParams updates hyperparameters. Numeric values may be int, int64 or float64.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "criterion":
			s, ok := value.(string)
			if !ok {
				return errors.NewValidationError(key, "must be a string", value)
			}
			dt.criterion = s
		case "max_depth", "min_samples_split", "min_samples_leaf", "max_features":
			v, err := toInt(key, value)
			if err != nil {
				return err
			}
			switch key {
			case "max_depth":
				dt.maxDepth = v
			case "min_samples_split":
				dt.minSamplesSplit = v
			case "min_samples_leaf":
				dt.minSamplesLeaf = v
			case "max_features":
				dt.maxFeatures = v
			}
		case "random_state":
			v, err := toInt(key, value)
			if err != nil {
				return err
			}
			dt.randomState = int64(v)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
	}
	return dt.validate()
}

func toInt(key string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.NewValidationError(key, "must be an integer", value)
		}
		return int(v), nil
	default:
		return 0, errors.NewValidationError(key, fmt.Sprintf("unsupported type %T", value), value)
	}
}

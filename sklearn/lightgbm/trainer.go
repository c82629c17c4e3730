package lightgbm

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/core/parallel"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// parallelSplitThreshold is the leaf size below which the per-feature
// split search runs on the calling goroutine.
const parallelSplitThreshold = 2048

// Trainer implements histogram-based, leaf-wise gradient boosting for the
// binary log-loss objective.
type Trainer struct {
	params TrainingParams

	// Data
	X      *mat.Dense
	y      []float64 // 0 or 1
	binned [][]uint16
	bounds [][]float64 // per feature, upper bound of each bin (last is +Inf)

	// Gradient and Hessian
	gradients []float64
	hessians  []float64
	scores    []float64

	trees     []Tree
	initScore float64

	sampler *SamplingStrategy
	reg     *RegularizationStrategy
	logger  log.Logger
}

// TrainingParams contains all training hyperparameters
type TrainingParams struct {
	// Basic parameters
	NumIterations int     `json:"num_iterations"`
	LearningRate  float64 `json:"learning_rate"`
	NumLeaves     int     `json:"num_leaves"`
	MaxDepth      int     `json:"max_depth"` // <= 0: unlimited
	MinDataInLeaf int     `json:"min_data_in_leaf"`

	// Regularization
	Lambda              float64 `json:"lambda_l2"`
	Alpha               float64 `json:"lambda_l1"`
	MinGainToSplit      float64 `json:"min_gain_to_split"`
	MinSumHessianInLeaf float64 `json:"min_sum_hessian_in_leaf"`

	// Sampling
	BaggingFraction float64 `json:"bagging_fraction"`
	BaggingFreq     int     `json:"bagging_freq"`
	FeatureFraction float64 `json:"feature_fraction"`

	// Histogram parameters
	MaxBin int `json:"max_bin"`

	Seed       int64 `json:"seed"`
	NumThreads int   `json:"num_threads"`
}

// DefaultTrainingParams returns LightGBM's defaults for binary classification.
func DefaultTrainingParams() TrainingParams {
	return TrainingParams{
		NumIterations:       100,
		LearningRate:        0.1,
		NumLeaves:           31,
		MaxDepth:            -1,
		MinDataInLeaf:       20,
		MinSumHessianInLeaf: 1e-3,
		BaggingFraction:     1.0,
		FeatureFraction:     1.0,
		MaxBin:              255,
	}
}

// Validate checks the parameter ranges.
func (p TrainingParams) Validate() error {
	switch {
	case p.NumIterations < 1:
		return errors.NewValidationError("n_estimators", "must be >= 1", p.NumIterations)
	case p.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be > 0", p.LearningRate)
	case p.NumLeaves < 2:
		return errors.NewValidationError("num_leaves", "must be >= 2", p.NumLeaves)
	case p.MinDataInLeaf < 0:
		return errors.NewValidationError("min_child_samples", "must be >= 0", p.MinDataInLeaf)
	case p.Lambda < 0:
		return errors.NewValidationError("reg_lambda", "must be >= 0", p.Lambda)
	case p.Alpha < 0:
		return errors.NewValidationError("reg_alpha", "must be >= 0", p.Alpha)
	case p.BaggingFraction <= 0 || p.BaggingFraction > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", p.BaggingFraction)
	case p.BaggingFreq < 0:
		return errors.NewValidationError("subsample_freq", "must be >= 0", p.BaggingFreq)
	case p.FeatureFraction <= 0 || p.FeatureFraction > 1:
		return errors.NewValidationError("colsample_bytree", "must be in (0, 1]", p.FeatureFraction)
	case p.MaxBin < 2 || p.MaxBin > math.MaxUint16:
		return errors.NewValidationError("max_bin", "must be in [2, 65535]", p.MaxBin)
	}
	return nil
}

// Histogram accumulates gradient statistics of one bin.
type Histogram struct {
	SumGradients float64
	SumHessians  float64
	Count        int
}

// SplitInfo contains information about a split
type SplitInfo struct {
	Feature    int
	Bin        int
	Threshold  float64
	Gain       float64
	LeftGrad   float64
	LeftHess   float64
	LeftCount  int
	RightGrad  float64
	RightHess  float64
	RightCount int
}

// leaf is a growable leaf of the tree under construction.
type leaf struct {
	node  int
	rows  []int
	grad  float64
	hess  float64
	depth int

	split    SplitInfo
	hasSplit bool
}

// NewTrainer creates a new trainer with the given parameters
func NewTrainer(params TrainingParams) *Trainer {
	return &Trainer{
		params: params,
		logger: log.GetLoggerWithName("lightgbm"),
	}
}

// WithLogger replaces the trainer's logger.
func (t *Trainer) WithLogger(l log.Logger) *Trainer {
	t.logger = l
	return t
}

// Fit trains on X and binary targets y (each 0 or 1).
func (t *Trainer) Fit(X mat.Matrix, y []float64) (err error) {
	defer errors.Recover(&err, "Trainer.Fit")
	start := time.Now()

	if err := t.params.Validate(); err != nil {
		return err
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("Trainer.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(y) != n {
		return errors.NewDimensionError("Trainer.Fit", n, len(y), 0)
	}
	t.X = mat.DenseCopyOf(X)
	for i := 0; i < n; i++ {
		for _, v := range t.X.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewValueError("Trainer.Fit", "X contains NaN or Inf")
			}
		}
	}
	t.y = y

	t.buildHistograms()
	t.initialize()

	t.trees = make([]Tree, 0, t.params.NumIterations)
	for iter := 0; iter < t.params.NumIterations; iter++ {
		t.calculateGradients()
		rows := t.sampler.SampleInstances(n, iter)
		features := t.sampler.SampleFeatures(p)

		tree := t.buildTree(rows, features)
		t.updatePredictions(&tree)
		t.trees = append(t.trees, tree)

		if (iter+1)%10 == 0 {
			t.logger.Debug("Boosting iteration",
				log.IterationKey, iter+1,
				log.LossKey, t.calculateLoss(),
				"num_leaves", tree.NumLeaves,
			)
		}
	}

	t.logger.Debug("GBDT trained",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		"trees", len(t.trees),
		log.LossKey, t.calculateLoss(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// initialize sets the starting margin to the log-odds of the positive rate.
func (t *Trainer) initialize() {
	n := len(t.y)
	pos := 0.0
	for _, v := range t.y {
		pos += v
	}
	rate := math.Min(math.Max(pos/float64(n), 1e-15), 1-1e-15)
	t.initScore = math.Log(rate / (1 - rate))

	t.scores = make([]float64, n)
	for i := range t.scores {
		t.scores[i] = t.initScore
	}
	t.gradients = make([]float64, n)
	t.hessians = make([]float64, n)
	t.sampler = NewSamplingStrategy(t.params)
	t.reg = NewRegularizationStrategy(t.params)
}

// buildHistograms discretises every feature into at most MaxBin bins.
func (t *Trainer) buildHistograms() {
	n, p := t.X.Dims()
	t.bounds = make([][]float64, p)
	t.binned = make([][]uint16, p)

	parallel.ParallelizeN(p, t.params.NumThreads, func(s, e int) {
		col := make([]float64, n)
		for j := s; j < e; j++ {
			mat.Col(col, j, t.X)
			bounds := findBinBoundaries(col, t.params.MaxBin)
			bins := make([]uint16, n)
			for i, v := range col {
				bins[i] = uint16(sort.SearchFloat64s(bounds, v))
			}
			t.bounds[j] = bounds
			t.binned[j] = bins
		}
	})
}

// findBinBoundaries returns ascending bin upper bounds ending in +Inf. A
// value v falls in the first bin whose bound is >= v. Bounds sit halfway
// between neighbouring distinct values; when there are more distinct values
// than maxBin they are taken at evenly spaced ranks.
func findBinBoundaries(values []float64, maxBin int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	distinct := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}

	bounds := make([]float64, 0, maxBin)
	if len(distinct) <= maxBin {
		for i := 0; i+1 < len(distinct); i++ {
			bounds = append(bounds, (distinct[i]+distinct[i+1])/2)
		}
	} else {
		for k := 1; k < maxBin; k++ {
			idx := k * len(distinct) / maxBin
			b := (distinct[idx-1] + distinct[idx]) / 2
			if len(bounds) == 0 || b > bounds[len(bounds)-1] {
				bounds = append(bounds, b)
			}
		}
	}
	return append(bounds, math.Inf(1))
}

// calculateGradients computes binary log-loss gradients at the current scores.
func (t *Trainer) calculateGradients() {
	for i, s := range t.scores {
		p := sigmoid(s)
		t.gradients[i] = p - t.y[i]
		t.hessians[i] = math.Max(p*(1-p), 1e-16)
	}
}

// buildTree grows one tree leaf-wise: the leaf with the largest split gain
// is split next until NumLeaves is reached or no leaf can be split.
func (t *Trainer) buildTree(rows []int, features []int) Tree {
	tree := Tree{ShrinkageRate: t.params.LearningRate}

	root := t.newLeaf(&tree, rows, 0)
	leaves := []*leaf{root}
	t.findBestSplit(root, features)

	for len(leaves) < t.params.NumLeaves {
		best := -1
		for i, l := range leaves {
			if l.hasSplit && (best < 0 || l.split.Gain > leaves[best].split.Gain) {
				best = i
			}
		}
		if best < 0 {
			break
		}

		l := leaves[best]
		leftRows, rightRows := t.splitData(l.rows, l.split)

		node := &tree.Nodes[l.node]
		node.SplitFeature = l.split.Feature
		node.Threshold = l.split.Threshold
		node.Gain = l.split.Gain
		node.LeftChild = len(tree.Nodes)
		node.RightChild = len(tree.Nodes) + 1

		left := t.newLeaf(&tree, leftRows, l.depth+1)
		right := t.newLeaf(&tree, rightRows, l.depth+1)
		t.findBestSplit(left, features)
		t.findBestSplit(right, features)

		leaves[best] = left
		leaves = append(leaves, right)
	}

	tree.NumLeaves = len(leaves)
	return tree
}

// newLeaf appends a leaf node for rows and returns its growth state.
func (t *Trainer) newLeaf(tree *Tree, rows []int, depth int) *leaf {
	l := &leaf{node: len(tree.Nodes), rows: rows, depth: depth}
	for _, r := range rows {
		l.grad += t.gradients[r]
		l.hess += t.hessians[r]
	}
	tree.Nodes = append(tree.Nodes, Node{
		LeftChild:    -1,
		RightChild:   -1,
		SplitFeature: -1,
		LeafValue:    t.reg.LeafValue(l.grad, l.hess),
		LeafCount:    len(rows),
		Depth:        depth,
	})
	return l
}

// findBestSplit searches the features concurrently; each worker writes its
// own slots and the reduction runs in feature order, so ties go to the
// earliest feature regardless of scheduling.
func (t *Trainer) findBestSplit(l *leaf, features []int) {
	l.hasSplit = false
	if t.params.MaxDepth > 0 && l.depth >= t.params.MaxDepth {
		return
	}
	minLeaf := max(t.params.MinDataInLeaf, 1)
	if len(l.rows) < 2*minLeaf {
		return
	}

	results := make([]SplitInfo, len(features))
	found := make([]bool, len(features))
	jobs := t.params.NumThreads
	if len(l.rows) < parallelSplitThreshold {
		jobs = 1
	}
	parallel.ParallelizeN(len(features), jobs, func(s, e int) {
		hist := make([]Histogram, t.params.MaxBin)
		for k := s; k < e; k++ {
			results[k], found[k] = t.findBestSplitForFeature(l, features[k], hist)
		}
	})

	for k := range features {
		if found[k] && (!l.hasSplit || results[k].Gain > l.split.Gain) {
			l.split = results[k]
			l.hasSplit = true
		}
	}
}

func (t *Trainer) findBestSplitForFeature(l *leaf, feature int, hist []Histogram) (SplitInfo, bool) {
	bounds := t.bounds[feature]
	nb := len(bounds)
	if nb < 2 {
		return SplitInfo{}, false
	}
	hist = hist[:nb]
	for b := range hist {
		hist[b] = Histogram{}
	}
	bins := t.binned[feature]
	for _, r := range l.rows {
		h := &hist[bins[r]]
		h.SumGradients += t.gradients[r]
		h.SumHessians += t.hessians[r]
		h.Count++
	}

	minLeaf := max(t.params.MinDataInLeaf, 1)
	var best SplitInfo
	ok := false
	var lg, lh float64
	lc := 0
	for b := 0; b < nb-1; b++ {
		lg += hist[b].SumGradients
		lh += hist[b].SumHessians
		lc += hist[b].Count
		rc := len(l.rows) - lc
		if lc < minLeaf {
			continue
		}
		if rc < minLeaf {
			break
		}
		rg, rh := l.grad-lg, l.hess-lh
		if lh < t.params.MinSumHessianInLeaf || rh < t.params.MinSumHessianInLeaf {
			continue
		}
		gain := t.reg.SplitGain(lg, lh, rg, rh, l.grad, l.hess)
		if gain <= t.params.MinGainToSplit || gain <= 0 {
			continue
		}
		if !ok || gain > best.Gain {
			best = SplitInfo{
				Feature: feature, Bin: b, Threshold: bounds[b], Gain: gain,
				LeftGrad: lg, LeftHess: lh, LeftCount: lc,
				RightGrad: rg, RightHess: rh, RightCount: rc,
			}
			ok = true
		}
	}
	return best, ok
}

func (t *Trainer) splitData(rows []int, split SplitInfo) ([]int, []int) {
	left := make([]int, 0, split.LeftCount)
	right := make([]int, 0, split.RightCount)
	bins := t.binned[split.Feature]
	for _, r := range rows {
		if int(bins[r]) <= split.Bin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

// updatePredictions adds the new tree's output to every training row,
// including rows outside the bag.
func (t *Trainer) updatePredictions(tree *Tree) {
	n, _ := t.X.Dims()
	for i := 0; i < n; i++ {
		t.scores[i] += tree.Predict(t.X.RawRowView(i))
	}
}

// calculateLoss returns the mean binary log-loss on the training rows.
func (t *Trainer) calculateLoss() float64 {
	loss := 0.0
	for i, s := range t.scores {
		p := math.Min(math.Max(sigmoid(s), 1e-15), 1-1e-15)
		loss -= t.y[i]*math.Log(p) + (1-t.y[i])*math.Log(1-p)
	}
	return loss / float64(len(t.scores))
}

// GetModel returns the trained model
func (t *Trainer) GetModel() *Model {
	_, p := t.X.Dims()
	return &Model{
		Objective:   "binary",
		NumFeatures: p,
		InitScore:   t.initScore,
		Trees:       t.trees,
	}
}

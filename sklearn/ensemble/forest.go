// Package ensemble provides a bagged random forest of CART trees. Its mean
// impurity importances rank booking features for selection.
package ensemble

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/core/parallel"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
	"github.com/YuminosukeSato/bookingcancel/sklearn/tree"
)

// RandomForestClassifier fits NEstimators trees on bootstrap samples. Tree
// i is seeded with randomState+i and writes only its own slot, so the
// fitted forest does not depend on the number of workers.
type RandomForestClassifier struct {
	state *model.StateManager

	nEstimators     int
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // <= 0 means floor(sqrt(n_features))
	bootstrap       bool
	randomState     int64
	nJobs           int

	trees               []*tree.DecisionTreeClassifier
	classes_            []float64
	featureImportances_ []float64

	logger log.Logger
}

// Option configures a RandomForestClassifier.
type Option func(*RandomForestClassifier)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithMaxDepth limits each tree's depth; zero means unlimited.
func WithMaxDepth(depth int) Option {
	return func(rf *RandomForestClassifier) { rf.maxDepth = depth }
}

// WithMinSamplesSplit is passed through to each tree.
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf is passed through to each tree.
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures sets the features considered per split.
func WithMaxFeatures(n int) Option {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = n }
}

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(b bool) Option {
	return func(rf *RandomForestClassifier) { rf.bootstrap = b }
}

// WithRandomState sets the base seed.
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithNJobs sets the number of trees fitted concurrently (<= 0: all CPUs).
func WithNJobs(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(rf *RandomForestClassifier) { rf.logger = l }
}

// NewRandomForestClassifier creates an unfitted forest.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		bootstrap:       true,
		randomState:     42,
		logger:          log.GetLoggerWithName("ensemble"),
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// Fit trains the forest on X and the n×1 label matrix y.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")
	start := time.Now()

	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.nEstimators)
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != n {
		return errors.NewDimensionError("RandomForestClassifier.Fit", n, yr, 0)
	}

	maxFeatures := rf.maxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(p)))))
	}

	Xd := mat.DenseCopyOf(X)
	yv := make([]float64, n)
	seen := make(map[float64]bool)
	rf.classes_ = rf.classes_[:0]
	for i := range yv {
		yv[i] = y.At(i, 0)
		if !seen[yv[i]] {
			seen[yv[i]] = true
			rf.classes_ = append(rf.classes_, yv[i])
		}
	}
	sort.Float64s(rf.classes_)

	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	errs := make([]error, rf.nEstimators)
	parallel.ParallelizeN(rf.nEstimators, rf.nJobs, func(s, e int) {
		for i := s; i < e; i++ {
			seed := rf.randomState + int64(i)
			Xb, yb := rf.sample(Xd, yv, seed)
			t := tree.NewDecisionTreeClassifier(
				tree.WithMaxDepth(rf.maxDepth),
				tree.WithMinSamplesSplit(rf.minSamplesSplit),
				tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
				tree.WithMaxFeatures(maxFeatures),
				tree.WithRandomState(seed),
			)
			if err := t.Fit(Xb, yb); err != nil {
				errs[i] = errors.Wrapf(err, "tree %d", i)
				continue
			}
			trees[i] = t
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	rf.trees = trees

	rf.featureImportances_ = make([]float64, p)
	for _, t := range trees {
		for j, v := range t.GetFeatureImportances() {
			rf.featureImportances_[j] += v
		}
	}
	total := 0.0
	for _, v := range rf.featureImportances_ {
		total += v
	}
	if total > 0 {
		for j := range rf.featureImportances_ {
			rf.featureImportances_[j] /= total
		}
	}

	rf.state.SetDimensions(p, n)
	rf.state.SetFitted()
	rf.logger.Debug("Random forest fitted",
		log.ModelNameKey, "RandomForestClassifier",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		"n_estimators", rf.nEstimators,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// sample draws a bootstrap sample with the tree's own generator.
func (rf *RandomForestClassifier) sample(X *mat.Dense, y []float64, seed int64) (*mat.Dense, *mat.VecDense) {
	n, p := X.Dims()
	if !rf.bootstrap {
		return X, mat.NewVecDense(n, append([]float64(nil), y...))
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	Xb := mat.NewDense(n, p, nil)
	yb := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		k := rng.IntN(n)
		Xb.SetRow(i, X.RawRowView(k))
		yb.SetVec(i, y[k])
	}
	return Xb, yb
}

// PredictProba averages the trees' class probabilities. A class missing
// from a tree's bootstrap sample contributes zero for that tree.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	n, p := X.Dims()
	if err := rf.state.RequireFeatures("RandomForestClassifier", "PredictProba", p); err != nil {
		return nil, err
	}
	k := len(rf.classes_)
	out := mat.NewDense(n, k, nil)
	for _, t := range rf.trees {
		proba, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		cols := t.Classes()
		for c, label := range cols {
			dst := sort.SearchFloat64s(rf.classes_, float64(label))
			for i := 0; i < n; i++ {
				out.Set(i, dst, out.At(i, dst)+proba.At(i, c))
			}
		}
	}
	out.Scale(1/float64(len(rf.trees)), out)
	return out, nil
}

// Predict returns the class with the highest mean probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, k := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for c := 1; c < k; c++ {
			if proba.At(i, c) > proba.At(i, best) {
				best = c
			}
		}
		out.Set(i, 0, rf.classes_[best])
	}
	return out, nil
}

// Classes returns the sorted class labels.
func (rf *RandomForestClassifier) Classes() []int {
	out := make([]int, len(rf.classes_))
	for i, c := range rf.classes_ {
		out[i] = int(c)
	}
	return out
}

// GetFeatureImportances returns the mean of the trees' normalised
// importances.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), rf.featureImportances_...)
}

// Estimators returns the fitted trees.
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return rf.trees
}

// GetParams returns the hyperparameters using scikit-learn names.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

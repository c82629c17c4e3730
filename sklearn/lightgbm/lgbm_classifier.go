package lightgbm

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// LGBMClassifier is a scikit-learn style binary gradient boosting classifier.
// Parameter names follow lightgbm.LGBMClassifier in Python.
type LGBMClassifier struct {
	state *model.StateManager

	// Model is the fitted booster; nil until Fit succeeds.
	Model *Model

	nEstimators     int
	learningRate    float64
	numLeaves       int
	maxDepth        int
	minChildSamples int
	minChildWeight  float64
	subsample       float64
	subsampleFreq   int
	colsampleBytree float64
	regAlpha        float64
	regLambda       float64
	minSplitGain    float64
	maxBin          int
	randomState     int64
	nJobs           int

	classes_            []int
	nClasses_           int
	featureImportances_ []float64

	logger log.Logger
}

// Option configures an LGBMClassifier.
type Option func(*LGBMClassifier)

// WithNEstimators sets the number of boosting rounds.
func WithNEstimators(n int) Option {
	return func(c *LGBMClassifier) { c.nEstimators = n }
}

// WithLearningRate sets the shrinkage rate.
func WithLearningRate(lr float64) Option {
	return func(c *LGBMClassifier) { c.learningRate = lr }
}

// WithNumLeaves sets the maximum leaves per tree.
func WithNumLeaves(n int) Option {
	return func(c *LGBMClassifier) { c.numLeaves = n }
}

// WithMaxDepth limits tree depth; <= 0 means unlimited.
func WithMaxDepth(d int) Option {
	return func(c *LGBMClassifier) { c.maxDepth = d }
}

// WithMinChildSamples sets the minimum number of rows per leaf.
func WithMinChildSamples(n int) Option {
	return func(c *LGBMClassifier) { c.minChildSamples = n }
}

// WithSubsample sets the bagging fraction and frequency.
func WithSubsample(fraction float64, freq int) Option {
	return func(c *LGBMClassifier) {
		c.subsample = fraction
		c.subsampleFreq = freq
	}
}

// WithColsampleBytree sets the fraction of features sampled per tree.
func WithColsampleBytree(f float64) Option {
	return func(c *LGBMClassifier) { c.colsampleBytree = f }
}

// WithRegularization sets the L1 and L2 penalties.
func WithRegularization(alpha, lambda float64) Option {
	return func(c *LGBMClassifier) {
		c.regAlpha = alpha
		c.regLambda = lambda
	}
}

// WithRandomState seeds bagging and feature sampling.
func WithRandomState(seed int64) Option {
	return func(c *LGBMClassifier) { c.randomState = seed }
}

// WithNJobs sets the split-search workers (<= 0: all CPUs).
func WithNJobs(n int) Option {
	return func(c *LGBMClassifier) { c.nJobs = n }
}

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(c *LGBMClassifier) { c.logger = l }
}

// NewLGBMClassifier は新しいLightGBM分類器を作成する
//
// デフォルト値は Python の lightgbm.LGBMClassifier と同じ。ただし
// random_state は 42。
//
// 使用例:
//
//	clf := lightgbm.NewLGBMClassifier(lightgbm.WithNEstimators(200))
//	err := clf.Fit(X, y)
func NewLGBMClassifier(opts ...Option) *LGBMClassifier {
	c := &LGBMClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		learningRate:    0.1,
		numLeaves:       31,
		maxDepth:        -1,
		minChildSamples: 20,
		minChildWeight:  1e-3,
		subsample:       1.0,
		colsampleBytree: 1.0,
		maxBin:          255,
		randomState:     42,
		logger:          log.GetLoggerWithName("lightgbm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewLGBMClassifierFromModel wraps a previously trained booster. classes
// are the two labels in ascending order; classes[1] is the positive class.
func NewLGBMClassifierFromModel(m *Model, classes []int) (*LGBMClassifier, error) {
	if m == nil {
		return nil, errors.NewModelError("NewLGBMClassifierFromModel", "nil model", errors.ErrEmptyData)
	}
	if len(classes) != 2 {
		return nil, errors.NewValidationError("classes", "binary booster needs exactly 2 classes", classes)
	}
	c := NewLGBMClassifier()
	c.Model = m
	c.classes_ = append([]int(nil), classes...)
	c.nClasses_ = 2
	c.featureImportances_ = normalise(m.FeatureImportance("gain"))
	c.state.SetDimensions(m.NumFeatures, 0)
	c.state.SetFitted()
	return c, nil
}

// trainingParams maps the scikit-learn names onto booster parameters.
func (c *LGBMClassifier) trainingParams() TrainingParams {
	p := DefaultTrainingParams()
	p.NumIterations = c.nEstimators
	p.LearningRate = c.learningRate
	p.NumLeaves = c.numLeaves
	p.MaxDepth = c.maxDepth
	p.MinDataInLeaf = c.minChildSamples
	p.MinSumHessianInLeaf = c.minChildWeight
	p.BaggingFraction = c.subsample
	p.BaggingFreq = c.subsampleFreq
	p.FeatureFraction = c.colsampleBytree
	p.Alpha = c.regAlpha
	p.Lambda = c.regLambda
	p.MinGainToSplit = c.minSplitGain
	p.MaxBin = c.maxBin
	p.Seed = c.randomState
	p.NumThreads = c.nJobs
	return p
}

// Fit はモデルを学習する
//
// パラメータ:
//   - X: 特徴量 (n_samples × n_features)
//   - y: n×1 のラベル。ちょうど2種類の整数値であること
//
// 戻り値:
//   - error: ラベルが2クラスでない場合やパラメータが不正な場合
func (c *LGBMClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LGBMClassifier.Fit")
	start := time.Now()

	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("LGBMClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != n {
		return errors.NewDimensionError("LGBMClassifier.Fit", n, yr, 0)
	}

	seen := make(map[int]bool)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		v := y.At(i, 0)
		if v != math.Trunc(v) {
			return errors.NewValidationError("y", "labels must be integers", v)
		}
		labels[i] = int(v)
		seen[labels[i]] = true
	}
	classes := make([]int, 0, len(seen))
	for k := range seen {
		classes = append(classes, k)
	}
	sort.Ints(classes)
	if len(classes) != 2 {
		return errors.NewValidationError("y", fmt.Sprintf("binary classifier needs exactly 2 classes, got %d", len(classes)), classes)
	}

	target := make([]float64, n)
	for i, l := range labels {
		if l == classes[1] {
			target[i] = 1
		}
	}

	trainer := NewTrainer(c.trainingParams()).WithLogger(c.logger)
	if err := trainer.Fit(X, target); err != nil {
		return err
	}

	c.Model = trainer.GetModel()
	c.classes_ = classes
	c.nClasses_ = len(classes)
	c.featureImportances_ = normalise(c.Model.FeatureImportance("gain"))
	c.state.SetDimensions(p, n)
	c.state.SetFitted()

	c.logger.Debug("LGBMClassifier fitted",
		log.ModelNameKey, "LGBMClassifier",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		"n_estimators", c.nEstimators,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// DecisionFunction returns the raw margins (n×1).
func (c *LGBMClassifier) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	_, p := X.Dims()
	if err := c.state.RequireFeatures("LGBMClassifier", "DecisionFunction", p); err != nil {
		return nil, err
	}
	raw, err := c.Model.RawScores(X)
	if err != nil {
		return nil, err
	}
	n := raw.Len()
	return mat.NewDense(n, 1, raw.RawVector().Data), nil
}

// PredictProba returns an n×2 matrix ordered as Classes().
func (c *LGBMClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	_, p := X.Dims()
	if err := c.state.RequireFeatures("LGBMClassifier", "PredictProba", p); err != nil {
		return nil, err
	}
	raw, err := c.Model.RawScores(X)
	if err != nil {
		return nil, err
	}
	n := raw.Len()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		pos := sigmoid(raw.AtVec(i))
		out.Set(i, 0, 1-pos)
		out.Set(i, 1, pos)
	}
	return out, nil
}

// Predict returns the more probable class; exact 0.5 goes to Classes()[0].
func (c *LGBMClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := c.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		label := c.classes_[0]
		if proba.At(i, 1) > proba.At(i, 0) {
			label = c.classes_[1]
		}
		out.Set(i, 0, float64(label))
	}
	return out, nil
}

// Score returns the accuracy on (X, y).
func (c *LGBMClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := c.Predict(X)
	if err != nil {
		return 0, err
	}
	n, _ := pred.Dims()
	if yr, _ := y.Dims(); yr != n {
		return 0, errors.NewDimensionError("LGBMClassifier.Score", n, yr, 0)
	}
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// Classes returns the two labels seen during Fit in ascending order.
func (c *LGBMClassifier) Classes() []int {
	return append([]int(nil), c.classes_...)
}

// IsFitted reports whether Fit has succeeded.
func (c *LGBMClassifier) IsFitted() bool {
	return c.state.IsFitted()
}

// GetFeatureImportance returns raw "split" counts or "gain" totals per feature.
func (c *LGBMClassifier) GetFeatureImportance(importanceType string) []float64 {
	if c.Model == nil {
		return nil
	}
	return c.Model.FeatureImportance(importanceType)
}

// GetFeatureImportances returns the gain importances normalised to sum to one.
func (c *LGBMClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), c.featureImportances_...)
}

// GetParams returns the hyperparameters using LightGBM's scikit-learn names.
func (c *LGBMClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      c.nEstimators,
		"learning_rate":     c.learningRate,
		"num_leaves":        c.numLeaves,
		"max_depth":         c.maxDepth,
		"min_child_samples": c.minChildSamples,
		"min_child_weight":  c.minChildWeight,
		"subsample":         c.subsample,
		"subsample_freq":    c.subsampleFreq,
		"colsample_bytree":  c.colsampleBytree,
		"reg_alpha":         c.regAlpha,
		"reg_lambda":        c.regLambda,
		"min_split_gain":    c.minSplitGain,
		"max_bin":           c.maxBin,
		"random_state":      c.randomState,
		"n_jobs":            c.nJobs,
	}
}

// SetParams sets hyperparameters by name. Integers may be given as int,
// int64 or integral float64. Unknown names are rejected and leave the
// classifier unchanged.
func (c *LGBMClassifier) SetParams(params map[string]interface{}) error {
	next := *c
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			next.nEstimators, err = toInt(key, value)
		case "learning_rate":
			next.learningRate, err = toFloat(key, value)
		case "num_leaves":
			next.numLeaves, err = toInt(key, value)
		case "max_depth":
			next.maxDepth, err = toInt(key, value)
		case "min_child_samples":
			next.minChildSamples, err = toInt(key, value)
		case "min_child_weight":
			next.minChildWeight, err = toFloat(key, value)
		case "subsample":
			next.subsample, err = toFloat(key, value)
		case "subsample_freq":
			next.subsampleFreq, err = toInt(key, value)
		case "colsample_bytree":
			next.colsampleBytree, err = toFloat(key, value)
		case "reg_alpha":
			next.regAlpha, err = toFloat(key, value)
		case "reg_lambda":
			next.regLambda, err = toFloat(key, value)
		case "min_split_gain":
			next.minSplitGain, err = toFloat(key, value)
		case "max_bin":
			next.maxBin, err = toInt(key, value)
		case "random_state":
			var seed int
			seed, err = toInt(key, value)
			next.randomState = int64(seed)
		case "n_jobs":
			next.nJobs, err = toInt(key, value)
		default:
			err = errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return err
		}
	}
	*c = next
	return nil
}

// Clone returns an unfitted classifier with the same hyperparameters.
func (c *LGBMClassifier) Clone() *LGBMClassifier {
	clone := *c
	clone.state = model.NewStateManager()
	clone.Model = nil
	clone.classes_ = nil
	clone.nClasses_ = 0
	clone.featureImportances_ = nil
	return &clone
}

// SaveModel writes the fitted booster and its classes as MessagePack.
func (c *LGBMClassifier) SaveModel(filename string) error {
	if err := c.state.RequireFitted("LGBMClassifier", "SaveModel"); err != nil {
		return err
	}
	return model.SaveModel(savedClassifier{Model: c.Model, Classes: c.classes_}, filename)
}

// LoadModel replaces the classifier's booster with one written by SaveModel.
func (c *LGBMClassifier) LoadModel(filename string) error {
	var saved savedClassifier
	if err := model.LoadModel(&saved, filename); err != nil {
		return err
	}
	loaded, err := NewLGBMClassifierFromModel(saved.Model, saved.Classes)
	if err != nil {
		return errors.Wrap(err, "load classifier")
	}
	loaded.logger = c.logger
	*c = *loaded
	return nil
}

type savedClassifier struct {
	Model   *Model `msgpack:"model"`
	Classes []int  `msgpack:"classes"`
}

func normalise(v []float64) []float64 {
	total := 0.0
	for _, x := range v {
		total += x
	}
	out := make([]float64, len(v))
	if total > 0 {
		for i, x := range v {
			out[i] = x / total
		}
	}
	return out
}

func toInt(key string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	}
	return 0, errors.NewValidationError(key, "must be an integer", value)
}

func toFloat(key string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, errors.NewValidationError(key, "must be a number", value)
}

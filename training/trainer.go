// Package training tunes, fits and evaluates the cancellation classifier.
package training

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/dataset"
	"github.com/YuminosukeSato/bookingcancel/metrics"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
	"github.com/YuminosukeSato/bookingcancel/sklearn/lightgbm"
	"github.com/YuminosukeSato/bookingcancel/sklearn/model_selection"
)

// Metrics are the held-out scores for the positive class.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	ROCAUC    float64 `json:"roc_auc"`
	LogLoss   float64 `json:"log_loss"` // cross-entropy of the positive class probability
}

// FeatureImportance is one feature's share of the total split gain and
// its number of splits.
type FeatureImportance struct {
	Feature string  `json:"feature"`
	Gain    float64 `json:"gain"`
	Splits  int     `json:"splits"`
}

// Result is the outcome of one training run.
type Result struct {
	Features      []string
	PositiveLabel string
	PositiveCode  int
	Scoring       string

	BestParams  map[string]interface{}
	BestCVScore float64
	CVResults   *model_selection.CVResults

	Metrics         Metrics
	ConfusionMatrix metrics.ConfusionMatrix
	Importances     []FeatureImportance

	TrainSamples int
	TestSamples  int

	Model *lightgbm.LGBMClassifier
}

// Trainer runs the randomized search, refits the best candidate on the
// whole training table and scores it on the test table.
type Trainer struct {
	cfg           config.Training
	positiveLabel string
	positiveCode  int
	logger        log.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithPositiveClass sets the label name and its encoded value that
// precision, recall, F1 and ROC AUC treat as positive.
func WithPositiveClass(name string, code int) Option {
	return func(t *Trainer) {
		t.positiveLabel = name
		t.positiveCode = code
	}
}

// NewTrainer creates a trainer. Without WithPositiveClass the positive
// class is config.DefaultPositiveLabel encoded as 0, its position among the
// sorted booking status labels.
func NewTrainer(cfg config.Training, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:           cfg,
		positiveLabel: config.DefaultPositiveLabel,
		logger:        log.GetLoggerWithName("training"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SearchSpace converts configured distributions to a model_selection space.
func SearchSpace(dists map[string]config.ParamDistribution) model_selection.ParamSpace {
	space := make(model_selection.ParamSpace, len(dists))
	for name, d := range dists {
		switch d.Type {
		case config.DistRandInt:
			space[name] = model_selection.RandInt{Low: int(d.Low), High: int(d.High)}
		case config.DistUniform:
			space[name] = model_selection.Uniform{Low: d.Low, High: d.High}
		case config.DistChoice:
			values := make([]interface{}, len(d.Values))
			for i, v := range d.Values {
				values[i] = v
			}
			space[name] = model_selection.Choice{Values: values}
		}
	}
	return space
}

// factory returns unfitted classifiers carrying the fixed parameters.
// Each fit is single-threaded; the search runs fits concurrently.
func (t *Trainer) factory() model.Estimator {
	return lightgbm.NewLGBMClassifier(
		lightgbm.WithRandomState(t.cfg.RandomState),
		lightgbm.WithSubsample(1.0, t.cfg.SubsampleFreq),
		lightgbm.WithNJobs(1),
		lightgbm.WithLogger(t.logger),
	)
}

// Run trains on train and evaluates on test. Both tables must carry the
// same columns in the same order and encoded labels.
func (t *Trainer) Run(ctx context.Context, train, test *dataset.Table) (*Result, error) {
	start := time.Now()
	if train.Y == nil || test.Y == nil {
		return nil, errors.NewDataError("Trainer.Run", train.Label, "train and test must be labelled")
	}
	if len(train.Columns) != len(test.Columns) {
		return nil, errors.NewDimensionError("Trainer.Run", len(train.Columns), len(test.Columns), 1)
	}
	for j, name := range train.Columns {
		if test.Columns[j] != name {
			return nil, errors.NewDataError("Trainer.Run", test.Columns[j], "test column order differs from train")
		}
	}

	logger := t.logger.With(log.PhaseKey, log.PhaseTraining)
	logger.Info("Training model",
		log.ModelNameKey, "LGBMClassifier",
		log.SamplesKey, train.Len(),
		log.FeaturesKey, len(train.Columns),
	)

	search := model_selection.NewRandomizedSearchCV(t.factory, SearchSpace(t.cfg.ParamDistributions),
		model_selection.WithNIter(t.cfg.NIter),
		model_selection.WithCV(t.cfg.CV),
		model_selection.WithScoring(t.cfg.Scoring),
		model_selection.WithRandomState(t.cfg.RandomState),
		model_selection.WithNJobs(t.cfg.NJobs),
		model_selection.WithPosLabel(float64(t.positiveCode)),
		model_selection.WithLogger(t.logger),
	)
	if err := search.Fit(ctx, train.X, train.Y); err != nil {
		return nil, errors.Wrap(err, "hyperparameter search")
	}
	clf, ok := search.BestEstimator_.(*lightgbm.LGBMClassifier)
	if !ok {
		return nil, errors.NewModelError("Trainer.Run", "unexpected estimator type", nil)
	}
	logger.Info("Best parameters found",
		log.HyperParamsKey, search.BestParams_,
		log.ScoreKey, search.BestScore_,
	)

	res := &Result{
		Features:      append([]string(nil), train.Columns...),
		PositiveLabel: t.positiveLabel,
		PositiveCode:  t.positiveCode,
		Scoring:       t.cfg.Scoring,
		BestParams:    search.BestParams_,
		BestCVScore:   search.BestScore_,
		CVResults:     search.CVResults_,
		TrainSamples:  train.Len(),
		TestSamples:   test.Len(),
		Model:         clf,
	}
	if err := t.evaluate(res, test); err != nil {
		return nil, errors.Wrap(err, "evaluate on test")
	}
	res.Importances = importances(clf, res.Features)

	t.logger.With(log.PhaseKey, log.PhaseTesting).Info("Model evaluated",
		log.AccuracyKey, res.Metrics.Accuracy,
		log.PrecisionKey, res.Metrics.Precision,
		log.RecallKey, res.Metrics.Recall,
		log.F1Key, res.Metrics.F1,
		"roc_auc", res.Metrics.ROCAUC,
		"log_loss", res.Metrics.LogLoss,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (t *Trainer) evaluate(res *Result, test *dataset.Table) error {
	clf := res.Model
	pred, err := clf.Predict(test.X)
	if err != nil {
		return err
	}
	n := test.Len()
	yPred := mat.NewVecDense(n, nil)
	mat.Col(yPred.RawVector().Data, 0, pred)
	pos := float64(t.positiveCode)

	m := &res.Metrics
	if m.Accuracy, err = metrics.Accuracy(test.Y, yPred); err != nil {
		return err
	}
	if m.Precision, err = metrics.Precision(test.Y, yPred, pos); err != nil {
		return err
	}
	if m.Recall, err = metrics.Recall(test.Y, yPred, pos); err != nil {
		return err
	}
	if m.F1, err = metrics.F1Score(test.Y, yPred, pos); err != nil {
		return err
	}
	if res.ConfusionMatrix, err = metrics.NewConfusionMatrix(test.Y, yPred, pos); err != nil {
		return err
	}

	proba, err := clf.PredictProba(test.X)
	if err != nil {
		return err
	}
	col := 0
	for c, label := range clf.Classes() {
		if label == t.positiveCode {
			col = c
		}
	}
	yTrue := mat.NewVecDense(n, nil)
	score := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if test.Y.AtVec(i) == pos {
			yTrue.SetVec(i, 1)
		}
		score.SetVec(i, proba.At(i, col))
	}
	if m.ROCAUC, err = metrics.AUC(yTrue, score); err != nil {
		return err
	}
	m.LogLoss, err = metrics.BinaryLogLoss(yTrue, score)
	return err
}

// importances ranks features by normalised gain; equal gains keep column order.
func importances(clf *lightgbm.LGBMClassifier, features []string) []FeatureImportance {
	gain := clf.GetFeatureImportances()
	splits := clf.GetFeatureImportance("split")
	out := make([]FeatureImportance, len(features))
	for j, name := range features {
		out[j] = FeatureImportance{Feature: name, Gain: gain[j], Splits: int(splits[j])}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Gain > out[b].Gain })
	return out
}

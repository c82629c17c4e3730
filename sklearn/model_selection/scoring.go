package model_selection

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/metrics"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// Scorer evaluates a fitted classifier on held-out rows. Higher is better.
type Scorer func(est model.ProbabilisticClassifier, X mat.Matrix, y *mat.VecDense, posLabel float64) (float64, error)

var scorers = map[string]Scorer{
	"accuracy": labelScorer(func(yTrue, yPred *mat.VecDense, _ float64) (float64, error) {
		return metrics.Accuracy(yTrue, yPred)
	}),
	"precision": labelScorer(metrics.Precision),
	"recall":    labelScorer(metrics.Recall),
	"f1":        labelScorer(metrics.F1Score),
	"roc_auc":   rocAUC,
}

// GetScorer returns the scorer registered under name.
func GetScorer(name string) (Scorer, error) {
	s, ok := scorers[name]
	if !ok {
		return nil, errors.NewConfigurationError("model_training.scoring",
			fmt.Sprintf("unknown scorer %q (available: %v)", name, ScorerNames()))
	}
	return s, nil
}

// ScorerNames lists the registered scorers in sorted order.
func ScorerNames() []string {
	names := make([]string, 0, len(scorers))
	for name := range scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func labelScorer(metric func(yTrue, yPred *mat.VecDense, posLabel float64) (float64, error)) Scorer {
	return func(est model.ProbabilisticClassifier, X mat.Matrix, y *mat.VecDense, posLabel float64) (float64, error) {
		pred, err := est.Predict(X)
		if err != nil {
			return 0, err
		}
		n, _ := pred.Dims()
		yPred := mat.NewVecDense(n, nil)
		mat.Col(yPred.RawVector().Data, 0, pred)
		return metric(y, yPred, posLabel)
	}
}

// rocAUC scores the probability column of posLabel.
func rocAUC(est model.ProbabilisticClassifier, X mat.Matrix, y *mat.VecDense, posLabel float64) (float64, error) {
	col := -1
	for c, label := range est.Classes() {
		if float64(label) == posLabel {
			col = c
		}
	}
	if col < 0 {
		return 0, errors.NewValueError("roc_auc", fmt.Sprintf("positive label %v not among classes %v", posLabel, est.Classes()))
	}
	proba, err := est.PredictProba(X)
	if err != nil {
		return 0, err
	}
	n, _ := proba.Dims()
	yTrue := mat.NewVecDense(n, nil)
	yScore := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if y.AtVec(i) == posLabel {
			yTrue.SetVec(i, 1)
		}
		yScore.SetVec(i, proba.At(i, col))
	}
	return metrics.AUC(yTrue, yScore)
}

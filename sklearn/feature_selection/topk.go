// Package feature_selection keeps the K most important features of a
// fitted tree ensemble.
package feature_selection

import (
	"fmt"
	"sort"

	"golang.org/x/exp/constraints"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/dataset"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// ImportanceEstimator is a model that exposes feature importances after Fit.
type ImportanceEstimator interface {
	model.Fitter
	model.FeatureImporter
}

// FeatureScore is one feature's importance.
type FeatureScore struct {
	Feature    string  `json:"feature" msgpack:"feature"`
	Importance float64 `json:"importance" msgpack:"importance"`
}

// TopK selects the k highest-importance features.
type TopK struct {
	k         int
	estimator ImportanceEstimator
	logger    log.Logger

	ranking  []FeatureScore
	selected []string
	fitted   bool
}

// Option configures TopK.
type Option func(*TopK)

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(s *TopK) { s.logger = l }
}

// NewTopK creates a selector that keeps k features ranked by estimator.
func NewTopK(k int, estimator ImportanceEstimator, opts ...Option) *TopK {
	s := &TopK{
		k:         k,
		estimator: estimator,
		logger:    log.GetLoggerWithName("feature_selection"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit trains the estimator on the table and ranks its columns by
// importance, highest first. Equal importances keep column order.
func (s *TopK) Fit(t *dataset.Table) error {
	p := len(t.Columns)
	if s.k < 1 || s.k > p {
		return errors.NewConfigurationError("data_processing.num_features_to_select",
			fmt.Sprintf("k=%d must be between 1 and the number of features (%d)", s.k, p))
	}
	if t.Y == nil {
		return errors.NewDataError("TopK.Fit", t.Label, "table has no label")
	}
	if err := s.estimator.Fit(t.X, t.Y); err != nil {
		return errors.Wrap(err, "fit importance estimator")
	}

	imp := s.estimator.GetFeatureImportances()
	if len(imp) != p {
		return errors.NewDimensionError("TopK.Fit", p, len(imp), 1)
	}

	order := ArgsortDesc(imp)
	s.ranking = make([]FeatureScore, p)
	for r, j := range order {
		s.ranking[r] = FeatureScore{Feature: t.Columns[j], Importance: imp[j]}
	}
	s.selected = make([]string, s.k)
	for r := 0; r < s.k; r++ {
		s.selected[r] = s.ranking[r].Feature
	}
	s.fitted = true

	s.logger.Info("Features selected",
		log.FeaturesKey, s.k,
		"selected", s.selected,
		"top_importance", s.ranking[0].Importance,
	)
	return nil
}

// Selected returns the chosen feature names in ranking order.
func (s *TopK) Selected() []string {
	return append([]string(nil), s.selected...)
}

// Ranking returns every feature with its importance, highest first.
func (s *TopK) Ranking() []FeatureScore {
	return append([]FeatureScore(nil), s.ranking...)
}

// Transform keeps only the selected columns, in Selected order, plus the label.
func (s *TopK) Transform(t *dataset.Table) (*dataset.Table, error) {
	if !s.fitted {
		return nil, errors.NewNotFittedError("TopK", "Transform")
	}
	out, err := t.Select(s.selected)
	if err != nil {
		return nil, errors.Wrap(err, "apply feature selection")
	}
	return out, nil
}

// FitTransform fits on t and returns its selected columns.
func (s *TopK) FitTransform(t *dataset.Table) (*dataset.Table, error) {
	if err := s.Fit(t); err != nil {
		return nil, err
	}
	return s.Transform(t)
}

// ArgsortDesc returns the indices of values ordered by decreasing value.
// Equal values keep their original order.
func ArgsortDesc[T constraints.Integer | constraints.Float](values []T) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] > values[idx[b]] })
	return idx
}

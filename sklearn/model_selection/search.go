// Package model_selection provides cross-validation splitters, parameter
// distributions and a randomized hyperparameter search.
package model_selection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/core/parallel"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// EstimatorFactory returns a fresh, unfitted estimator carrying the base
// hyperparameters. Candidate parameters are applied on top with SetParams.
type EstimatorFactory func() model.Estimator

// CVResults holds per-candidate cross-validation scores, indexed by candidate.
type CVResults struct {
	Params        []map[string]interface{}
	SplitScores   [][]float64
	MeanTestScore []float64
	StdTestScore  []float64
	RankTestScore []int
	MeanFitTimeMs []float64
}

// RandomizedSearchCV samples NIter candidates from a ParamSpace, scores each
// with cross-validation and refits the best candidate on all the data.
type RandomizedSearchCV struct {
	factory  EstimatorFactory
	space    ParamSpace
	nIter    int
	cv       Splitter
	nFolds   int
	scoring  string
	seed     int64
	nJobs    int
	posLabel float64
	logger   log.Logger

	BestParams_    map[string]interface{}
	BestScore_     float64
	BestIndex_     int
	CVResults_     *CVResults
	BestEstimator_ model.Estimator
}

// SearchOption configures a RandomizedSearchCV.
type SearchOption func(*RandomizedSearchCV)

// WithNIter sets the number of sampled candidates.
func WithNIter(n int) SearchOption {
	return func(s *RandomizedSearchCV) { s.nIter = n }
}

// WithCV uses a shuffled StratifiedKFold with k folds seeded by the search's random state.
func WithCV(k int) SearchOption {
	return func(s *RandomizedSearchCV) {
		s.nFolds = k
		s.cv = nil
	}
}

// WithSplitter replaces the default stratified splitter.
func WithSplitter(cv Splitter) SearchOption {
	return func(s *RandomizedSearchCV) { s.cv = cv }
}

// WithScoring selects a registered scorer by name.
func WithScoring(name string) SearchOption {
	return func(s *RandomizedSearchCV) { s.scoring = name }
}

// WithRandomState seeds candidate sampling and the default splitter.
func WithRandomState(seed int64) SearchOption {
	return func(s *RandomizedSearchCV) { s.seed = seed }
}

// WithNJobs bounds the number of concurrent fits (<= 0: all CPUs).
func WithNJobs(n int) SearchOption {
	return func(s *RandomizedSearchCV) { s.nJobs = n }
}

// WithPosLabel sets the label treated as positive by precision, recall, f1 and roc_auc.
func WithPosLabel(label float64) SearchOption {
	return func(s *RandomizedSearchCV) { s.posLabel = label }
}

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) SearchOption {
	return func(s *RandomizedSearchCV) { s.logger = l }
}

// NewRandomizedSearchCV creates a search with scikit-learn's defaults
// (n_iter=10, cv=5, accuracy).
func NewRandomizedSearchCV(factory EstimatorFactory, space ParamSpace, opts ...SearchOption) *RandomizedSearchCV {
	s := &RandomizedSearchCV{
		factory:  factory,
		space:    space,
		nIter:    10,
		nFolds:   5,
		scoring:  "accuracy",
		posLabel: 1,
		logger:   log.GetLoggerWithName("model_selection"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type foldData struct {
	Xtrain, Xtest *mat.Dense
	ytrain        *mat.VecDense
	ytest         *mat.VecDense
}

// Fit runs the search on X and the n×1 labels y. Candidates are sampled
// up front in a fixed order; candidate×fold jobs then run concurrently and
// write their scores into fixed slots, so the outcome does not depend on
// the number of workers. Equal mean scores go to the lower candidate index.
func (s *RandomizedSearchCV) Fit(ctx context.Context, X, y mat.Matrix) error {
	start := time.Now()
	if s.nIter < 1 {
		return errors.NewValidationError("n_iter", "must be >= 1", s.nIter)
	}
	if err := s.space.Validate(); err != nil {
		return err
	}
	scorer, err := GetScorer(s.scoring)
	if err != nil {
		return err
	}
	n, _ := X.Dims()
	if yr, _ := y.Dims(); yr != n {
		return errors.NewDimensionError("RandomizedSearchCV.Fit", n, yr, 0)
	}

	cv := s.cv
	if cv == nil {
		cv = NewStratifiedKFold(s.nFolds, true, s.seed)
	}
	folds, err := cv.Split(X, y)
	if err != nil {
		return errors.Wrap(err, "split folds")
	}
	data := make([]foldData, len(folds))
	for f, fold := range folds {
		data[f] = foldData{
			Xtrain: takeRows(X, fold.TrainIndices),
			Xtest:  takeRows(X, fold.TestIndices),
			ytrain: takeLabels(y, fold.TrainIndices),
			ytest:  takeLabels(y, fold.TestIndices),
		}
	}

	candidates := ParameterSampler(s.space, s.nIter, s.seed)
	nFolds := len(folds)
	scores := make([][]float64, len(candidates))
	fitMs := make([][]float64, len(candidates))
	for c := range candidates {
		scores[c] = make([]float64, nFolds)
		fitMs[c] = make([]float64, nFolds)
	}

	s.logger.Info("Starting randomized search",
		log.PhaseKey, log.PhaseValidation,
		"n_candidates", len(candidates),
		"n_folds", nFolds,
		"scoring", s.scoring,
		log.RandomSeedKey, s.seed,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel.Workers(s.nJobs))
	for c := range candidates {
		for f := range data {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				jobStart := time.Now()
				score, err := s.evaluate(candidates[c], data[f], scorer)
				if err != nil {
					return errors.Wrapf(err, "candidate %d fold %d", c, f)
				}
				scores[c][f] = score
				fitMs[c][f] = float64(time.Since(jobStart).Milliseconds())
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	results := &CVResults{
		Params:        candidates,
		SplitScores:   scores,
		MeanTestScore: make([]float64, len(candidates)),
		StdTestScore:  make([]float64, len(candidates)),
		MeanFitTimeMs: make([]float64, len(candidates)),
	}
	best := -1
	for c := range candidates {
		mean, std := stat.PopMeanStdDev(scores[c], nil)
		results.MeanTestScore[c] = mean
		results.StdTestScore[c] = std
		results.MeanFitTimeMs[c] = stat.Mean(fitMs[c], nil)
		if !math.IsNaN(mean) && (best < 0 || mean > results.MeanTestScore[best]) {
			best = c
		}
		s.logger.Debug("Candidate scored",
			log.CandidateKey, c,
			log.ScoreKey, mean,
			log.HyperParamsKey, fmt.Sprint(candidates[c]),
		)
	}
	if best < 0 {
		return errors.NewModelError("RandomizedSearchCV.Fit", "no candidate produced a finite score", nil)
	}
	results.RankTestScore = rank(results.MeanTestScore)

	refit := s.factory()
	if err := refit.SetParams(candidates[best]); err != nil {
		return errors.Wrap(err, "apply best parameters")
	}
	if err := refit.Fit(X, y); err != nil {
		return errors.Wrap(err, "refit best candidate")
	}

	s.CVResults_ = results
	s.BestIndex_ = best
	s.BestScore_ = results.MeanTestScore[best]
	s.BestParams_ = candidates[best]
	s.BestEstimator_ = refit

	s.logger.Info("Randomized search finished",
		log.CandidateKey, best,
		log.ScoreKey, s.BestScore_,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *RandomizedSearchCV) evaluate(params map[string]interface{}, d foldData, scorer Scorer) (float64, error) {
	est := s.factory()
	if err := est.SetParams(params); err != nil {
		return 0, err
	}
	if err := est.Fit(d.Xtrain, d.ytrain); err != nil {
		return 0, err
	}
	return scorer(est, d.Xtest, d.ytest, s.posLabel)
}

// rank assigns 1 to the best mean score; ties share the lowest rank.
func rank(means []float64) []int {
	order := make([]int, len(means))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return means[order[a]] > means[order[b]] })
	ranks := make([]int, len(means))
	for pos, idx := range order {
		if pos > 0 && means[idx] == means[order[pos-1]] {
			ranks[idx] = ranks[order[pos-1]]
			continue
		}
		ranks[idx] = pos + 1
	}
	return ranks
}

func takeRows(X mat.Matrix, idx []int) *mat.Dense {
	_, p := X.Dims()
	out := mat.NewDense(len(idx), p, nil)
	row := make([]float64, p)
	for k, i := range idx {
		mat.Row(row, i, X)
		out.SetRow(k, row)
	}
	return out
}

func takeLabels(y mat.Matrix, idx []int) *mat.VecDense {
	out := mat.NewVecDense(len(idx), nil)
	for k, i := range idx {
		out.SetVec(k, y.At(i, 0))
	}
	return out
}

// Package pipeline runs the training stages in order: ingest, preprocess,
// balance, select and train. Each stage consumes only what its predecessor
// produced and refuses to run out of order.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/bookingcancel/artifact"
	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/dataset"
	"github.com/YuminosukeSato/bookingcancel/ingestion"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
	"github.com/YuminosukeSato/bookingcancel/preprocessing"
	"github.com/YuminosukeSato/bookingcancel/sklearn/ensemble"
	"github.com/YuminosukeSato/bookingcancel/sklearn/feature_selection"
	"github.com/YuminosukeSato/bookingcancel/sklearn/oversampling"
	"github.com/YuminosukeSato/bookingcancel/training"
)

// Stage identifies a pipeline step.
type Stage int

const (
	StageNone Stage = iota
	StageIngest
	StagePreprocess
	StageBalance
	StageSelect
	StageTrain
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageIngest:
		return "ingest"
	case StagePreprocess:
		return "preprocess"
	case StageBalance:
		return "balance"
	case StageSelect:
		return "select"
	case StageTrain:
		return "train"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Summary describes a completed run.
type Summary struct {
	RunID           string
	Duplicates      int
	TrainSamples    int
	TestSamples     int
	BalancedSamples int
	Selected        []string
	Ranking         []feature_selection.FeatureScore
	Metrics         training.Metrics
	BestParams      map[string]interface{}
	ModelPath       string
	ReportPath      string
	PlotPath        string
	Duration        time.Duration
}

// Pipeline holds the intermediate results of one run.
type Pipeline struct {
	cfg    config.Config
	runID  string
	logger log.Logger

	completed Stage

	split    *ingestion.Split
	pre      *preprocessing.Preprocessor
	train    *dataset.Table
	test     *dataset.Table
	balanced int
	selected []string
	ranking  []feature_selection.FeatureScore
	result   *training.Result
	artifact *artifact.Artifact
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger replaces the pipeline logger. Stage components derive their
// loggers from it.
func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRunID fixes the run id instead of generating a UUID.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// New validates cfg and creates a pipeline ready for Ingest.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: log.GetLoggerWithName("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	p.logger = p.logger.With(log.RunIDKey, p.runID)
	return p, nil
}

// RunID returns the id attached to every log record and to the artifact.
func (p *Pipeline) RunID() string { return p.runID }

// Completed returns the last stage that finished.
func (p *Pipeline) Completed() Stage { return p.completed }

// Artifact returns the saved artifact once Train has completed.
func (p *Pipeline) Artifact() *artifact.Artifact { return p.artifact }

// Result returns the training result once Train has completed.
func (p *Pipeline) Result() *training.Result { return p.result }

func (p *Pipeline) begin(ctx context.Context, s Stage) (log.Logger, error) {
	if p.completed != s-1 {
		return nil, errors.NewValidationError("stage",
			fmt.Sprintf("%s requires %s to complete first (last completed: %s)", s, s-1, p.completed), s.String())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := p.logger.With(log.StageKey, s.String())
	logger.Info("Stage started")
	return logger, nil
}

func (p *Pipeline) finish(logger log.Logger, s Stage, start time.Time) {
	p.completed = s
	logger.Info("Stage completed", log.DurationMsKey, time.Since(start).Milliseconds())
}

// Ingest reads the source and writes the raw, train and test files.
func (p *Pipeline) Ingest(ctx context.Context) error {
	start := time.Now()
	logger, err := p.begin(ctx, StageIngest)
	if err != nil {
		return err
	}
	split, err := ingestion.NewLoader(&p.cfg, ingestion.WithLogger(logger)).Load(ctx)
	if err != nil {
		return errors.Wrap(err, "ingest")
	}
	p.split = split
	p.finish(logger, StageIngest, start)
	return nil
}

// Preprocess fits the preprocessor on the train partition and encodes both
// partitions with it.
func (p *Pipeline) Preprocess(ctx context.Context) error {
	start := time.Now()
	logger, err := p.begin(ctx, StagePreprocess)
	if err != nil {
		return err
	}
	pre := preprocessing.NewPreprocessor(p.cfg.Processing, preprocessing.WithLogger(logger))
	train, err := pre.FitTransform(p.split.Train)
	if err != nil {
		return errors.Wrap(err, "preprocess train")
	}
	test, err := pre.Transform(p.split.Test)
	if err != nil {
		return errors.Wrap(err, "preprocess test")
	}
	p.pre, p.train, p.test = pre, train, test
	p.finish(logger, StagePreprocess, start)
	return nil
}

// Balance oversamples the train table with SMOTE. The test table is never
// resampled.
func (p *Pipeline) Balance(ctx context.Context) error {
	start := time.Now()
	logger, err := p.begin(ctx, StageBalance)
	if err != nil {
		return err
	}
	if p.cfg.Balancing.Skip {
		logger.Warn("Balancing skipped by configuration")
		p.balanced = p.train.Len()
		p.finish(logger, StageBalance, start)
		return nil
	}

	sm := oversampling.NewSMOTE(
		oversampling.WithKNeighbors(p.cfg.Balancing.KNeighbors),
		oversampling.WithRandomState(p.cfg.Balancing.RandomState),
		oversampling.WithLogger(logger),
	)
	X, y, err := sm.FitResample(p.train.X, p.train.Y)
	if err != nil {
		return errors.Wrap(err, "balance")
	}
	balanced, err := dataset.NewTable(p.train.Columns, X, p.train.Label, y)
	if err != nil {
		return err
	}
	logger.Info("Train partition balanced",
		"before", p.train.Len(),
		"after", balanced.Len(),
	)
	p.train = balanced
	p.balanced = balanced.Len()
	p.finish(logger, StageBalance, start)
	return nil
}

// Select keeps the top-K features by random forest importance, then writes
// the processed tables.
func (p *Pipeline) Select(ctx context.Context) error {
	start := time.Now()
	logger, err := p.begin(ctx, StageSelect)
	if err != nil {
		return err
	}

	if p.cfg.Selection.Skip {
		logger.Warn("Feature selection skipped by configuration, keeping every feature")
		p.selected = append([]string(nil), p.train.Columns...)
	} else {
		sc := p.cfg.Selection
		forest := ensemble.NewRandomForestClassifier(
			ensemble.WithNEstimators(sc.NEstimators),
			ensemble.WithMaxDepth(sc.MaxDepth),
			ensemble.WithRandomState(sc.RandomState),
			ensemble.WithLogger(logger),
		)
		sel := feature_selection.NewTopK(p.cfg.Processing.NumFeaturesToSelect, forest,
			feature_selection.WithLogger(logger))
		if err := sel.Fit(p.train); err != nil {
			return errors.Wrap(err, "select features")
		}
		p.selected = sel.Selected()
		p.ranking = sel.Ranking()
	}

	if p.train, err = p.train.Select(p.selected); err != nil {
		return err
	}
	if p.test, err = p.test.Select(p.selected); err != nil {
		return err
	}
	if err := p.writeProcessed(logger); err != nil {
		return err
	}
	p.finish(logger, StageSelect, start)
	return nil
}

func (p *Pipeline) writeProcessed(logger log.Logger) error {
	paths := p.cfg.Paths
	for _, out := range []struct {
		table *dataset.Table
		path  string
	}{
		{p.train, paths.ProcessedTrain},
		{p.test, paths.ProcessedTest},
	} {
		if err := out.table.WriteCSV(out.path); err != nil {
			return errors.Wrap(err, "write processed table")
		}
		logger.Debug("Processed table written", log.PathKey, out.path, log.SamplesKey, out.table.Len())
		if !paths.WriteParquet {
			continue
		}
		pq := parquetPath(out.path)
		if err := out.table.WriteParquet(pq, paths.ParquetCompression); err != nil {
			return errors.Wrap(err, "write processed parquet")
		}
		logger.Debug("Processed table written", log.PathKey, pq, "compression", paths.ParquetCompression)
	}
	return nil
}

// parquetPath replaces the extension of a CSV path with .parquet.
func parquetPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".parquet"
}

// Train runs the hyperparameter search and writes the artifact, report and
// importance chart.
func (p *Pipeline) Train(ctx context.Context) error {
	start := time.Now()
	logger, err := p.begin(ctx, StageTrain)
	if err != nil {
		return err
	}

	st := p.pre.State()
	pos, neg := p.cfg.Processing.PositiveLabel, p.cfg.Processing.NegativeLabel
	posCode := st.Label.Encode(pos)
	if posCode == preprocessing.UnknownCategory {
		return errors.NewDataError("Pipeline.Train", st.LabelCol, fmt.Sprintf("positive label %q not in training labels %v", pos, st.Label.Classes))
	}
	if st.Label.Encode(neg) == preprocessing.UnknownCategory {
		return errors.NewDataError("Pipeline.Train", st.LabelCol, fmt.Sprintf("negative label %q not in training labels %v", neg, st.Label.Classes))
	}

	trainer := training.NewTrainer(p.cfg.Training,
		training.WithPositiveClass(pos, posCode),
		training.WithLogger(logger),
	)
	res, err := trainer.Run(ctx, p.train, p.test)
	if err != nil {
		return errors.Wrap(err, "train")
	}

	a, err := artifact.New(p.runID, st, p.selected, res.Model, pos, neg)
	if err != nil {
		return err
	}
	paths := p.cfg.Paths
	if err := artifact.Save(paths.Model, a); err != nil {
		return errors.Wrap(err, "save model artifact")
	}
	logger.Info("Model artifact saved", log.PathKey, paths.Model, "mapping_digest", a.MappingDigest)

	if err := training.WriteReport(paths.Report, res); err != nil {
		return err
	}
	if paths.ImportancePlot != "" {
		if err := training.PlotImportance(paths.ImportancePlot, res); err != nil {
			return err
		}
	}

	p.result, p.artifact = res, a
	p.finish(logger, StageTrain, start)
	return nil
}

// Run executes every stage in order. The first failing stage aborts the run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	stages := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageIngest, p.Ingest},
		{StagePreprocess, p.Preprocess},
		{StageBalance, p.Balance},
		{StageSelect, p.Select},
		{StageTrain, p.Train},
	}
	for _, s := range stages {
		if err := s.fn(ctx); err != nil {
			p.logger.Error("Pipeline failed", err,
				log.StageKey, s.stage.String(),
				log.ErrorKindKey, errors.KindOf(err).String(),
			)
			return nil, err
		}
	}

	sum := &Summary{
		RunID:           p.runID,
		Duplicates:      p.split.Duplicates,
		TrainSamples:    p.split.Train.Len(),
		TestSamples:     p.test.Len(),
		BalancedSamples: p.balanced,
		Selected:        append([]string(nil), p.selected...),
		Ranking:         p.ranking,
		Metrics:         p.result.Metrics,
		BestParams:      p.result.BestParams,
		ModelPath:       p.cfg.Paths.Model,
		ReportPath:      p.cfg.Paths.Report,
		PlotPath:        p.cfg.Paths.ImportancePlot,
		Duration:        time.Since(start),
	}
	p.logger.Info("Pipeline completed",
		log.AccuracyKey, sum.Metrics.Accuracy,
		log.F1Key, sum.Metrics.F1,
		log.DurationMsKey, sum.Duration.Milliseconds(),
	)
	return sum, nil
}

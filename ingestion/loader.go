// Package ingestion reads the raw booking dataset and splits it into the
// train and test partitions every later stage consumes.
package ingestion

import (
	"context"
	"io/fs"
	"math"
	"math/rand/v2"
	"time"

	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/dataset"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// Split is the outcome of Load.
type Split struct {
	Raw        *dataset.Frame // as read, before duplicate removal
	Train      *dataset.Frame
	Test       *dataset.Frame
	Duplicates int
}

// Loader reads Paths.Source and writes the raw, train and test CSV files.
type Loader struct {
	paths     config.Paths
	ingestion config.Ingestion
	label     string
	logger    log.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a Loader from the paths, ingestion and label settings of cfg.
func NewLoader(cfg *config.Config, opts ...Option) *Loader {
	ld := &Loader{
		paths:     cfg.Paths,
		ingestion: cfg.Ingestion,
		label:     cfg.Processing.LabelCol,
		logger:    log.GetLoggerWithName("ingestion"),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load reads the source, removes exact duplicate rows, shuffles with the
// configured seed and writes both partitions. The same source and seed
// always produce the same partitions.
func (ld *Loader) Load(ctx context.Context) (*Split, error) {
	start := time.Now()
	logger := ld.logger.With(log.PhaseKey, log.PhaseIngestion)

	delim := []rune(ld.ingestion.Delimiter)
	if len(delim) != 1 {
		return nil, errors.NewConfigurationError("data_ingestion.delimiter", "must be a single character")
	}

	raw, err := dataset.ReadCSV(ld.paths.Source, delim[0])
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewConfigurationPathError("paths.source", ld.paths.Source, "source dataset not found", err)
		}
		return nil, errors.Wrap(err, "read source")
	}
	if !raw.HasColumn(ld.label) {
		return nil, errors.NewDataError("Loader.Load", ld.label, "label column not found in source header")
	}
	logger.Info("Source read", log.PathKey, ld.paths.Source, log.SamplesKey, raw.Len(), log.FeaturesKey, raw.Width())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dataset.WriteCSV(ld.paths.Raw, raw); err != nil {
		return nil, errors.Wrap(err, "write raw copy")
	}

	deduped, removed := raw.DropDuplicates()
	if removed > 0 {
		logger.Info("Duplicate rows removed", log.DuplicatesKey, removed)
	}

	trainIdx, testIdx, err := SplitIndices(deduped.Len(), ld.ingestion.TrainRatio, ld.ingestion.RandomState)
	if err != nil {
		return nil, err
	}
	split := &Split{
		Raw:        raw,
		Train:      deduped.Take(trainIdx),
		Test:       deduped.Take(testIdx),
		Duplicates: removed,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dataset.WriteCSV(ld.paths.Train, split.Train); err != nil {
		return nil, errors.Wrap(err, "write train partition")
	}
	if err := dataset.WriteCSV(ld.paths.Test, split.Test); err != nil {
		return nil, errors.Wrap(err, "write test partition")
	}

	logger.Info("Train/test split written",
		"train.samples", split.Train.Len(),
		"test.samples", split.Test.Len(),
		log.RandomSeedKey, ld.ingestion.RandomState,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return split, nil
}

// SplitIndices shuffles 0..n-1 with a PCG source seeded by seed and assigns
// ceil(n*(1-trainRatio)) indices to test and the rest to train. Both
// partitions must be non-empty.
func SplitIndices(n int, trainRatio float64, seed int64) (train, test []int, err error) {
	if !(trainRatio > 0 && trainRatio < 1) {
		return nil, nil, errors.NewConfigurationError("data_ingestion.train_ratio", "must be in (0, 1)")
	}
	// the epsilon keeps 100*(1-0.8) = 20.000000000000004 from rounding up to 21
	nTest := int(math.Ceil(float64(n)*(1-trainRatio) - 1e-9))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, errors.NewDataError("SplitIndices", "",
			"too few rows for a non-empty train/test split")
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	perm := rng.Perm(n)
	return perm[:nTrain], perm[nTrain:], nil
}

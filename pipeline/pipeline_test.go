package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/bookingcancel/artifact"
	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
	"github.com/YuminosukeSato/bookingcancel/predict"
)

var sourceHeader = []string{
	"Booking_ID", "number of adults", "type of meal", "room type",
	"lead time", "average price", "special requests", "date of reservation", "booking status",
}

// writeSource writes n bookings plus dup exact duplicates of the first rows.
// Roughly 30% are canceled, driven by lead time.
func writeSource(t *testing.T, dir string, n, dup int) string {
	t.Helper()
	meals := []string{"Meal Plan 1", "Meal Plan 2", "Not Selected"}
	lines := []string{strings.Join(sourceHeader, ",")}
	for i := 0; i < n; i++ {
		lead := (i * 37) % 300
		status := "Not_Canceled"
		if lead > 210 {
			status = "Canceled"
		}
		lines = append(lines, strings.Join([]string{
			fmt.Sprintf("INN%05d", i),
			fmt.Sprintf("%d", 1+i%3),
			meals[i%len(meals)],
			fmt.Sprintf("Room_Type %d", 1+(i*7)%4),
			fmt.Sprintf("%d", lead),
			fmt.Sprintf("%d.5", 60+(i*13)%90),
			fmt.Sprintf("%d", i%4),
			fmt.Sprintf("2018-%d-%d", 1+i%12, 1+i%28),
			status,
		}, ","))
	}
	lines = append(lines, lines[1:1+dup]...)
	path := filepath.Join(dir, "source", "booking.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paths = config.Paths{
		Source:             writeSource(t, dir, 300, 5),
		Raw:                filepath.Join(dir, "raw", "raw.csv"),
		Train:              filepath.Join(dir, "raw", "train.csv"),
		Test:               filepath.Join(dir, "raw", "test.csv"),
		ProcessedTrain:     filepath.Join(dir, "processed", "train.csv"),
		ProcessedTest:      filepath.Join(dir, "processed", "test.csv"),
		Model:              filepath.Join(dir, "model", "model.msgpack"),
		Report:             filepath.Join(dir, "model", "report.json"),
		ImportancePlot:     filepath.Join(dir, "model", "importance.png"),
		WriteParquet:       true,
		ParquetCompression: "snappy",
	}
	cfg.Processing.CategoricalCols = []string{"type of meal", "room type"}
	cfg.Processing.NumericalCols = []string{"number of adults", "lead time", "average price", "special requests"}
	cfg.Processing.NumFeaturesToSelect = 3
	cfg.Selection.NEstimators = 10
	cfg.Training.NIter = 2
	cfg.Training.CV = 2
	cfg.Training.NJobs = 2
	cfg.Training.Scoring = "f1"
	cfg.Training.ParamDistributions = map[string]config.ParamDistribution{
		"n_estimators":      {Type: config.DistChoice, Values: []float64{10, 20}},
		"learning_rate":     {Type: config.DistUniform, Low: 0.05, High: 0.3},
		"num_leaves":        {Type: config.DistRandInt, Low: 4, High: 16},
		"min_child_samples": {Type: config.DistRandInt, Low: 5, High: 10},
	}
	return cfg
}

func TestPipelineRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	p, err := New(cfg, WithRunID("run-test"), WithLogger(log.NewNopLogger()))
	require.NoError(t, err)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageTrain, p.Completed())
	assert.Equal(t, "run-test", sum.RunID)
	assert.Equal(t, 5, sum.Duplicates)
	assert.Equal(t, 300, sum.TrainSamples+sum.TestSamples)
	assert.Greater(t, sum.BalancedSamples, sum.TrainSamples)
	require.Len(t, sum.Selected, 3)
	assert.Contains(t, sum.Selected, "lead time")
	require.Len(t, sum.Ranking, 6)
	assert.GreaterOrEqual(t, sum.Metrics.Accuracy, 0.7)

	for _, path := range []string{
		cfg.Paths.Raw, cfg.Paths.Train, cfg.Paths.Test,
		cfg.Paths.ProcessedTrain, cfg.Paths.ProcessedTest,
		filepath.Join(dir, "processed", "train.parquet"),
		filepath.Join(dir, "processed", "test.parquet"),
		cfg.Paths.Model, cfg.Paths.Report, cfg.Paths.ImportancePlot,
	} {
		assert.FileExists(t, path)
	}

	a, err := artifact.Load(cfg.Paths.Model)
	require.NoError(t, err)
	assert.Equal(t, "run-test", a.RunID)
	assert.Equal(t, sum.Selected, a.FeatureOrder)
	assert.Equal(t, []string{"Canceled", "Not_Canceled"}, a.Preprocessing.Label.Classes)
	assert.NotContains(t, a.Preprocessing.Features, "Booking_ID")
	assert.NotContains(t, a.Preprocessing.Features, "date of reservation")

	pred, err := predict.Load(cfg.Paths.Model, predict.WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	out, err := pred.Predict(context.Background(), predict.Record{
		"number of adults": "2",
		"type of meal":     "Meal Plan 1",
		"room type":        "Room_Type 1",
		"lead time":        "280",
		"average price":    "99.5",
		"special requests": "0",
	})
	require.NoError(t, err)
	assert.Equal(t, "Canceled", out.Label)
}

func TestPipelineIsDeterministic(t *testing.T) {
	read := func(path string) string {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}
	var reports, processed []string
	for i := 0; i < 2; i++ {
		cfg := testConfig(t, t.TempDir())
		cfg.Paths.ImportancePlot = ""
		p, err := New(cfg, WithLogger(log.NewNopLogger()))
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		require.NoError(t, err)
		reports = append(reports, read(cfg.Paths.Report))
		processed = append(processed, read(cfg.Paths.ProcessedTrain))
	}
	assert.Equal(t, reports[0], reports[1])
	assert.Equal(t, processed[0], processed[1])
}

func TestPipelineStageOrder(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	p, err := New(cfg, WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	err = p.Balance(ctx)
	require.Error(t, err)
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))
	assert.Equal(t, StageNone, p.Completed())

	require.NoError(t, p.Ingest(ctx))
	assert.Error(t, p.Ingest(ctx), "a stage runs once")
	assert.Error(t, p.Train(ctx))
	require.NoError(t, p.Preprocess(ctx))
	assert.Equal(t, StagePreprocess, p.Completed())
}

func TestPipelineSkipFlags(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Balancing.Skip = true
	cfg.Selection.Skip = true
	cfg.Paths.WriteParquet = false
	p, err := New(cfg, WithLogger(log.NewNopLogger()))
	require.NoError(t, err)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sum.TrainSamples, sum.BalancedSamples)
	assert.Equal(t, []string{"number of adults", "type of meal", "room type", "lead time", "average price", "special requests"}, sum.Selected)
	assert.Empty(t, sum.Ranking)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfg.Paths.ProcessedTrain), "train.parquet"))
}

func TestPipelineFailures(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir())
		cfg.Paths.Source = filepath.Join(t.TempDir(), "absent.csv")
		p, err := New(cfg, WithLogger(log.NewNopLogger()))
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
		assert.Equal(t, StageNone, p.Completed())
	})

	t.Run("too many features requested", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir())
		cfg.Processing.NumFeaturesToSelect = 50
		p, err := New(cfg, WithLogger(log.NewNopLogger()))
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
		assert.Equal(t, StageBalance, p.Completed())
	})

	t.Run("unknown positive label", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir())
		cfg.Processing.PositiveLabel = "Cancelled"
		p, err := New(cfg, WithLogger(log.NewNopLogger()))
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.KindData, errors.KindOf(err))
		assert.NoFileExists(t, cfg.Paths.Model)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir())
		cfg.Training.CV = 1
		_, err := New(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model_training.cv")
	})
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "ingest", StageIngest.String())
	assert.Equal(t, "train", StageTrain.String())
	assert.Equal(t, "stage(9)", Stage(9).String())
}

func TestParquetPath(t *testing.T) {
	assert.Equal(t, "a/b/train.parquet", parquetPath("a/b/train.csv"))
	assert.Equal(t, "train.parquet", parquetPath("train"))
}

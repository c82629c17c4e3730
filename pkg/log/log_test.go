package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bcerrors "github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationFit)
	testLogger.Warn("warning message", ColumnKey, "lead time")
	testLogger.Error("error message", fmt.Errorf("test error"), ErrorKindKey, "data")

	require.NotEmpty(t, buffer.String())
	assert.True(t, testLogger.ContainsMessage("debug message"))
	assert.True(t, testLogger.ContainsMessage("info message"))
	assert.True(t, testLogger.ContainsMessage("warning message"))
	assert.True(t, testLogger.ContainsMessage("error message"))

	assert.True(t, testLogger.ContainsField("key1", "value1"))
	// JSON unmarshaling converts numbers to float64
	assert.True(t, testLogger.ContainsField("number", 42.0))
	assert.True(t, testLogger.ContainsField("error", "test error"))
	assert.True(t, testLogger.ContainsField(ErrorKindKey, "data"))
}

func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(
		ModelNameKey, "LGBMClassifier",
		RunIDKey, "run-001",
	)
	contextLogger.Info("contextual message", OperationKey, OperationFit)

	assert.True(t, testLogger.ContainsField(ModelNameKey, "LGBMClassifier"))
	assert.True(t, testLogger.ContainsField(RunIDKey, "run-001"))
	assert.True(t, testLogger.ContainsField(OperationKey, OperationFit))

	// 元のロガーにはフィールドが追加されない
	testLogger.Clear()
	testLogger.Info("plain")
	assert.False(t, testLogger.ContainsField(ModelNameKey, "LGBMClassifier"))
}

func TestLoggerEnabled(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelWarn)
	ctx := context.Background()

	assert.False(t, testLogger.Enabled(ctx, LevelDebug))
	assert.False(t, testLogger.Enabled(ctx, LevelInfo))
	assert.True(t, testLogger.Enabled(ctx, LevelWarn))
	assert.True(t, testLogger.Enabled(ctx, LevelError))

	testLogger.Info("dropped")
	assert.Empty(t, buffer.String())
}

func TestTestLoggerProvider(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelInfo)

	provider.GetLoggerWithName("ingestion").Info("split written", SamplesKey, 10)
	assert.True(t, provider.Logger().ContainsField(ComponentKey, "ingestion"))

	provider.SetLevel(LevelError)
	provider.GetLogger().Info("dropped")
	assert.False(t, provider.Logger().ContainsMessage("dropped"))
}

func TestUseTestProvider(t *testing.T) {
	before := GetProvider()
	t.Run("installs", func(t *testing.T) {
		logger := UseTestProvider(t, LevelDebug)
		GetLoggerWithName("predict").Debug("hello")
		assert.True(t, logger.ContainsField(ComponentKey, "predict"))
	})
	assert.Same(t, before, GetProvider())
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProviderWithWriter(&buf, LevelInfo)
	logger := provider.GetLoggerWithName("training").With(RunIDKey, "abc")

	logger.Debug("hidden")
	logger.Info("fold scored", FoldKey, 2, ScoreKey, 0.81)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "fold scored", entry["message"])
	assert.Equal(t, "training", entry[ComponentKey])
	assert.Equal(t, "abc", entry[RunIDKey])
	assert.Equal(t, 2.0, entry[FoldKey])
	assert.InDelta(t, 0.81, entry[ScoreKey], 1e-12)

	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), LevelWarn))
}

func TestZerologLogger_ErrorWithStack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologProviderWithWriter(&buf, LevelDebug).GetLogger()

	err := bcerrors.NewDataError("Preprocessor.Fit", "lead time", "all values missing")
	logger.Error("preprocessing failed", err, StageKey, "preprocess")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Contains(t, entry["error"], "all values missing")
	assert.Equal(t, "preprocess", entry[StageKey])
	assert.Equal(t, "DataError", entry["type"])
	assert.Equal(t, "lead time", entry["column"])
	assert.Contains(t, entry[StacktraceKey], "log_test.go")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, bcerrors.KindConfiguration, bcerrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Panics(t, func() { ToLogLevel("verbose") })
	assert.Equal(t, "WARN", ToLogLevel("warn").String())
}

func TestSetupLogger(t *testing.T) {
	dir := t.TempDir()
	prev := GetProvider()
	defer SetProvider(prev)
	defer bcerrors.SetZerologWarnFunc(nil)

	closer, err := SetupLogger("info", dir, FormatJSON)
	require.NoError(t, err)

	GetLoggerWithName("ingestion").Info("written to file", PathKey, "artifacts/raw/raw.csv")
	bcerrors.Warn(bcerrors.NewUndefinedMetricWarning("precision", "no positive predictions", 0))
	require.NoError(t, closer.Close())

	files, err := filepath.Glob(filepath.Join(dir, "log_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
	assert.Contains(t, string(content), "UndefinedMetricWarning")

	_, err = SetupLogger("info", dir, "xml")
	assert.Error(t, err)
}

func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := testLogger.With(FoldKey, id)
			for i := 0; i < 10; i++ {
				l.Info("fold progress", IterationKey, i)
			}
		}(g)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 80)
}

func BenchmarkLogging(b *testing.B) {
	var buf bytes.Buffer
	logger := NewZerologProviderWithWriter(&buf, LevelInfo).GetLogger()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark", IterationKey, i)
	}
}

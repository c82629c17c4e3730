package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	bcerrors "github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

const (
	// FormatConsole writes human readable lines to stderr.
	FormatConsole = "console"
	// FormatJSON writes one JSON object per line to stderr.
	FormatJSON = "json"

	// logFileLayout is used to name the per-run log file.
	logFileLayout = "2006-01-02-15-04-05"
)

// SetupLogger installs the global zerolog provider. Records go to stderr in
// the requested format and, when dir is non-empty, also to
// dir/log_<timestamp>.log as JSON. Library warnings are routed through the
// same logger. The returned Closer flushes and closes the log file.
func SetupLogger(loglevel, dir, format string) (io.Closer, error) {
	level, err := ParseLevel(loglevel)
	if err != nil {
		return nil, err
	}

	var console io.Writer = os.Stderr
	switch format {
	case "", FormatConsole:
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return nil, bcerrors.NewConfigurationError("logging.format", fmt.Sprintf("unknown format %q", format))
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, bcerrors.NewConfigurationPathError("logging.dir", dir, "cannot create log directory", err)
		}
		name := filepath.Join(dir, "log_"+time.Now().Format(logFileLayout)+".log")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, bcerrors.NewConfigurationPathError("logging.dir", name, "cannot open log file", err)
		}
		writers = append(writers, f)
		closer = f
	}

	provider := NewZerologProviderWithWriter(zerolog.MultiLevelWriter(writers...), level)
	SetProvider(provider)

	warnLogger := provider.GetLoggerWithName("warnings")
	bcerrors.SetZerologWarnFunc(func(w error) {
		warnLogger.Warn(w.Error(), ErrorTypeKey, fmt.Sprintf("%T", w))
	})
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel converts a level name to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, bcerrors.NewConfigurationError("logging.level", fmt.Sprintf("invalid log level %q", level))
	}
}

// ToLogLevel is ParseLevel for hard-coded names; it panics on invalid input.
func ToLogLevel(level string) Level {
	l, err := ParseLevel(level)
	if err != nil {
		panic(fmt.Sprintf("invalid log level :%s", level))
	}
	return l
}

// bookingcancel trains and serves the hotel booking cancellation model.
//
// Usage:
//
//	bookingcancel --config config/config.yaml train
//	bookingcancel --config config/config.yaml predict --record booking.json
//	echo '{"lead time": 120, ...}' | bookingcancel predict --record -
//	bookingcancel inspect --model artifacts/model/model.msgpack
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/YuminosukeSato/bookingcancel/artifact"
	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/pipeline"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
	"github.com/YuminosukeSato/bookingcancel/predict"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdin, os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// appState carries what the Before hook prepared for the commands.
type appState struct {
	cfg    config.Config
	closer io.Closer
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	rt := &appState{}
	return &cli.App{
		Name:      "bookingcancel",
		Usage:     "Hotel booking cancellation training pipeline and predictor",
		Version:   version,
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or JSON configuration file (defaults are used when empty)",
				EnvVars: []string{"BOOKINGCANCEL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error); overrides logging.level",
				EnvVars: []string{"BOOKINGCANCEL_LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.Logging.Level = lvl
			}
			closer, err := log.SetupLogger(cfg.Logging.Level, cfg.Logging.Dir, cfg.Logging.Format)
			if err != nil {
				return err
			}
			rt.cfg, rt.closer = cfg, closer
			return nil
		},
		After: func(c *cli.Context) error {
			if rt.closer != nil {
				return rt.closer.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			trainCommand(rt),
			predictCommand(rt),
			inspectCommand(rt),
		},
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.NewConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadFromFile(path)
}

// =============================================================================
// TRAIN COMMAND
// =============================================================================

func trainCommand(rt *appState) *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Run ingest, preprocess, balance, select and train",
		Action: func(c *cli.Context) error {
			p, err := pipeline.New(rt.cfg)
			if err != nil {
				return err
			}
			sum, err := p.Run(c.Context)
			if err != nil {
				return errors.Wrapf(err, "run %s", p.RunID())
			}
			return writeJSON(c.App.Writer, map[string]interface{}{
				"run_id":           sum.RunID,
				"duplicates":       sum.Duplicates,
				"train_samples":    sum.TrainSamples,
				"test_samples":     sum.TestSamples,
				"balanced_samples": sum.BalancedSamples,
				"selected":         sum.Selected,
				"metrics":          sum.Metrics,
				"best_params":      sum.BestParams,
				"model":            sum.ModelPath,
				"report":           sum.ReportPath,
				"duration":         sum.Duration.String(),
			})
		},
	}
}

// =============================================================================
// PREDICT COMMAND
// =============================================================================

func predictCommand(rt *appState) *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Score one JSON record and print the response",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "record",
				Aliases:  []string{"r"},
				Usage:    "Path to a JSON record, or - for stdin",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Artifact path (defaults to paths.model)",
			},
		},
		Action: func(c *cli.Context) error {
			body, err := readRecord(c.App.Reader, c.String("record"))
			if err != nil {
				return err
			}
			path := c.String("model")
			if path == "" {
				path = rt.cfg.Paths.Model
			}
			svc := predict.NewService(path, predict.WithFallbackConfidence(rt.cfg.Prediction.FallbackConfidence))
			resp := svc.Handle(c.Context, body)
			if err := writeJSON(c.App.Writer, resp); err != nil {
				return err
			}
			if !resp.Success {
				return cli.Exit("", 2)
			}
			return nil
		},
	}
}

func readRecord(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, errors.Wrap(err, "read record from stdin")
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationPathError("record", path, "cannot read record", err)
	}
	return data, nil
}

// =============================================================================
// INSPECT COMMAND
// =============================================================================

func inspectCommand(rt *appState) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print artifact metadata: run id, feature order, mappings and digest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "model",
				Usage: "Artifact path (defaults to paths.model)",
			},
		},
		Action: func(c *cli.Context) error {
			path := c.String("model")
			if path == "" {
				path = rt.cfg.Paths.Model
			}
			a, err := artifact.Load(path)
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, map[string]interface{}{
				"version":        a.Version,
				"run_id":         a.RunID,
				"created_at":     a.CreatedAt,
				"feature_order":  a.FeatureOrder,
				"mapping_digest": a.MappingDigest,
				"label":          a.Preprocessing.Label,
				"positive_label": a.PositiveLabel,
				"mappings":       a.Preprocessing.Categorical,
				"skew":           a.Preprocessing.Skew,
				"params":         a.Params,
				"trees":          len(a.Model.Trees),
			})
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

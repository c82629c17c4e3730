// Package config provides the typed configuration for the booking
// cancellation pipeline. Every component receives its section explicitly;
// nothing reads paths or parameters from package-level state.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// Config is the root configuration document.
type Config struct {
	Paths      Paths      `json:"paths" yaml:"paths"`
	Ingestion  Ingestion  `json:"data_ingestion" yaml:"data_ingestion"`
	Processing Processing `json:"data_processing" yaml:"data_processing"`
	Balancing  Balancing  `json:"balancing" yaml:"balancing"`
	Selection  Selection  `json:"feature_selection" yaml:"feature_selection"`
	Training   Training   `json:"model_training" yaml:"model_training"`
	Prediction Prediction `json:"prediction" yaml:"prediction"`
	Logging    Logging    `json:"logging" yaml:"logging"`
}

// Paths locates every file the pipeline reads or writes.
type Paths struct {
	Source             string `json:"source" yaml:"source"`                           // input dataset
	Raw                string `json:"raw" yaml:"raw"`                                 // copy of the input
	Train              string `json:"train" yaml:"train"`                             // raw train partition
	Test               string `json:"test" yaml:"test"`                               // raw test partition
	ProcessedTrain     string `json:"processed_train" yaml:"processed_train"`         // balanced, selected train table
	ProcessedTest      string `json:"processed_test" yaml:"processed_test"`           // selected test table
	Model              string `json:"model" yaml:"model"`                             // msgpack artifact
	Report             string `json:"report" yaml:"report"`                           // JSON training report
	ImportancePlot     string `json:"importance_plot" yaml:"importance_plot"`         // PNG; empty disables the chart
	WriteParquet       bool   `json:"write_parquet" yaml:"write_parquet"`             // also write processed tables as Parquet
	ParquetCompression string `json:"parquet_compression" yaml:"parquet_compression"` // snappy, gzip, lz4, zstd, none
}

// Ingestion configures the raw loader.
type Ingestion struct {
	TrainRatio  float64 `json:"train_ratio" yaml:"train_ratio"` // fraction of rows assigned to train
	RandomState int64   `json:"random_state" yaml:"random_state"`
	Delimiter   string  `json:"delimiter" yaml:"delimiter"`
}

// Processing configures the feature preprocessor and selector.
type Processing struct {
	CategoricalCols     []string `json:"categorical_cols" yaml:"categorical_cols"`
	NumericalCols       []string `json:"numerical_cols" yaml:"numerical_cols"`
	DropCols            []string `json:"drop_cols" yaml:"drop_cols"`
	LabelCol            string   `json:"label_col" yaml:"label_col"`
	SkewThreshold       float64  `json:"skew_threshold" yaml:"skew_threshold"`
	NumFeaturesToSelect int      `json:"num_features_to_select" yaml:"num_features_to_select"`
	PositiveLabel       string   `json:"positive_label" yaml:"positive_label"`
	NegativeLabel       string   `json:"negative_label" yaml:"negative_label"`
}

// Balancing configures SMOTE oversampling of the training partition.
type Balancing struct {
	Skip        bool  `json:"skip" yaml:"skip"`
	KNeighbors  int   `json:"k_neighbors" yaml:"k_neighbors"`
	RandomState int64 `json:"random_state" yaml:"random_state"`
}

// Selection configures the random forest used to rank features.
type Selection struct {
	Skip        bool  `json:"skip" yaml:"skip"`
	NEstimators int   `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth    int   `json:"max_depth" yaml:"max_depth"` // 0 means unlimited
	RandomState int64 `json:"random_state" yaml:"random_state"`
}

// Training configures the randomized hyperparameter search.
type Training struct {
	NIter              int                          `json:"n_iter" yaml:"n_iter"`
	CV                 int                          `json:"cv" yaml:"cv"`
	Scoring            string                       `json:"scoring" yaml:"scoring"`
	RandomState        int64                        `json:"random_state" yaml:"random_state"`
	NJobs              int                          `json:"n_jobs" yaml:"n_jobs"` // <= 0 uses every CPU
	SubsampleFreq      int                          `json:"subsample_freq" yaml:"subsample_freq"`
	ParamDistributions map[string]ParamDistribution `json:"param_distributions" yaml:"param_distributions"`
}

// ParamDistribution describes how one hyperparameter is sampled.
//
//	randint: integer in [Low, High)
//	uniform: float in [Low, High)
//	choice:  one of Values
type ParamDistribution struct {
	Type   string    `json:"type" yaml:"type"`
	Low    float64   `json:"low,omitempty" yaml:"low,omitempty"`
	High   float64   `json:"high,omitempty" yaml:"high,omitempty"`
	Values []float64 `json:"values,omitempty" yaml:"values,omitempty"`
}

// Prediction configures the inference boundary.
type Prediction struct {
	// FallbackConfidence is the placeholder probability of the predicted
	// class when the model cannot produce probabilities.
	FallbackConfidence float64 `json:"fallback_confidence" yaml:"fallback_confidence"`
}

// Logging configures pkg/log.SetupLogger.
type Logging struct {
	Level  string `json:"level" yaml:"level"`
	Dir    string `json:"dir" yaml:"dir"`
	Format string `json:"format" yaml:"format"`
}

// Distribution types accepted in model_training.param_distributions.
const (
	DistRandInt = "randint"
	DistUniform = "uniform"
	DistChoice  = "choice"
)

// Default configuration values
const (
	DefaultTrainRatio          = 0.8
	DefaultRandomState         = 42
	DefaultSkewThreshold       = 5.0
	DefaultNumFeaturesToSelect = 10
	DefaultKNeighbors          = 5
	DefaultNEstimators         = 100
	DefaultNIter               = 5
	DefaultCV                  = 5
	DefaultScoring             = "accuracy"
	DefaultFallbackConfidence  = 0.9
	DefaultLabelCol            = "booking status"
	DefaultPositiveLabel       = "Canceled"
	DefaultNegativeLabel       = "Not_Canceled"
)

// DefaultParamDistributions is the LightGBM search space used when the
// configuration does not provide one.
func DefaultParamDistributions() map[string]ParamDistribution {
	return map[string]ParamDistribution{
		"n_estimators":      {Type: DistRandInt, Low: 100, High: 1000},
		"learning_rate":     {Type: DistUniform, Low: 0.01, High: 0.3},
		"max_depth":         {Type: DistRandInt, Low: 3, High: 15},
		"num_leaves":        {Type: DistRandInt, Low: 31, High: 150},
		"min_child_samples": {Type: DistRandInt, Low: 10, High: 100},
		"subsample":         {Type: DistUniform, Low: 0.5, High: 1.0},
		"colsample_bytree":  {Type: DistUniform, Low: 0.5, High: 1.0},
		"reg_alpha":         {Type: DistUniform, Low: 0, High: 10},
		"reg_lambda":        {Type: DistUniform, Low: 0, High: 10},
	}
}

// NewConfig creates a configuration with default values for the hotel
// reservations dataset.
func NewConfig() Config {
	return Config{
		Paths: Paths{
			Source:             "artifacts/source/booking.csv",
			Raw:                "artifacts/raw/raw.csv",
			Train:              "artifacts/raw/train.csv",
			Test:               "artifacts/raw/test.csv",
			ProcessedTrain:     "artifacts/processed/train.csv",
			ProcessedTest:      "artifacts/processed/test.csv",
			Model:              "artifacts/model/model.msgpack",
			Report:             "artifacts/model/report.json",
			ImportancePlot:     "artifacts/model/importance.png",
			ParquetCompression: "snappy",
		},
		Ingestion: Ingestion{
			TrainRatio:  DefaultTrainRatio,
			RandomState: DefaultRandomState,
			Delimiter:   ",",
		},
		Processing: Processing{
			CategoricalCols: []string{
				"type of meal",
				"car parking space",
				"room type",
				"market segment type",
				"repeated",
			},
			NumericalCols: []string{
				"number of adults",
				"number of children",
				"number of weekend nights",
				"number of week nights",
				"lead time",
				"P-C",
				"P-not-C",
				"average price",
				"special requests",
			},
			DropCols:            []string{"Booking_ID", "date of reservation"},
			LabelCol:            DefaultLabelCol,
			SkewThreshold:       DefaultSkewThreshold,
			NumFeaturesToSelect: DefaultNumFeaturesToSelect,
			PositiveLabel:       DefaultPositiveLabel,
			NegativeLabel:       DefaultNegativeLabel,
		},
		Balancing: Balancing{
			KNeighbors:  DefaultKNeighbors,
			RandomState: DefaultRandomState,
		},
		Selection: Selection{
			NEstimators: DefaultNEstimators,
			RandomState: DefaultRandomState,
		},
		Training: Training{
			NIter:              DefaultNIter,
			CV:                 DefaultCV,
			Scoring:            DefaultScoring,
			RandomState:        DefaultRandomState,
			SubsampleFreq:      1,
			ParamDistributions: DefaultParamDistributions(),
		},
		Prediction: Prediction{
			FallbackConfidence: DefaultFallbackConfidence,
		},
		Logging: Logging{
			Level:  "info",
			Dir:    "logs",
			Format: "console",
		},
	}
}

var scorings = map[string]bool{
	"accuracy":  true,
	"precision": true,
	"recall":    true,
	"f1":        true,
	"roc_auc":   true,
}

var compressions = map[string]bool{
	"snappy": true,
	"gzip":   true,
	"lz4":    true,
	"zstd":   true,
	"none":   true,
}

// Validate checks every key and returns a ConfigurationError naming the
// first invalid one.
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{"paths.source", c.Paths.Source},
		{"paths.raw", c.Paths.Raw},
		{"paths.train", c.Paths.Train},
		{"paths.test", c.Paths.Test},
		{"paths.processed_train", c.Paths.ProcessedTrain},
		{"paths.processed_test", c.Paths.ProcessedTest},
		{"paths.model", c.Paths.Model},
		{"paths.report", c.Paths.Report},
		{"data_processing.label_col", c.Processing.LabelCol},
		{"data_processing.positive_label", c.Processing.PositiveLabel},
		{"data_processing.negative_label", c.Processing.NegativeLabel},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.NewConfigurationError(r.key, "must not be empty")
		}
	}
	if c.Paths.WriteParquet && !compressions[strings.ToLower(c.Paths.ParquetCompression)] {
		return errors.NewConfigurationError("paths.parquet_compression",
			fmt.Sprintf("unsupported codec %q", c.Paths.ParquetCompression))
	}

	if !(c.Ingestion.TrainRatio > 0 && c.Ingestion.TrainRatio < 1) {
		return errors.NewConfigurationError("data_ingestion.train_ratio",
			fmt.Sprintf("must be in (0, 1), got %v", c.Ingestion.TrainRatio))
	}
	if len([]rune(c.Ingestion.Delimiter)) != 1 {
		return errors.NewConfigurationError("data_ingestion.delimiter",
			fmt.Sprintf("must be a single character, got %q", c.Ingestion.Delimiter))
	}

	p := c.Processing
	if len(p.CategoricalCols)+len(p.NumericalCols) == 0 {
		return errors.NewConfigurationError("data_processing.categorical_cols", "no feature columns configured")
	}
	seen := make(map[string]string)
	for _, group := range []struct {
		key  string
		cols []string
	}{
		{"data_processing.categorical_cols", p.CategoricalCols},
		{"data_processing.numerical_cols", p.NumericalCols},
	} {
		for _, col := range group.cols {
			if col == p.LabelCol {
				return errors.NewConfigurationError(group.key, fmt.Sprintf("label column %q listed as a feature", col))
			}
			if prev, ok := seen[col]; ok {
				return errors.NewConfigurationError(group.key, fmt.Sprintf("column %q already listed in %s", col, prev))
			}
			seen[col] = group.key
		}
	}
	if math.IsNaN(p.SkewThreshold) || p.SkewThreshold < 0 {
		return errors.NewConfigurationError("data_processing.skew_threshold",
			fmt.Sprintf("must be non-negative, got %v", p.SkewThreshold))
	}
	if p.NumFeaturesToSelect <= 0 {
		return errors.NewConfigurationError("data_processing.num_features_to_select",
			fmt.Sprintf("must be positive, got %d", p.NumFeaturesToSelect))
	}
	if p.PositiveLabel == p.NegativeLabel {
		return errors.NewConfigurationError("data_processing.positive_label", "must differ from negative_label")
	}

	if c.Balancing.KNeighbors <= 0 {
		return errors.NewConfigurationError("balancing.k_neighbors",
			fmt.Sprintf("must be positive, got %d", c.Balancing.KNeighbors))
	}
	if c.Selection.NEstimators <= 0 {
		return errors.NewConfigurationError("feature_selection.n_estimators",
			fmt.Sprintf("must be positive, got %d", c.Selection.NEstimators))
	}
	if c.Selection.MaxDepth < 0 {
		return errors.NewConfigurationError("feature_selection.max_depth",
			fmt.Sprintf("must be non-negative, got %d", c.Selection.MaxDepth))
	}

	t := c.Training
	if t.NIter <= 0 {
		return errors.NewConfigurationError("model_training.n_iter", fmt.Sprintf("must be positive, got %d", t.NIter))
	}
	if t.CV < 2 {
		return errors.NewConfigurationError("model_training.cv", fmt.Sprintf("must be at least 2, got %d", t.CV))
	}
	if !scorings[t.Scoring] {
		return errors.NewConfigurationError("model_training.scoring", fmt.Sprintf("unknown scoring %q", t.Scoring))
	}
	if t.SubsampleFreq < 0 {
		return errors.NewConfigurationError("model_training.subsample_freq",
			fmt.Sprintf("must be non-negative, got %d", t.SubsampleFreq))
	}
	if len(t.ParamDistributions) == 0 {
		return errors.NewConfigurationError("model_training.param_distributions", "must not be empty")
	}
	names := make([]string, 0, len(t.ParamDistributions))
	for name := range t.ParamDistributions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := t.ParamDistributions[name].validate("model_training.param_distributions." + name); err != nil {
			return err
		}
	}

	fc := c.Prediction.FallbackConfidence
	if !(fc >= 0.5 && fc <= 1) {
		return errors.NewConfigurationError("prediction.fallback_confidence", fmt.Sprintf("must be in [0.5, 1], got %v", fc))
	}
	return nil
}

func (d ParamDistribution) validate(key string) error {
	switch d.Type {
	case DistRandInt, DistUniform:
		if !(d.High > d.Low) {
			return errors.NewConfigurationError(key, fmt.Sprintf("high (%v) must be greater than low (%v)", d.High, d.Low))
		}
		if d.Type == DistRandInt && (d.Low != math.Trunc(d.Low) || d.High != math.Trunc(d.High)) {
			return errors.NewConfigurationError(key, "randint bounds must be integers")
		}
	case DistChoice:
		if len(d.Values) == 0 {
			return errors.NewConfigurationError(key, "choice needs at least one value")
		}
	default:
		return errors.NewConfigurationError(key, fmt.Sprintf("unknown distribution type %q", d.Type))
	}
	return nil
}

// FeatureColumns returns the configured categorical then numerical columns.
func (p Processing) FeatureColumns() []string {
	cols := make([]string, 0, len(p.CategoricalCols)+len(p.NumericalCols))
	cols = append(cols, p.CategoricalCols...)
	return append(cols, p.NumericalCols...)
}

// IsCategorical reports whether col is a configured categorical column.
func (p Processing) IsCategorical(col string) bool {
	for _, c := range p.CategoricalCols {
		if c == col {
			return true
		}
	}
	return false
}

// restoreAbsentDistributions puts back the default search space when the
// document had no param_distributions key. An explicit empty map is kept
// and rejected by Validate.
func (c *Config) restoreAbsentDistributions() {
	if c.Training.ParamDistributions == nil {
		c.Training.ParamDistributions = DefaultParamDistributions()
	}
}

// LoadFromYAML parses a YAML document on top of the defaults. Keys absent
// from the document keep their defaults; explicit values, zeros included,
// are kept as written. Unknown keys are rejected.
func LoadFromYAML(data []byte) (Config, error) {
	cfg := NewConfig()
	// decoding into a non-nil map merges keys; a configured space replaces the default one
	cfg.Training.ParamDistributions = nil
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.NewConfigurationPathError("", "", "parsing YAML configuration", err)
	}
	cfg.restoreAbsentDistributions()
	return cfg, nil
}

// LoadFromJSON parses a JSON document on top of the defaults, with the same
// presence rules as LoadFromYAML.
func LoadFromJSON(data []byte) (Config, error) {
	cfg := NewConfig()
	cfg.Training.ParamDistributions = nil
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.NewConfigurationPathError("", "", "parsing JSON configuration", err)
	}
	cfg.restoreAbsentDistributions()
	return cfg, nil
}

// LoadFromFile loads and validates configuration from a .yaml, .yml or
// .json file. A missing file is a ConfigurationError carrying the path.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.NewConfigurationPathError("config", path, "cannot read configuration file", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = LoadFromYAML(data)
	case ".json":
		cfg, err = LoadFromJSON(data)
	default:
		return Config{}, errors.NewConfigurationPathError("config", path,
			fmt.Sprintf("unsupported configuration format %q", filepath.Ext(path)), nil)
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "load %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "validate %s", path)
	}
	return cfg, nil
}

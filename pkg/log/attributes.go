package log

// Standard attribute keys. Every component logs through these so the
// training run can be reconstructed from a single log file.

// Component and operation identification.
const (
	// ModelNameKey identifies the estimator type (e.g. "LGBMClassifier").
	ModelNameKey = "model.name"

	// RunIDKey is the identifier of a training run, shared by all its logs
	// and stored in the model artifact.
	RunIDKey = "run.id"

	// OperationKey is the operation being performed ("fit", "predict", ...).
	OperationKey = "ml.operation"

	// ComponentKey names the logger's owner (e.g. "ingestion", "predict").
	ComponentKey = "ml.component"

	// PhaseKey is the ML lifecycle phase ("training", "inference", ...).
	PhaseKey = "ml.phase"

	// StageKey is the pipeline stage currently running.
	StageKey = "pipeline.stage"
)

// Data shape and content.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ColumnKey   = "data.column"
	ClassKey    = "data.class"
	PathKey     = "data.path"

	// DuplicatesKey is the number of duplicate rows removed.
	DuplicatesKey = "data.duplicates"
)

// Training and evaluation.
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	PrecisionKey  = "metrics.precision"
	RecallKey     = "metrics.recall"
	F1Key         = "metrics.f1"
	ScoreKey      = "metrics.score"
	LossKey       = "metrics.loss"
	IterationKey  = "training.iteration"
	CandidateKey  = "search.candidate"
	FoldKey       = "search.fold"
)

// Prediction.
const (
	PredsKey      = "preds.count"
	ConfidenceKey = "preds.confidence"
	ThresholdKey  = "preds.threshold"
)

// Errors.
const (
	ErrorKindKey  = "error.kind"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Configuration.
const (
	HyperParamsKey  = "model.hyperparams"
	LearningRateKey = "hyperparams.learning_rate"
	RandomSeedKey   = "config.random_seed"
	ConfigPathKey   = "config.path"
)

// Standard values for the keys above.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationResample     = "resample"
	OperationScore        = "score"

	PhaseIngestion     = "ingestion"
	PhasePreprocessing = "preprocessing"
	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
)

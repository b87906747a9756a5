// Standard attribute keys for the training, inference and summary jobs.
//
// Keys follow a hierarchical naming convention ("model.name", "data.samples")
// so log lines can be filtered by category.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the model implementation, e.g. "GBDTClassifier".
	ModelNameKey = "model.name"

	// BackendKey names the booster backend selected by configuration.
	// Values: "gbdt", "lightgbm", "logistic"
	BackendKey = "model.backend"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package or job is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the model lifecycle.
	PhaseKey = "ml.phase"

	// RunIDKey carries the UUID of the current job run.
	RunIDKey = "run.id"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in a dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in a dataset.
	FeaturesKey = "data.features"

	// RowsInKey is the row count before validation.
	RowsInKey = "data.rows_in"

	// RowsDroppedKey is the number of rows removed by validation.
	RowsDroppedKey = "data.rows_dropped"

	// UnseenCategoriesKey counts categorical values absent from the fitted levels.
	UnseenCategoriesKey = "data.unseen_categories"

	// PathKey is a file system path read or written by the job.
	PathKey = "io.path"

	// SchemaFingerprintKey is the hex digest identifying a persisted schema.
	SchemaFingerprintKey = "schema.fingerprint"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records accuracy at the decision threshold.
	AccuracyKey = "metrics.accuracy"

	// LossKey records binary log-loss.
	LossKey = "metrics.loss"

	// AUCKey records the area under the ROC curve, or "n/a".
	AUCKey = "metrics.auc"

	// IterationKey records the current boosting round.
	IterationKey = "training.iteration"

	// BestIterationKey records the 1-based best boosting round.
	BestIterationKey = "training.best_iteration"
)

// Prediction and Output Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ThresholdKey records the decision threshold used for classification.
	ThresholdKey = "preds.threshold"

	// GroupsKey records the number of route groups in a summary.
	GroupsKey = "summary.groups"

	// DriftsKey records how many error-rate drifts the holdout scan found.
	DriftsKey = "metrics.holdout_drifts"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// SuggestionKey provides hints for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
const (
	// LearningRateKey records the shrinkage rate.
	LearningRateKey = "hyperparams.learning_rate"

	// NumLeavesKey records the maximum leaves per tree.
	NumLeavesKey = "hyperparams.num_leaves"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationValidate  = "validate"
	OperationSplit     = "split"
	OperationSummarize = "summarize"
	OperationPersist   = "persist"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"
	PhaseSummary    = "summary"

	ErrorSchemaMismatch    = "SCHEMA_MISMATCH"
	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
)

// Package otpboost predicts whether transit trips run on time and summarizes
// those predictions per route pair.
//
// The module ships three batch jobs that share one feature contract:
//
//   - otp-train reads a labeled trip CSV, validates it, splits it into a
//     stratified holdout, fits a gradient boosted tree classifier with early
//     stopping and writes the model, schema.json, feature importance, the
//     evaluation history and metrics.json to a model directory.
//   - otp-predict loads a model directory, checks the inference CSV against the
//     persisted schema and appends a probability and a 0/1 class column.
//   - otp-summarize left-joins observation counts from the original data with
//     the mean probability and predicted positive rate per route pair.
//
// # Quick Start
//
//	otp-train -input data-samples/trips.csv -output model -plot
//	otp-predict -model model -input inference-data/predict.csv -output predictions/otp_predictions.csv
//	otp-summarize -original data-samples/trips.csv -predictions predictions/otp_predictions.csv
//
// Every job also accepts -config with a YAML or TOML file, and OTP_* environment
// variables override file values.
//
// # Packages
//
//   - config: layered job configuration
//   - core/model: Dataset, Model, Trainer and Backend contracts, hyperparameters
//   - core/schema: the feature contract persisted next to a model
//   - dataset: gota based CSV reading and writing
//   - validation: row level cleaning against a schema
//   - sklearn/lightgbm: native GBDT and the external LightGBM CLI backend
//   - sklearn/linear_model: logistic regression baseline
//   - sklearn/model_selection: stratified train/test split
//   - sklearn/drift: DDM error-rate drift detection
//   - metrics: AUC, log loss, accuracy and ROC points
//   - report: PNG charts
//   - registry: bbolt run registry
//   - pipeline/train, pipeline/predict, pipeline/summarize: the jobs
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Error Handling
//
// Jobs return typed errors from pkg/errors: SchemaError for column contract
// violations, ValidationError for bad configuration and wrapped I/O errors.
// Data quality problems that do not stop a job are reported as warnings.
package otpboost

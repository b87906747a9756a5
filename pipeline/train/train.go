// Package train is the training job: it validates a labeled CSV against the
// configured schema, fits a booster with early stopping on a holdout split
// and persists the model, the feature contract and diagnostics.
package train

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/otpboost/config"
	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/core/schema"
	"github.com/YuminosukeSato/otpboost/dataset"
	"github.com/YuminosukeSato/otpboost/metrics"
	"github.com/YuminosukeSato/otpboost/pipeline/backends"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/registry"
	"github.com/YuminosukeSato/otpboost/report"
	"github.com/YuminosukeSato/otpboost/sklearn/drift"
	"github.com/YuminosukeSato/otpboost/sklearn/model_selection"
	"github.com/YuminosukeSato/otpboost/validation"
)

// Diagnostic files written next to the model.
const (
	ImportanceFile = "feature_importance.csv"
	EvalsFile      = "evals_result.json"
	MetricsFile    = "metrics.json"
)

// Options injects collaborators; zero values select production defaults.
type Options struct {
	// Backend overrides the backend named in the config.
	Backend *model.Backend
	Logger  log.Logger
	// Out receives human-readable progress lines (os.Stdout when nil).
	Out io.Writer
}

// Metrics is the content of metrics.json. AUC is nil when the holdout
// holds a single class.
type Metrics struct {
	RunID             string   `json:"run_id"`
	Backend           string   `json:"backend"`
	AUC               *float64 `json:"auc"`
	Accuracy          float64  `json:"accuracy"`
	LogLoss           float64  `json:"log_loss"`
	Threshold         float64  `json:"threshold"`
	BestIteration     int      `json:"best_iteration"`
	RowsIn            int      `json:"rows_in"`
	RowsDropped       int      `json:"rows_dropped"`
	TrainRows         int      `json:"train_rows"`
	TestRows          int      `json:"test_rows"`
	HoldoutDrifts     int      `json:"holdout_drifts"`
	SchemaFingerprint string   `json:"schema_fingerprint"`
}

// Result summarizes a finished training run.
type Result struct {
	RunID     uuid.UUID
	Schema    *schema.Schema
	Model     model.Model
	History   model.History
	Metrics   Metrics
	Artifacts []string

	// Holdout rows and their predicted probabilities.
	Holdout     *model.Dataset
	HoldoutProb []float64
}

// Run executes the training job described by cfg.
func Run(ctx context.Context, cfg *config.TrainConfig, opts Options) (res *Result, err error) {
	defer errors.Recover(&err, "train.Run")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	run := registry.NewRun(registry.KindTrain)
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("train")
	}
	logger = logger.With(log.RunIDKey, run.ID.String(), log.PhaseKey, log.PhaseTraining)
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	s, err := schema.New(cfg.NumericColumns, cfg.CategoricalColumns, cfg.LabelColumn)
	if err != nil {
		return nil, err
	}
	backend := opts.Backend
	if backend == nil {
		b, err := backends.Resolve(cfg.Backend, backends.Options{LightGBMExec: cfg.LightGBMExec}, logger)
		if err != nil {
			return nil, err
		}
		backend = &b
	}

	df, err := dataset.ReadCSV(cfg.InputCSV, s.RequiredColumns(true))
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Loaded %d rows from %s\n", df.Nrow(), cfg.InputCSV)

	checked, err := validation.Validate(df, s, validation.Options{Op: "train.Validate", WithLabel: true, FitLevels: true})
	if err != nil {
		return nil, err
	}
	logger.Info("Validation finished",
		log.OperationKey, log.OperationValidate,
		log.RowsInKey, checked.Report.RowsIn,
		log.RowsDroppedKey, checked.Report.DroppedTotal(),
		log.SchemaFingerprintKey, s.Fingerprint(),
	)
	if dropped := checked.Report.DroppedTotal(); dropped > 0 {
		fmt.Fprintf(out, "Dropped %d rows due to invalid numeric values or labels\n", dropped)
	}

	trainIdx, testIdx, err := model_selection.TrainTestSplit(checked.Data.Y, cfg.TestSize, cfg.Seed)
	if err != nil {
		return nil, err
	}
	trainSet := checked.Data.Subset(trainIdx)
	testSet := checked.Data.Subset(testIdx)
	logger.Info("Split finished",
		log.OperationKey, log.OperationSplit,
		"train_rows", len(trainIdx),
		"test_rows", len(testIdx),
	)

	fmt.Fprintf(out, "Training %s...\n", backend.Name)
	m, history, err := backend.Trainer.Train(ctx, trainSet, testSet, cfg.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "train %s", backend.Name)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", cfg.OutputDir)
	}
	var artifacts []string
	modelPath := filepath.Join(cfg.OutputDir, backend.ArtifactName)
	if err := m.Save(modelPath); err != nil {
		return nil, err
	}
	artifacts = append(artifacts, modelPath)
	fmt.Fprintf(out, "Model saved to: %s\n", modelPath)

	if err := schema.Save(cfg.OutputDir, s); err != nil {
		return nil, err
	}
	artifacts = append(artifacts,
		filepath.Join(cfg.OutputDir, schema.SchemaFile),
		filepath.Join(cfg.OutputDir, schema.FeatureNamesFile),
	)

	fmt.Fprintln(out, "Evaluating on test set...")
	prob, err := m.Predict(testSet.X)
	if err != nil {
		return nil, err
	}
	eval, err := metrics.EvaluateBinary(testSet.Y, prob, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	summary := Metrics{
		RunID:             run.ID.String(),
		Backend:           backend.Name,
		AUC:               nullable(eval.AUC),
		Accuracy:          eval.Accuracy,
		LogLoss:           eval.LogLoss,
		Threshold:         cfg.Threshold,
		BestIteration:     m.BestIteration(),
		RowsIn:            checked.Report.RowsIn,
		RowsDropped:       checked.Report.DroppedTotal(),
		TrainRows:         len(trainIdx),
		TestRows:          len(testIdx),
		SchemaFingerprint: s.Fingerprint(),
	}
	fmt.Fprintf(out, "Test AUC: %s\n", FormatAUC(eval.AUC))
	fmt.Fprintf(out, "Test Accuracy: %.4f\n", eval.Accuracy)
	fmt.Fprintf(out, "Test LogLoss: %.6f\n", eval.LogLoss)
	logger.Info("Holdout evaluation",
		log.AUCKey, FormatAUC(eval.AUC),
		log.AccuracyKey, eval.Accuracy,
		log.LossKey, eval.LogLoss,
		log.BestIterationKey, summary.BestIteration,
	)
	summary.HoldoutDrifts = scanDrift(testIdx, testSet.Y, prob, cfg.Threshold, logger)

	importancePath := filepath.Join(cfg.OutputDir, ImportanceFile)
	names, gain, err := WriteFeatureImportance(importancePath, m)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, importancePath)
	fmt.Fprintf(out, "Feature importance saved to: %s\n", importancePath)

	evalsPath := filepath.Join(cfg.OutputDir, EvalsFile)
	if err := WriteEvalsResult(evalsPath, history); err != nil {
		return nil, err
	}
	artifacts = append(artifacts, evalsPath)
	fmt.Fprintf(out, "Eval results saved to: %s\n", evalsPath)

	metricsPath := filepath.Join(cfg.OutputDir, MetricsFile)
	if err := model.SaveJSON(summary, metricsPath); err != nil {
		return nil, err
	}
	artifacts = append(artifacts, metricsPath)

	if cfg.Plot {
		artifacts = append(artifacts, writePlots(cfg.OutputDir, names, gain, testSet.Y, prob, history, cfg.Params.FirstMetric(), logger)...)
	}

	run.Inputs = []string{cfg.InputCSV}
	run.Artifacts = artifacts
	run.Fingerprint = s.Fingerprint()
	run.Metrics = map[string]float64{
		"accuracy":       eval.Accuracy,
		"log_loss":       eval.LogLoss,
		"best_iteration": float64(summary.BestIteration),
		"holdout_drifts": float64(summary.HoldoutDrifts),
	}
	if !math.IsNaN(eval.AUC) {
		run.Metrics["auc"] = eval.AUC
	}
	if cfg.RegistryPath != "" {
		if err := record(ctx, cfg.RegistryPath, run, cfg.OutputDir); err != nil {
			return nil, err
		}
	}

	logger.Info("Training job finished",
		log.OperationKey, log.OperationPersist,
		log.PathKey, cfg.OutputDir,
		log.DurationMsKey, time.Since(run.Start).Milliseconds(),
	)
	fmt.Fprintln(out, "Done.")

	return &Result{
		RunID:       run.ID,
		Schema:      s,
		Model:       m,
		History:     history,
		Metrics:     summary,
		Artifacts:   artifacts,
		Holdout:     testSet,
		HoldoutProb: prob,
	}, nil
}

// scanDrift replays holdout outcomes in source row order through DDM. A
// drift means the error rate moved along the file, which for time-ordered
// trips hints that the holdout metrics hide a trend.
func scanDrift(testIdx []int, y, prob []float64, threshold float64, logger log.Logger) int {
	order := make([]int, len(testIdx))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return testIdx[order[a]] < testIdx[order[b]] })
	pred := metrics.Threshold(prob, threshold)
	yTrue := make([]float64, len(order))
	yPred := make([]float64, len(order))
	for i, j := range order {
		yTrue[i] = y[j]
		yPred[i] = pred[j]
	}
	rep := drift.Scan(yTrue, yPred)
	if len(rep.Drifts) > 0 {
		logger.Warn("Holdout error rate drifts along the input order",
			log.DriftsKey, len(rep.Drifts),
			"first_drift_at", rep.Drifts[0],
			"warnings", rep.Warnings,
		)
	}
	return len(rep.Drifts)
}

func record(ctx context.Context, path string, run *registry.RunRecord, dir string) error {
	db, err := registry.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	run.Finish = time.Now().UTC()
	if err := db.Put(ctx, run); err != nil {
		return err
	}
	return db.RecordSchema(ctx, run.Fingerprint, run.ID, dir)
}

func writePlots(dir string, names []string, gain, y, prob []float64, history model.History, metric string, logger log.Logger) []string {
	var written []string
	path := filepath.Join(dir, report.ImportanceFile)
	if err := report.FeatureImportancePNG(path, names, gain); err != nil {
		logger.Warn("Feature importance chart skipped", err)
	} else {
		written = append(written, path)
	}

	path = filepath.Join(dir, report.ROCFile)
	switch err := report.ROCCurvePNG(path, y, prob); {
	case errors.Is(err, report.ErrSingleClass):
		logger.Warn("ROC curve skipped: holdout has a single class")
	case err != nil:
		logger.Warn("ROC curve skipped", err)
	default:
		written = append(written, path)
	}

	path = filepath.Join(dir, report.LearningCurveFile)
	if err := report.LearningCurvePNG(path, history, metric); err != nil {
		logger.Warn("Learning curve skipped", err)
	} else {
		written = append(written, path)
	}
	return written
}

// FormatAUC renders an AUC for humans; NaN is "n/a".
func FormatAUC(auc float64) string {
	if math.IsNaN(auc) {
		return "n/a"
	}
	return strconv.FormatFloat(auc, 'f', 4, 64)
}

// WriteFeatureImportance writes feature,importance_gain,importance_split
// sorted by gain descending; ties keep the model's feature order. It returns
// the names and gains in written order.
func WriteFeatureImportance(path string, m model.Model) ([]string, []float64, error) {
	names := m.FeatureName()
	gain, err := m.FeatureImportance(model.ImportanceGain)
	if err != nil {
		return nil, nil, err
	}
	split, err := m.FeatureImportance(model.ImportanceSplit)
	if err != nil {
		return nil, nil, err
	}
	if len(gain) != len(names) || len(split) != len(names) {
		return nil, nil, errors.NewDimensionError("train.WriteFeatureImportance", len(names), len(gain), 0)
	}

	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return gain[order[a]] > gain[order[b]] })

	sortedNames := make([]string, len(order))
	sortedGain := make([]float64, len(order))
	gainCol := make([]string, len(order))
	splitCol := make([]string, len(order))
	for k, i := range order {
		sortedNames[k] = names[i]
		sortedGain[k] = gain[i]
		gainCol[k] = strconv.FormatFloat(gain[i], 'g', -1, 64)
		splitCol[k] = strconv.FormatInt(int64(split[i]), 10)
	}
	df := dataframe.New(
		series.New(sortedNames, series.String, "feature"),
		series.New(gainCol, series.String, "importance_gain"),
		series.New(splitCol, series.String, "importance_split"),
	)
	if err := dataset.WriteCSV(path, df); err != nil {
		return nil, nil, err
	}
	return sortedNames, sortedGain, nil
}

// WriteEvalsResult writes the per-round metric history as
// {"train":{"auc":[...]},"valid":{...}}. Undefined values are null.
func WriteEvalsResult(path string, history model.History) error {
	out := make(map[string]map[string][]*float64, len(history))
	for set, byMetric := range history {
		out[set] = make(map[string][]*float64, len(byMetric))
		for metric, values := range byMetric {
			vs := make([]*float64, len(values))
			for i, v := range values {
				vs[i] = nullable(v)
			}
			out[set][metric] = vs
		}
	}
	return model.SaveJSON(out, path)
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

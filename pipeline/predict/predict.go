// Package predict is the inference job: it scores a CSV with a trained model
// after validating it against the schema persisted by the training job.
package predict

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

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
	"github.com/YuminosukeSato/otpboost/validation"
)

// Options injects collaborators; zero values select production defaults.
type Options struct {
	// Backend overrides the backend named in the config.
	Backend *model.Backend
	Logger  log.Logger
	// Out receives human-readable progress lines (os.Stdout when nil).
	Out io.Writer
}

// Result summarizes a finished inference run.
type Result struct {
	RunID  uuid.UUID
	Schema *schema.Schema
	Report validation.Report

	// Rows are the source row indices that were scored, ascending.
	Rows  []int
	Prob  []float64
	Class []float64
}

// Run executes the inference job described by cfg.
func Run(ctx context.Context, cfg *config.PredictConfig, opts Options) (res *Result, err error) {
	defer errors.Recover(&err, "predict.Run")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	run := registry.NewRun(registry.KindPredict)
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("predict")
	}
	logger = logger.With(log.RunIDKey, run.ID.String(), log.PhaseKey, log.PhaseInference)
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	s, err := schema.Load(cfg.ModelDir, cfg.CategoricalColumns)
	if err != nil {
		return nil, err
	}
	if s.IsLegacy() {
		logger.Warn("Schema rebuilt from feature_names.json; category levels are fitted on the inference data",
			log.PathKey, cfg.ModelDir)
	}

	backend := opts.Backend
	if backend == nil {
		b, err := backends.Resolve(cfg.Backend, backends.Options{LightGBMExec: cfg.LightGBMExec}, logger)
		if err != nil {
			return nil, err
		}
		backend = &b
	}
	fmt.Fprintln(out, "Loading model...")
	modelPath := filepath.Join(cfg.ModelDir, backend.ArtifactName)
	m, err := backend.Load(modelPath)
	if err != nil {
		return nil, err
	}
	if got, want := m.FeatureName(), s.FeatureNames(); !slices.Equal(got, want) {
		return nil, errors.NewSchemaErrorf("predict.Run",
			"model %s was trained on features %v but the schema declares %v", modelPath, got, want)
	}

	var db *registry.DB
	if cfg.RegistryPath != "" {
		if db, err = registry.Open(cfg.RegistryPath); err != nil {
			return nil, err
		}
		defer db.Close()
		if err := checkKnownSchema(ctx, db, s, logger); err != nil {
			return nil, err
		}
	}

	fmt.Fprintf(out, "Loading inference data: %s\n", cfg.InputCSV)
	df, err := dataset.ReadCSV(cfg.InputCSV, nil)
	if err != nil {
		return nil, err
	}

	checked, err := validation.Validate(df, s, validation.Options{Op: "predict.Validate"})
	if err != nil {
		return nil, err
	}
	if dropped := checked.Report.DroppedTotal(); dropped > 0 {
		fmt.Fprintf(out, "Dropped %d rows due to invalid numeric values\n", dropped)
	}
	logger.Info("Validation finished",
		log.OperationKey, log.OperationValidate,
		log.RowsInKey, checked.Report.RowsIn,
		log.RowsDroppedKey, checked.Report.DroppedTotal(),
		log.UnseenCategoriesKey, checked.Report.UnseenTotal(),
		log.SchemaFingerprintKey, s.Fingerprint(),
	)
	if unseen := checked.Report.UnseenTotal(); unseen > 0 {
		logger.Warn("Unseen categories scored as missing",
			log.UnseenCategoriesKey, unseen,
			"by_column", checked.Report.UnseenCategories,
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "Running predictions...")
	prob, err := m.Predict(checked.Data.X)
	if err != nil {
		return nil, err
	}
	class := metrics.Threshold(prob, cfg.Threshold)

	probCol := make([]string, len(prob))
	classCol := make([]string, len(class))
	for i := range prob {
		probCol[i] = strconv.FormatFloat(prob[i], 'g', -1, 64)
		classCol[i] = strconv.Itoa(int(class[i]))
	}
	frame := checked.Frame.
		Mutate(series.New(probCol, series.String, cfg.ProbColumn)).
		Mutate(series.New(classCol, series.String, cfg.ClassColumn))
	if frame.Err != nil {
		return nil, errors.Wrap(frame.Err, "append prediction columns")
	}

	if dir := filepath.Dir(cfg.OutputCSV); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := dataset.WriteCSV(cfg.OutputCSV, frame); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Predictions saved to: %s\n", cfg.OutputCSV)
	logger.Info("Predictions written",
		log.OperationKey, log.OperationPredict,
		log.PredsKey, len(prob),
		log.ThresholdKey, cfg.Threshold,
		log.PathKey, cfg.OutputCSV,
		log.DurationMsKey, time.Since(run.Start).Milliseconds(),
	)

	if db != nil {
		run.Finish = time.Now().UTC()
		run.Inputs = []string{cfg.InputCSV, modelPath}
		run.Artifacts = []string{cfg.OutputCSV}
		run.Fingerprint = s.Fingerprint()
		run.Metrics = map[string]float64{
			"rows_scored":  float64(len(prob)),
			"rows_dropped": float64(checked.Report.DroppedTotal()),
		}
		if err := db.Put(ctx, run); err != nil {
			return nil, err
		}
	}
	fmt.Fprintln(out, "Done.")

	return &Result{
		RunID:  run.ID,
		Schema: s,
		Report: checked.Report,
		Rows:   checked.Rows,
		Prob:   prob,
		Class:  class,
	}, nil
}

// checkKnownSchema warns when the schema was not written by a recorded
// training run. Legacy schemas carry no fingerprint worth checking.
func checkKnownSchema(ctx context.Context, db *registry.DB, s *schema.Schema, logger log.Logger) error {
	if s.IsLegacy() {
		return nil
	}
	rec, ok, err := db.KnownSchema(ctx, s.Fingerprint())
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("Schema fingerprint is unknown to the run registry",
			log.SchemaFingerprintKey, s.Fingerprint())
		return nil
	}
	logger.Debug("Schema matches a recorded training run",
		log.SchemaFingerprintKey, s.Fingerprint(),
		"train_run", rec.RunID.String())
	return nil
}

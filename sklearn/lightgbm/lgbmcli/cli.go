// Package lgbmcli trains and scores models by driving an installed LightGBM
// command line binary through config files.
package lgbmcli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/sklearn/lightgbm"
)

// ModelFile is the artifact name of a LightGBM text model.
const ModelFile = "lgbm_model.txt"

// DefaultExecPath is looked up on PATH.
const DefaultExecPath = "lightgbm"

const labelColumn = "label"

// Trainer runs `lightgbm config=<file>` with task=train.
type Trainer struct {
	ExecPath string
	// Output receives the binary's console output in addition to the log parser.
	Output io.Writer

	logger log.Logger
}

var _ model.Trainer = (*Trainer)(nil)

// NewTrainer returns a trainer using execPath, or DefaultExecPath when empty.
func NewTrainer(execPath string, logger log.Logger) *Trainer {
	if execPath == "" {
		execPath = DefaultExecPath
	}
	if logger == nil {
		logger = log.GetLoggerWithName("lgbmcli")
	}
	return &Trainer{ExecPath: execPath, logger: logger}
}

// Train writes train and valid to label-first CSVs, runs the binary with
// early stopping on valid and parses the resulting model and metric log.
func (t *Trainer) Train(ctx context.Context, train, valid *model.Dataset, params model.Params) (model.Model, model.History, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	if train.Rows() == 0 {
		return nil, nil, errors.WithStack(errors.ErrEmptyData)
	}

	dir, err := os.MkdirTemp("", "otpboost-lgbm-")
	if err != nil {
		return nil, nil, errors.Wrap(err, "lgbmcli: create work dir")
	}
	defer os.RemoveAll(dir)

	trainCSV := filepath.Join(dir, "train.csv")
	if err := writeCSVLabelFirst(trainCSV, train.X, train.Y, train.FeatureNames); err != nil {
		return nil, nil, err
	}
	validCSV := ""
	if valid != nil && valid.Rows() > 0 {
		validCSV = filepath.Join(dir, "valid.csv")
		if err := writeCSVLabelFirst(validCSV, valid.X, valid.Y, train.FeatureNames); err != nil {
			return nil, nil, err
		}
	}

	modelPath := filepath.Join(dir, ModelFile)
	conf := filepath.Join(dir, "train.conf")
	if err := os.WriteFile(conf, []byte(trainConfig(params, train.Categorical, trainCSV, validCSV, modelPath)), 0o644); err != nil {
		return nil, nil, errors.Wrap(err, "lgbmcli: write config")
	}

	t.logger.Info("Running LightGBM CLI",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, train.Rows(),
		"exec", t.ExecPath,
	)
	out, err := t.run(ctx, conf)
	if err != nil {
		return nil, nil, err
	}

	text, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "lgbmcli: model not found after training")
	}
	m, err := ParseModel(text)
	if err != nil {
		return nil, nil, err
	}
	m.ExecPath = t.ExecPath
	history := ParseEvalLog(out)
	if validCSV != "" && params.EarlyStoppingRounds > 0 {
		if err := keepBestRound(m, history, params.FirstMetric()); err != nil {
			return nil, nil, err
		}
	}
	return m, history, nil
}

// keepBestRound cuts m back to the best valid round of metric. The binary
// only drops trailing rounds when its patience runs out.
func keepBestRound(m *Model, history model.History, metric string) error {
	best := lightgbm.BestRound(history["valid"][metric], metric)
	if best == 0 || best >= m.NumTrees() {
		return nil
	}
	return m.Truncate(best)
}

func (t *Trainer) run(ctx context.Context, conf string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, t.ExecPath, "config="+conf)
	var w io.Writer = &buf
	if t.Output != nil {
		w = io.MultiWriter(&buf, t.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "lgbmcli: %s failed (is LightGBM installed and on PATH?)", t.ExecPath)
	}
	return buf.Bytes(), nil
}

// trainConfig renders a LightGBM CLI config for task=train.
func trainConfig(p model.Params, categorical []int, trainCSV, validCSV, modelPath string) string {
	var b strings.Builder
	kv := func(k string, v interface{}) { fmt.Fprintf(&b, "%s=%v\n", k, v) }
	kv("task", "train")
	kv("boosting", "gbdt")
	kv("objective", p.Objective)
	kv("metric", strings.Join(p.Metrics, ","))
	kv("first_metric_only", true)
	kv("data", trainCSV)
	if validCSV != "" {
		kv("valid", validCSV)
		if p.EarlyStoppingRounds > 0 {
			kv("early_stopping_round", p.EarlyStoppingRounds)
		}
	}
	kv("header", true)
	kv("label_column", 0)
	if len(categorical) > 0 {
		idx := make([]string, len(categorical))
		for i, c := range categorical {
			idx[i] = strconv.Itoa(c)
		}
		kv("categorical_feature", strings.Join(idx, ","))
	}
	kv("is_provide_training_metric", true)
	kv("metric_freq", 1)
	kv("learning_rate", p.LearningRate)
	kv("num_leaves", p.NumLeaves)
	kv("max_depth", p.MaxDepth)
	kv("max_bin", p.MaxBin)
	kv("min_data_in_leaf", p.MinDataInLeaf)
	kv("min_sum_hessian_in_leaf", p.MinSumHessianInLeaf)
	kv("lambda_l2", p.LambdaL2)
	kv("min_gain_to_split", p.MinGainToSplit)
	kv("bagging_fraction", p.BaggingFraction)
	kv("bagging_freq", p.BaggingFreq)
	kv("feature_fraction", p.FeatureFraction)
	kv("cat_smooth", p.CatSmooth)
	kv("max_cat_threshold", p.MaxCatThreshold)
	kv("seed", p.Seed)
	if p.NumThreads > 0 {
		kv("num_threads", p.NumThreads)
	}
	kv("num_iterations", p.NumBoostRound)
	kv("output_model", modelPath)
	return b.String()
}

// writeCSVLabelFirst writes a header row and one row per sample with the
// label in column 0. Missing values are written as nan.
func writeCSVLabelFirst(path string, X *mat.Dense, y []float64, names []string) error {
	rows, cols := X.Dims()
	if len(names) != cols {
		names = make([]string, cols)
		for j := range names {
			names[j] = fmt.Sprintf("Column_%d", j)
		}
	}
	cols2 := make([]series.Series, 0, cols+1)
	labels := make([]string, rows)
	for i := range labels {
		if y != nil {
			labels[i] = formatValue(y[i])
		} else {
			labels[i] = "0"
		}
	}
	cols2 = append(cols2, series.New(labels, series.String, labelColumn))
	for j := 0; j < cols; j++ {
		vals := make([]string, rows)
		for i := range vals {
			vals[i] = formatValue(X.At(i, j))
		}
		cols2 = append(cols2, series.New(vals, series.String, names[j]))
	}
	df := dataframe.New(cols2...)
	if df.Err != nil {
		return errors.Wrap(df.Err, "lgbmcli: build csv")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "lgbmcli: create csv")
	}
	if err := df.WriteCSV(f, dataframe.WriteHeader(true)); err != nil {
		f.Close()
		return errors.Wrap(err, "lgbmcli: write csv")
	}
	return f.Close()
}

func formatValue(v float64) string {
	if v != v {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// evalLine matches "[LightGBM] [Info] Iteration:12, valid_1 auc : 0.71".
var evalLine = regexp.MustCompile(`Iteration:(\d+), (\S+) (\S+) : (\S+)`)

// ParseEvalLog extracts per-round metric values from LightGBM console output.
// "training" maps to the train set and "valid_1" to the valid set.
func ParseEvalLog(out []byte) model.History {
	h := make(model.History)
	for _, line := range strings.Split(string(out), "\n") {
		m := evalLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		set := m[2]
		switch {
		case set == "training":
			set = "train"
		case strings.HasPrefix(set, "valid"):
			set = "valid"
		}
		v, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			continue
		}
		h.Append(set, m[3], v)
	}
	return h
}

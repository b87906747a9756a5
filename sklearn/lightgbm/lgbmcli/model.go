package lgbmcli

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

type treeSplits struct {
	feature []int
	gain    []float64
}

// Model wraps a LightGBM text model. Scoring shells out to the binary.
type Model struct {
	ExecPath string

	text         []byte
	featureNames []string
	trees        []treeSplits
	bestIter     int
}

var _ model.Model = (*Model)(nil)

// ParseModel reads feature names, per-tree split features and gains, and the
// early stopping outcome from a LightGBM text model.
func ParseModel(text []byte) (*Model, error) {
	m := &Model{ExecPath: DefaultExecPath, text: text}
	var numIterations, earlyStopping int
	var inTree bool

	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Tree="):
			inTree = true
			m.trees = append(m.trees, treeSplits{})
		case line == "end of trees":
			inTree = false
		case !inTree && strings.HasPrefix(line, "feature_names="):
			m.featureNames = strings.Fields(strings.TrimPrefix(line, "feature_names="))
		case inTree && strings.HasPrefix(line, "split_feature="):
			ints, err := parseInts(strings.TrimPrefix(line, "split_feature="))
			if err != nil {
				return nil, errors.Wrap(err, "lgbmcli: split_feature")
			}
			m.trees[len(m.trees)-1].feature = ints
		case inTree && strings.HasPrefix(line, "split_gain="):
			floats, err := parseFloats(strings.TrimPrefix(line, "split_gain="))
			if err != nil {
				return nil, errors.Wrap(err, "lgbmcli: split_gain")
			}
			m.trees[len(m.trees)-1].gain = floats
		case strings.HasPrefix(line, "[num_iterations:"):
			numIterations = bracketInt(line)
		case strings.HasPrefix(line, "[early_stopping_round:"):
			earlyStopping = bracketInt(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "lgbmcli: read model")
	}
	if len(m.featureNames) == 0 {
		return nil, errors.NewValueError("lgbmcli.ParseModel", "model has no feature_names")
	}
	for i, t := range m.trees {
		if len(t.feature) != len(t.gain) {
			return nil, errors.Newf("lgbmcli: tree %d has %d split features and %d gains", i, len(t.feature), len(t.gain))
		}
		for _, f := range t.feature {
			if f < 0 || f >= len(m.featureNames) {
				return nil, errors.Newf("lgbmcli: tree %d splits on feature %d", i, f)
			}
		}
	}
	// the binary drops the rounds after the best one when early stopping triggers
	if earlyStopping > 0 && len(m.trees) < numIterations {
		m.bestIter = len(m.trees)
	}
	return m, nil
}

// Truncate keeps the first n trees. The tree_sizes header is cut to match so
// the binary loads the shorter model, and the parameters section still
// records the configured num_iterations, which marks the model as cut back.
func (m *Model) Truncate(n int) error {
	if n <= 0 || n >= len(m.trees) {
		return nil
	}
	var b strings.Builder
	skip := false
	for _, raw := range strings.SplitAfter(string(m.text), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "tree_sizes="):
			sizes := strings.Fields(strings.TrimPrefix(line, "tree_sizes="))
			if len(sizes) > n {
				sizes = sizes[:n]
			}
			b.WriteString("tree_sizes=" + strings.Join(sizes, " ") + "\n")
			continue
		case strings.HasPrefix(line, "Tree="):
			idx, err := strconv.Atoi(strings.TrimPrefix(line, "Tree="))
			if err != nil {
				return errors.Wrapf(err, "lgbmcli: tree header %q", line)
			}
			skip = idx >= n
		case line == "end of trees":
			skip = false
		}
		if !skip {
			b.WriteString(raw)
		}
	}
	cut, err := ParseModel([]byte(b.String()))
	if err != nil {
		return err
	}
	if len(cut.trees) != n {
		return errors.Newf("lgbmcli: truncated model has %d trees, want %d", len(cut.trees), n)
	}
	cut.ExecPath = m.ExecPath
	cut.bestIter = n
	*m = *cut
	return nil
}

func bracketInt(line string) int {
	s := strings.TrimSuffix(line, "]")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// LoadModel reads a text model written by the binary or by Save.
func LoadModel(path string) (*Model, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewModelError("lgbmcli.LoadModel", "persistence", err)
	}
	m, err := ParseModel(text)
	if err != nil {
		return nil, errors.NewModelError("lgbmcli.LoadModel", "validation", err)
	}
	return m, nil
}

// NumTrees returns the number of trees in the model.
func (m *Model) NumTrees() int {
	return len(m.trees)
}

// FeatureName returns the feature order recorded in the model.
func (m *Model) FeatureName() []string {
	return append([]string(nil), m.featureNames...)
}

// BestIteration is the number of trees kept after selecting the best
// validation round, or 0 when every configured round was kept.
func (m *Model) BestIteration() int {
	return m.bestIter
}

// FeatureImportance sums split gains or counts splits per feature.
func (m *Model) FeatureImportance(kind model.ImportanceType) ([]float64, error) {
	if kind != model.ImportanceGain && kind != model.ImportanceSplit {
		return nil, errors.NewValidationError("importance_type", "must be gain or split", kind)
	}
	imp := make([]float64, len(m.featureNames))
	for _, t := range m.trees {
		for k, f := range t.feature {
			if kind == model.ImportanceGain {
				imp[f] += t.gain[k]
			} else {
				imp[f]++
			}
		}
	}
	return imp, nil
}

// Save writes the text model unchanged.
func (m *Model) Save(path string) error {
	if err := os.WriteFile(path, m.text, 0o644); err != nil {
		return errors.NewModelError("lgbmcli.Save", "persistence", err)
	}
	return nil
}

// Predict runs task=predict on X and reads one probability per line.
func (m *Model) Predict(X mat.Matrix) ([]float64, error) {
	if X == nil {
		return nil, errors.NewValueError("lgbmcli.Predict", "nil matrix")
	}
	rows, cols := X.Dims()
	if cols != len(m.featureNames) {
		return nil, errors.NewDimensionError("lgbmcli.Predict", len(m.featureNames), cols, 1)
	}
	if rows == 0 {
		return []float64{}, nil
	}

	dir, err := os.MkdirTemp("", "otpboost-lgbm-")
	if err != nil {
		return nil, errors.Wrap(err, "lgbmcli: create work dir")
	}
	defer os.RemoveAll(dir)

	modelPath := filepath.Join(dir, ModelFile)
	if err := m.Save(modelPath); err != nil {
		return nil, err
	}
	dataPath := filepath.Join(dir, "predict.csv")
	if err := writeCSVLabelFirst(dataPath, mat.DenseCopyOf(X), nil, m.featureNames); err != nil {
		return nil, err
	}
	outPath := filepath.Join(dir, "preds.txt")
	conf := filepath.Join(dir, "predict.conf")
	cfg := "task=predict\ninput_model=" + modelPath + "\ndata=" + dataPath +
		"\nheader=true\nlabel_column=0\noutput_result=" + outPath + "\n"
	if err := os.WriteFile(conf, []byte(cfg), 0o644); err != nil {
		return nil, errors.Wrap(err, "lgbmcli: write config")
	}

	t := &Trainer{ExecPath: m.ExecPath}
	if _, err := t.run(context.Background(), conf); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errors.Wrap(err, "lgbmcli: read predictions")
	}
	probs, err := parseFloats(string(raw))
	if err != nil {
		return nil, errors.Wrap(err, "lgbmcli: parse predictions")
	}
	if len(probs) != rows {
		return nil, errors.NewDimensionError("lgbmcli.Predict", rows, len(probs), 0)
	}
	return probs, nil
}

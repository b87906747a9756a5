package predict

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/otpboost/config"
	"github.com/YuminosukeSato/otpboost/core/schema"
	"github.com/YuminosukeSato/otpboost/pipeline/internal/stubmodel"
	"github.com/YuminosukeSato/otpboost/pipeline/train"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/registry"
	"github.com/YuminosukeSato/otpboost/sklearn/model_selection"
)

func quiet(t *testing.T) *log.TestLogger {
	t.Helper()
	errors.SetWarningHandler(func(error) {})
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })
	logger, _ := log.NewTestLogger(log.LevelDebug)
	return logger
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// stubModelDir writes a schema with levels A < B and a stub model over x1, x2, route.
func stubModelDir(t *testing.T, names []string) string {
	t.Helper()
	dir := t.TempDir()
	s, err := schema.New([]string{"x1", "x2"}, []string{"route"}, "y")
	require.NoError(t, err)
	s.SetLevels("route", []string{"A", "B"})
	require.NoError(t, schema.Save(dir, s))

	m := &stubmodel.Model{Names: names, Weights: []float64{1, -1, 2}}
	require.NoError(t, m.Save(filepath.Join(dir, stubmodel.ArtifactName)))
	return dir
}

func predictConfig(t *testing.T, modelDir, input string) *config.PredictConfig {
	t.Helper()
	cfg := config.DefaultPredict()
	cfg.ModelDir = modelDir
	cfg.InputCSV = input
	cfg.OutputCSV = filepath.Join(t.TempDir(), "out", "predictions.csv")
	cfg.CategoricalColumns = []string{"route"}
	return cfg
}

func readOutput(t *testing.T, path string) dataframe.DataFrame {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	df := dataframe.ReadCSV(f, dataframe.DetectTypes(false), dataframe.DefaultType(series.String))
	require.NoError(t, df.Err)
	return df
}

func TestRunWritesInputColumnsPlusPredictions(t *testing.T) {
	logger := quiet(t)
	dir := stubModelDir(t, []string{"x1", "x2", "route"})
	input := writeFile(t, t.TempDir(), "in.csv", `id,route,x2,x1
r0,A,0,0
r1,B,1,2
r2,A,abc,1
r3,C,0.5,0.5
`)
	cfg := predictConfig(t, dir, input)
	var out bytes.Buffer

	res, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &out})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, res.Rows)
	assert.Equal(t, 1, res.Report.DroppedTotal())
	assert.Equal(t, map[string]int{"route": 1}, res.Report.UnseenCategories)

	// stub: sigmoid(x1 - x2 + 2*code); unseen C contributes nothing
	assert.InDelta(t, 0.5, res.Prob[0], 1e-12)
	assert.InDelta(t, 1/(1+math.Exp(-(2-1+2))), res.Prob[1], 1e-12)
	assert.InDelta(t, 0.5, res.Prob[2], 1e-12)
	assert.Equal(t, []float64{1, 1, 1}, res.Class)

	df := readOutput(t, cfg.OutputCSV)
	assert.Equal(t, []string{"id", "route", "x2", "x1", config.DefaultProbColumn, config.DefaultClassColumn}, df.Names())
	assert.Equal(t, []string{"r0", "r1", "r3"}, df.Col("id").Records())
	assert.Equal(t, []string{"C"}, df.Col("route").Records()[2:])
	assert.Equal(t, []string{"0.5", strconv.FormatFloat(res.Prob[1], 'g', -1, 64), "0.5"}, df.Col(config.DefaultProbColumn).Records())
	assert.Equal(t, []string{"1", "1", "1"}, df.Col(config.DefaultClassColumn).Records())

	assert.Contains(t, out.String(), "Dropped 1 rows due to invalid numeric values")
	assert.True(t, logger.ContainsMessage("Unseen categories scored as missing"))
}

func TestRunThresholdIsInclusive(t *testing.T) {
	logger := quiet(t)
	dir := stubModelDir(t, []string{"x1", "x2", "route"})
	input := writeFile(t, t.TempDir(), "in.csv", "x1,x2,route\n0,0,A\n-1,0,A\n")
	cfg := predictConfig(t, dir, input)

	res, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, res.Class)
}

func TestRunKeepsNACellsVerbatim(t *testing.T) {
	logger := quiet(t)
	dir := stubModelDir(t, []string{"x1", "x2", "route"})
	input := writeFile(t, t.TempDir(), "in.csv", "note,x1,x2,route\nNA,1,0,NA\nok,0,0,A\n")
	cfg := predictConfig(t, dir, input)

	res, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, res.Rows)
	// NA route is a missing category, not an unseen one
	assert.Empty(t, res.Report.UnseenCategories)
	assert.InDelta(t, 1/(1+math.Exp(-1)), res.Prob[0], 1e-12)

	raw, err := os.ReadFile(cfg.OutputCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "NA,1,0,NA,"), lines[1])
	assert.NotContains(t, string(raw), "NaN")
}

func TestRunSchemaErrors(t *testing.T) {
	logger := quiet(t)

	t.Run("missing feature columns", func(t *testing.T) {
		dir := stubModelDir(t, []string{"x1", "x2", "route"})
		input := writeFile(t, t.TempDir(), "in.csv", "x2,other\n1,2\n")
		cfg := predictConfig(t, dir, input)
		_, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
		var se *errors.SchemaError
		require.True(t, errors.As(err, &se), "got %v", err)
		assert.Equal(t, []string{"route", "x1"}, se.Missing)
		assert.NoFileExists(t, cfg.OutputCSV)
	})

	t.Run("model trained on another schema", func(t *testing.T) {
		dir := stubModelDir(t, []string{"x2", "x1", "route"})
		input := writeFile(t, t.TempDir(), "in.csv", "x1,x2,route\n1,2,A\n")
		cfg := predictConfig(t, dir, input)
		_, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
		assert.True(t, errors.IsSchemaError(err), "got %v", err)
	})

	t.Run("no schema artifacts", func(t *testing.T) {
		cfg := predictConfig(t, t.TempDir(), "in.csv")
		_, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
		assert.Error(t, err)
	})
}

func TestRunLegacyFeatureNames(t *testing.T) {
	logger := quiet(t)
	dir := t.TempDir()
	writeFile(t, dir, schema.FeatureNamesFile, `["x1","x2","route"]`)
	m := &stubmodel.Model{Names: []string{"x1", "x2", "route"}, Weights: []float64{1, 0, 1}}
	require.NoError(t, m.Save(filepath.Join(dir, stubmodel.ArtifactName)))

	input := writeFile(t, t.TempDir(), "in.csv", "route,x1,x2\nZ,0,0\nY,0,0\n")
	cfg := predictConfig(t, dir, input)
	res, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.True(t, res.Schema.IsLegacy())
	assert.Equal(t, []string{"Y", "Z"}, res.Schema.Levels["route"])
	// Z is level 1, Y is level 0
	assert.InDelta(t, 1/(1+math.Exp(-1)), res.Prob[0], 1e-12)
	assert.InDelta(t, 0.5, res.Prob[1], 1e-12)
	assert.True(t, logger.ContainsMessage("Schema rebuilt from feature_names.json"))
}

func TestRunWarnsOnUnknownSchema(t *testing.T) {
	logger := quiet(t)
	dir := stubModelDir(t, []string{"x1", "x2", "route"})
	input := writeFile(t, t.TempDir(), "in.csv", "x1,x2,route\n1,2,A\n")
	cfg := predictConfig(t, dir, input)
	cfg.RegistryPath = filepath.Join(t.TempDir(), "runs.db")

	res, err := Run(context.Background(), cfg, Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.True(t, logger.ContainsMessage("Schema fingerprint is unknown to the run registry"))

	db, err := registry.Open(cfg.RegistryPath)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, registry.KindPredict, got.Kind)
	assert.Equal(t, []string{cfg.OutputCSV}, got.Artifacts)
}

// TestTrainPredictRoundTrip checks that a holdout row scored by the training
// job gets the same probability from the inference job, with the columns
// shuffled and extra columns present.
func TestTrainPredictRoundTrip(t *testing.T) {
	logger := quiet(t)
	rng := model_selection.NewRand(11)
	routes := []string{"10-12", "22-22", "7-9"}
	var b strings.Builder
	b.WriteString("on_time_a,planned_dur_b,route_pair,y_on_time_b\n")
	for i := 0; i < 300; i++ {
		x := rng.Float64()
		r := rng.IntN(len(routes))
		y := 0
		if x+0.2*float64(r)+rng.NormFloat64()*0.1 > 0.7 {
			y = 1
		}
		fmt.Fprintf(&b, "%.4f,%d,%s,%d\n", x, 600+rng.IntN(600), routes[r], y)
	}
	trainCfg := config.DefaultTrain()
	trainCfg.InputCSV = writeFile(t, t.TempDir(), "trips.csv", b.String())
	trainCfg.NumericColumns = []string{"on_time_a", "planned_dur_b"}
	trainCfg.CategoricalColumns = []string{"route_pair"}
	trainCfg.OutputDir = filepath.Join(t.TempDir(), "model")
	trainCfg.Params.NumLeaves = 8
	trainCfg.Params.MinDataInLeaf = 5
	trainCfg.Params.MaxBin = 32
	trainCfg.Params.NumBoostRound = 30
	trainCfg.Params.EarlyStoppingRounds = 5
	trainCfg.Params.LogPeriod = 0

	trained, err := train.Run(context.Background(), trainCfg, train.Options{Logger: logger, Out: &bytes.Buffer{}})
	require.NoError(t, err)

	// rebuild the holdout rows as an inference CSV in a different column order
	holdout := trained.Holdout
	levels := trained.Schema.Levels["route_pair"]
	var in strings.Builder
	in.WriteString("trip,route_pair,planned_dur_b,on_time_a\n")
	for i := 0; i < holdout.Rows(); i++ {
		row := holdout.X.RawRowView(i)
		fmt.Fprintf(&in, "t%d,%s,%s,%s\n", i, levels[int(row[2])],
			strconv.FormatFloat(row[1], 'g', -1, 64), strconv.FormatFloat(row[0], 'g', -1, 64))
	}
	cfg := predictConfig(t, trainCfg.OutputDir, writeFile(t, t.TempDir(), "in.csv", in.String()))
	cfg.CategoricalColumns = nil

	res, err := Run(context.Background(), cfg, Options{Logger: logger, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	require.Len(t, res.Prob, holdout.Rows())
	assert.InDeltaSlice(t, trained.HoldoutProb, res.Prob, 1e-15)

	df := readOutput(t, cfg.OutputCSV)
	for i, s := range df.Col(cfg.ProbColumn).Records() {
		p, err := strconv.ParseFloat(s, 64)
		require.NoError(t, err)
		assert.Equal(t, res.Prob[i], p)
	}
}

func TestRunContextCanceled(t *testing.T) {
	logger := quiet(t)
	dir := stubModelDir(t, []string{"x1", "x2", "route"})
	input := writeFile(t, t.TempDir(), "in.csv", "x1,x2,route\n1,2,A\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, predictConfig(t, dir, input), Options{Backend: stubmodel.Backend(nil), Logger: logger, Out: &bytes.Buffer{}})
	assert.True(t, errors.Is(err, context.Canceled))
}

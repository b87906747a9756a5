package summarize

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/otpboost/config"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/registry"
)

var cols = Columns{Key: "route_pair", Prob: "prob_on_time_b", Class: "pred_on_time_b"}

func frame(t *testing.T, csv string) dataframe.DataFrame {
	t.Helper()
	df := dataframe.ReadCSV(strings.NewReader(csv),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	require.NoError(t, df.Err)
	return df
}

func captureWarnings(t *testing.T) *[]error {
	t.Helper()
	var got []error
	errors.SetWarningHandler(func(w error) { got = append(got, w) })
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })
	return &got
}

func TestSummarizeToyRoutes(t *testing.T) {
	original := frame(t, "route_pair\nA\nA\nA\nB\nB\n")
	preds := frame(t, `route_pair,prob_on_time_b,pred_on_time_b
A,0.9,1
A,0.1,0
A,0.8,1
B,0.4,0
B,0.6,1
`)
	groups, stats, err := Summarize(original, preds, cols)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "A", groups[0].Key)
	assert.Equal(t, 3, groups[0].NObs)
	assert.InDelta(t, 0.6, groups[0].MeanProb, 1e-12)
	assert.InDelta(t, 2.0/3, groups[0].PctClass, 1e-12)

	assert.Equal(t, "B", groups[1].Key)
	assert.Equal(t, 2, groups[1].NObs)
	assert.InDelta(t, 0.5, groups[1].MeanProb, 1e-12)
	assert.InDelta(t, 0.5, groups[1].PctClass, 1e-12)

	assert.Equal(t, Stats{}, stats)
}

func TestSummarizeKeepsGroupsWithoutPredictions(t *testing.T) {
	// C has observations but every prediction row was dropped upstream
	original := frame(t, "route_pair\nC\nA\nC\nA\nC\n")
	preds := frame(t, "route_pair,prob_on_time_b,pred_on_time_b\nA,0.7,1\n")

	groups, stats, err := Summarize(original, preds, cols)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "C", groups[1].Key)
	assert.Equal(t, 3, groups[1].NObs)
	assert.Equal(t, 0, groups[1].NPred)
	assert.True(t, math.IsNaN(groups[1].MeanProb))
	assert.True(t, math.IsNaN(groups[1].PctClass))
	assert.Equal(t, []string{"C"}, stats.Uncovered)

	var buf bytes.Buffer
	require.NoError(t, Frame(groups, cols).WriteCSV(&buf))
	assert.Equal(t, "route_pair,n_obs,mean_prob_on_time_b,pct_pred_on_time_b\n"+
		"A,2,0.7,1\n"+
		"C,3,,\n", buf.String())
}

func TestSummarizeCountsExcludedAndDroppedRows(t *testing.T) {
	warnings := captureWarnings(t)
	original := frame(t, "route_pair\nA\nA\n\nNA\n")
	preds := frame(t, `route_pair,prob_on_time_b,pred_on_time_b
A,0.2,0
A,oops,
Z,0.9,1
Z,0.8,1
,0.5,1
`)
	groups, stats, err := Summarize(original, preds, cols)
	require.NoError(t, err)

	// empty and NA keys are not groups
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].NObs)
	assert.Equal(t, 1, groups[0].NPred)
	assert.InDelta(t, 0.2, groups[0].MeanProb, 1e-12)

	assert.Equal(t, 1, stats.DroppedRows)
	assert.Equal(t, 2, stats.ExcludedRows)
	assert.Equal(t, []string{"Z"}, stats.ExcludedKeys)

	require.Len(t, *warnings, 1)
	var dq *errors.DataQualityWarning
	require.True(t, errors.As((*warnings)[0], &dq))
	assert.Equal(t, 1, dq.Dropped)
	assert.Equal(t, map[string]int{ReasonNonNumericProb: 1, ReasonNonNumericClass: 1}, dq.Reasons)
}

func TestSummarizeSkipsNonNumericCellsPerColumn(t *testing.T) {
	warnings := captureWarnings(t)
	original := frame(t, "route_pair\nA\nA\nA\nB\n")
	preds := frame(t, `route_pair,prob_on_time_b,pred_on_time_b
A,0.25,0
A,oops,1
A,0.75,
B,NA,1
`)
	groups, stats, err := Summarize(original, preds, cols)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	a := groups[0]
	assert.Equal(t, 3, a.NPred)
	assert.Equal(t, 2, a.NProb)
	assert.Equal(t, 2, a.NClass)
	assert.InDelta(t, 0.5, a.MeanProb, 1e-12)
	assert.InDelta(t, 0.5, a.PctClass, 1e-12)

	// B keeps its class rate with no usable probability
	b := groups[1]
	assert.Equal(t, 1, b.NPred)
	assert.True(t, math.IsNaN(b.MeanProb))
	assert.InDelta(t, 1.0, b.PctClass, 1e-12)

	assert.Zero(t, stats.DroppedRows)
	assert.Empty(t, stats.Uncovered)
	assert.Equal(t, map[string]int{ReasonNonNumericProb: 2, ReasonNonNumericClass: 1}, stats.SkippedCells)
	require.Len(t, *warnings, 1)

	var buf bytes.Buffer
	require.NoError(t, Frame(groups, cols).WriteCSV(&buf))
	assert.Equal(t, "route_pair,n_obs,mean_prob_on_time_b,pct_pred_on_time_b\n"+
		"A,3,0.5,0.5\n"+
		"B,1,,1\n", buf.String())
}

func TestSummarizeSchemaErrors(t *testing.T) {
	good := frame(t, "route_pair,prob_on_time_b,pred_on_time_b\nA,0.5,1\n")
	tests := []struct {
		name       string
		original   dataframe.DataFrame
		preds      dataframe.DataFrame
		missing    []string
		unexpected []string
	}{
		{
			name:       "extra original column",
			original:   frame(t, "route_pair,trip_id\nA,1\n"),
			preds:      good,
			unexpected: []string{"trip_id"},
		},
		{
			name:       "missing key in original",
			original:   frame(t, "route\nA\n"),
			preds:      good,
			missing:    []string{"route_pair"},
			unexpected: []string{"route"},
		},
		{
			name:     "missing prediction columns",
			original: frame(t, "route_pair\nA\n"),
			preds:    frame(t, "route_pair,prob_on_time_b\nA,0.5\n"),
			missing:  []string{"pred_on_time_b"},
		},
		{
			name:       "extra prediction column",
			original:   frame(t, "route_pair\nA\n"),
			preds:      frame(t, "route_pair,prob_on_time_b,pred_on_time_b,x1\nA,0.5,1,3\n"),
			unexpected: []string{"x1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Summarize(tt.original, tt.preds, cols)
			var se *errors.SchemaError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.missing, se.Missing)
			assert.Equal(t, tt.unexpected, se.Unexpected)
		})
	}
}

func TestRunProjectsInputsAndWritesSummary(t *testing.T) {
	captureWarnings(t)
	dir := t.TempDir()
	originalPath := filepath.Join(dir, "trips.csv")
	predsPath := filepath.Join(dir, "predictions.csv")
	require.NoError(t, os.WriteFile(originalPath, []byte("trip_id,route_pair,on_time_a\n1,B,0.1\n2,A,0.2\n3,B,0.3\n"), 0o644))
	require.NoError(t, os.WriteFile(predsPath, []byte("route_pair,on_time_a,prob_on_time_b,pred_on_time_b\nB,0.1,0.25,0\nA,0.2,0.75,1\n"), 0o644))

	cfg := config.DefaultSummarize()
	cfg.OriginalCSV = originalPath
	cfg.PredictionsCSV = predsPath
	cfg.OutputCSV = filepath.Join(dir, "out", "summary.csv")
	cfg.RegistryPath = filepath.Join(dir, "runs.db")
	logger, _ := log.NewTestLogger(log.LevelDebug)
	var out bytes.Buffer

	res, err := Run(context.Background(), cfg, Options{Logger: logger, Out: &out})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)

	raw, err := os.ReadFile(cfg.OutputCSV)
	require.NoError(t, err)
	assert.Equal(t, "route_pair,n_obs,mean_prob_on_time_b,pct_pred_on_time_b\n"+
		"A,1,0.75,1\n"+
		"B,2,0.25,0\n", string(raw))
	assert.Contains(t, out.String(), "Saved aggregated results to:")
	assert.True(t, logger.ContainsField(log.GroupsKey, float64(2)))

	db, err := registry.Open(cfg.RegistryPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.List(context.Background(), registry.KindSummarize)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
}

func TestRunMissingPredictionColumn(t *testing.T) {
	dir := t.TempDir()
	originalPath := filepath.Join(dir, "trips.csv")
	predsPath := filepath.Join(dir, "predictions.csv")
	require.NoError(t, os.WriteFile(originalPath, []byte("route_pair\nA\n"), 0o644))
	require.NoError(t, os.WriteFile(predsPath, []byte("route_pair,prob_on_time_b\nA,0.5\n"), 0o644))

	cfg := config.DefaultSummarize()
	cfg.OriginalCSV = originalPath
	cfg.PredictionsCSV = predsPath
	cfg.OutputCSV = filepath.Join(dir, "summary.csv")
	logger, _ := log.NewTestLogger(log.LevelError)

	_, err := Run(context.Background(), cfg, Options{Logger: logger, Out: &bytes.Buffer{}})
	assert.True(t, errors.IsSchemaError(err), "got %v", err)
	assert.NoFileExists(t, cfg.OutputCSV)
}

// Package summarize is the route summary job: it left-joins observation
// counts from the original data with prediction statistics per route key.
//
// Counts come from the original data, so rows the predictor dropped still
// count toward a route's population. Routes without predictions keep their
// count and get empty statistics.
package summarize

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
	"github.com/YuminosukeSato/otpboost/dataset"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/registry"
)

// Drop reasons reported for prediction rows.
const (
	ReasonNonNumericProb  = "non_numeric_prob"
	ReasonNonNumericClass = "non_numeric_class"
)

// Columns names the key and prediction columns.
type Columns struct {
	Key   string
	Prob  string
	Class string
}

// CountColumn is the observation count column of the summary.
const CountColumn = "n_obs"

// MeanColumn is the summary column holding the mean probability.
func (c Columns) MeanColumn() string { return "mean_" + c.Prob }

// PctColumn is the summary column holding the predicted positive rate.
func (c Columns) PctColumn() string { return "pct_" + c.Class }

// Group is one route summary. Like a pandas mean, each statistic skips
// non-numeric cells of its own column, so MeanProb averages NProb values and
// PctClass averages NClass values. A statistic is NaN when its count is 0.
type Group struct {
	Key      string
	NObs     int
	NPred    int
	NProb    int
	NClass   int
	MeanProb float64
	PctClass float64
}

// Stats counts what the join left out.
type Stats struct {
	// DroppedRows are prediction rows with neither a numeric probability nor
	// a numeric class.
	DroppedRows int
	// SkippedCells counts non-numeric cells per reason, including those of
	// rows that still contributed the other statistic.
	SkippedCells map[string]int
	// ExcludedRows are prediction rows whose key is absent from the original data.
	ExcludedRows int
	ExcludedKeys []string
	// Uncovered lists original keys that have no usable prediction rows.
	Uncovered []string
}

// Options injects collaborators; zero values select production defaults.
type Options struct {
	Logger log.Logger
	// Out receives human-readable progress lines (os.Stdout when nil).
	Out io.Writer
}

// Result summarizes a finished summary run.
type Result struct {
	RunID  uuid.UUID
	Groups []Group
	Stats  Stats
}

// Run executes the summary job described by cfg.
func Run(ctx context.Context, cfg *config.SummarizeConfig, opts Options) (res *Result, err error) {
	defer errors.Recover(&err, "summarize.Run")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	run := registry.NewRun(registry.KindSummarize)
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("summarize")
	}
	logger = logger.With(log.RunIDKey, run.ID.String(), log.PhaseKey, log.PhaseSummary)
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	cols := Columns{Key: cfg.KeyColumn, Prob: cfg.ProbColumn, Class: cfg.ClassColumn}

	fmt.Fprintln(out, "Loading original data...")
	original, err := dataset.ReadCSV(cfg.OriginalCSV, []string{cols.Key})
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "Loading prediction results...")
	preds, err := dataset.ReadCSV(cfg.PredictionsCSV, []string{cols.Key, cols.Prob, cols.Class})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groups, stats, err := Summarize(original, preds, cols)
	if err != nil {
		return nil, err
	}
	if len(stats.ExcludedKeys) > 0 {
		logger.Warn("Prediction keys absent from the original data were excluded",
			"excluded_rows", stats.ExcludedRows,
			"excluded_keys", stats.ExcludedKeys,
		)
	}
	if len(stats.Uncovered) > 0 {
		logger.Warn("Groups without predictions have undefined statistics",
			"uncovered_groups", len(stats.Uncovered),
		)
	}

	if dir := filepath.Dir(cfg.OutputCSV); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := dataset.WriteCSV(cfg.OutputCSV, Frame(groups, cols)); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Saved aggregated results to: %s\n", cfg.OutputCSV)
	logger.Info("Summary written",
		log.OperationKey, log.OperationSummarize,
		log.GroupsKey, len(groups),
		log.PathKey, cfg.OutputCSV,
		log.DurationMsKey, time.Since(run.Start).Milliseconds(),
	)

	if cfg.RegistryPath != "" {
		db, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		run.Finish = time.Now().UTC()
		run.Inputs = []string{cfg.OriginalCSV, cfg.PredictionsCSV}
		run.Artifacts = []string{cfg.OutputCSV}
		run.Metrics = map[string]float64{
			"groups":        float64(len(groups)),
			"excluded_rows": float64(stats.ExcludedRows),
			"dropped_rows":  float64(stats.DroppedRows),
		}
		if err := db.Put(ctx, run); err != nil {
			return nil, err
		}
	}
	fmt.Fprintln(out, "Done.")

	return &Result{RunID: run.ID, Groups: groups, Stats: stats}, nil
}

// Summarize joins original with preds. original must hold exactly the key
// column and preds exactly the key, probability and class columns; anything
// else is a SchemaError raised before any computation.
func Summarize(original, preds dataframe.DataFrame, cols Columns) ([]Group, Stats, error) {
	if err := dataset.RequireExactly("summarize.original", original, []string{cols.Key}); err != nil {
		return nil, Stats{}, err
	}
	if err := dataset.RequireExactly("summarize.predictions", preds, []string{cols.Key, cols.Prob, cols.Class}); err != nil {
		return nil, Stats{}, err
	}

	counts := make(map[string]int)
	for _, k := range dataset.Column(original, cols.Key) {
		if k = normalizeKey(k); k != "" {
			counts[k]++
		}
	}

	type acc struct {
		rows, nProb, nClass int
		prob, class         float64
	}
	var stats Stats
	sums := make(map[string]*acc)
	excluded := make(map[string]bool)
	reasons := make(map[string]int)

	keys := dataset.Column(preds, cols.Key)
	probs := dataset.Floats(preds, cols.Prob)
	classes := dataset.Floats(preds, cols.Class)
	for i, k := range keys {
		k = normalizeKey(k)
		if k == "" {
			continue
		}
		probOK, classOK := finite(probs[i]), finite(classes[i])
		if !probOK {
			reasons[ReasonNonNumericProb]++
		}
		if !classOK {
			reasons[ReasonNonNumericClass]++
		}
		if !probOK && !classOK {
			stats.DroppedRows++
			continue
		}
		if _, ok := counts[k]; !ok {
			stats.ExcludedRows++
			excluded[k] = true
			continue
		}
		a, ok := sums[k]
		if !ok {
			a = &acc{}
			sums[k] = a
		}
		a.rows++
		if probOK {
			a.nProb++
			a.prob += probs[i]
		}
		if classOK {
			a.nClass++
			a.class += classes[i]
		}
	}
	if len(reasons) > 0 {
		stats.SkippedCells = reasons
		errors.Warn(errors.NewDataQualityWarning("summarize.predictions", stats.DroppedRows, len(keys), reasons))
	}
	for k := range excluded {
		stats.ExcludedKeys = append(stats.ExcludedKeys, k)
	}
	sort.Strings(stats.ExcludedKeys)

	groups := make([]Group, 0, len(counts))
	for k, n := range counts {
		g := Group{Key: k, NObs: n, MeanProb: math.NaN(), PctClass: math.NaN()}
		a, ok := sums[k]
		if !ok {
			stats.Uncovered = append(stats.Uncovered, k)
			groups = append(groups, g)
			continue
		}
		g.NPred, g.NProb, g.NClass = a.rows, a.nProb, a.nClass
		if a.nProb > 0 {
			g.MeanProb = a.prob / float64(a.nProb)
		}
		if a.nClass > 0 {
			g.PctClass = a.class / float64(a.nClass)
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	sort.Strings(stats.Uncovered)
	return groups, stats, nil
}

// Frame renders groups as key, n_obs, mean_<prob>, pct_<class>. Undefined
// statistics become empty cells.
func Frame(groups []Group, cols Columns) dataframe.DataFrame {
	keys := make([]string, len(groups))
	nobs := make([]string, len(groups))
	means := make([]string, len(groups))
	pcts := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = g.Key
		nobs[i] = strconv.Itoa(g.NObs)
		means[i] = formatStat(g.MeanProb)
		pcts[i] = formatStat(g.PctClass)
	}
	return dataframe.New(
		series.New(keys, series.String, cols.Key),
		series.New(nobs, series.String, CountColumn),
		series.New(means, series.String, cols.MeanColumn()),
		series.New(pcts, series.String, cols.PctColumn()),
	)
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// normalizeKey maps NA cells to the empty key, which is not a group.
func normalizeKey(k string) string {
	if dataset.IsMissing(k) {
		return ""
	}
	return k
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Package report renders training diagnostics as PNG charts.
package report

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/metrics"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// Chart file names written next to the model.
const (
	ImportanceFile    = "feature_importance.png"
	ROCFile           = "roc_curve.png"
	LearningCurveFile = "learning_curve.png"
)

// ErrSingleClass is returned by ROCCurvePNG when the labels hold one class.
var ErrSingleClass = errors.New("report: ROC curve needs both classes")

// FeatureImportancePNG draws a horizontal bar per feature, largest gain on top.
func FeatureImportancePNG(path string, names []string, gain []float64) error {
	if len(names) == 0 || len(names) != len(gain) {
		return errors.NewDimensionError("report.FeatureImportancePNG", len(names), len(gain), 0)
	}
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	// ascending so the largest bar lands at the top of the y axis
	sort.SliceStable(order, func(a, b int) bool { return gain[order[a]] < gain[order[b]] })

	values := make(plotter.Values, len(order))
	labels := make([]string, len(order))
	for k, i := range order {
		values[k] = gain[i]
		labels[k] = names[i]
	}

	p := plot.New()
	p.Title.Text = "Feature importance"
	p.X.Label.Text = "Gain"

	bars, err := plotter.NewBarChart(values, vg.Points(14))
	if err != nil {
		return errors.Wrap(err, "build bar chart")
	}
	bars.Horizontal = true
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalY(labels...)

	height := vg.Length(len(labels))*0.35*vg.Inch + 1.5*vg.Inch
	return save(p, 7*vg.Inch, height, path)
}

// ROCCurvePNG draws the holdout ROC curve against the chance diagonal.
func ROCCurvePNG(path string, yTrue, yProb []float64) error {
	if len(yTrue) == 0 || len(yTrue) != len(yProb) {
		return errors.NewDimensionError("report.ROCCurvePNG", len(yTrue), len(yProb), 0)
	}
	fpr, tpr, err := metrics.ROCCurve(mat.NewVecDense(len(yTrue), yTrue), mat.NewVecDense(len(yProb), yProb))
	if err != nil {
		return err
	}
	if fpr == nil {
		return ErrSingleClass
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("ROC curve (AUC = %.4f)", metrics.AUCScore(yTrue, yProb))
	p.X.Label.Text = "False positive rate"
	p.Y.Label.Text = "True positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	curve := make(plotter.XYs, len(fpr))
	for i := range fpr {
		curve[i].X = fpr[i]
		curve[i].Y = tpr[i]
	}
	chance := plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}}
	if err := plotutil.AddLines(p, "model", curve, "chance", chance); err != nil {
		return errors.Wrap(err, "add ROC lines")
	}
	return save(p, 5*vg.Inch, 5*vg.Inch, path)
}

// LearningCurvePNG plots one metric per boosting round for every evaluated set.
// NaN rounds are skipped.
func LearningCurvePNG(path string, history model.History, metric string) error {
	sets := make([]string, 0, len(history))
	for set := range history {
		if len(history[set][metric]) > 0 {
			sets = append(sets, set)
		}
	}
	if len(sets) == 0 {
		return errors.NewValueError("report.LearningCurvePNG", "no values recorded for "+metric)
	}
	sort.Strings(sets)

	p := plot.New()
	p.Title.Text = "Learning curve"
	p.X.Label.Text = "Boosting round"
	p.Y.Label.Text = metric

	var lines []interface{}
	for _, set := range sets {
		values := history[set][metric]
		pts := make(plotter.XYs, 0, len(values))
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(i + 1), Y: v})
		}
		if len(pts) > 0 {
			lines = append(lines, set, pts)
		}
	}
	if len(lines) == 0 {
		return errors.NewValueError("report.LearningCurvePNG", "no finite values recorded for "+metric)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrap(err, "add learning curve")
	}
	return save(p, 8*vg.Inch, 4*vg.Inch, path)
}

func save(p *plot.Plot, w, h vg.Length, path string) error {
	if err := p.Save(w, h, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

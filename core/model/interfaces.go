// Package model defines the black-box classifier contract shared by the
// booster backends and the batch jobs.
//
// A Trainer fits a binary classifier on a training Dataset while watching a
// validation Dataset for early stopping. The resulting Model scores rows whose
// columns follow FeatureName() order exactly; it has no column-name awareness.
package model

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// ImportanceType selects how FeatureImportance ranks features.
type ImportanceType string

const (
	// ImportanceGain is the cumulative loss reduction of splits on a feature.
	ImportanceGain ImportanceType = "gain"
	// ImportanceSplit is the number of splits that use a feature.
	ImportanceSplit ImportanceType = "split"
)

// Dataset is a dense feature matrix with optional binary labels.
// Categorical columns hold integer level codes; NaN marks a missing value.
type Dataset struct {
	X            *mat.Dense
	Y            []float64 // nil at inference
	FeatureNames []string
	Categorical  []int // column indices of categorical features
}

// Rows returns the number of rows in the dataset.
func (d *Dataset) Rows() int {
	if d == nil || d.X == nil || d.X.IsEmpty() {
		return 0
	}
	r, _ := d.X.Dims()
	return r
}

// IsCategorical reports whether column j is categorical.
func (d *Dataset) IsCategorical(j int) bool {
	for _, c := range d.Categorical {
		if c == j {
			return true
		}
	}
	return false
}

// Subset copies the rows at idx, in idx order, into a new Dataset.
func (d *Dataset) Subset(idx []int) *Dataset {
	_, c := d.X.Dims()
	X := mat.NewDense(len(idx), c, nil)
	var y []float64
	if d.Y != nil {
		y = make([]float64, len(idx))
	}
	for k, i := range idx {
		X.SetRow(k, d.X.RawRowView(i))
		if y != nil {
			y[k] = d.Y[i]
		}
	}
	return &Dataset{X: X, Y: y, FeatureNames: d.FeatureNames, Categorical: d.Categorical}
}

// History records per-round metric values: set name ("train", "valid") to
// metric name to values, one per completed round.
type History map[string]map[string][]float64

// Append adds one round value for set/metric.
func (h History) Append(set, metric string, v float64) {
	m, ok := h[set]
	if !ok {
		m = make(map[string][]float64)
		h[set] = m
	}
	m[metric] = append(m[metric], v)
}

// Model is a trained binary classifier.
type Model interface {
	// Predict returns the positive-class probability for each row of X.
	Predict(X mat.Matrix) ([]float64, error)

	// FeatureName returns the ordered feature names the model was trained on.
	FeatureName() []string

	// FeatureImportance returns one score per feature in FeatureName order.
	FeatureImportance(kind ImportanceType) ([]float64, error)

	// BestIteration is the 1-based best validation round the model was cut
	// back to, or 0 when no round was selected.
	BestIteration() int

	// Save writes the model artifact to path.
	Save(path string) error
}

// Trainer fits a Model.
type Trainer interface {
	Train(ctx context.Context, train, valid *Dataset, params Params) (Model, History, error)
}

// Backend bundles a trainer with the loader for the artifacts it writes.
type Backend struct {
	Name string

	// ArtifactName is the model file name inside the output directory.
	ArtifactName string

	Trainer Trainer
	Load    func(path string) (Model, error)
}

// Package stubmodel is a deterministic stand-in booster for job tests.
package stubmodel

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/metrics"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// Name is the backend name reported by Backend.
const Name = "stub"

// ArtifactName is the file the stub model is saved to.
const ArtifactName = "stub_model.json"

// Model scores sigmoid(bias + sum(w_j * x_j)); missing values contribute 0.
type Model struct {
	Names   []string  `json:"feature_names"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Best    int       `json:"best_iteration"`
}

var _ model.Model = (*Model)(nil)

// Predict implements model.Model.
func (m *Model) Predict(X mat.Matrix) ([]float64, error) {
	r, c := X.Dims()
	if c != len(m.Weights) {
		return nil, errors.NewDimensionError("stubmodel.Predict", len(m.Weights), c, 1)
	}
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		z := m.Bias
		for j := 0; j < c; j++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				z += m.Weights[j] * v
			}
		}
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out, nil
}

// FeatureName implements model.Model.
func (m *Model) FeatureName() []string { return m.Names }

// FeatureImportance reports |w| as gain and one split per non-zero weight.
func (m *Model) FeatureImportance(kind model.ImportanceType) ([]float64, error) {
	out := make([]float64, len(m.Weights))
	for j, w := range m.Weights {
		switch kind {
		case model.ImportanceGain:
			out[j] = math.Abs(w)
		case model.ImportanceSplit:
			if w != 0 {
				out[j] = 1
			}
		default:
			return nil, errors.NewValidationError("importance_type", "must be gain or split", kind)
		}
	}
	return out, nil
}

// BestIteration implements model.Model.
func (m *Model) BestIteration() int { return m.Best }

// Save implements model.Model.
func (m *Model) Save(path string) error { return model.SaveJSON(m, path) }

// Load reads a model written by Save.
func Load(path string) (model.Model, error) {
	var m Model
	if err := model.LoadJSON(&m, path); err != nil {
		return nil, err
	}
	return &m, nil
}

// Trainer returns fixed weights and a synthetic metric history of Rounds rounds.
type Trainer struct {
	Weights []float64 // defaults to 1/(j+1) per feature
	Rounds  int
	Best    int
	Err     error

	// Seen holds the datasets of the last Train call.
	SeenTrain, SeenValid *model.Dataset
}

var _ model.Trainer = (*Trainer)(nil)

// Train implements model.Trainer.
func (t *Trainer) Train(ctx context.Context, train, valid *model.Dataset, params model.Params) (model.Model, model.History, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if t.Err != nil {
		return nil, nil, t.Err
	}
	t.SeenTrain, t.SeenValid = train, valid

	_, c := train.X.Dims()
	w := t.Weights
	if w == nil {
		w = make([]float64, c)
		for j := range w {
			w[j] = 1 / float64(j+1)
		}
	}
	m := &Model{Names: append([]string(nil), train.FeatureNames...), Weights: w, Best: t.Best}

	rounds := t.Rounds
	if rounds == 0 {
		rounds = 3
	}
	history := model.History{}
	for _, set := range []struct {
		name string
		data *model.Dataset
	}{{"train", train}, {"valid", valid}} {
		if set.data == nil {
			continue
		}
		prob, err := m.Predict(set.data.X)
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < rounds; i++ {
			history.Append(set.name, model.MetricBinaryLogloss, metrics.LogLossScore(set.data.Y, prob)+float64(rounds-i)*0.01)
			history.Append(set.name, model.MetricAUC, metrics.AUCScore(set.data.Y, prob))
		}
	}
	return m, history, nil
}

// Backend wraps t as a model.Backend.
func Backend(t *Trainer) *model.Backend {
	return &model.Backend{Name: Name, ArtifactName: ArtifactName, Trainer: t, Load: Load}
}

package lightgbm

import (
	"math"

	"github.com/YuminosukeSato/otpboost/core/model"
)

// EarlyStopping tracks the best validation score of one metric.
type EarlyStopping struct {
	Rounds          int     // Number of rounds without improvement to stop
	BestScore       float64 // Best validation score so far
	BestIteration   int     // 1-based round with the best score, 0 before any score
	RoundsNoImprove int     // Current rounds without improvement
	DataName        string  // Evaluation set to watch
	Metric          string  // Metric to use for early stopping
	Minimize        bool    // Whether to minimize the metric
	Enabled         bool    // Whether early stopping is enabled
	Stopped         bool    // Whether training was stopped early
}

// NewEarlyStopping creates a new early stopping handler watching metric on dataName.
func NewEarlyStopping(rounds int, dataName, metric string) *EarlyStopping {
	if rounds <= 0 {
		return &EarlyStopping{Enabled: false}
	}

	minimize := metric != model.MetricAUC
	bestScore := math.Inf(1)
	if !minimize {
		bestScore = math.Inf(-1)
	}

	return &EarlyStopping{
		Rounds:    rounds,
		BestScore: bestScore,
		DataName:  dataName,
		Metric:    metric,
		Minimize:  minimize,
		Enabled:   true,
	}
}

// Update records the score of a 1-based iteration and reports whether to stop.
// NaN scores (AUC on a single-class holdout) neither improve nor count.
func (es *EarlyStopping) Update(iteration int, score float64) bool {
	if !es.Enabled || math.IsNaN(score) {
		return false
	}

	improved := score > es.BestScore
	if es.Minimize {
		improved = score < es.BestScore
	}

	if improved {
		es.BestScore = score
		es.BestIteration = iteration
		es.RoundsNoImprove = 0
	} else {
		es.RoundsNoImprove++
	}

	if es.RoundsNoImprove >= es.Rounds {
		es.Stopped = true
	}
	return es.Stopped
}

// BestRound returns the 1-based round with the best finite value of metric
// in scores, or 0 when there is none. Ties keep the earliest round.
func BestRound(scores []float64, metric string) int {
	es := NewEarlyStopping(len(scores)+1, ValidSetName, metric)
	for i, v := range scores {
		es.Update(i+1, v)
	}
	return es.BestIteration
}

// Callback adapts the handler to the training callback chain.
func (es *EarlyStopping) Callback() Callback {
	return func(env *CallbackEnv) error {
		for _, r := range env.EvalResults {
			if r.DataName == es.DataName && r.MetricName == es.Metric {
				if es.Update(env.Iteration+1, r.Value) {
					env.StopTraining = true
				}
				break
			}
		}
		return nil
	}
}

package lightgbm

import (
	"math"
	"time"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/log"
)

// EvalResult is one metric value of one evaluation set after a round.
type EvalResult struct {
	DataName   string
	MetricName string
	Value      float64
}

// CallbackEnv contains the environment for callbacks
type CallbackEnv struct {
	Iteration    int // 0-based
	BeginTime    time.Time
	EndTime      time.Time
	EvalResults  []EvalResult
	StopTraining bool
}

// Callback is a function that can be called during training
type Callback func(env *CallbackEnv) error

// LogEvaluation logs evaluation results every period rounds. NaN values are logged as n/a.
func LogEvaluation(logger log.Logger, period int) Callback {
	return func(env *CallbackEnv) error {
		if period <= 0 || (env.Iteration+1)%period != 0 {
			return nil
		}
		fields := []any{log.IterationKey, env.Iteration + 1}
		for _, r := range env.EvalResults {
			key := r.DataName + "." + r.MetricName
			if math.IsNaN(r.Value) {
				fields = append(fields, key, "n/a")
			} else {
				fields = append(fields, key, r.Value)
			}
		}
		logger.Info("Boosting round", fields...)
		return nil
	}
}

// RecordEvaluation appends every result to history.
func RecordEvaluation(history model.History) Callback {
	return func(env *CallbackEnv) error {
		for _, r := range env.EvalResults {
			history.Append(r.DataName, r.MetricName, r.Value)
		}
		return nil
	}
}

// TimeLimit stops training after a specified duration
func TimeLimit(maxDuration time.Duration) Callback {
	startTime := time.Now()
	return func(env *CallbackEnv) error {
		if time.Since(startTime) > maxDuration {
			env.StopTraining = true
		}
		return nil
	}
}

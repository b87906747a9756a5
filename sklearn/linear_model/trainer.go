package linear_model

import (
	"context"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/log"
)

// Trainer adapts LogisticRegression to the boosting parameter set:
// num_boost_round caps the epochs, early_stopping_rounds is the holdout
// patience and lambda_l2 is the coefficient penalty.
type Trainer struct {
	// LearningRate is the base gradient step, independent of the boosting shrinkage.
	LearningRate float64

	logger log.Logger
}

var _ model.Trainer = (*Trainer)(nil)

// NewTrainer returns a logistic regression trainer.
func NewTrainer(logger log.Logger) *Trainer {
	if logger == nil {
		logger = log.GetLoggerWithName("logistic")
	}
	return &Trainer{LearningRate: 0.5, logger: logger}
}

// Train implements model.Trainer.
func (t *Trainer) Train(ctx context.Context, train, valid *model.Dataset, params model.Params) (model.Model, model.History, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	lr := NewLogisticRegression(
		WithLRLearningRate(t.LearningRate),
		WithLRMaxIter(params.NumBoostRound),
		WithLRL2(params.LambdaL2),
		WithLREarlyStopping(params.EarlyStoppingRounds),
		WithLRLogger(t.logger, params.LogPeriod),
	)
	history, err := lr.Fit(ctx, train, valid)
	if err != nil {
		return nil, nil, err
	}
	return lr, history, nil
}

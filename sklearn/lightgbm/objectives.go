package lightgbm

import (
	"math"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// ObjectiveFunction defines the per-sample derivatives of a boosting loss.
type ObjectiveFunction interface {
	// CalculateGradient calculates the gradient for a single sample
	CalculateGradient(prediction, target float64) float64

	// CalculateHessian calculates the hessian for a single sample
	CalculateHessian(prediction, target float64) float64

	// CalculateLoss calculates the loss for a single sample
	CalculateLoss(prediction, target float64) float64

	// GetInitScore returns the initial raw score for this objective
	GetInitScore(targets []float64) float64

	// Transform maps a raw score to the output scale
	Transform(raw float64) float64

	// Name returns the name of the objective
	Name() string
}

// BinaryLogLoss implements the binary logistic objective on raw log-odds.
type BinaryLogLoss struct{}

// NewBinaryLogLoss returns the binary logistic objective.
func NewBinaryLogLoss() *BinaryLogLoss {
	return &BinaryLogLoss{}
}

func (o *BinaryLogLoss) CalculateGradient(prediction, target float64) float64 {
	return sigmoid(prediction) - target
}

func (o *BinaryLogLoss) CalculateHessian(prediction, target float64) float64 {
	p := sigmoid(prediction)
	return math.Max(p*(1-p), 1e-16)
}

func (o *BinaryLogLoss) CalculateLoss(prediction, target float64) float64 {
	p := errors.ClipProbability(sigmoid(prediction))
	if target == 1 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

// GetInitScore returns the log-odds of the positive rate.
func (o *BinaryLogLoss) GetInitScore(targets []float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	var pos float64
	for _, t := range targets {
		pos += t
	}
	p := errors.ClipProbability(pos / float64(len(targets)))
	return math.Log(p / (1 - p))
}

func (o *BinaryLogLoss) Transform(raw float64) float64 {
	return sigmoid(raw)
}

func (o *BinaryLogLoss) Name() string {
	return "binary"
}

// CreateObjectiveFunction returns the objective registered under name.
func CreateObjectiveFunction(name string) (ObjectiveFunction, error) {
	switch name {
	case "binary":
		return NewBinaryLogLoss(), nil
	default:
		return nil, errors.NewValidationError("objective", "unsupported objective", name)
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

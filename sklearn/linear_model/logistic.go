package linear_model

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/metrics"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/preprocessing"
)

// ModelFile is the artifact name of a logistic model.
const ModelFile = "logistic.json"

const modelType = "LogisticRegression"

// LogisticRegression is a binary logistic regression fitted by full-batch
// gradient descent on standardized numeric and one-hot categorical features.
type LogisticRegression struct {
	state *model.StateManager

	// Hyperparameters
	learningRate  float64 // Base step size
	l2            float64 // L2 penalty on coefficients
	maxIter       int     // Maximum epochs
	earlyStopping int     // Epochs without holdout improvement before stopping
	logPeriod     int
	tol           float64 // Stop when the train loss changes less than tol
	logger        log.Logger

	// Model parameters
	featureNames []string
	categorical  []int
	scaler       *preprocessing.StandardScaler
	encoder      *preprocessing.OneHotEncoder
	coef         []float64 // One per encoded column
	intercept    float64
	bestIter     int
	nIter        int
}

var _ model.Model = (*LogisticRegression)(nil)

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		learningRate: 0.5,
		maxIter:      1000,
		tol:          1e-9,
		logger:       log.GetLoggerWithName("logistic"),
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRLearningRate sets the base gradient step.
func WithLRLearningRate(rate float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.learningRate = rate
	}
}

// WithLRL2 sets the L2 penalty.
func WithLRL2(l2 float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.l2 = l2
	}
}

// WithLRMaxIter sets the maximum number of epochs.
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLREarlyStopping stops after rounds epochs without holdout log-loss improvement.
func WithLREarlyStopping(rounds int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.earlyStopping = rounds
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRLogger sets the logger and the logging period in epochs.
func WithLRLogger(logger log.Logger, period int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.logger = logger
		lr.logPeriod = period
	}
}

// Fit trains on train, watching valid log-loss for early stopping when valid
// is non-nil. The returned history holds binary_logloss and auc per epoch.
func (lr *LogisticRegression) Fit(ctx context.Context, train, valid *model.Dataset) (history model.History, err error) {
	defer errors.Recover(&err, "LogisticRegression.Fit")

	nSamples := train.Rows()
	if nSamples == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	_, nFeatures := train.X.Dims()
	if len(train.Y) != nSamples {
		return nil, errors.NewDimensionError("LogisticRegression.Fit", nSamples, len(train.Y), 0)
	}
	for _, y := range train.Y {
		if y != 0 && y != 1 {
			return nil, errors.NewValueError("LogisticRegression.Fit", "labels must be 0 or 1")
		}
	}

	lr.featureNames = append([]string(nil), train.FeatureNames...)
	lr.categorical = append([]int(nil), train.Categorical...)
	var numeric []int
	for j := 0; j < nFeatures; j++ {
		if !train.IsCategorical(j) {
			numeric = append(numeric, j)
		}
	}
	lr.scaler = preprocessing.NewStandardScaler(numeric)
	lr.encoder = preprocessing.NewOneHotEncoder(lr.categorical)

	Xs, err := lr.scaler.FitTransform(train.X)
	if err != nil {
		return nil, err
	}
	Xt, err := lr.encoder.FitTransform(Xs)
	if err != nil {
		return nil, err
	}
	var Xv *mat.Dense
	if valid != nil && valid.Rows() > 0 {
		if Xv, err = lr.transform(valid.X); err != nil {
			return nil, err
		}
	}

	_, width := Xt.Dims()
	lr.coef = make([]float64, width)
	lr.intercept = 0
	lr.bestIter = 0
	history = make(model.History)
	logger := lr.logger.With(
		log.ModelNameKey, modelType,
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
	)
	start := time.Now()

	w := mat.NewVecDense(width, lr.coef)
	z := mat.NewVecDense(nSamples, nil)
	resid := mat.NewVecDense(nSamples, nil)
	grad := mat.NewVecDense(width, nil)
	prob := make([]float64, nSamples)

	bestLoss := math.Inf(1)
	bestCoef := make([]float64, width)
	bestIntercept := 0.0
	var bestIter, sinceBest int
	prevLoss := math.Inf(1)
	stopped := false

	for iter := 0; iter < lr.maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "epoch %d", iter+1)
		}

		// z = Xw + b, resid = sigmoid(z) - y
		z.MulVec(Xt, w)
		var gradIntercept float64
		for i := 0; i < nSamples; i++ {
			prob[i] = sigmoid(z.AtVec(i) + lr.intercept)
			r := prob[i] - train.Y[i]
			resid.SetVec(i, r)
			gradIntercept += r
		}
		grad.MulVec(Xt.T(), resid)
		grad.ScaleVec(1/float64(nSamples), grad)
		if lr.l2 > 0 {
			grad.AddScaledVec(grad, lr.l2, w)
		}
		gradIntercept /= float64(nSamples)

		step := lr.learningRate / (1.0 + 0.01*float64(iter))
		w.AddScaledVec(w, -step, grad)
		lr.intercept -= step * gradIntercept
		lr.nIter = iter + 1

		if err := errors.CheckNumericalStability("LogisticRegression.Fit", lr.coef, iter); err != nil {
			return nil, err
		}

		trainProb := lr.predictEncoded(Xt)
		trainLoss := metrics.LogLossScore(train.Y, trainProb)
		history.Append("train", model.MetricBinaryLogloss, trainLoss)
		history.Append("train", model.MetricAUC, metrics.AUCScore(train.Y, trainProb))

		validLoss := math.NaN()
		if Xv != nil {
			validProb := lr.predictEncoded(Xv)
			validLoss = metrics.LogLossScore(valid.Y, validProb)
			history.Append("valid", model.MetricBinaryLogloss, validLoss)
			history.Append("valid", model.MetricAUC, metrics.AUCScore(valid.Y, validProb))
		}

		if lr.logPeriod > 0 && (iter+1)%lr.logPeriod == 0 {
			logger.Info("Epoch", log.IterationKey, iter+1, log.LossKey, trainLoss)
		}

		if Xv != nil && lr.earlyStopping > 0 {
			if validLoss < bestLoss {
				bestLoss = validLoss
				copy(bestCoef, lr.coef)
				bestIntercept = lr.intercept
				bestIter = iter + 1
				sinceBest = 0
			} else if sinceBest++; sinceBest >= lr.earlyStopping {
				stopped = true
				break
			}
		}
		if math.Abs(prevLoss-trainLoss) < lr.tol {
			break
		}
		prevLoss = trainLoss
	}

	// restore the best holdout epoch however the loop ended
	if bestIter > 0 {
		copy(lr.coef, bestCoef)
		lr.intercept = bestIntercept
		lr.bestIter = bestIter
		msg := "Best epoch kept"
		if stopped {
			msg = "Early stopping"
		}
		logger.Info(msg, log.BestIterationKey, bestIter)
	}
	lr.state.SetFitted(nFeatures, nSamples)
	logger.Info("Training completed",
		"epochs", lr.nIter,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return history, nil
}

func (lr *LogisticRegression) transform(X mat.Matrix) (*mat.Dense, error) {
	Xs, err := lr.scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return lr.encoder.Transform(Xs)
}

func (lr *LogisticRegression) predictEncoded(X *mat.Dense) []float64 {
	rows, _ := X.Dims()
	z := mat.NewVecDense(rows, nil)
	z.MulVec(X, mat.NewVecDense(len(lr.coef), lr.coef))
	out := make([]float64, rows)
	for i := range out {
		out[i] = sigmoid(z.AtVec(i) + lr.intercept)
	}
	return out
}

// Predict returns the positive-class probability for each row of X.
func (lr *LogisticRegression) Predict(X mat.Matrix) ([]float64, error) {
	if err := lr.state.RequireFitted(modelType, "Predict"); err != nil {
		return nil, err
	}
	if err := lr.state.CheckFeatures("LogisticRegression.Predict", colsOf(X)); err != nil {
		return nil, err
	}
	if rows, _ := X.Dims(); rows == 0 {
		return []float64{}, nil
	}
	Xt, err := lr.transform(X)
	if err != nil {
		return nil, err
	}
	return lr.predictEncoded(Xt), nil
}

func colsOf(X mat.Matrix) int {
	if d, ok := X.(*mat.Dense); ok && d.IsEmpty() {
		return 0
	}
	_, c := X.Dims()
	return c
}

// FeatureName returns the training feature order.
func (lr *LogisticRegression) FeatureName() []string {
	return append([]string(nil), lr.featureNames...)
}

// BestIteration is the 1-based best holdout epoch restored after Fit, or 0
// when early stopping was not configured.
func (lr *LogisticRegression) BestIteration() int {
	return lr.bestIter
}

// Coefficients returns the encoded-column coefficients and the intercept.
func (lr *LogisticRegression) Coefficients() ([]float64, float64) {
	return append([]float64(nil), lr.coef...), lr.intercept
}

// FeatureImportance folds encoded coefficients back onto input features:
// gain is the sum of |coef|, split is the count of non-zero coefficients.
func (lr *LogisticRegression) FeatureImportance(kind model.ImportanceType) ([]float64, error) {
	if err := lr.state.RequireFitted(modelType, "FeatureImportance"); err != nil {
		return nil, err
	}
	if kind != model.ImportanceGain && kind != model.ImportanceSplit {
		return nil, errors.NewValidationError("importance_type", "must be gain or split", kind)
	}
	imp := make([]float64, len(lr.featureNames))
	for k, src := range lr.encoder.SourceIndex() {
		c := lr.coef[k]
		if kind == model.ImportanceGain {
			imp[src] += math.Abs(c)
		} else if c != 0 {
			imp[src]++
		}
	}
	return imp, nil
}

// Save writes the model as ModelWeights JSON.
func (lr *LogisticRegression) Save(path string) error {
	if err := lr.state.RequireFitted(modelType, "Save"); err != nil {
		return err
	}
	w := &model.ModelWeights{
		ModelType:    modelType,
		Version:      model.WeightsVersion,
		Coefficients: lr.coef,
		Intercept:    lr.intercept,
		Features:     lr.featureNames,
		Hyperparameters: map[string]interface{}{
			"learning_rate":  lr.learningRate,
			"l2":             lr.l2,
			"max_iter":       lr.maxIter,
			"early_stopping": lr.earlyStopping,
			"n_iter":         lr.nIter,
		},
		BestIteration: lr.bestIter,
		IsFitted:      true,
	}
	for key, v := range map[string]interface{}{
		"categorical": lr.categorical,
		"scaler":      lr.scaler,
		"encoder":     lr.encoder,
	} {
		if err := w.SetMeta(key, v); err != nil {
			return err
		}
	}
	if err := model.SaveJSON(w, path); err != nil {
		return errors.NewModelError("LogisticRegression.Save", "persistence", err)
	}
	return nil
}

// LoadLogisticRegression reads a model written by Save.
func LoadLogisticRegression(path string) (*LogisticRegression, error) {
	var w model.ModelWeights
	if err := model.LoadJSON(&w, path); err != nil {
		return nil, errors.NewModelError("LogisticRegression.Load", "persistence", err)
	}
	if err := w.Validate(); err != nil {
		return nil, errors.NewModelError("LogisticRegression.Load", "validation", err)
	}
	if w.ModelType != modelType {
		return nil, errors.NewModelError("LogisticRegression.Load", "validation",
			errors.Newf("model_type %q is not %s", w.ModelType, modelType))
	}

	lr := NewLogisticRegression()
	lr.featureNames = w.Features
	lr.coef = w.Coefficients
	lr.intercept = w.Intercept
	lr.bestIter = w.BestIteration
	lr.scaler = &preprocessing.StandardScaler{}
	lr.encoder = &preprocessing.OneHotEncoder{}
	for key, v := range map[string]interface{}{
		"categorical": &lr.categorical,
		"scaler":      lr.scaler,
		"encoder":     lr.encoder,
	} {
		if err := w.GetMeta(key, v); err != nil {
			return nil, errors.NewModelError("LogisticRegression.Load", "validation", err)
		}
	}
	if !lr.scaler.IsFitted() || !lr.encoder.IsFitted() || lr.encoder.OutputWidth() != len(lr.coef) {
		return nil, errors.NewModelError("LogisticRegression.Load", "validation",
			errors.New("preprocessing state does not match coefficients"))
	}
	lr.state.SetFitted(len(lr.featureNames), 0)
	return lr, nil
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

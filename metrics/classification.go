package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// logLossEps はlog(0)を避けるための確率のクリップ幅
const logLossEps = 1e-15

// checkBinaryPair は二値ラベルと予測値のベクトルを検証する
func checkBinaryPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "nil vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	for i := 0; i < n; i++ {
		if v := yTrue.AtVec(i); v != 0 && v != 1 {
			return 0, errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	return n, nil
}

// AUC はROC曲線下面積を計算する。
// 正例・負例のどちらかしか存在しない場合はNaNを返し、UndefinedMetricWarningを発生させる。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	fpr, tpr, err := ROCCurve(yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if fpr == nil {
		return math.NaN(), nil
	}
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ROCCurve は偽陽性率と真陽性率の列を閾値の降順で返す。
// 片方のクラスしか存在しない場合は (nil, nil, nil) を返し警告を出す。
func ROCCurve(yTrue, yScore *mat.VecDense) (fpr, tpr []float64, err error) {
	n, err := checkBinaryPair("ROCCurve", yTrue, yScore)
	if err != nil {
		return nil, nil, err
	}

	yt := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		yt[i] = yTrue.AtVec(i)
		ys[i] = yScore.AtVec(i)
	}
	fpr, tpr = rocPoints(yt, ys)
	if fpr == nil {
		errors.Warn(errors.NewUndefinedMetricWarning("auc", "only one class present in y_true", math.NaN()))
		return nil, nil, nil
	}
	return fpr, tpr, nil
}

// AUCScore は検証済みのスライスに対してAUCを計算する。
// 学習ループの各ラウンドで使うため、単一クラスの場合も警告は出さずNaNを返す。
func AUCScore(yTrue, yScore []float64) float64 {
	fpr, tpr := rocPoints(yTrue, yScore)
	if fpr == nil {
		return math.NaN()
	}
	return integrate.Trapezoidal(fpr, tpr)
}

// LogLossScore は検証済みのスライスに対して対数損失を計算する
func LogLossScore(yTrue, yProb []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var sum float64
	for i, y := range yTrue {
		p := errors.ClipValue(yProb[i], logLossEps, 1-logLossEps)
		if y == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(yTrue))
}

func rocPoints(yTrue, yScore []float64) (fpr, tpr []float64) {
	n := len(yTrue)
	// stat.ROCはスコアの昇順を要求する
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yScore[idx[a]] < yScore[idx[b]] })

	scores := make([]float64, n)
	classes := make([]bool, n)
	var pos int
	for k, i := range idx {
		scores[k] = yScore[i]
		classes[k] = yTrue[i] == 1
		if classes[k] {
			pos++
		}
	}
	if pos == 0 || pos == n {
		return nil, nil
	}
	tpr, fpr, _ = stat.ROC(nil, scores, classes, nil)
	return fpr, tpr
}

// AUCMatrix は行列形式の入力に対してAUCを計算する（先頭列を使用）
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	yt, ys, err := firstColumns("AUCMatrix", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return AUC(yt, ys)
}

func firstColumns(op string, a, b mat.Matrix) (*mat.VecDense, *mat.VecDense, error) {
	if a == nil || b == nil {
		return nil, nil, errors.NewValueError(op, "nil matrix")
	}
	if d, ok := a.(*mat.Dense); ok && d.IsEmpty() {
		return nil, nil, errors.NewValueError(op, "empty matrix")
	}
	if d, ok := b.(*mat.Dense); ok && d.IsEmpty() {
		return nil, nil, errors.NewValueError(op, "empty matrix")
	}
	ra, _ := a.Dims()
	rb, _ := b.Dims()
	if ra != rb {
		return nil, nil, errors.NewDimensionError(op, ra, rb, 0)
	}
	va := mat.NewVecDense(ra, nil)
	vb := mat.NewVecDense(rb, nil)
	for i := 0; i < ra; i++ {
		va.SetVec(i, a.At(i, 0))
		vb.SetVec(i, b.At(i, 0))
	}
	return va, vb, nil
}

// BinaryLogLoss は二値分類の対数損失を計算する。
// 確率は [eps, 1-eps] にクリップされる。
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkBinaryPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	yt := make([]float64, n)
	yp := make([]float64, n)
	for i := 0; i < n; i++ {
		yt[i] = yTrue.AtVec(i)
		yp[i] = yProb.AtVec(i)
	}
	return LogLossScore(yt, yp), nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError("Accuracy", "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("Accuracy", n, yPred.Len(), 0)
	}
	var correct int
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率（1 - Accuracy）を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// Threshold は確率を閾値で0/1に変換する。prob >= threshold が正例。
func Threshold(prob []float64, threshold float64) []float64 {
	out := make([]float64, len(prob))
	for i, p := range prob {
		if p >= threshold {
			out[i] = 1
		}
	}
	return out
}

// AccuracyAtThreshold は確率を閾値で二値化した後の正解率を計算する
func AccuracyAtThreshold(yTrue, yProb *mat.VecDense, threshold float64) (float64, error) {
	if yProb == nil {
		return 0, errors.NewValueError("AccuracyAtThreshold", "nil vector")
	}
	n := yProb.Len()
	if n == 0 {
		return 0, errors.NewValueError("AccuracyAtThreshold", "empty vector")
	}
	prob := make([]float64, n)
	for i := range prob {
		prob[i] = yProb.AtVec(i)
	}
	pred := Threshold(prob, threshold)
	return Accuracy(yTrue, mat.NewVecDense(n, pred))
}

// BinaryReport はホールドアウトの評価指標をまとめたもの
type BinaryReport struct {
	AUC      float64 // 片方のクラスのみの場合はNaN
	Accuracy float64
	LogLoss  float64
	N        int
}

// EvaluateBinary はAUC・正解率・対数損失をまとめて計算する
func EvaluateBinary(yTrue, yProb []float64, threshold float64) (BinaryReport, error) {
	if len(yTrue) == 0 {
		return BinaryReport{}, errors.NewValueError("EvaluateBinary", "empty vector")
	}
	if len(yTrue) != len(yProb) {
		return BinaryReport{}, errors.NewDimensionError("EvaluateBinary", len(yTrue), len(yProb), 0)
	}
	yt := mat.NewVecDense(len(yTrue), yTrue)
	yp := mat.NewVecDense(len(yProb), yProb)

	auc, err := AUC(yt, yp)
	if err != nil {
		return BinaryReport{}, err
	}
	acc, err := AccuracyAtThreshold(yt, yp, threshold)
	if err != nil {
		return BinaryReport{}, err
	}
	ll, err := BinaryLogLoss(yt, yp)
	if err != nil {
		return BinaryReport{}, err
	}
	return BinaryReport{AUC: auc, Accuracy: acc, LogLoss: ll, N: len(yTrue)}, nil
}

package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// StandardScaler は指定した列を平均0、標準偏差1に変換する。
// 欠損値（NaN）は統計量の計算から除外し、変換後は0（平均値）になる。
type StandardScaler struct {
	State *model.StateManager `json:"state"`

	// Columns は標準化する列（nilなら全列）
	Columns []int `json:"columns"`

	// Mean は各対象列の平均値
	Mean []float64 `json:"mean"`

	// Scale は各対象列の標準偏差
	Scale []float64 `json:"scale"`
}

// NewStandardScaler は columns を標準化するStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler([]int{0, 1})
//	XScaled, err := scaler.FitTransform(X)
func NewStandardScaler(columns []int) *StandardScaler {
	return &StandardScaler{
		State:   model.NewStateManager(),
		Columns: columns,
	}
}

func (s *StandardScaler) columns(nCols int) []int {
	if s.Columns != nil {
		return s.Columns
	}
	all := make([]int, nCols)
	for j := range all {
		all[j] = j
	}
	return all
}

// IsFitted は学習済みかどうかを返す
func (s *StandardScaler) IsFitted() bool {
	return s.State != nil && s.State.IsFitted()
}

// Fit は訓練データから平均と標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	cols := s.columns(c)
	s.Mean = make([]float64, len(cols))
	s.Scale = make([]float64, len(cols))

	for k, j := range cols {
		if j < 0 || j >= c {
			return errors.NewDimensionError("StandardScaler.Fit", c, j+1, 1)
		}
		values := make([]float64, 0, r)
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			s.Mean[k], s.Scale[k] = 0, 1
			continue
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		s.Mean[k] = mean
		s.Scale[k] = std
		// 標準偏差が0に近い場合は1に設定（ゼロ除算を避ける）
		if math.Abs(std) < 1e-8 {
			s.Scale[k] = 1.0
		}
	}

	if s.State == nil {
		s.State = model.NewStateManager()
	}
	s.State.SetFitted(c, r)
	return nil
}

// Transform は学習済みの統計量で対象列を標準化した新しい行列を返す
func (s *StandardScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "Transform")
	}
	r, c := X.Dims()
	if err := s.State.CheckFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.DenseCopyOf(X)
	for k, j := range s.columns(c) {
		for i := 0; i < r; i++ {
			v := result.At(i, j)
			if math.IsNaN(v) {
				result.Set(i, j, 0)
				continue
			}
			result.Set(i, j, (v-s.Mean[k])/s.Scale[k])
		}
	}
	return result, nil
}

// FitTransform はFitとTransformを連続して実行する
func (s *StandardScaler) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return "StandardScaler(fitted=false)"
	}
	nf, _ := s.State.GetDimensions()
	return fmt.Sprintf("StandardScaler(columns=%d, n_features=%d)", len(s.Mean), nf)
}

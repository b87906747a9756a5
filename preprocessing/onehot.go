package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// OneHotEncoder は整数コード化されたカテゴリ列を指示変数に展開する。
// 出力は非カテゴリ列を元の順序で並べた後、カテゴリ列ごとに
// Cardinality 個の指示変数を続ける。
// 欠損値と学習時に見ていないコードは全て0になる。
type OneHotEncoder struct {
	State *model.StateManager `json:"state"`

	// Columns は展開するカテゴリ列
	Columns []int `json:"columns"`

	// Cardinality は各カテゴリ列の水準数（最大コード+1）
	Cardinality []int `json:"cardinality"`
}

// NewOneHotEncoder は columns を展開するOneHotEncoderを作成する
func NewOneHotEncoder(columns []int) *OneHotEncoder {
	return &OneHotEncoder{
		State:   model.NewStateManager(),
		Columns: columns,
	}
}

// IsFitted は学習済みかどうかを返す
func (e *OneHotEncoder) IsFitted() bool {
	return e.State != nil && e.State.IsFitted()
}

// Fit は各カテゴリ列の水準数を求める
func (e *OneHotEncoder) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	e.Cardinality = make([]int, len(e.Columns))
	for k, j := range e.Columns {
		if j < 0 || j >= c {
			return errors.NewDimensionError("OneHotEncoder.Fit", c, j+1, 1)
		}
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			if v < 0 || v != math.Trunc(v) {
				return errors.NewValueError("OneHotEncoder.Fit", fmt.Sprintf("column %d holds a non-code value %v", j, v))
			}
			if int(v)+1 > e.Cardinality[k] {
				e.Cardinality[k] = int(v) + 1
			}
		}
	}
	if e.State == nil {
		e.State = model.NewStateManager()
	}
	e.State.SetFitted(c, r)
	return nil
}

// OutputWidth は変換後の列数を返す
func (e *OneHotEncoder) OutputWidth() int {
	nf, _ := e.State.GetDimensions()
	w := nf - len(e.Columns)
	for _, k := range e.Cardinality {
		w += k
	}
	return w
}

// SourceIndex は変換後の各列がどの入力列に由来するかを返す
func (e *OneHotEncoder) SourceIndex() []int {
	nf, _ := e.State.GetDimensions()
	isCat := make(map[int]bool, len(e.Columns))
	for _, j := range e.Columns {
		isCat[j] = true
	}
	src := make([]int, 0, e.OutputWidth())
	for j := 0; j < nf; j++ {
		if !isCat[j] {
			src = append(src, j)
		}
	}
	for k, j := range e.Columns {
		for c := 0; c < e.Cardinality[k]; c++ {
			src = append(src, j)
		}
	}
	return src
}

// Transform はカテゴリ列を展開した新しい行列を返す
func (e *OneHotEncoder) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	r, c := X.Dims()
	if err := e.State.CheckFeatures("OneHotEncoder.Transform", c); err != nil {
		return nil, err
	}
	isCat := make(map[int]bool, len(e.Columns))
	for _, j := range e.Columns {
		isCat[j] = true
	}

	out := mat.NewDense(r, e.OutputWidth(), nil)
	for i := 0; i < r; i++ {
		pos := 0
		for j := 0; j < c; j++ {
			if !isCat[j] {
				out.Set(i, pos, X.At(i, j))
				pos++
			}
		}
		for k, j := range e.Columns {
			v := X.At(i, j)
			if !math.IsNaN(v) && v >= 0 && v == math.Trunc(v) && int(v) < e.Cardinality[k] {
				out.Set(i, pos+int(v), 1)
			}
			pos += e.Cardinality[k]
		}
	}
	return out, nil
}

// FitTransform はFitとTransformを連続して実行する
func (e *OneHotEncoder) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := e.Fit(X); err != nil {
		return nil, err
	}
	return e.Transform(X)
}

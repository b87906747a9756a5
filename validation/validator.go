// Package validation enforces the feature schema on a loaded CSV frame.
//
// Missing columns are fatal. Rows whose numeric features (or label, when
// required) do not coerce to a finite number are dropped and counted; the
// count is surfaced as a DataQualityWarning rather than an error.
package validation

import (
	"math"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/core/schema"
	"github.com/YuminosukeSato/otpboost/dataset"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// ReasonNonBinaryLabel counts rows whose label parsed but is neither 0 nor 1.
const ReasonNonBinaryLabel = "non_binary_label"

// Options controls the validation mode.
type Options struct {
	// Op names the caller in errors and warnings.
	Op string

	// WithLabel requires, coerces and checks the label column (training).
	WithLabel bool

	// FitLevels fits category levels on the retained rows before encoding.
	// When false, the schema's fitted levels are used and unseen values are
	// encoded as missing. A schema without levels is fitted regardless.
	FitLevels bool
}

// Report summarizes what validation removed.
type Report struct {
	RowsIn  int `json:"rows_in"`
	RowsOut int `json:"rows_out"`

	// Dropped counts removed rows by the first failing column, or by
	// ReasonNonBinaryLabel.
	Dropped map[string]int `json:"dropped,omitempty"`

	// UnseenCategories counts categorical cells encoded as missing because
	// the value is not a fitted level.
	UnseenCategories map[string]int `json:"unseen_categories,omitempty"`
}

// DroppedTotal is the number of removed rows.
func (r Report) DroppedTotal() int { return r.RowsIn - r.RowsOut }

// UnseenTotal is the number of categorical cells encoded as missing.
func (r Report) UnseenTotal() int {
	var n int
	for _, v := range r.UnseenCategories {
		n += v
	}
	return n
}

// Result is a validated frame and its model-ready matrix.
type Result struct {
	// Frame holds the retained rows with every input column.
	Frame dataframe.DataFrame

	// Rows are the retained source row indices, ascending.
	Rows []int

	// Data has one column per feature in schema order and labels when
	// Options.WithLabel is set.
	Data *model.Dataset

	Report Report
}

// Check returns a SchemaError naming every required column absent from df.
func Check(op string, df dataframe.DataFrame, s *schema.Schema, withLabel bool) error {
	if withLabel && s.Label == "" {
		return errors.NewSchemaErrorf(op, "schema has no label column")
	}
	if missing := dataset.Missing(df, s.RequiredColumns(withLabel)); len(missing) > 0 {
		return errors.NewSchemaError(op, missing, nil)
	}
	return nil
}

// Validate applies the schema to df.
func Validate(df dataframe.DataFrame, s *schema.Schema, opts Options) (*Result, error) {
	if opts.Op == "" {
		opts.Op = "validation.Validate"
	}
	if err := Check(opts.Op, df, s, opts.WithLabel); err != nil {
		return nil, err
	}

	n := df.Nrow()
	report := Report{RowsIn: n, Dropped: make(map[string]int), UnseenCategories: make(map[string]int)}

	numeric := make([][]float64, len(s.Numeric))
	for j, name := range s.Numeric {
		numeric[j] = dataset.Floats(df, name)
	}
	var label []float64
	if opts.WithLabel {
		label = dataset.Floats(df, s.Label)
	}

	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if reason := rowDropReason(i, s, numeric, label); reason != "" {
			report.Dropped[reason]++
			continue
		}
		rows = append(rows, i)
	}
	report.RowsOut = len(rows)

	if dropped := report.DroppedTotal(); dropped > 0 {
		errors.Warn(errors.NewDataQualityWarning(opts.Op, dropped, n, report.Dropped))
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "%s: no rows left after validation (%d dropped)", opts.Op, n)
	}

	categorical := make([][]string, len(s.Categorical))
	for j, name := range s.Categorical {
		raw := dataset.Column(df, name)
		kept := make([]string, len(rows))
		for k, i := range rows {
			kept[k] = normalizeCategory(raw[i])
		}
		categorical[j] = kept
		if opts.FitLevels || !s.HasLevels() {
			s.SetLevels(name, kept)
		}
	}

	features := s.FeatureNames()
	X := mat.NewDense(len(rows), len(features), nil)
	for k, i := range rows {
		for j := range s.Numeric {
			X.Set(k, j, numeric[j][i])
		}
		for j, name := range s.Categorical {
			v := categorical[j][k]
			if v == "" {
				X.Set(k, len(s.Numeric)+j, math.NaN())
				continue
			}
			code, ok := s.Encode(name, v)
			if !ok {
				report.UnseenCategories[name]++
			}
			X.Set(k, len(s.Numeric)+j, code)
		}
	}

	data := &model.Dataset{
		X:            X,
		FeatureNames: features,
		Categorical:  s.CategoricalIndices(),
	}
	if opts.WithLabel {
		data.Y = make([]float64, len(rows))
		for k, i := range rows {
			data.Y[k] = label[i]
		}
	}

	frame := df
	if len(rows) < n {
		frame = df.Subset(rows)
		if frame.Err != nil {
			return nil, errors.Wrapf(frame.Err, "%s: subset rows", opts.Op)
		}
	}

	return &Result{Frame: frame, Rows: rows, Data: data, Report: report}, nil
}

func rowDropReason(i int, s *schema.Schema, numeric [][]float64, label []float64) string {
	for j, name := range s.Numeric {
		if !finite(numeric[j][i]) {
			return name
		}
	}
	if label == nil {
		return ""
	}
	switch y := label[i]; {
	case !finite(y):
		return s.Label
	case y != 0 && y != 1:
		return ReasonNonBinaryLabel
	}
	return ""
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// normalizeCategory maps NA cells to the empty (missing) value.
func normalizeCategory(v string) string {
	if dataset.IsMissing(v) {
		return ""
	}
	return v
}

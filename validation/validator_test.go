package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/otpboost/core/schema"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

func frame(t *testing.T, csv string) dataframe.DataFrame {
	t.Helper()
	df := dataframe.ReadCSV(strings.NewReader(csv),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	require.NoError(t, df.Err)
	return df
}

func newSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]string{"x1", "x2"}, []string{"route"}, "y")
	require.NoError(t, err)
	return s
}

func captureWarnings(t *testing.T) *[]error {
	t.Helper()
	var got []error
	errors.SetWarningHandler(func(w error) { got = append(got, w) })
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })
	return &got
}

func TestValidateDropsNonNumericRows(t *testing.T) {
	warnings := captureWarnings(t)
	// columns deliberately out of schema order
	df := frame(t, `route,y,x2,x1
A,1,2.0,1.0
B,0,abc,1.5
A,1,3.0,
C,NA,1.0,2.0
B,2,1.0,2.0
C,0,4.0,0.5
`)
	res, err := Validate(df, newSchema(t), Options{WithLabel: true, FitLevels: true})
	require.NoError(t, err)

	assert.Equal(t, 6, res.Report.RowsIn)
	assert.Equal(t, 2, res.Report.RowsOut)
	assert.Equal(t, 4, res.Report.DroppedTotal())
	assert.Equal(t, map[string]int{"x1": 1, "x2": 1, "y": 1, ReasonNonBinaryLabel: 1}, res.Report.Dropped)
	assert.Equal(t, []int{0, 5}, res.Rows)
	assert.Equal(t, 2, res.Frame.Nrow())

	// matrix columns follow schema order x1, x2, route
	assert.Equal(t, []float64{1.0, 2.0, 0}, rowOf(res, 0))
	assert.Equal(t, []float64{0.5, 4.0, 1}, rowOf(res, 1))
	assert.Equal(t, []float64{1, 0}, res.Data.Y)
	assert.Equal(t, []int{2}, res.Data.Categorical)

	require.Len(t, *warnings, 1)
	var dq *errors.DataQualityWarning
	require.True(t, errors.As((*warnings)[0], &dq))
	assert.Equal(t, 4, dq.Dropped)
}

func rowOf(res *Result, i int) []float64 {
	_, c := res.Data.X.Dims()
	out := make([]float64, c)
	for j := range out {
		out[j] = res.Data.X.At(i, j)
	}
	return out
}

func TestValidateRowCountProperty(t *testing.T) {
	captureWarnings(t)
	tests := []struct {
		name string
		csv  string
		bad  int
	}{
		{"all clean", "x1,x2,route,y\n1,2,A,0\n3,4,B,1\n", 0},
		{"one bad", "x1,x2,route,y\n1,2,A,0\nfoo,4,B,1\n5,6,A,1\n", 1},
		{"empty category is kept", "x1,x2,route,y\n1,2,,0\n3,4,B,1\n", 0},
		{"infinite value", "x1,x2,route,y\n1,+Inf,A,0\n3,4,B,1\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df := frame(t, tt.csv)
			res, err := Validate(df, newSchema(t), Options{WithLabel: true, FitLevels: true})
			require.NoError(t, err)
			assert.Equal(t, df.Nrow()-tt.bad, res.Report.RowsOut)
		})
	}
}

func TestValidateMissingColumnIsFatal(t *testing.T) {
	df := frame(t, "x1,route,y\n1,A,0\n")
	_, err := Validate(df, newSchema(t), Options{WithLabel: true})
	require.Error(t, err)

	var se *errors.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"x2"}, se.Missing)

	// label not required at inference
	df = frame(t, "x1,x2,route\n1,2,A\n")
	_, err = Validate(df, newSchema(t), Options{})
	assert.NoError(t, err)

	// but required at training
	_, err = Validate(df, newSchema(t), Options{WithLabel: true})
	assert.True(t, errors.IsSchemaError(err))
}

func TestValidateAllRowsDropped(t *testing.T) {
	captureWarnings(t)
	df := frame(t, "x1,x2,route,y\na,2,A,0\nb,4,B,1\n")
	_, err := Validate(df, newSchema(t), Options{WithLabel: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestValidateUnseenCategoryAtInference(t *testing.T) {
	s := newSchema(t)
	s.SetLevels("route", []string{"A", "B"})

	df := frame(t, "x1,x2,route\n1,2,B\n3,4,Z\n5,6,A\n")
	res, err := Validate(df, s, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Report.RowsOut)
	assert.Equal(t, 1.0, res.Data.X.At(0, 2))
	assert.True(t, math.IsNaN(res.Data.X.At(1, 2)))
	assert.Equal(t, 0.0, res.Data.X.At(2, 2))
	assert.Equal(t, map[string]int{"route": 1}, res.Report.UnseenCategories)
	assert.Equal(t, 1, res.Report.UnseenTotal())
	assert.Nil(t, res.Data.Y)
	// levels untouched
	assert.Equal(t, []string{"A", "B"}, s.Levels["route"])
}

func TestValidateFitsLevelsOnRetainedRows(t *testing.T) {
	captureWarnings(t)
	s := newSchema(t)
	df := frame(t, "x1,x2,route,y\n1,2,B,0\nbad,4,Z,1\n5,6,A,1\n")
	_, err := Validate(df, s, Options{WithLabel: true, FitLevels: true})
	require.NoError(t, err)
	// Z only appeared on a dropped row
	assert.Equal(t, []string{"A", "B"}, s.Levels["route"])
}

// Package dataset reads and writes the CSV tables exchanged between jobs.
//
// Every column is loaded as a string series so numeric coercion and its
// row-drop policy stay under the control of the validation package. Cells
// are kept verbatim: NA tokens are not rewritten, IsMissing recognizes them.
package dataset

import (
	"os"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// ReadCSV loads path with every column typed as string. When columns is
// non-empty, all of them must exist (SchemaError otherwise) and the frame is
// projected onto them in the given order.
func ReadCSV(path string, columns []string) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nil),
	)
	if df.Err != nil {
		if strings.Contains(df.Err.Error(), "empty") {
			return dataframe.DataFrame{}, errors.Wrapf(errors.ErrEmptyData, "read %s", path)
		}
		return dataframe.DataFrame{}, errors.Wrapf(df.Err, "read %s", path)
	}
	if len(columns) == 0 {
		return df, nil
	}

	if missing := Missing(df, columns); len(missing) > 0 {
		return dataframe.DataFrame{}, errors.NewSchemaError("dataset.ReadCSV "+path, missing, nil)
	}
	projected := df.Select(columns)
	if projected.Err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(projected.Err, "select columns from %s", path)
	}
	return projected, nil
}

// WriteCSV writes df with a header row to path.
func WriteCSV(path string, df dataframe.DataFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := df.WriteCSV(f, dataframe.WriteHeader(true)); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// Missing returns the required columns absent from df, sorted.
func Missing(df dataframe.DataFrame, required []string) []string {
	have := make(map[string]bool, df.Ncol())
	for _, n := range df.Names() {
		have[n] = true
	}
	var missing []string
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	sort.Strings(missing)
	return missing
}

// Unexpected returns columns of df not listed in allowed, sorted.
func Unexpected(df dataframe.DataFrame, allowed []string) []string {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	var extra []string
	for _, n := range df.Names() {
		if !ok[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return extra
}

// RequireExactly returns a SchemaError unless df holds exactly the columns
// in expected, in any order.
func RequireExactly(op string, df dataframe.DataFrame, expected []string) error {
	missing := Missing(df, expected)
	extra := Unexpected(df, expected)
	if len(missing) > 0 || len(extra) > 0 {
		return errors.NewSchemaError(op, missing, extra)
	}
	return nil
}

// Column returns the raw string values of a column.
func Column(df dataframe.DataFrame, name string) []string {
	return df.Col(name).Records()
}

// missingTokens are the cell values treated as an absent category or key.
var missingTokens = map[string]bool{"": true, "NA": true, "NaN": true, "<nil>": true}

// IsMissing reports whether a raw cell stands for a missing value.
func IsMissing(v string) bool {
	return missingTokens[v]
}

// Floats coerces a column to float64. Unparsable, empty and NA cells become NaN.
func Floats(df dataframe.DataFrame, name string) []float64 {
	return df.Col(name).Float()
}

package schema

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

var (
	numeric     = []string{"on_time_a", "planned_layover_sec", "p85_pct_b"}
	categorical = []string{"route_pair"}
)

func TestNewRejectsOverlap(t *testing.T) {
	tests := []struct {
		name        string
		numeric     []string
		categorical []string
		label       string
	}{
		{"numeric and categorical overlap", []string{"a", "b"}, []string{"b"}, "y"},
		{"label is a feature", []string{"a"}, []string{"c"}, "a"},
		{"duplicate numeric", []string{"a", "a"}, nil, "y"},
		{"empty name", []string{"a", ""}, nil, "y"},
		{"no features", nil, nil, "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.numeric, tt.categorical, tt.label)
			require.Error(t, err)
			assert.True(t, errors.IsSchemaError(err), "got %v", err)
		})
	}
}

func TestFeatureOrder(t *testing.T) {
	s, err := New(numeric, categorical, "y_on_time_b")
	require.NoError(t, err)

	assert.Equal(t, []string{"on_time_a", "planned_layover_sec", "p85_pct_b", "route_pair"}, s.FeatureNames())
	assert.Equal(t, []int{3}, s.CategoricalIndices())
	assert.Equal(t, append(s.FeatureNames(), "y_on_time_b"), s.RequiredColumns(true))
	assert.Equal(t, s.FeatureNames(), s.RequiredColumns(false))
}

func TestLevelsAndEncode(t *testing.T) {
	s, err := New(numeric, categorical, "y")
	require.NoError(t, err)
	assert.False(t, s.HasLevels())

	s.SetLevels("route_pair", []string{"B-C", "A-B", "B-C", "", "A-B"})
	assert.True(t, s.HasLevels())
	assert.Equal(t, []string{"A-B", "B-C"}, s.Levels["route_pair"])

	code, ok := s.Encode("route_pair", "B-C")
	assert.True(t, ok)
	assert.Equal(t, 1.0, code)

	code, ok = s.Encode("route_pair", "Z-Z")
	assert.False(t, ok)
	assert.True(t, math.IsNaN(code))
}

func TestFingerprintChangesWithContract(t *testing.T) {
	a, _ := New(numeric, categorical, "y")
	b, _ := New(numeric, categorical, "y")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.SetLevels("route_pair", []string{"A"})
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c, _ := New([]string{"p85_pct_b", "on_time_a", "planned_layover_sec"}, categorical, "y")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(numeric, categorical, "y_on_time_b")
	require.NoError(t, err)
	s.SetLevels("route_pair", []string{"A-B", "C-D"})
	require.NoError(t, Save(dir, s))

	var names []string
	require.NoError(t, model.LoadJSON(&names, filepath.Join(dir, FeatureNamesFile)))
	assert.Equal(t, s.FeatureNames(), names)

	got, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, s.FeatureNames(), got.FeatureNames())
	assert.Equal(t, s.Label, got.Label)
	assert.Equal(t, s.Fingerprint(), got.Fingerprint())
	assert.False(t, got.IsLegacy())
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(numeric, categorical, "y")
	s.FormatVersion = 9
	require.NoError(t, model.SaveJSON(s, filepath.Join(dir, SchemaFile)))

	_, err := Load(dir, nil)
	require.Error(t, err)
	assert.True(t, errors.IsSchemaError(err))
}

func TestLoadLegacyFeatureList(t *testing.T) {
	dir := t.TempDir()
	names := append(append([]string(nil), numeric...), categorical...)
	require.NoError(t, model.SaveJSON(names, filepath.Join(dir, FeatureNamesFile)))

	s, err := Load(dir, categorical)
	require.NoError(t, err)
	assert.True(t, s.IsLegacy())
	assert.Equal(t, numeric, s.Numeric)
	assert.Equal(t, categorical, s.Categorical)
	assert.False(t, s.HasLevels())

	_, err = FromFeatureNames([]string{"route_pair", "on_time_a"}, categorical)
	assert.True(t, errors.IsSchemaError(err))

	_, err = Load(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, SchemaFile))
	assert.True(t, os.IsNotExist(statErr))
}

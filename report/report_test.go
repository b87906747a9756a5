package report

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

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestFeatureImportancePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), ImportanceFile)
	require.NoError(t, FeatureImportancePNG(path, []string{"on_time_a", "p85_pct_b", "route_pair"}, []float64{12.5, 3, 40}))
	assertPNG(t, path)

	assert.Error(t, FeatureImportancePNG(path, []string{"a"}, nil))
}

func TestROCCurvePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), ROCFile)
	y := []float64{0, 0, 1, 1, 0, 1}
	p := []float64{0.1, 0.4, 0.35, 0.8, 0.2, 0.9}
	require.NoError(t, ROCCurvePNG(path, y, p))
	assertPNG(t, path)
}

func TestROCCurvePNGSingleClass(t *testing.T) {
	errors.SetWarningHandler(func(error) {})
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })

	path := filepath.Join(t.TempDir(), ROCFile)
	err := ROCCurvePNG(path, []float64{1, 1}, []float64{0.2, 0.7})
	assert.True(t, errors.Is(err, ErrSingleClass))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLearningCurvePNG(t *testing.T) {
	h := model.History{}
	for i := 0; i < 10; i++ {
		h.Append("train", model.MetricAUC, 0.6+float64(i)*0.01)
		h.Append("valid", model.MetricAUC, math.NaN())
	}
	path := filepath.Join(t.TempDir(), LearningCurveFile)
	require.NoError(t, LearningCurvePNG(path, h, model.MetricAUC))
	assertPNG(t, path)

	assert.Error(t, LearningCurvePNG(path, h, model.MetricBinaryLogloss))
}

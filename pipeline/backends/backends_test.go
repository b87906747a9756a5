package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
)

func TestResolve(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelError)
	tests := []struct {
		name     string
		want     string
		artifact string
	}{
		{"", Native, "model.json"},
		{Native, Native, "model.json"},
		{LightGBMCLI, LightGBMCLI, "lgbm_model.txt"},
		{Logistic, Logistic, "logistic.json"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			b, err := Resolve(tt.name, Options{}, logger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name)
			assert.Equal(t, tt.artifact, b.ArtifactName)
			assert.NotNil(t, b.Trainer)
			assert.NotNil(t, b.Load)
		})
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("xgboost", Options{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownBackend))
	assert.Contains(t, err.Error(), "xgboost")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"gbdt", "lightgbm", "logistic"}, Names())
}

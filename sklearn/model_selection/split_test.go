package model_selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

func labels(n0, n1 int) []float64 {
	y := make([]float64, 0, n0+n1)
	for i := 0; i < n0; i++ {
		y = append(y, 0)
	}
	for i := 0; i < n1; i++ {
		y = append(y, 1)
	}
	return y
}

func assertPartition(t *testing.T, n int, train, test []int) {
	t.Helper()
	seen := make([]int, n)
	for _, i := range train {
		seen[i]++
	}
	for _, i := range test {
		seen[i]++
	}
	for i, c := range seen {
		assert.Equal(t, 1, c, "row %d appears %d times", i, c)
	}
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	y := labels(70, 30)
	train1, test1, err := TrainTestSplit(y, 0.2, 42)
	require.NoError(t, err)
	train2, test2, err := TrainTestSplit(y, 0.2, 42)
	require.NoError(t, err)

	assert.Equal(t, train1, train2)
	assert.Equal(t, test1, test2)

	_, test3, err := TrainTestSplit(y, 0.2, 7)
	require.NoError(t, err)
	assert.NotEqual(t, test1, test3)
}

func TestTrainTestSplitStratified(t *testing.T) {
	tests := []struct {
		name     string
		n0, n1   int
		testSize float64
		wantTest int
		wantPos  int
	}{
		{"70/30", 70, 30, 0.2, 20, 6},
		{"odd sizes", 13, 8, 0.2, 5, 2},
		{"rare class", 99, 1, 0.2, 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y := labels(tt.n0, tt.n1)
			train, test, err := TrainTestSplit(y, tt.testSize, 42)
			require.NoError(t, err)
			assertPartition(t, len(y), train, test)
			assert.Len(t, test, tt.wantTest)

			var pos int
			for _, i := range test {
				if y[i] == 1 {
					pos++
				}
			}
			assert.Equal(t, tt.wantPos, pos)
		})
	}
}

func TestTrainTestSplitSingleClassFallsBack(t *testing.T) {
	y := labels(0, 10)
	train, test, err := TrainTestSplit(y, 0.2, 42)
	require.NoError(t, err)
	assertPartition(t, len(y), train, test)
	assert.Len(t, test, 2)
	assert.Len(t, train, 8)
}

func TestTrainTestSplitInvalid(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		testSize float64
	}{
		{"zero", 10, 0},
		{"one", 10, 1},
		{"single row", 1, 0.2},
		{"empty", 0, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := TrainTestSplit(labels(tt.n, 0), tt.testSize, 1)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

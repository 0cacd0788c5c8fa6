package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nnfit/internal/models"
)

// stubWeights matches the engine stub used across the repository tests:
// w_layer_1 [0.1,-0.2,0.3], b_layer_1 [0,0,0], w_layer_2 [1,1,1], b_layer_2 0
var stubWeights = models.WeightVector{0.1, -0.2, 0.3, 1, 1, 1, 0, 0, 0, 0}

func TestPredict(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		w    models.WeightVector
		want float64
	}{
		{"positive input", 1, stubWeights, 0.4},   // 0.1 + 0 + 0.3
		{"negative input", -1, stubWeights, 0.2},  // 0 + 0.2 + 0
		{"zero input", 0, stubWeights, 0},
		{"output bias", 0, models.WeightVector{0, 0, 0, 0, 0, 0, 0, 0, 0, -0.75}, -0.75},
		{"hidden bias", 0, models.WeightVector{0, 0, 0, 2, 3, 4, 1, -1, 0.5, 0}, 4},
		{"rounding", 1, models.WeightVector{0.33333, 0, 0, 1, 0, 0, 0, 0, 0, 0}, 0.3333},
		{"relu clips at zero", 2, models.WeightVector{-1, -1, -1, 5, 5, 5, 0, 0, 0, 0.1}, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Predict(tt.x, tt.w), 1e-12)
		})
	}
}

func TestPredictDeterministic(t *testing.T) {
	w := models.WeightVector{0.8123, -0.4411, 0.05, -1.2, 0.7, 0.33, 0.1, -0.2, 0.3, 0.01}
	for _, x := range []float64{-1, -0.5, -0.0001, 0, 0.25, 0.9999} {
		first := Predict(x, w)
		for i := 0; i < 10; i++ {
			require.Equal(t, first, Predict(x, w))
		}
	}
}

func TestGeneratePredictions(t *testing.T) {
	e := New(5, 1)
	preds, err := e.GeneratePredictions(stubWeights, 40)
	require.NoError(t, err)
	require.Len(t, preds, 40)

	for _, p := range preds {
		assert.LessOrEqual(t, math.Abs(p.X), 1.0)
		assert.Equal(t, models.Round4(p.X), p.X)
		assert.Equal(t, Predict(p.X, stubWeights), p.FxPred)
		assert.Zero(t, p.ExpID)
	}
}

func TestGeneratePredictionsFreshDraws(t *testing.T) {
	e := New(9, 1)
	first, err := e.GeneratePredictions(stubWeights, 5)
	require.NoError(t, err)
	second, err := e.GeneratePredictions(stubWeights, 5)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestGeneratePredictionsEdgeCases(t *testing.T) {
	e := New(1, 0)
	assert.Equal(t, DefaultXExtreme, e.xExtreme)

	preds, err := e.GeneratePredictions(stubWeights, 0)
	require.NoError(t, err)
	assert.Empty(t, preds)

	_, err = e.GeneratePredictions(stubWeights, -3)
	assert.Error(t, err)
}

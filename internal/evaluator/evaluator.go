// Package evaluator re-implements the inference pass of the trained network:
// one input, three ReLU hidden units and one linear output unit.
package evaluator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"nnfit/internal/models"
)

// DefaultXExtreme bounds the test inputs, matching the engine's training interval
const DefaultXExtreme = 1.0

// Predict evaluates the network with weights w at x, rounded to four decimals
func Predict(x float64, w models.WeightVector) float64 {
	out := w[models.B0L2]
	for i := 0; i < 3; i++ {
		hidden := relu(w[models.W00L1+i]*x + w[models.B0L1+i])
		out += w[models.W00L2+i] * hidden
	}
	return models.Round4(out)
}

func relu(z float64) float64 {
	if z <= 0 {
		return 0
	}
	return z
}

// Evaluator draws test inputs and predicts them
type Evaluator struct {
	rng      *rand.Rand
	xExtreme float64
}

// New creates an evaluator drawing x from [-xExtreme, xExtreme].
// A zero seed seeds from the clock.
func New(seed uint64, xExtreme float64) *Evaluator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if xExtreme <= 0 {
		xExtreme = DefaultXExtreme
	}
	return &Evaluator{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		xExtreme: xExtreme,
	}
}

// GeneratePredictions draws count fresh inputs and predicts each of them.
// The returned slice follows draw order; ExpID is left for the caller.
func (e *Evaluator) GeneratePredictions(w models.WeightVector, count int) ([]models.Prediction, error) {
	if count < 0 {
		return nil, fmt.Errorf("test size must not be negative, got %d", count)
	}

	predictions := make([]models.Prediction, count)
	for i := range predictions {
		x := models.Round4(-e.xExtreme + 2*e.xExtreme*e.rng.Float64())
		predictions[i] = models.Prediction{X: x, FxPred: Predict(x, w)}
	}
	return predictions, nil
}

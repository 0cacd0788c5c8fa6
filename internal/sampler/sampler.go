// Package sampler draws experiment configurations from the weight/bias
// parameter space.
package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"nnfit/internal/models"
)

// Sampler produces ParameterSets with uniformly drawn initial weights
type Sampler struct {
	rng *rand.Rand
}

// New creates a sampler. A zero seed seeds from the clock.
func New(seed uint64) *Sampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// Generate returns count copies of base whose hidden and output weights are
// drawn from [-wBound, wBound] and whose hidden biases are drawn from
// [-bBound, bBound], rounded to four decimals. The output bias is always 0.
func (s *Sampler) Generate(count int, wBound, bBound float64, base models.ParameterSet) ([]models.ParameterSet, error) {
	if count < 0 {
		return nil, fmt.Errorf("sample count must not be negative, got %d", count)
	}
	if err := checkBound("weight", wBound); err != nil {
		return nil, err
	}
	if err := checkBound("bias", bBound); err != nil {
		return nil, err
	}

	samples := make([]models.ParameterSet, 0, count)
	for i := 0; i < count; i++ {
		var w models.WeightVector
		for k := models.W00L1; k <= models.W02L2; k++ {
			w[k] = s.uniform(wBound)
		}
		for k := models.B0L1; k <= models.B2L1; k++ {
			w[k] = s.uniform(bBound)
		}
		w[models.B0L2] = 0

		samples = append(samples, base.WithWeights(w))
	}

	return samples, nil
}

// uniform draws from [-bound, bound] at four decimal precision
func (s *Sampler) uniform(bound float64) float64 {
	v := models.Round4(-bound + 2*bound*s.rng.Float64())
	return math.Max(-bound, math.Min(bound, v))
}

func checkBound(name string, bound float64) error {
	if math.IsNaN(bound) || math.IsInf(bound, 0) || bound < 0 {
		return fmt.Errorf("%s bound must be a non-negative finite number, got %v", name, bound)
	}
	return nil
}

package models

import (
	"fmt"
	"math"
)

// FunctionFamily selects the analytic target the engine fits
type FunctionFamily string

const (
	Quadratic FunctionFamily = "A" // a*(x-b)^2 + c
	Linear    FunctionFamily = "B" // a*x + b
	Cosine    FunctionFamily = "C" // a*cos(b*x) + c
)

// FunctionNames maps function tags to readable names
var FunctionNames = map[FunctionFamily]string{
	Quadratic: "quadratic",
	Linear:    "linear",
	Cosine:    "cosine",
}

// Valid reports whether f is one of the known tags
func (f FunctionFamily) Valid() bool {
	_, ok := FunctionNames[f]
	return ok
}

// Eval evaluates the analytic function for the given coefficients
func (f FunctionFamily) Eval(x, a, b, c float64) (float64, error) {
	switch f {
	case Quadratic:
		return a*(x-b)*(x-b) + c, nil
	case Linear:
		return a*x + b, nil
	case Cosine:
		return a*math.Cos(b*x) + c, nil
	default:
		return 0, fmt.Errorf("unknown function family %q", string(f))
	}
}

// ParameterSet holds every value of one engine configuration file.
// Field order matches the configuration file and the ini table.
type ParameterSet struct {
	NewTS     string         `json:"new_ts" db:"new_ts"`       // "Y" regenerates the training set
	TSSize    int            `json:"ts_size" db:"ts_size"`     // training set size
	MiniBatch int            `json:"mb" db:"mb"`               // mini-batch size, < TSSize
	Fx        FunctionFamily `json:"fx" db:"fx"`
	A         float64        `json:"a" db:"a"`
	B         float64        `json:"b" db:"b"`
	C         float64        `json:"c" db:"c"`
	Eta       float64        `json:"eta" db:"eta"`             // learning rate
	EpochNum  int            `json:"epoch_num" db:"epoch_num"`
	Delta     float64        `json:"delta" db:"delta"`         // loss threshold that stops training
	W00L1     float64        `json:"w00l1" db:"w00l1"`
	W10L1     float64        `json:"w10l1" db:"w10l1"`
	W20L1     float64        `json:"w20l1" db:"w20l1"`
	W00L2     float64        `json:"w00l2" db:"w00l2"`
	W01L2     float64        `json:"w01l2" db:"w01l2"`
	W02L2     float64        `json:"w02l2" db:"w02l2"`
	B0L1      float64        `json:"b0l1" db:"b0l1"`
	B1L1      float64        `json:"b1l1" db:"b1l1"`
	B2L1      float64        `json:"b2l1" db:"b2l1"`
	B0L2      float64        `json:"b0l2" db:"b0l2"`
}

// Weights returns the trainable values of p in WeightVector order
func (p ParameterSet) Weights() WeightVector {
	return WeightVector{
		p.W00L1, p.W10L1, p.W20L1,
		p.W00L2, p.W01L2, p.W02L2,
		p.B0L1, p.B1L1, p.B2L1,
		p.B0L2,
	}
}

// WithWeights returns a copy of p carrying w as its trainable values
func (p ParameterSet) WithWeights(w WeightVector) ParameterSet {
	p.W00L1, p.W10L1, p.W20L1 = w[W00L1], w[W10L1], w[W20L1]
	p.W00L2, p.W01L2, p.W02L2 = w[W00L2], w[W01L2], w[W02L2]
	p.B0L1, p.B1L1, p.B2L1 = w[B0L1], w[B1L1], w[B2L1]
	p.B0L2 = w[B0L2]
	return p
}

// Function returns the analytic target described by p
func (p ParameterSet) Function() FunctionSpec {
	return FunctionSpec{Family: p.Fx, A: p.A, B: p.B, C: p.C}
}

// Experiment is a persisted ParameterSet
type Experiment struct {
	ID int64 `json:"id" db:"id"`
	ParameterSet
}

// FunctionSpec is the analytic target of an experiment
type FunctionSpec struct {
	Family FunctionFamily `json:"fx" db:"fx"`
	A      float64        `json:"a" db:"a"`
	B      float64        `json:"b" db:"b"`
	C      float64        `json:"c" db:"c"`
}

// Eval evaluates the target at x
func (s FunctionSpec) Eval(x float64) (float64, error) {
	return s.Family.Eval(x, s.A, s.B, s.C)
}

// Round4 rounds v to four decimal digits, the precision of sampled
// parameters and stored predictions.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

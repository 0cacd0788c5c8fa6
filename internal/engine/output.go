package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"nnfit/internal/models"
)

// rawOutput mirrors the engine's stdout with optional fields so that
// missing keys can be told apart from zero values.
type rawOutput struct {
	Weights *rawWeights `json:"weights"`
	Loss    *lossCurve  `json:"loss"`
}

type rawWeights struct {
	WLayer1 []float64 `json:"w_layer_1"`
	BLayer1 []float64 `json:"b_layer_1"`
	WLayer2 []float64 `json:"w_layer_2"`
	BLayer2 *float64  `json:"b_layer_2"`
}

// lossCurve keeps the epochs in the order they appear in the JSON object
type lossCurve []models.LossEntry

func (l *lossCurve) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("loss must be an object")
	}

	seen := make(map[int]struct{})
	var curve lossCurve
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		epoch, err := strconv.Atoi(key)
		if err != nil || epoch < 0 {
			return fmt.Errorf("loss key %q is not an epoch number", key)
		}
		if _, dup := seen[epoch]; dup {
			return fmt.Errorf("loss epoch %d reported twice", epoch)
		}
		seen[epoch] = struct{}{}

		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		num, ok := value.(json.Number)
		if !ok {
			return fmt.Errorf("loss value for epoch %d is not a number", epoch)
		}
		mse, err := num.Float64()
		if err != nil {
			return fmt.Errorf("loss value for epoch %d: %v", epoch, err)
		}
		curve = append(curve, models.LossEntry{Epoch: epoch, MSE: mse})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	*l = curve
	return nil
}

// ParseOutput decodes the JSON document printed by the engine. Any schema
// violation is reported as ErrEngineOutput.
func ParseOutput(stdout []byte) (*models.EngineResult, error) {
	var raw rawOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineOutput, err)
	}

	if raw.Weights == nil {
		return nil, fmt.Errorf("%w: missing key \"weights\"", ErrEngineOutput)
	}
	if raw.Loss == nil {
		return nil, fmt.Errorf("%w: missing key \"loss\"", ErrEngineOutput)
	}

	result := &models.EngineResult{Loss: []models.LossEntry(*raw.Loss)}
	layers := []struct {
		name string
		src  []float64
		dst  *[3]float64
	}{
		{"w_layer_1", raw.Weights.WLayer1, &result.Weights.WLayer1},
		{"b_layer_1", raw.Weights.BLayer1, &result.Weights.BLayer1},
		{"w_layer_2", raw.Weights.WLayer2, &result.Weights.WLayer2},
	}
	for _, layer := range layers {
		if layer.src == nil {
			return nil, fmt.Errorf("%w: missing key %q", ErrEngineOutput, layer.name)
		}
		if len(layer.src) != 3 {
			return nil, fmt.Errorf("%w: %s has %d values, want 3", ErrEngineOutput, layer.name, len(layer.src))
		}
		copy(layer.dst[:], layer.src)
	}
	if raw.Weights.BLayer2 == nil {
		return nil, fmt.Errorf("%w: missing key \"b_layer_2\"", ErrEngineOutput)
	}
	result.Weights.BLayer2 = *raw.Weights.BLayer2

	return result, nil
}

package models

// Indexes into a WeightVector
const (
	W00L1 = iota
	W10L1
	W20L1
	W00L2
	W01L2
	W02L2
	B0L1
	B1L1
	B2L1
	B0L2
)

// WeightVector is the flattened network: hidden weights, output weights,
// hidden biases, output bias.
type WeightVector [10]float64

// LayerWeights is the weights object printed by the engine
type LayerWeights struct {
	WLayer1 [3]float64 `json:"w_layer_1"`
	BLayer1 [3]float64 `json:"b_layer_1"`
	WLayer2 [3]float64 `json:"w_layer_2"`
	BLayer2 float64    `json:"b_layer_2"`
}

// Vector flattens the layers into WeightVector order
func (w LayerWeights) Vector() WeightVector {
	var v WeightVector
	copy(v[W00L1:W20L1+1], w.WLayer1[:])
	copy(v[W00L2:W02L2+1], w.WLayer2[:])
	copy(v[B0L1:B2L1+1], w.BLayer1[:])
	v[B0L2] = w.BLayer2
	return v
}

// LossEntry is one epoch of the loss object printed by the engine
type LossEntry struct {
	Epoch int     `json:"epoch"`
	MSE   float64 `json:"mse"`
}

// EngineResult is the parsed standard output of one engine run
type EngineResult struct {
	Weights  LayerWeights `json:"weights"`
	Loss     []LossEntry  `json:"loss"` // in the order the engine reported them
	ExitCode int          `json:"exit_code"`
	Stderr   string       `json:"-"`
}

// OptimalWeights is the final weight vector of one experiment
type OptimalWeights struct {
	ID    int64   `json:"id" db:"id"`
	ExpID int64   `json:"exp_id" db:"exp_id"`
	W00L1 float64 `json:"w00l1" db:"w00l1"`
	W10L1 float64 `json:"w10l1" db:"w10l1"`
	W20L1 float64 `json:"w20l1" db:"w20l1"`
	W00L2 float64 `json:"w00l2" db:"w00l2"`
	W01L2 float64 `json:"w01l2" db:"w01l2"`
	W02L2 float64 `json:"w02l2" db:"w02l2"`
	B0L1  float64 `json:"b0l1" db:"b0l1"`
	B1L1  float64 `json:"b1l1" db:"b1l1"`
	B2L1  float64 `json:"b2l1" db:"b2l1"`
	B0L2  float64 `json:"b0l2" db:"b0l2"`
}

// NewOptimalWeights builds the row for experiment expID from v
func NewOptimalWeights(expID int64, v WeightVector) OptimalWeights {
	return OptimalWeights{
		ExpID: expID,
		W00L1: v[W00L1], W10L1: v[W10L1], W20L1: v[W20L1],
		W00L2: v[W00L2], W01L2: v[W01L2], W02L2: v[W02L2],
		B0L1: v[B0L1], B1L1: v[B1L1], B2L1: v[B2L1],
		B0L2: v[B0L2],
	}
}

// Vector returns the weights without the identifiers
func (o OptimalWeights) Vector() WeightVector {
	return WeightVector{
		o.W00L1, o.W10L1, o.W20L1,
		o.W00L2, o.W01L2, o.W02L2,
		o.B0L1, o.B1L1, o.B2L1,
		o.B0L2,
	}
}

// LossPoint is one epoch of a stored loss curve
type LossPoint struct {
	ID    int64   `json:"-" db:"id"`
	ExpID int64   `json:"exp_id" db:"exp_id"`
	Epoch int     `json:"epoch" db:"epoch"`
	MSE   float64 `json:"mse" db:"mse"`
}

// Prediction is one evaluated test point
type Prediction struct {
	ID     int64   `json:"-" db:"id"`
	ExpID  int64   `json:"exp_id" db:"exp_id"`
	X      float64 `json:"x" db:"x"`
	FxPred float64 `json:"fx_pred" db:"fx_pred"`
}

// TrainingPoint is a row of the engine's training set
type TrainingPoint struct {
	ID int64   `json:"id" db:"id"`
	X  float64 `json:"x" db:"x"`
	Fx float64 `json:"fx" db:"fx"`
}

// Point is a sample of an analytic curve
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BestRunReport reconstructs the minimum-loss experiment
type BestRunReport struct {
	Experiment  Experiment   `json:"experiment"`
	MinMSE      float64      `json:"min_mse"`
	Function    FunctionSpec `json:"function"`
	Loss        []LossPoint  `json:"loss"`
	Predictions []Prediction `json:"predictions"`
	Analytic    []Point      `json:"analytic"`
}

// TableCounts holds the number of rows per table
type TableCounts struct {
	TrainingSet int64 `json:"xfx" db:"xfx"`
	Experiments int64 `json:"ini" db:"ini"`
	Weights     int64 `json:"optimal_wb" db:"optimal_wb"`
	Loss        int64 `json:"loss" db:"loss"`
	Predictions int64 `json:"predictions" db:"predictions"`
}

// ExperimentSummary is a listing row of one experiment
type ExperimentSummary struct {
	ID     int64          `json:"id" db:"id"`
	Fx     FunctionFamily `json:"fx" db:"fx"`
	Epochs int            `json:"epochs" db:"epochs"`
	MinMSE *float64       `json:"min_mse,omitempty" db:"min_mse"` // nil when no loss was stored
}

// IntegrityReport counts child rows whose exp_id has no ini row
type IntegrityReport struct {
	OrphanWeights     int64 `json:"orphan_optimal_wb" db:"orphan_optimal_wb"`
	OrphanLoss        int64 `json:"orphan_loss" db:"orphan_loss"`
	OrphanPredictions int64 `json:"orphan_predictions" db:"orphan_predictions"`
}

// Clean reports whether no orphan rows were found
func (r IntegrityReport) Clean() bool {
	return r.OrphanWeights == 0 && r.OrphanLoss == 0 && r.OrphanPredictions == 0
}

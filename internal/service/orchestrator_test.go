package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nnfit/internal/evaluator"
	"nnfit/internal/models"
	"nnfit/internal/paramfile"
	"nnfit/internal/repository"
	"nnfit/internal/sampler"
)

// fakeEngine answers every run with a fixed result. failOn makes the n-th
// call (1-based) fail with err.
type fakeEngine struct {
	result *models.EngineResult
	err    error
	failOn int
	calls  []models.ParameterSet
}

func (f *fakeEngine) Run(ctx context.Context, p models.ParameterSet) (*models.EngineResult, error) {
	f.calls = append(f.calls, p)
	if f.err != nil && (f.failOn == 0 || f.failOn == len(f.calls)) {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func stubResult() *models.EngineResult {
	return &models.EngineResult{
		Weights: models.LayerWeights{
			WLayer1: [3]float64{0.1, -0.2, 0.3},
			BLayer1: [3]float64{0, 0, 0},
			WLayer2: [3]float64{1, 1, 1},
			BLayer2: 0,
		},
		Loss: []models.LossEntry{{Epoch: 0, MSE: 0.5}, {Epoch: 1, MSE: 0.1}},
	}
}

func baseParams() models.ParameterSet {
	return models.ParameterSet{
		NewTS: "N", TSSize: 100, MiniBatch: 10, Fx: models.Linear,
		A: 2, B: 1, Eta: 0.05, EpochNum: 2, Delta: 0.001,
	}
}

func newTestRepo(t *testing.T) *repository.ExperimentRepository {
	t.Helper()

	db, err := repository.Open(repository.Config{Path: filepath.Join(t.TempDir(), "nnfit.db")}, zap.NewNop())
	require.NoError(t, err)

	repo := repository.NewExperimentRepository(db, zap.NewNop())
	require.NoError(t, repo.CreateSchema())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestOrchestrator(t *testing.T, engine EngineRunner, opts Options) (*Orchestrator, *repository.ExperimentRepository) {
	t.Helper()
	repo := newTestRepo(t)
	o := NewOrchestrator(engine, repo, sampler.New(1), evaluator.New(1, 1), opts, zap.NewNop())
	return o, repo
}

func TestRunExperimentStoresResultSet(t *testing.T) {
	engine := &fakeEngine{result: stubResult()}
	o, repo := newTestOrchestrator(t, engine, Options{Count: 1, WeightBound: 1, BiasBound: 1, TestSize: 5})
	ctx := context.Background()

	batch, err := o.RunBatch(ctx, baseParams())
	require.NoError(t, err)
	require.Len(t, batch.Completed, 1)
	assert.Empty(t, batch.Failed)
	assert.NotEmpty(t, batch.BatchID)
	id := batch.Completed[0]

	counts, err := repo.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TableCounts{Experiments: 1, Weights: 1, Loss: 2, Predictions: 5}, counts)

	ow, err := repo.GetOptimalWeights(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.WeightVector{0.1, -0.2, 0.3, 1, 1, 1, 0, 0, 0, 0}, ow.Vector())

	predictions, err := repo.QueryPredictions(ctx, id)
	require.NoError(t, err)
	require.Len(t, predictions, 5)
	for _, p := range predictions {
		assert.Equal(t, id, p.ExpID)
		assert.Equal(t, evaluator.Predict(p.X, ow.Vector()), p.FxPred)
	}

	// the engine saw the sampled configuration that was stored
	require.Len(t, engine.calls, 1)
	exp, err := repo.GetExperiment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, engine.calls[0], exp.ParameterSet)
	assert.Zero(t, exp.B0L2)
}

func TestRunBatchRejectsNonZeroExit(t *testing.T) {
	result := stubResult()
	result.ExitCode = 3
	result.Stderr = "did not converge"
	o, repo := newTestOrchestrator(t, &fakeEngine{result: result}, Options{Count: 3, WeightBound: 1, BiasBound: 1, TestSize: 5})

	batch, err := o.RunBatch(context.Background(), baseParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonZeroExit)

	var expErr *ExperimentError
	require.True(t, errors.As(err, &expErr))
	assert.Equal(t, 0, expErr.Index)
	assert.Equal(t, StageInvoked, expErr.Stage)
	assert.Empty(t, batch.Completed)

	counts, err := repo.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TableCounts{}, counts)
}

func TestRunBatchAllowsNonZeroExit(t *testing.T) {
	result := stubResult()
	result.ExitCode = 3
	o, _ := newTestOrchestrator(t, &fakeEngine{result: result}, Options{
		Count: 2, WeightBound: 1, BiasBound: 1, TestSize: 5, AllowNonZeroExit: true,
	})

	batch, err := o.RunBatch(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Len(t, batch.Completed, 2)
}

func TestRunBatchContinueOnError(t *testing.T) {
	engine := &fakeEngine{result: stubResult(), err: errors.New("engine crashed"), failOn: 2}
	o, repo := newTestOrchestrator(t, engine, Options{
		Count: 3, WeightBound: 1, BiasBound: 1, TestSize: 5, ContinueOnError: true,
	})

	batch, err := o.RunBatch(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Len(t, batch.Completed, 2)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, 1, batch.Failed[0].Index)
	assert.Len(t, engine.calls, 3)

	counts, err := repo.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Experiments)
}

func TestRunBatchStopsOnFirstError(t *testing.T) {
	engine := &fakeEngine{result: stubResult(), err: errors.New("engine crashed"), failOn: 2}
	o, _ := newTestOrchestrator(t, engine, Options{Count: 3, WeightBound: 1, BiasBound: 1, TestSize: 5})

	batch, err := o.RunBatch(context.Background(), baseParams())
	require.Error(t, err)
	assert.Len(t, batch.Completed, 1)
	assert.Len(t, engine.calls, 2)
}

func TestRunExperimentRollsBackOnEvaluationFailure(t *testing.T) {
	o, repo := newTestOrchestrator(t, &fakeEngine{result: stubResult()}, Options{TestSize: -1})

	_, err := o.RunExperiment(context.Background(), 4, baseParams())
	var expErr *ExperimentError
	require.True(t, errors.As(err, &expErr))
	assert.Equal(t, 4, expErr.Index)
	assert.Equal(t, StageEvaluated, expErr.Stage)

	counts, err := repo.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TableCounts{}, counts)
}

func TestRunBatchCancelled(t *testing.T) {
	engine := &fakeEngine{result: stubResult()}
	o, repo := newTestOrchestrator(t, engine, Options{Count: 3, WeightBound: 1, BiasBound: 1, TestSize: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := o.RunBatch(ctx, baseParams())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, batch.Completed)
	assert.Empty(t, engine.calls)

	counts, err := repo.CountRows(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Experiments)
}

func TestRunBatchRejectsBadBounds(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeEngine{result: stubResult()}, Options{Count: 1, WeightBound: -1})
	_, err := o.RunBatch(context.Background(), baseParams())
	assert.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config_1st.ini")
	first := baseParams()
	first.NewTS = "Y"
	require.NoError(t, paramfile.Write(first, path))

	engine := &fakeEngine{result: stubResult()}
	o, repo := newTestOrchestrator(t, engine, Options{})

	base, err := o.Bootstrap(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "N", base.NewTS)
	assert.Equal(t, first.Fx, base.Fx)

	require.Len(t, engine.calls, 1)
	assert.Equal(t, "Y", engine.calls[0].NewTS)

	counts, err := repo.CountRows(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Experiments)
}

func TestBootstrapErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		o, _ := newTestOrchestrator(t, &fakeEngine{result: stubResult()}, Options{})
		_, err := o.Bootstrap(context.Background(), filepath.Join(t.TempDir(), "missing.ini"))
		assert.Error(t, err)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config_1st.ini")
		require.NoError(t, paramfile.Write(baseParams(), path))

		result := stubResult()
		result.ExitCode = 1
		o, _ := newTestOrchestrator(t, &fakeEngine{result: result}, Options{})
		_, err := o.Bootstrap(context.Background(), path)
		assert.ErrorIs(t, err, ErrNonZeroExit)
	})
}

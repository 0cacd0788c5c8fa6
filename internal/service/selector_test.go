package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nnfit/internal/models"
	"nnfit/internal/repository"
)

func storeExperiment(t *testing.T, repo *repository.ExperimentRepository, p models.ParameterSet, loss ...models.LossEntry) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := repo.WithTx(ctx, func(w *repository.Writer) error {
		var err error
		if id, err = w.SaveExperiment(ctx, p); err != nil {
			return err
		}
		result := stubResult()
		result.Loss = loss
		if _, err := w.SaveOptimalWeights(ctx, result, id); err != nil {
			return err
		}
		if err := w.SaveLoss(ctx, result, id); err != nil {
			return err
		}
		return w.SavePredictions(ctx, []models.Prediction{{X: 0, FxPred: 0.9}, {X: 0.5, FxPred: 2.1}}, id)
	})
	require.NoError(t, err)
	return id
}

func TestSelectAndReconstruct(t *testing.T) {
	repo := newTestRepo(t)
	selector := NewSelector(repo, zap.NewNop())

	cosine := baseParams()
	cosine.Fx, cosine.A, cosine.B, cosine.C = models.Cosine, 1, 2, 0

	storeExperiment(t, repo, cosine, models.LossEntry{Epoch: 0, MSE: 0.3}, models.LossEntry{Epoch: 1, MSE: 0.05})
	e2 := storeExperiment(t, repo, baseParams(), models.LossEntry{Epoch: 0, MSE: 0.2}, models.LossEntry{Epoch: 1, MSE: 0.01})

	report, err := selector.SelectAndReconstruct(context.Background())
	require.NoError(t, err)

	assert.Equal(t, e2, report.Experiment.ID)
	assert.Equal(t, 0.01, report.MinMSE)
	assert.Equal(t, models.FunctionSpec{Family: models.Linear, A: 2, B: 1}, report.Function)
	require.Len(t, report.Loss, 2)
	assert.Equal(t, 0.2, report.Loss[0].MSE)
	require.Len(t, report.Predictions, 2)
	assert.Equal(t, 2.1, report.Predictions[1].FxPred)

	require.Len(t, report.Analytic, CurvePoints)
	assert.Equal(t, models.Point{X: -1, Y: -1}, report.Analytic[0])
	assert.Equal(t, models.Point{X: 1, Y: 3}, report.Analytic[CurvePoints-1])
}

func TestSelectAndReconstructEmptyStore(t *testing.T) {
	selector := NewSelector(newTestRepo(t), zap.NewNop())

	_, err := selector.SelectAndReconstruct(context.Background())
	assert.ErrorIs(t, err, repository.ErrNoExperiments)
}

func TestReconstructUnknownExperiment(t *testing.T) {
	selector := NewSelector(newTestRepo(t), zap.NewNop())

	_, err := selector.Reconstruct(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrExperimentNotFound)
}

func TestAnalyticCurve(t *testing.T) {
	tests := []struct {
		name string
		spec models.FunctionSpec
		want []float64
	}{
		{"linear", models.FunctionSpec{Family: models.Linear, A: 2, B: 1}, []float64{-1, 1, 3}},
		{"quadratic", models.FunctionSpec{Family: models.Quadratic, A: 1, B: 0, C: 0.5}, []float64{1.5, 0.5, 1.5}},
		{"cosine", models.FunctionSpec{Family: models.Cosine, A: 2, B: 0, C: 1}, []float64{3, 3, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := AnalyticCurve(tt.spec, 3, -1, 1)
			require.NoError(t, err)
			require.Len(t, points, 3)
			for i, p := range points {
				assert.Equal(t, float64(i-1), p.X)
				assert.InDelta(t, tt.want[i], p.Y, 1e-12)
			}
		})
	}

	_, err := AnalyticCurve(models.FunctionSpec{Family: "Z"}, 3, -1, 1)
	assert.Error(t, err)

	_, err = AnalyticCurve(models.FunctionSpec{Family: models.Linear}, 1, -1, 1)
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	repo := newTestRepo(t)
	storeExperiment(t, repo, baseParams(), models.LossEntry{Epoch: 0, MSE: 0.2}, models.LossEntry{Epoch: 4, MSE: 0.01})

	report, err := NewSelector(repo, zap.NewNop()).SelectAndReconstruct(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "Best experiment:")
	assert.Contains(t, out, "B (linear) a=2 b=1 c=0")
	assert.Contains(t, out, "0.01 (epoch 4)")
	assert.Contains(t, out, "2.1000")
}

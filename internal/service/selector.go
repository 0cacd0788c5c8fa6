package service

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"nnfit/internal/models"
	"nnfit/internal/repository"

	"go.uber.org/zap"
)

// Interval and resolution of the reconstructed analytic curve
const (
	CurvePoints = 100
	CurveMin    = -1.0
	CurveMax    = 1.0
)

// Selector finds the best stored experiment
type Selector struct {
	repo   *repository.ExperimentRepository
	logger *zap.Logger
}

// NewSelector creates a new selector
func NewSelector(repo *repository.ExperimentRepository, logger *zap.Logger) *Selector {
	return &Selector{repo: repo, logger: logger}
}

// SelectAndReconstruct picks the experiment with the lowest mse over all
// stored epochs and gathers everything needed to inspect it. It returns
// repository.ErrNoExperiments when no loss has been stored.
func (s *Selector) SelectAndReconstruct(ctx context.Context) (*models.BestRunReport, error) {
	best, err := s.repo.QueryMinLoss(ctx)
	if err != nil {
		return nil, err
	}
	return s.Reconstruct(ctx, best.ExpID)
}

// Reconstruct builds the report of one experiment
func (s *Selector) Reconstruct(ctx context.Context, expID int64) (*models.BestRunReport, error) {
	exp, err := s.repo.GetExperiment(ctx, expID)
	if err != nil {
		return nil, err
	}

	curve, err := s.repo.QueryLossCurve(ctx, expID)
	if err != nil {
		return nil, err
	}

	predictions, err := s.repo.QueryPredictions(ctx, expID)
	if err != nil {
		return nil, err
	}

	spec := exp.Function()
	analytic, err := AnalyticCurve(spec, CurvePoints, CurveMin, CurveMax)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct function of experiment %d: %w", expID, err)
	}

	report := &models.BestRunReport{
		Experiment:  exp,
		Function:    spec,
		Loss:        curve,
		Predictions: predictions,
		Analytic:    analytic,
	}
	for i, point := range curve {
		if i == 0 || point.MSE < report.MinMSE {
			report.MinMSE = point.MSE
		}
	}

	s.logger.Info("Best experiment selected",
		zap.Int64("exp_id", expID),
		zap.Float64("min_mse", report.MinMSE),
		zap.Int("epochs", len(curve)),
		zap.Int("predictions", len(predictions)))

	return report, nil
}

// AnalyticCurve samples spec at n evenly spaced points from lo to hi, both
// ends included
func AnalyticCurve(spec models.FunctionSpec, n int, lo, hi float64) ([]models.Point, error) {
	if n < 2 {
		return nil, fmt.Errorf("curve needs at least 2 points, got %d", n)
	}

	step := (hi - lo) / float64(n-1)
	points := make([]models.Point, n)
	for i := range points {
		x := lo + float64(i)*step
		if i == n-1 {
			x = hi
		}
		y, err := spec.Eval(x)
		if err != nil {
			return nil, err
		}
		points[i] = models.Point{X: x, Y: y}
	}
	return points, nil
}

// WriteReport renders a report as plain text
func WriteReport(w io.Writer, r *models.BestRunReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Best experiment:\t%d\n", r.Experiment.ID)
	fmt.Fprintf(tw, "Minimum MSE:\t%g\n", r.MinMSE)
	fmt.Fprintf(tw, "Function:\t%s (%s) a=%g b=%g c=%g\n",
		r.Function.Family, models.FunctionNames[r.Function.Family], r.Function.A, r.Function.B, r.Function.C)
	fmt.Fprintf(tw, "Training:\tts_size=%d mb=%d eta=%g epoch_num=%d delta=%g\n",
		r.Experiment.TSSize, r.Experiment.MiniBatch, r.Experiment.Eta, r.Experiment.EpochNum, r.Experiment.Delta)
	fmt.Fprintf(tw, "Initial weights:\t%v\n", r.Experiment.Weights())
	fmt.Fprintf(tw, "Epochs stored:\t%d\n", len(r.Loss))
	if n := len(r.Loss); n > 0 {
		fmt.Fprintf(tw, "Final MSE:\t%g (epoch %d)\n", r.Loss[n-1].MSE, r.Loss[n-1].Epoch)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "x\tfx_pred\tfx\terror")
	for _, p := range r.Predictions {
		fx, err := r.Function.Eval(p.X)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%.4f\t%.4f\t%.4f\t%.4f\n", p.X, p.FxPred, fx, p.FxPred-fx)
	}

	return tw.Flush()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nnfit/internal/evaluator"
	"nnfit/internal/models"
	"nnfit/internal/paramfile"
	"nnfit/internal/repository"
	"nnfit/internal/sampler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNonZeroExit is returned when the engine exits with a non-zero status
// and such runs are not allowed
var ErrNonZeroExit = errors.New("engine exited with non-zero status")

// Stage is a step in the life of one experiment
type Stage string

const (
	StageConfigured Stage = "configured" // parameters drawn
	StageInvoked    Stage = "invoked"    // engine ran and its output was accepted
	StagePersisted  Stage = "persisted"  // ini, optimal_wb and loss rows written
	StageEvaluated  Stage = "evaluated"  // predictions written
	StageComplete   Stage = "complete"   // transaction committed
)

// ExperimentError reports the experiment that failed and the stage it
// could not reach
type ExperimentError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *ExperimentError) Error() string {
	return fmt.Sprintf("experiment %d failed before %s: %v", e.Index, e.Stage, e.Err)
}

func (e *ExperimentError) Unwrap() error {
	return e.Err
}

// EngineRunner runs the training engine for one configuration
type EngineRunner interface {
	Run(ctx context.Context, p models.ParameterSet) (*models.EngineResult, error)
}

// Options controls a batch of experiments
type Options struct {
	Count            int
	WeightBound      float64
	BiasBound        float64
	TestSize         int
	AllowNonZeroExit bool
	ContinueOnError  bool
}

// BatchResult summarizes a batch of experiments
type BatchResult struct {
	BatchID   string             `json:"batch_id"`
	Completed []int64            `json:"completed"`
	Failed    []*ExperimentError `json:"-"`
	Duration  time.Duration      `json:"duration"`
}

// Orchestrator runs experiments one after another and stores their results
type Orchestrator struct {
	engine    EngineRunner
	repo      *repository.ExperimentRepository
	sampler   *sampler.Sampler
	evaluator *evaluator.Evaluator
	opts      Options
	logger    *zap.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	engine EngineRunner,
	repo *repository.ExperimentRepository,
	sampler *sampler.Sampler,
	evaluator *evaluator.Evaluator,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		engine:    engine,
		repo:      repo,
		sampler:   sampler,
		evaluator: evaluator,
		opts:      opts,
		logger:    logger,
	}
}

// Bootstrap runs the engine once with the configuration at path so it can
// build its training set, and returns that configuration with new_ts set
// to "N" as the base for sampling. Nothing is stored.
func (o *Orchestrator) Bootstrap(ctx context.Context, path string) (models.ParameterSet, error) {
	p, err := paramfile.Read(path)
	if err != nil {
		return p, fmt.Errorf("failed to read bootstrap config: %w", err)
	}

	result, err := o.engine.Run(ctx, p)
	if err != nil {
		return p, fmt.Errorf("bootstrap run failed: %w", err)
	}
	if err := o.checkExit(result); err != nil {
		return p, fmt.Errorf("bootstrap run failed: %w", err)
	}

	o.logger.Info("Bootstrap run finished",
		zap.String("config", path),
		zap.String("fx", string(p.Fx)),
		zap.Int("epochs", len(result.Loss)))

	p.NewTS = "N"
	return p, nil
}

// RunBatch samples the configured number of experiments around base and
// runs them in order. Unless ContinueOnError is set the first failure
// stops the batch; the returned result always lists the experiments
// completed so far.
func (o *Orchestrator) RunBatch(ctx context.Context, base models.ParameterSet) (*BatchResult, error) {
	batch := &BatchResult{BatchID: uuid.New().String(), Completed: []int64{}}
	start := time.Now()
	defer func() { batch.Duration = time.Since(start) }()

	samples, err := o.sampler.Generate(o.opts.Count, o.opts.WeightBound, o.opts.BiasBound, base)
	if err != nil {
		return batch, fmt.Errorf("failed to sample parameters: %w", err)
	}

	o.logger.Info("Starting experiment batch",
		zap.String("batch_id", batch.BatchID),
		zap.Int("count", len(samples)),
		zap.String("fx", string(base.Fx)))

	for i, p := range samples {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("Experiment batch interrupted",
				zap.String("batch_id", batch.BatchID),
				zap.Int("index", i),
				zap.Int("completed", len(batch.Completed)))
			return batch, err
		}

		id, err := o.RunExperiment(ctx, i, p)
		if err != nil {
			var expErr *ExperimentError
			if !errors.As(err, &expErr) {
				expErr = &ExperimentError{Index: i, Stage: StageInvoked, Err: err}
			}
			batch.Failed = append(batch.Failed, expErr)

			o.logger.Error("Experiment failed",
				zap.String("batch_id", batch.BatchID),
				zap.Int("index", expErr.Index),
				zap.String("stage", string(expErr.Stage)),
				zap.Error(expErr.Err))

			if !o.opts.ContinueOnError {
				return batch, expErr
			}
			continue
		}

		batch.Completed = append(batch.Completed, id)
	}

	o.logger.Info("Experiment batch finished",
		zap.String("batch_id", batch.BatchID),
		zap.Int("completed", len(batch.Completed)),
		zap.Int("failed", len(batch.Failed)),
		zap.Duration("duration", time.Since(start)))

	return batch, nil
}

// RunExperiment runs the engine for p and stores the experiment with its
// weights, loss and predictions in one transaction. On failure nothing is
// stored and the returned *ExperimentError names the stage not reached.
func (o *Orchestrator) RunExperiment(ctx context.Context, index int, p models.ParameterSet) (int64, error) {
	fail := func(stage Stage, err error) (int64, error) {
		return 0, &ExperimentError{Index: index, Stage: stage, Err: err}
	}

	result, err := o.engine.Run(ctx, p)
	if err != nil {
		return fail(StageInvoked, err)
	}
	if err := o.checkExit(result); err != nil {
		return fail(StageInvoked, err)
	}

	var id int64
	stage := StagePersisted
	err = o.repo.WithTx(ctx, func(w *repository.Writer) error {
		var err error
		if id, err = w.SaveExperiment(ctx, p); err != nil {
			return err
		}
		ow, err := w.SaveOptimalWeights(ctx, result, id)
		if err != nil {
			return err
		}
		if err := w.SaveLoss(ctx, result, id); err != nil {
			return err
		}

		stage = StageEvaluated
		predictions, err := o.evaluator.GeneratePredictions(ow.Vector(), o.opts.TestSize)
		if err != nil {
			return err
		}
		if err := w.SavePredictions(ctx, predictions, id); err != nil {
			return err
		}

		stage = StageComplete
		return nil
	})
	if err != nil {
		return fail(stage, err)
	}

	fields := []zap.Field{
		zap.Int("index", index),
		zap.Int64("exp_id", id),
		zap.Int("epochs", len(result.Loss)),
	}
	if n := len(result.Loss); n > 0 {
		fields = append(fields, zap.Float64("final_mse", result.Loss[n-1].MSE))
	}
	o.logger.Info("Experiment stored", fields...)

	return id, nil
}

func (o *Orchestrator) checkExit(result *models.EngineResult) error {
	if result.ExitCode == 0 {
		return nil
	}
	if o.opts.AllowNonZeroExit {
		o.logger.Warn("Engine exited with non-zero status",
			zap.Int("exit_code", result.ExitCode),
			zap.String("stderr", result.Stderr))
		return nil
	}
	if result.Stderr != "" {
		return fmt.Errorf("%w %d: %s", ErrNonZeroExit, result.ExitCode, result.Stderr)
	}
	return fmt.Errorf("%w %d", ErrNonZeroExit, result.ExitCode)
}

package main

import (
	"errors"
	"fmt"
	"os"

	"nnfit/internal/engine"
	"nnfit/internal/evaluator"
	"nnfit/internal/repository"
	"nnfit/internal/sampler"
	"nnfit/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runCount   int
	runSeed    uint64
	runCompile bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of experiments and report the best one",
	Long: `Run prepares the database, optionally compiles the engine, runs the
bootstrap configuration once so the engine builds its training set, then
runs one experiment per sampled weight set and prints the best experiment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cmd.Flags().Changed("count") {
			cfg.Experiments.Count = runCount
		}
		if cmd.Flags().Changed("seed") {
			cfg.Experiments.Seed = runSeed
		}
		if cmd.Flags().Changed("compile") {
			cfg.Engine.Compile = runCompile
		}

		ctx, stop := signalContext()
		defer stop()

		repo, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer repo.Close()

		eng, err := engine.New(engine.Config{
			Executable: cfg.Engine.Executable,
			WorkDir:    cfg.Engine.WorkDir,
			ConfigPath: cfg.Engine.ConfigFile,
			Timeout:    cfg.Engine.Timeout,
			BuildTool:  cfg.Engine.BuildTool,
		}, logger)
		if err != nil {
			return err
		}

		if cfg.Engine.Compile {
			if err := eng.Compile(ctx, cfg.Engine.SourceDir); err != nil {
				logger.Fatal("Failed to compile engine", zap.Error(err))
			}
		}

		// the evaluator gets its own stream so predictions do not shift the samples
		seed := cfg.Experiments.Seed
		evalSeed := seed
		if seed != 0 {
			evalSeed = seed + 1
		}

		orchestrator := service.NewOrchestrator(
			eng,
			repo,
			sampler.New(seed),
			evaluator.New(evalSeed, cfg.Experiments.XExtreme),
			service.Options{
				Count:            cfg.Experiments.Count,
				WeightBound:      cfg.Experiments.WeightBound,
				BiasBound:        cfg.Experiments.BiasBound,
				TestSize:         cfg.Experiments.TestSize,
				AllowNonZeroExit: cfg.Engine.AllowNonZeroExit,
				ContinueOnError:  cfg.Experiments.ContinueOnError,
			},
			logger,
		)

		base, err := orchestrator.Bootstrap(ctx, cfg.Engine.BootstrapConfig)
		if err != nil {
			return err
		}

		batch, err := orchestrator.RunBatch(ctx, base)
		if err != nil {
			var expErr *service.ExperimentError
			if errors.As(err, &expErr) {
				return fmt.Errorf("batch %s stopped at experiment %d (%s) after %d completed: %w",
					batch.BatchID, expErr.Index, expErr.Stage, len(batch.Completed), expErr.Err)
			}
			return fmt.Errorf("batch %s stopped after %d completed: %w", batch.BatchID, len(batch.Completed), err)
		}
		if len(batch.Failed) > 0 {
			logger.Warn("Some experiments failed",
				zap.String("batch_id", batch.BatchID),
				zap.Int("failed", len(batch.Failed)))
		}

		report, err := service.NewSelector(repo, logger).SelectAndReconstruct(ctx)
		if errors.Is(err, repository.ErrNoExperiments) {
			logger.Warn("No experiment produced a loss curve")
			return nil
		}
		if err != nil {
			return err
		}
		return service.WriteReport(os.Stdout, report)
	},
}

func init() {
	runCmd.Flags().IntVarP(&runCount, "count", "n", 0, "number of experiments (overrides experiments.count)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "random seed (overrides experiments.seed)")
	runCmd.Flags().BoolVar(&runCompile, "compile", false, "compile the engine before running (overrides engine.compile)")
}

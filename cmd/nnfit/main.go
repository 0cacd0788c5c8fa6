// Command nnfit runs batches of training experiments against the nnfit
// engine and reports on the stored results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nnfit/internal/config"
	"nnfit/internal/repository"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logJSON    bool
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nnfit",
	Short: "Run and inspect neural network fitting experiments",
	Long: `nnfit samples initial weights for a small neural network, runs the
training engine once per sample and stores every configuration, loss curve,
final weight set and test prediction in a relational database.

Commands:
  run      run a batch of experiments and report the best one
  best     report the best stored experiment
  migrate  create or upgrade the database schema
  serve    serve stored experiments over HTTP`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log JSON lines instead of console output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine runs")

	rootCmd.AddCommand(runCmd, bestCmd, migrateCmd, serveCmd)
}

// newLogger builds the process logger from the global flags
func newLogger() (*zap.Logger, error) {
	if logJSON {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		return cfg.Build()
	}

	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// setup loads the configuration and builds the logger shared by every command
func setup() (*config.Config, *zap.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger, nil
}

// openStore opens the database and brings the schema up to date
func openStore(cfg *config.Config, logger *zap.Logger) (*repository.ExperimentRepository, error) {
	db, err := repository.Open(repository.Config{
		Type: cfg.Database.Type,
		Path: cfg.Database.Path,
	}, logger)
	if err != nil {
		return nil, err
	}

	repo := repository.NewExperimentRepository(db, logger)
	if err := repo.CreateSchema(); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		repo, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer repo.Close()

		counts, err := repo.CountRows(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("Schema ready",
			zap.String("database", cfg.Database.Type),
			zap.Int64("experiments", counts.Experiments),
			zap.Int64("training_points", counts.TrainingSet))
		return nil
	},
}

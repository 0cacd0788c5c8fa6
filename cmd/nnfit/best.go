package main

import (
	"encoding/json"
	"os"

	"nnfit/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var bestJSON bool

var bestCmd = &cobra.Command{
	Use:   "best",
	Short: "Report the experiment with the lowest loss",
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

		integrity, err := repo.CheckIntegrity(cmd.Context())
		if err != nil {
			return err
		}
		if !integrity.Clean() {
			logger.Warn("Store has rows without an experiment", zap.Any("integrity", integrity))
		}

		report, err := service.NewSelector(repo, logger).SelectAndReconstruct(cmd.Context())
		if err != nil {
			return err
		}

		if bestJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(report)
		}
		return service.WriteReport(os.Stdout, report)
	},
}

func init() {
	bestCmd.Flags().BoolVar(&bestJSON, "json", false, "print the report as JSON")
}

package main

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-cognition/internal/utils"
)

func detectOnceCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "detect-once",
		Short: "Run a single detection and analysis cycle and print the report as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, closeLog := utils.NewLogger(cfg.Logging)
			defer closeLog()

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.monitor.RunCycle(cmd.Context())
			if err != nil {
				logger.Error("detection cycle failed", slog.Any("error", err))
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

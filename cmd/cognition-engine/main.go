package main

import (
	"os"

	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cognition-engine",
		Short: "Metric anomaly detection, root-cause analysis and incident knowledge",
		Long: `cognition-engine watches metric series for anomalies, explains them with
rule, correlation, log and event evidence, and keeps a searchable knowledge
base of past incidents and runbooks.

Quick start:
  cognition-engine serve --config configs/config.yaml
  cognition-engine detect-once --config configs/config.yaml
  cognition-engine call SearchIncidents --data '{"query":"orders drop"}'`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	cmd.AddCommand(serveCommand(&configPath))
	cmd.AddCommand(detectOnceCommand(&configPath))
	cmd.AddCommand(callCommand())
	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

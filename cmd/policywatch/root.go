package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "policywatch",
	Short: "Payer coverage-policy monitoring for MRD/ctDNA tests",
	Long:  "Crawls payer and lab-benefit-manager sites, snapshots policy documents, extracts coverage assertions via Claude, reconciles them into determinations, and stages changes for review.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/toncenter/examples/internal/config"
)

var (
	configPath string
	logLevel   string
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "withdrawer",
	Short: "Batched TON withdrawals through a highload wallet v3",
	Long: `withdrawer groups withdrawal requests into highload wallet v3 batches,
submits them with dedup identifiers and reconciles their outcomes from the
hot wallet and jetton wallet transaction streams.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	Example: `  # Run the service
  withdrawer serve --config=config.yaml

  # Enqueue a Toncoin withdrawal (amount in nanotons)
  withdrawer enqueue --to=EQD...abc --amount=1500000000

  # Enqueue a jetton withdrawal
  withdrawer enqueue --to=EQD...abc --amount=1000000 --jetton=jUSDT

  # Check a withdrawal
  withdrawer status 4b0b6c9e-...`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config.local.yaml or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, enqueueCmd, statusCmd, keygenCmd, adminTokenCmd)
}

// loadConfig loads AppConfig and configures logrus; keygen runs without a config
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Annotations["config"] == "none" {
		return nil
	}
	if err := config.LoadConfig(configPath); err != nil {
		return err
	}
	return setupLogging(config.AppConfig.Log)
}

func setupLogging(cfg config.LogConfig) error {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(parsed)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

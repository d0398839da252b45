package main

import (
	"context"
	"fmt"
	"os"

	"mt5-llm-trader/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "MetaTrader5 forex bot driven by a language model",
	Long: `bot polls an MT5 terminal through its HTTP bridge, computes indicators,
asks a chat model for a BUY/SELL/HOLD decision and places sized orders with
daily guardrails, entry gates and mechanical trade management.

Subcommands:
  run         - trading loop until SIGINT/SIGTERM
  once        - one cycle over the universe, then exit
  report      - weekly performance report
  stats       - trade log storage and recent records
  eod         - end-of-day CSV for a date
  guardrails  - show or reset the daily guardrail state`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeSystem()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with API keys and bridge settings")
}

// initializeSystem loads the env file, then the logger and tracer.
func initializeSystem() error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", envFile, err)
	}
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if logLevel != "" {
		logger.SetLevel(logLevel)
	}
	return nil
}

func main() {
	err := rootCmd.Execute()
	_ = logger.Shutdown(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

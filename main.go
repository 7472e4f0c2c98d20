package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finexplain/config"
	"finexplain/logging"
)

var rootCmd = &cobra.Command{
	Use:           "finexplain",
	Short:         "Verified LLM explanations for stock price moves",
	Long:          `finexplain collects market documents for a symbol, drafts a judgement or chat answer with an LLM and streams it only after policy and consistency checks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, judgeCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads and validates config, then builds the logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmorriss/tradegate/config"
	"github.com/rmorriss/tradegate/risk"
)

var rootCmd = &cobra.Command{
	Use:   "tradegate",
	Short: "Risk-gated trade execution coordinator for perpetual futures",
	Long: `Tradegate sits between a signal source and the exchange. Every signal is
validated, checked against hard risk limits, sized from its stop distance,
and only then dispatched. Every fill is recorded in a crash-safe ledger
with monthly accounting.

It provides:
  - A per-trade risk cap and a monthly drawdown budget
  - Stop-distance position sizing with leverage clamping
  - Paper and OKX perpetual-swap execution
  - A durable trade ledger with monthly rollover and a SQLite journal`,
}

var cfgPath string

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "", "path to config file (YAML or JSON)")
}

// loadConfig reads the configured file, or returns the defaults when no
// file was given.
func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// riskPolicy maps the config risk section onto the gate policy.
func riskPolicy(cfg config.RiskConfig) risk.Policy {
	return risk.Policy{
		PerTradeFraction:        cfg.PerTradeFraction,
		MonthlyDrawdownFraction: cfg.MonthlyDrawdownFraction,
		MarginHeadroom:          cfg.MarginHeadroom,
		MinLeverage:             1,
		MaxLeverage:             cfg.MaxLeverage,
	}
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Format == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger()
}

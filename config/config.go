// Package config loads the runtime configuration from a YAML or JSON file,
// applies defaults, and validates it before anything else starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Risk   RiskConfig   `json:"risk" yaml:"risk"`
	Engine EngineConfig `json:"engine" yaml:"engine"`
	Broker BrokerConfig `json:"broker" yaml:"broker"`
	State  StateConfig  `json:"state" yaml:"state"`
	Log    LogConfig    `json:"log" yaml:"log"`
}

// RiskConfig sets the hard limits the gate enforces. Fractions are of the
// account balance, e.g. 0.02 risks at most 2% per trade.
type RiskConfig struct {
	PerTradeFraction        float64 `json:"per_trade_fraction" yaml:"per_trade_fraction" default:"0.02"`
	MonthlyDrawdownFraction float64 `json:"monthly_drawdown_fraction" yaml:"monthly_drawdown_fraction" default:"0.06"`
	MarginHeadroom          float64 `json:"margin_headroom" yaml:"margin_headroom" default:"0.98"`
	MaxLeverage             int     `json:"max_leverage" yaml:"max_leverage" default:"20"`
}

// EngineConfig drives the coordinator loop.
type EngineConfig struct {
	CycleInterval string `json:"cycle_interval" yaml:"cycle_interval" default:"5m"`
	SignalFile    string `json:"signal_file" yaml:"signal_file"`
}

// Interval parses the cycle interval.
func (e EngineConfig) Interval() (time.Duration, error) {
	return time.ParseDuration(e.CycleInterval)
}

// BrokerConfig selects and configures the exchange adapter.
type BrokerConfig struct {
	Kind  string      `json:"kind" yaml:"kind" default:"paper"`
	Paper PaperConfig `json:"paper,omitempty" yaml:"paper,omitempty"`
	OKX   OKXConfig   `json:"okx,omitempty" yaml:"okx,omitempty"`
}

// PaperConfig initializes the in-memory exchange.
type PaperConfig struct {
	Balance float64 `json:"balance" yaml:"balance" default:"10000"`
}

// OKXConfig holds the venue credentials. Empty credential fields fall back
// to the OKX_API_KEY, OKX_API_SECRET, and OKX_PASSPHRASE environment
// variables so secrets can stay out of the config file. Live must be set
// explicitly; the default routes orders to the demo environment.
type OKXConfig struct {
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Secret     string `json:"secret,omitempty" yaml:"secret,omitempty"`
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	Live       bool   `json:"live,omitempty" yaml:"live,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// StateConfig locates the durable files.
type StateConfig struct {
	Path        string `json:"path" yaml:"path" default:"state/ledger.json"`
	JournalPath string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" default:"info"`
	Format string `json:"format" yaml:"format" default:"console"`
}

// LoadFromFile loads configuration from a file, YAML first with a JSON
// fallback, fills defaults, and validates.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	cfg.fillEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, YAML or JSON by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Default returns the configuration used when no file is given: a paper
// account with the stock risk limits.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.fillEnv()
	return cfg
}

func (c *Config) fillEnv() {
	if c.Broker.OKX.APIKey == "" {
		c.Broker.OKX.APIKey = os.Getenv("OKX_API_KEY")
	}
	if c.Broker.OKX.Secret == "" {
		c.Broker.OKX.Secret = os.Getenv("OKX_API_SECRET")
	}
	if c.Broker.OKX.Passphrase == "" {
		c.Broker.OKX.Passphrase = os.Getenv("OKX_PASSPHRASE")
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Risk.PerTradeFraction <= 0 || c.Risk.PerTradeFraction > 1 {
		return fmt.Errorf("risk.per_trade_fraction must be between 0 and 1")
	}
	if c.Risk.MonthlyDrawdownFraction <= 0 || c.Risk.MonthlyDrawdownFraction > 1 {
		return fmt.Errorf("risk.monthly_drawdown_fraction must be between 0 and 1")
	}
	if c.Risk.MarginHeadroom <= 0 || c.Risk.MarginHeadroom > 1 {
		return fmt.Errorf("risk.margin_headroom must be between 0 and 1")
	}
	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be at least 1")
	}
	if _, err := c.Engine.Interval(); err != nil {
		return fmt.Errorf("engine.cycle_interval: %w", err)
	}

	switch c.Broker.Kind {
	case "paper":
		if c.Broker.Paper.Balance <= 0 {
			return fmt.Errorf("broker.paper.balance must be positive")
		}
	case "okx":
		var missing []string
		if c.Broker.OKX.APIKey == "" {
			missing = append(missing, "api_key")
		}
		if c.Broker.OKX.Secret == "" {
			missing = append(missing, "secret")
		}
		if c.Broker.OKX.Passphrase == "" {
			missing = append(missing, "passphrase")
		}
		if len(missing) > 0 {
			return fmt.Errorf("broker.okx credentials missing: %s", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("broker.kind must be 'paper' or 'okx'")
	}

	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'console' or 'json'")
	}
	return nil
}

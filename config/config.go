package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/papertrade/market"
)

// Config represents the complete simulator configuration.
type Config struct {
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
	Feed        FeedConfig         `json:"feed" yaml:"feed"`
	Desk        DeskConfig         `json:"desk" yaml:"desk"`
	Journal     JournalConfig      `json:"journal" yaml:"journal"`
	Accounts    []AccountConfig    `json:"accounts" yaml:"accounts"`
	LogLevel    string             `json:"log_level" yaml:"log_level"`
}

// InstrumentConfig describes one simulated instrument.
type InstrumentConfig struct {
	Symbol     string  `json:"symbol" yaml:"symbol"`
	Precision  int     `json:"precision" yaml:"precision"`
	BasePrice  float64 `json:"base_price" yaml:"base_price"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
	Drift      float64 `json:"drift" yaml:"drift"`
	VolumeMin  float64 `json:"volume_min" yaml:"volume_min"`
	VolumeMax  float64 `json:"volume_max" yaml:"volume_max"`
}

// FeedConfig contains quote generation parameters.
type FeedConfig struct {
	Interval   string  `json:"interval" yaml:"interval"` // e.g. "2s", "30s"
	HistoryCap int     `json:"history_cap" yaml:"history_cap"`
	DriftBias  float64 `json:"drift_bias" yaml:"drift_bias"`
}

// ParseInterval converts the tick interval string to a time.Duration.
func (f FeedConfig) ParseInterval() (time.Duration, error) {
	if f.Interval == "" {
		return 2 * time.Second, nil
	}
	return time.ParseDuration(f.Interval)
}

// DeskConfig contains execution parameters.
type DeskConfig struct {
	FeeRate  float64 `json:"fee_rate" yaml:"fee_rate"` // fraction, e.g. 0.003
	Currency string  `json:"currency" yaml:"currency"`
}

// JournalConfig contains persistence parameters.
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite" or "memory"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// AccountConfig seeds one user balance at startup.
type AccountConfig struct {
	UserID   string  `json:"user_id" yaml:"user_id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// LoadFromFile loads configuration from a file, trying YAML first and
// falling back to JSON.
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file; format follows the
// extension (.yaml/.yml for YAML, JSON otherwise).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := map[string]bool{}
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument symbol is required")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument: %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.BasePrice <= 0 {
			return fmt.Errorf("%s: base_price must be positive", inst.Symbol)
		}
		if inst.Volatility < 0 || inst.Drift < 0 {
			return fmt.Errorf("%s: volatility and drift must be non-negative", inst.Symbol)
		}
		if inst.VolumeMin < 0 || inst.VolumeMax < inst.VolumeMin {
			return fmt.Errorf("%s: volume range is invalid", inst.Symbol)
		}
	}
	if _, err := c.Feed.ParseInterval(); err != nil {
		return fmt.Errorf("feed.interval: %w", err)
	}
	if c.Feed.HistoryCap < 0 {
		return fmt.Errorf("feed.history_cap must be non-negative")
	}
	if c.Desk.FeeRate < 0 || c.Desk.FeeRate >= 1 {
		return fmt.Errorf("desk.fee_rate must be in [0, 1)")
	}
	if c.Desk.Currency == "" {
		return fmt.Errorf("desk.currency is required")
	}
	if c.Journal.Type != "sqlite" && c.Journal.Type != "memory" {
		return fmt.Errorf("journal.type must be 'sqlite' or 'memory'")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path required for sqlite type")
	}
	for _, acct := range c.Accounts {
		if acct.UserID == "" || acct.Currency == "" {
			return fmt.Errorf("account user_id and currency are required")
		}
		if acct.Balance < 0 {
			return fmt.Errorf("account %s: balance must be non-negative", acct.UserID)
		}
	}
	return nil
}

// MarketInstruments converts the configured instruments to their
// market representation.
func (c *Config) MarketInstruments() []market.Instrument {
	out := make([]market.Instrument, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, market.Instrument{
			Symbol:     inst.Symbol,
			Precision:  inst.Precision,
			BasePrice:  inst.BasePrice,
			Volatility: inst.Volatility,
			Drift:      inst.Drift,
			VolumeMin:  inst.VolumeMin,
			VolumeMax:  inst.VolumeMax,
		})
	}
	return out
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Instruments: []InstrumentConfig{
			{Symbol: "BTC/USD", Precision: 2, BasePrice: 42000, Volatility: 0.02, Drift: 0.001, VolumeMin: 0.5, VolumeMax: 25},
			{Symbol: "ETH/USD", Precision: 2, BasePrice: 2500, Volatility: 0.025, Drift: 0.001, VolumeMin: 5, VolumeMax: 200},
			{Symbol: "EUR/USD", Precision: 5, BasePrice: 1.085, Volatility: 0.004, Drift: 0.0002, VolumeMin: 10000, VolumeMax: 500000},
		},
		Feed: FeedConfig{
			Interval:   "2s",
			HistoryCap: 500,
			DriftBias:  0.4,
		},
		Desk: DeskConfig{
			FeeRate:  0.003,
			Currency: "USD",
		},
		Journal: JournalConfig{
			Type: "memory",
		},
		Accounts: []AccountConfig{
			{UserID: "demo", Currency: "USD", Balance: 10000},
		},
		LogLevel: "info",
	}
}

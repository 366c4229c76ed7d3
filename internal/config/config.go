// Package config loads the bot's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ExchangeConfig struct {
	Name         string `yaml:"name"` // "bybit" or "paper"
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	Category     string `yaml:"category"`
	SettleCoin   string `yaml:"settle_coin"`
}

type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	MakerFeeRate   float64 `yaml:"maker_fee_rate"`
	TakerFeeRate   float64 `yaml:"taker_fee_rate"`
	DataSource     string  `yaml:"data_source"` // "rest" or "ws"
}

type Config struct {
	Exchange   ExchangeConfig `yaml:"exchange"`
	Paper      PaperConfig    `yaml:"paper"`
	Symbols    []string       `yaml:"symbols"`
	Mode       string         `yaml:"mode"`
	EMAEnabled *bool          `yaml:"ema_enabled"`
	Grid       GridConfig     `yaml:"grid"`
	Storage    struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Parse decodes YAML bytes, used by tests and tools.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "paper"
	}
	c.Exchange.Name = strings.ToLower(c.Exchange.Name)
	if c.Exchange.Category == "" {
		c.Exchange.Category = "linear"
	}
	if c.Exchange.SettleCoin == "" {
		c.Exchange.SettleCoin = "USDT"
	}
	if c.Paper.InitialBalance == 0 {
		c.Paper.InitialBalance = 1000
	}
	if c.Paper.DataSource == "" {
		c.Paper.DataSource = "rest"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "bot.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// GridConfig resolves the mode profile and applies the file's overrides.
func (c *Config) GridConfig() (GridConfig, error) {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return GridConfig{}, err
	}
	grid := Profile(mode).Merge(c.Grid)
	if c.EMAEnabled != nil {
		grid.EMA.Enabled = *c.EMAEnabled
	}
	if err := grid.Validate(); err != nil {
		return GridConfig{}, err
	}
	return grid, nil
}

// Validate checks the process-level settings.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	switch c.Exchange.Name {
	case "paper":
		if c.Paper.DataSource != "rest" && c.Paper.DataSource != "ws" {
			return fmt.Errorf("paper.data_source must be rest or ws, got %q", c.Paper.DataSource)
		}
	case "bybit":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("bybit requires api_key and api_secret")
		}
	default:
		return fmt.Errorf("unknown exchange %q", c.Exchange.Name)
	}
	_, err := c.GridConfig()
	return err
}

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultTokenName     = "Lendify Token"
	DefaultTokenSymbol   = "LDF"
	DefaultTokenDecimals = 18
	DefaultInitialSupply = 1_000_000

	DefaultMinCollateralRatio = "1.5"
	DefaultBaseRatePerPeriod  = "0.05"
	DefaultSlope              = "0.02"
	DefaultAccrualPeriod      = "24h"
	DefaultCollateralPrice    = "1"

	DefaultTreasury = "0x0000000000000000000000000000000000001000"
	DefaultReserve  = "0x0000000000000000000000000000000000001001"
	DefaultVault    = "0x0000000000000000000000000000000000001002"
)

// Config is the engine bootstrap configuration.
type Config struct {
	Token    Token    `toml:"token"`
	Accounts Accounts `toml:"accounts"`
	Risk     Risk     `toml:"risk"`
	Pauses   Pauses   `toml:"pauses"`

	Allocations []Allocation `toml:"allocations"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := ValidateConfig(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration matching the reference deployment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Token.Name = strings.TrimSpace(c.Token.Name)
	if c.Token.Name == "" {
		c.Token.Name = DefaultTokenName
	}
	c.Token.Symbol = strings.ToUpper(strings.TrimSpace(c.Token.Symbol))
	if c.Token.Symbol == "" {
		c.Token.Symbol = DefaultTokenSymbol
	}
	if c.Token.Decimals == 0 {
		c.Token.Decimals = DefaultTokenDecimals
	}
	if c.Token.InitialSupply == 0 {
		c.Token.InitialSupply = DefaultInitialSupply
	}
	setDefault(&c.Accounts.Treasury, DefaultTreasury)
	setDefault(&c.Accounts.Reserve, DefaultReserve)
	setDefault(&c.Accounts.Vault, DefaultVault)
	setDefault(&c.Risk.MinCollateralRatio, DefaultMinCollateralRatio)
	setDefault(&c.Risk.BaseRatePerPeriod, DefaultBaseRatePerPeriod)
	setDefault(&c.Risk.Slope, DefaultSlope)
	setDefault(&c.Risk.AccrualPeriod, DefaultAccrualPeriod)
	setDefault(&c.Risk.CollateralPrice, DefaultCollateralPrice)
	c.Accounts.SeizeRecipient = strings.TrimSpace(c.Accounts.SeizeRecipient)
	c.Accounts.ReserveFunding = strings.TrimSpace(c.Accounts.ReserveFunding)
}

func setDefault(field *string, value string) {
	*field = strings.TrimSpace(*field)
	if *field == "" {
		*field = value
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"claimchain/crypto"
	"claimchain/native/gov"
)

// Genesis seeds the governance ledger on a fresh database. Addresses are
// bech32 strings, rates are decimal strings at 1e18 scale, periods are
// seconds.
type Genesis struct {
	Owner              string `toml:"Owner"`
	Treasury           string `toml:"Treasury"`
	FallbackProvider   string `toml:"FallbackProvider"`
	ProtocolFeeRate    string `toml:"ProtocolFeeRate"`
	SettlementFeeRate  string `toml:"SettlementFeeRate"`
	SubmissionPeriod   int64  `toml:"SubmissionPeriod"`
	ChallengePeriod    int64  `toml:"ChallengePeriod"`
	ReviewPeriod       int64  `toml:"ReviewPeriod"`
	FallbackPeriod     int64  `toml:"FallbackPeriod"`
}

type Config struct {
	RPCAddress  string  `toml:"RPCAddress"`
	DataDir     string  `toml:"DataDir"`
	ChainID     uint64  `toml:"ChainID"`
	NetworkName string  `toml:"NetworkName"`
	Env         string  `toml:"Env"`
	LogFile     string  `toml:"LogFile"`
	Genesis     Genesis `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "0.0.0.0:8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./claimchain-data"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "claimchain-local"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.Genesis.SubmissionPeriod == 0 {
		cfg.Genesis.SubmissionPeriod = 7 * 24 * 60 * 60
	}
	if cfg.Genesis.ChallengePeriod == 0 {
		cfg.Genesis.ChallengePeriod = 3 * 24 * 60 * 60
	}
	if cfg.Genesis.ReviewPeriod == 0 {
		cfg.Genesis.ReviewPeriod = 5 * 24 * 60 * 60
	}
	if cfg.Genesis.FallbackPeriod == 0 {
		cfg.Genesis.FallbackPeriod = 10 * 24 * 60 * 60
	}
	if strings.TrimSpace(cfg.Genesis.ProtocolFeeRate) == "" {
		cfg.Genesis.ProtocolFeeRate = "2500000000000000" // 0.25%
	}
	if strings.TrimSpace(cfg.Genesis.SettlementFeeRate) == "" {
		cfg.Genesis.SettlementFeeRate = "500000000000000" // 0.05%
	}
}

// Validate checks the decoded configuration for obvious mistakes before the
// node starts.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Genesis.Owner", cfg.Genesis.Owner},
		{"Genesis.Treasury", cfg.Genesis.Treasury},
		{"Genesis.FallbackProvider", cfg.Genesis.FallbackProvider},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	for _, period := range []struct {
		name  string
		value int64
	}{
		{"SubmissionPeriod", cfg.Genesis.SubmissionPeriod},
		{"ChallengePeriod", cfg.Genesis.ChallengePeriod},
		{"ReviewPeriod", cfg.Genesis.ReviewPeriod},
		{"FallbackPeriod", cfg.Genesis.FallbackPeriod},
	} {
		if period.value < gov.MinPeriod || period.value > gov.MaxPeriod {
			return fmt.Errorf("config: Genesis.%s outside [%d, %d] seconds", period.name, gov.MinPeriod, gov.MaxPeriod)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	DefaultSettlementToken = "ETH"
	DefaultEnvironment     = "dev"
)

type Config struct {
	DataDir            string   `toml:"DataDir"`
	EventLogPath       string   `toml:"EventLogPath"`
	GatewayConfig      string   `toml:"GatewayConfig"`
	MarketplaceAddress string   `toml:"MarketplaceAddress"`
	SettlementToken    string   `toml:"SettlementToken"`
	Environment        string   `toml:"Environment"`
	LogLevel           string   `toml:"LogLevel"`
	PausedModules      []string `toml:"PausedModules"`
	Genesis            Genesis  `toml:"Genesis"`
}

// Load loads the configuration from the given path. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults(configPath string) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(configPath), "nftmarket-data")
	}
	if strings.TrimSpace(cfg.EventLogPath) == "" {
		cfg.EventLogPath = filepath.Join(cfg.DataDir, "events.db")
	}
	if strings.TrimSpace(cfg.MarketplaceAddress) == "" {
		cfg.MarketplaceAddress = DefaultMarketplaceAddress()
	}
	cfg.SettlementToken = strings.ToUpper(strings.TrimSpace(cfg.SettlementToken))
	if cfg.SettlementToken == "" {
		cfg.SettlementToken = DefaultSettlementToken
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	if cfg.Environment == "" {
		cfg.Environment = DefaultEnvironment
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
}

// DefaultMarketplaceAddress is the marketplace identity used when none is
// configured: the last 20 bytes of keccak256("nftmarket/marketplace").
func DefaultMarketplaceAddress() string {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("nftmarket/marketplace"))).Hex()
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(path)
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

package config

import (
	"fmt"
	"strings"

	"nftmarket/native/marketplace"
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate checks addresses, amounts and enumerations. It expects defaults to
// have been applied.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	market, err := marketplace.ParseAddress(cfg.MarketplaceAddress)
	if err != nil {
		return fmt.Errorf("MarketplaceAddress: %w", err)
	}
	if market == ([20]byte{}) {
		return fmt.Errorf("MarketplaceAddress must not be the zero address")
	}
	if _, ok := validLogLevels[cfg.LogLevel]; !ok {
		return fmt.Errorf("LogLevel %q is not one of debug, info, warn, error", cfg.LogLevel)
	}
	for i, module := range cfg.PausedModules {
		if strings.TrimSpace(module) == "" {
			return fmt.Errorf("PausedModules[%d] cannot be empty", i)
		}
	}
	for i, bal := range cfg.Genesis.Balances {
		if _, err := marketplace.ParseAddress(bal.Address); err != nil {
			return fmt.Errorf("Genesis.Balances[%d].Address: %w", i, err)
		}
		amount, err := marketplace.ParseAmount(bal.Amount)
		if err != nil {
			return fmt.Errorf("Genesis.Balances[%d].Amount: %w", i, err)
		}
		if amount.Sign() == 0 {
			return fmt.Errorf("Genesis.Balances[%d].Amount must be positive", i)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Genesis.Assets))
	for i, asset := range cfg.Genesis.Assets {
		contract, err := marketplace.ParseAddress(asset.Contract)
		if err != nil {
			return fmt.Errorf("Genesis.Assets[%d].Contract: %w", i, err)
		}
		id, err := marketplace.ParseAssetID(asset.TokenID)
		if err != nil {
			return fmt.Errorf("Genesis.Assets[%d].TokenID: %w", i, err)
		}
		if _, err := marketplace.ParseAddress(asset.Owner); err != nil {
			return fmt.Errorf("Genesis.Assets[%d].Owner: %w", i, err)
		}
		key := marketplace.ListingKey(contract, id)
		if _, dup := seen[string(key[:])]; dup {
			return fmt.Errorf("Genesis.Assets[%d]: duplicate token %s", i, id)
		}
		seen[string(key[:])] = struct{}{}
	}
	return nil
}

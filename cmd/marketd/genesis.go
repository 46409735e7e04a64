package main

import (
	"fmt"
	"math/big"

	"nftmarket/config"
	"nftmarket/native/marketplace"
)

var genesisMarkerKey = []byte("nftmarket/genesis-applied")

type genesisMarker interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type genesisLedger interface {
	Credit(addr [20]byte, amount *big.Int) error
}

type genesisRegistry interface {
	Mint(contract [20]byte, id *big.Int, to [20]byte) error
	Approve(caller, contract [20]byte, id *big.Int, spender [20]byte) error
}

// applyGenesis seeds balances and assets the first time a data directory is
// opened. It reports whether anything was written.
func applyGenesis(marker genesisMarker, ledger genesisLedger, registry genesisRegistry, market [20]byte, gen config.Genesis) (bool, error) {
	var applied bool
	ok, err := marker.KVGet(genesisMarkerKey, &applied)
	if err != nil {
		return false, fmt.Errorf("read genesis marker: %w", err)
	}
	if ok && applied {
		return false, nil
	}

	for i, entry := range gen.Balances {
		addr, err := marketplace.ParseAddress(entry.Address)
		if err != nil {
			return false, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		amount, err := marketplace.ParseAmount(entry.Amount)
		if err != nil {
			return false, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		if err := ledger.Credit(addr, amount); err != nil {
			return false, fmt.Errorf("genesis balance %d: %w", i, err)
		}
	}
	for i, asset := range gen.Assets {
		contract, err := marketplace.ParseAddress(asset.Contract)
		if err != nil {
			return false, fmt.Errorf("genesis asset %d: %w", i, err)
		}
		id, err := marketplace.ParseAssetID(asset.TokenID)
		if err != nil {
			return false, fmt.Errorf("genesis asset %d: %w", i, err)
		}
		owner, err := marketplace.ParseAddress(asset.Owner)
		if err != nil {
			return false, fmt.Errorf("genesis asset %d: %w", i, err)
		}
		if err := registry.Mint(contract, id, owner); err != nil {
			return false, fmt.Errorf("genesis asset %d: mint: %w", i, err)
		}
		if asset.ApproveMarketplace {
			if err := registry.Approve(owner, contract, id, market); err != nil {
				return false, fmt.Errorf("genesis asset %d: approve: %w", i, err)
			}
		}
	}
	if err := marker.KVPut(genesisMarkerKey, true); err != nil {
		return false, fmt.Errorf("write genesis marker: %w", err)
	}
	return true, nil
}

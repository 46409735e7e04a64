package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/native/marketplace"
)

var (
	listingPrefix  = []byte("marketplace/listing/")
	proceedsPrefix = []byte("marketplace/proceeds/")
)

func listingStorageKey(contract [20]byte, assetID *big.Int) []byte {
	key := marketplace.ListingKey(contract, assetID)
	return prefixedKey(listingPrefix, key[:])
}

func proceedsStorageKey(seller [20]byte) []byte {
	return prefixedKey(proceedsPrefix, seller[:])
}

type storedListing struct {
	Contract [20]byte
	AssetID  *big.Int
	Seller   [20]byte
	Price    *big.Int
}

func newStoredListing(l *marketplace.Listing) *storedListing {
	record := &storedListing{
		Contract: l.AssetContract,
		AssetID:  big.NewInt(0),
		Seller:   l.Seller,
		Price:    big.NewInt(0),
	}
	if l.AssetID != nil {
		record.AssetID = new(big.Int).Set(l.AssetID)
	}
	if l.Price != nil {
		record.Price = new(big.Int).Set(l.Price)
	}
	return record
}

func (s *storedListing) toListing() *marketplace.Listing {
	out := &marketplace.Listing{
		AssetContract: s.Contract,
		AssetID:       big.NewInt(0),
		Seller:        s.Seller,
		Price:         big.NewInt(0),
	}
	if s.AssetID != nil {
		out.AssetID = new(big.Int).Set(s.AssetID)
	}
	if s.Price != nil {
		out.Price = new(big.Int).Set(s.Price)
	}
	return out
}

// ListingPut stores an active listing. Prices must be positive; clearing goes
// through ListingClear.
func (m *Manager) ListingPut(l *marketplace.Listing) error {
	if l == nil {
		return fmt.Errorf("listing: nil value")
	}
	if err := marketplace.ValidateAssetID(l.AssetID); err != nil {
		return err
	}
	if !l.Active() {
		return fmt.Errorf("listing: price must be positive")
	}
	return m.put(listingStorageKey(l.AssetContract, l.AssetID), newStoredListing(l))
}

// ListingGet returns the active listing for the key. The boolean is false for
// keys never listed and for cleared listings (the zero-price sentinel).
func (m *Manager) ListingGet(contract [20]byte, assetID *big.Int) (*marketplace.Listing, bool, error) {
	data, err := m.get(listingStorageKey(contract, assetID))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	stored := new(storedListing)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, err
	}
	listing := stored.toListing()
	if !listing.Active() {
		return nil, false, nil
	}
	return listing, true, nil
}

// ListingClear overwrites the listing with the zero-price sentinel.
func (m *Manager) ListingClear(contract [20]byte, assetID *big.Int) error {
	if err := marketplace.ValidateAssetID(assetID); err != nil {
		return err
	}
	return m.put(listingStorageKey(contract, assetID), newStoredListing(marketplace.EmptyListing(contract, assetID)))
}

// ProceedsGet returns the seller's accumulated proceeds, zero when absent.
func (m *Manager) ProceedsGet(seller [20]byte) (*big.Int, error) {
	return m.loadBigInt(proceedsStorageKey(seller))
}

// ProceedsPut overwrites the seller's proceeds balance.
func (m *Manager) ProceedsPut(seller [20]byte, amount *big.Int) error {
	return m.writeBigInt(proceedsStorageKey(seller), amount)
}

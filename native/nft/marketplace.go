package nft

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"nftmarket/native/marketplace"
)

// MarketplaceView adapts a Registry to the marketplace engine's registry
// interface. Transfers are performed with the marketplace as spender.
type MarketplaceView struct {
	registry *Registry
	spender  [20]byte
}

func NewMarketplaceView(registry *Registry, marketplace [20]byte) *MarketplaceView {
	return &MarketplaceView{registry: registry, spender: marketplace}
}

// OwnerOf reports a missing token as marketplace.ErrAssetNotFound so the
// engine can tell a burned asset from a failing store.
func (v *MarketplaceView) OwnerOf(_ context.Context, contract [20]byte, id *big.Int) ([20]byte, error) {
	owner, err := v.registry.OwnerOf(contract, id)
	if errors.Is(err, ErrNonexistentToken) {
		return [20]byte{}, fmt.Errorf("%w: %w", marketplace.ErrAssetNotFound, err)
	}
	return owner, err
}

func (v *MarketplaceView) GetApproved(_ context.Context, contract [20]byte, id *big.Int) ([20]byte, error) {
	return v.registry.GetApproved(contract, id)
}

func (v *MarketplaceView) TransferFrom(ctx context.Context, contract [20]byte, id *big.Int, from, to [20]byte) error {
	return v.registry.TransferFrom(ctx, v.spender, contract, id, from, to)
}

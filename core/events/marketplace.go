package events

import (
	"math/big"

	"nftmarket/core/types"
)

const (
	TypeItemListed        = "marketplace.item_listed"
	TypeItemCanceled      = "marketplace.item_canceled"
	TypeItemBought        = "marketplace.item_bought"
	TypeProceedsWithdrawn = "marketplace.proceeds_withdrawn"
)

// ItemListed is emitted when a listing is created or its price is updated.
type ItemListed struct {
	Seller   [20]byte
	Contract [20]byte
	AssetID  *big.Int
	Price    *big.Int
}

func (ItemListed) EventType() string { return TypeItemListed }

func (e ItemListed) Event() *types.Event {
	return &types.Event{
		Type: TypeItemListed,
		Attributes: map[string]string{
			"seller":   formatAddress(e.Seller),
			"contract": formatAddress(e.Contract),
			"assetId":  formatAmount(e.AssetID),
			"price":    formatAmount(e.Price),
		},
	}
}

// ItemCanceled is emitted when a listing is removed without a sale.
type ItemCanceled struct {
	Seller   [20]byte
	Contract [20]byte
	AssetID  *big.Int
}

func (ItemCanceled) EventType() string { return TypeItemCanceled }

func (e ItemCanceled) Event() *types.Event {
	return &types.Event{
		Type: TypeItemCanceled,
		Attributes: map[string]string{
			"seller":   formatAddress(e.Seller),
			"contract": formatAddress(e.Contract),
			"assetId":  formatAmount(e.AssetID),
		},
	}
}

// ItemBought is emitted once the asset has moved to the buyer. Price is the
// listing price, not the payment.
type ItemBought struct {
	Buyer    [20]byte
	Contract [20]byte
	AssetID  *big.Int
	Price    *big.Int
}

func (ItemBought) EventType() string { return TypeItemBought }

func (e ItemBought) Event() *types.Event {
	return &types.Event{
		Type: TypeItemBought,
		Attributes: map[string]string{
			"buyer":    formatAddress(e.Buyer),
			"contract": formatAddress(e.Contract),
			"assetId":  formatAmount(e.AssetID),
			"price":    formatAmount(e.Price),
		},
	}
}

type ProceedsWithdrawn struct {
	Seller [20]byte
	Amount *big.Int
}

func (ProceedsWithdrawn) EventType() string { return TypeProceedsWithdrawn }

func (e ProceedsWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeProceedsWithdrawn,
		Attributes: map[string]string{
			"seller": formatAddress(e.Seller),
			"amount": formatAmount(e.Amount),
		},
	}
}

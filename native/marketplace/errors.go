package marketplace

import (
	"context"
	"errors"

	"nftmarket/native/common"
)

var (
	ErrAlreadyListed             = errors.New("marketplace: already listed")
	ErrNotOwner                  = errors.New("marketplace: not owner")
	ErrNotApprovedForMarketplace = errors.New("marketplace: not approved for marketplace")
	ErrInvalidPrice              = errors.New("marketplace: price must be positive")
	ErrNotListed                 = errors.New("marketplace: not listed")
	ErrPriceNotMet               = errors.New("marketplace: price not met")
	ErrNoProceeds                = errors.New("marketplace: no proceeds")
	ErrWithdrawalFailed          = errors.New("marketplace: withdrawal failed")

	ErrPaymentFailed       = errors.New("marketplace: payment collection failed")
	ErrAssetTransferFailed = errors.New("marketplace: asset transfer failed")
	ErrReentrantCall       = errors.New("marketplace: reentrant call")
	ErrListingNotStale     = errors.New("marketplace: listing is not stale")
	ErrInvalidAssetID      = errors.New("marketplace: invalid asset id")

	// ErrAssetNotFound reports that the registry has no record of the asset,
	// for example because it was burned.
	ErrAssetNotFound = errors.New("marketplace: asset not found")

	errNilState    = errors.New("marketplace engine: state not configured")
	errNilRegistry = errors.New("marketplace engine: asset registry not configured")
	errNilFunds    = errors.New("marketplace engine: settlement funds not configured")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrAlreadyListed, "already_listed"},
	{ErrNotOwner, "not_owner"},
	{ErrNotApprovedForMarketplace, "not_approved"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrNotListed, "not_listed"},
	{ErrPriceNotMet, "price_not_met"},
	{ErrNoProceeds, "no_proceeds"},
	{ErrWithdrawalFailed, "withdrawal_failed"},
	{ErrPaymentFailed, "payment_failed"},
	{ErrAssetTransferFailed, "transfer_failed"},
	{ErrReentrantCall, "reentrant"},
	{ErrListingNotStale, "not_stale"},
	{ErrInvalidAssetID, "invalid_asset_id"},
	{ErrAssetNotFound, "asset_not_found"},
	{common.ErrModulePaused, "paused"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "canceled"},
}

// ErrorKind returns a stable label for the marketplace error wrapped by err.
// Nil maps to "ok" and unrecognised errors to "internal".
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

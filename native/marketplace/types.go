package marketplace

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// maxAssetIDBits bounds asset identifiers to the uint256 domain used by
// ERC-721 style registries.
const maxAssetIDBits = 256

// Listing is an active offer to sell one asset. A listing whose price is zero
// is the sentinel for "not listed"; there is no separate existence flag.
type Listing struct {
	AssetContract [20]byte
	AssetID       *big.Int
	Seller        [20]byte
	Price         *big.Int
}

// EmptyListing returns the zero-price sentinel for the supplied key.
func EmptyListing(contract [20]byte, assetID *big.Int) *Listing {
	return &Listing{
		AssetContract: contract,
		AssetID:       cloneBigInt(assetID),
		Price:         big.NewInt(0),
	}
}

// Active reports whether the listing is a live offer rather than the sentinel.
func (l *Listing) Active() bool {
	return l != nil && l.Price != nil && l.Price.Sign() > 0
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.AssetID = cloneBigInt(l.AssetID)
	clone.Price = cloneBigInt(l.Price)
	return &clone
}

// ListingKey derives the storage key for a (contract, asset id) pair.
func ListingKey(contract [20]byte, assetID *big.Int) [32]byte {
	return ethcrypto.Keccak256Hash(contract[:], AssetIDBytes(assetID))
}

// AssetIDBytes renders the asset id as a fixed 32-byte big-endian word.
func AssetIDBytes(assetID *big.Int) []byte {
	buf := make([]byte, 32)
	if assetID == nil || assetID.Sign() < 0 || assetID.BitLen() > maxAssetIDBits {
		return buf
	}
	return assetID.FillBytes(buf)
}

// ValidateAssetID ensures the identifier fits the unsigned 256-bit domain.
func ValidateAssetID(assetID *big.Int) error {
	if assetID == nil {
		return fmt.Errorf("%w: missing", ErrInvalidAssetID)
	}
	if assetID.Sign() < 0 {
		return fmt.Errorf("%w: negative value %s", ErrInvalidAssetID, assetID)
	}
	if assetID.BitLen() > maxAssetIDBits {
		return fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAssetID)
	}
	return nil
}

// ParseAddress decodes a 0x-prefixed hex address.
func ParseAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseAssetID decodes a base-10 asset identifier.
func ParseAssetID(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal integer", ErrInvalidAssetID, raw)
	}
	if err := ValidateAssetID(value); err != nil {
		return nil, err
	}
	return value, nil
}

// ParseAmount decodes a non-negative base-10 amount.
func ParseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return value, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func describe(contract [20]byte, assetID *big.Int) string {
	return fmt.Sprintf("contract=%s assetId=%s", common.Address(contract).Hex(), cloneBigInt(assetID))
}

func hexAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

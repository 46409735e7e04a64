package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/native/marketplace"
	"nftmarket/native/nft"
	"nftmarket/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func TestListingRoundTripAndSentinel(t *testing.T) {
	mgr := newTestManager(t)
	contract := [20]byte{0xC0}
	id := big.NewInt(3)

	_, ok, err := mgr.ListingGet(contract, id)
	require.NoError(t, err)
	require.False(t, ok)

	listing := &marketplace.Listing{AssetContract: contract, AssetID: id, Seller: [20]byte{0x01}, Price: big.NewInt(500)}
	require.NoError(t, mgr.ListingPut(listing))

	got, ok, err := mgr.ListingGet(contract, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, listing.Seller, got.Seller)
	require.Zero(t, got.Price.Cmp(big.NewInt(500)))
	require.Zero(t, got.AssetID.Cmp(id))

	require.NoError(t, mgr.ListingClear(contract, id))
	_, ok, err = mgr.ListingGet(contract, id)
	require.NoError(t, err)
	require.False(t, ok, "cleared listing must read as not listed")

	other, ok, err := mgr.ListingGet(contract, big.NewInt(4))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, other)
}

func TestListingPutRejectsSentinel(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.ListingPut(marketplace.EmptyListing([20]byte{0xC0}, big.NewInt(1)))
	require.Error(t, err)
	require.Error(t, mgr.ListingPut(nil))
	require.ErrorIs(t, mgr.ListingClear([20]byte{0xC0}, big.NewInt(-1)), marketplace.ErrInvalidAssetID)
}

func TestProceedsDefaultsToZero(t *testing.T) {
	mgr := newTestManager(t)
	seller := [20]byte{0x01}

	amount, err := mgr.ProceedsGet(seller)
	require.NoError(t, err)
	require.Zero(t, amount.Sign())

	require.NoError(t, mgr.ProceedsPut(seller, big.NewInt(250)))
	amount, err = mgr.ProceedsGet(seller)
	require.NoError(t, err)
	require.Zero(t, amount.Cmp(big.NewInt(250)))

	require.Error(t, mgr.ProceedsPut(seller, big.NewInt(-1)))
}

func TestBalancesAreKeyedByNormalisedToken(t *testing.T) {
	mgr := newTestManager(t)
	addr := [20]byte{0x02}
	require.NoError(t, mgr.BalancePut(addr, " eth", big.NewInt(9)))

	got, err := mgr.BalanceGet(addr, "ETH")
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(9)))

	other, err := mgr.BalanceGet(addr, "USDC")
	require.NoError(t, err)
	require.Zero(t, other.Sign())
}

func TestPauseFlags(t *testing.T) {
	mgr := newTestManager(t)
	require.False(t, mgr.IsPaused("marketplace"))
	require.NoError(t, mgr.SetPaused("Marketplace", true))
	require.True(t, mgr.IsPaused(" marketplace "))
	require.NoError(t, mgr.SetPaused("marketplace", false))
	require.False(t, mgr.IsPaused("marketplace"))
}

func TestPauseFailsClosedWithoutDatabase(t *testing.T) {
	mgr := NewManager(nil)
	require.True(t, mgr.IsPaused("marketplace"))
}

func TestTokenAndOperatorRecords(t *testing.T) {
	mgr := newTestManager(t)
	contract := [20]byte{0xC0}
	owner := [20]byte{0x01}
	operator := [20]byte{0x03}

	_, ok, err := mgr.TokenGet(contract, big.NewInt(0))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.TokenPut(&nft.Token{Contract: contract, ID: big.NewInt(0), Owner: owner, Approved: operator}))
	token, ok, err := mgr.TokenGet(contract, big.NewInt(0))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, token.Exists())
	require.Equal(t, owner, token.Owner)
	require.Equal(t, operator, token.Approved)

	approved, err := mgr.OperatorGet(contract, owner, operator)
	require.NoError(t, err)
	require.False(t, approved)
	require.NoError(t, mgr.OperatorPut(contract, owner, operator, true))
	approved, err = mgr.OperatorGet(contract, owner, operator)
	require.NoError(t, err)
	require.True(t, approved)
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := newTestManager(t)
	require.Error(t, mgr.KVPut(nil, uint64(1)))
	_, err := mgr.KVGet([]byte{}, nil)
	require.Error(t, err)

	require.NoError(t, mgr.KVPut([]byte("counter"), uint64(7)))
	var out uint64
	ok, err := mgr.KVGet([]byte("counter"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), out)
}

package marketplace_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/core/events"
	"nftmarket/core/state"
	"nftmarket/native/bank"
	"nftmarket/native/marketplace"
	"nftmarket/native/nft"
	"nftmarket/storage"
)

type recorder struct{ types []string }

func (r *recorder) Emit(evt events.Event) { r.types = append(r.types, evt.EventType()) }

type network struct {
	engine   *marketplace.Engine
	registry *nft.Registry
	ledger   *bank.Ledger
	manager  *state.Manager
	events   *recorder
}

var (
	market    = [20]byte{0xAA}
	basicNFT  = [20]byte{0xC0}
	deployer  = [20]byte{0x01}
	player    = [20]byte{0x02}
	listPrice = big.NewInt(100_000_000_000_000_000)
)

func newNetwork(t *testing.T) *network {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	registry := nft.NewRegistry(manager)
	ledger := bank.NewLedger(manager, market, "ETH")
	rec := &recorder{}

	engine := marketplace.NewEngine(market)
	engine.SetState(manager)
	engine.SetRegistry(nft.NewMarketplaceView(registry, market))
	engine.SetFunds(ledger)
	engine.SetPauses(manager)
	engine.SetSettlementToken(ledger.Token())
	engine.SetEmitter(rec)

	require.NoError(t, registry.Mint(basicNFT, big.NewInt(0), deployer))
	require.NoError(t, registry.Approve(deployer, basicNFT, big.NewInt(0), market))
	require.NoError(t, ledger.Credit(player, big.NewInt(1_000_000_000_000_000_000)))
	return &network{engine: engine, registry: registry, ledger: ledger, manager: manager, events: rec}
}

func TestListBuyWithdrawFlow(t *testing.T) {
	ctx := context.Background()
	n := newNetwork(t)
	id := big.NewInt(0)

	require.NoError(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, deployer))
	require.ErrorIs(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, deployer), marketplace.ErrAlreadyListed)

	err := n.engine.BuyItem(ctx, basicNFT, id, big.NewInt(1), player)
	require.ErrorIs(t, err, marketplace.ErrPriceNotMet)

	require.NoError(t, n.engine.BuyItem(ctx, basicNFT, id, listPrice, player))

	owner, err := n.registry.OwnerOf(basicNFT, id)
	require.NoError(t, err)
	require.Equal(t, player, owner)

	listing, err := n.engine.GetListing(ctx, basicNFT, id)
	require.NoError(t, err)
	require.False(t, listing.Active())

	proceeds, err := n.engine.GetProceeds(ctx, deployer)
	require.NoError(t, err)
	require.Zero(t, proceeds.Cmp(listPrice))

	withdrawn, err := n.engine.WithdrawProceeds(ctx, deployer)
	require.NoError(t, err)
	require.Zero(t, withdrawn.Cmp(listPrice))

	balance, err := n.ledger.Balance(deployer)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(listPrice))
	vault, err := n.ledger.Balance(market)
	require.NoError(t, err)
	require.Zero(t, vault.Sign())

	require.Equal(t, []string{
		events.TypeItemListed,
		events.TypeItemBought,
		events.TypeProceedsWithdrawn,
	}, n.events.types)
}

func TestPersistentPauseFlag(t *testing.T) {
	ctx := context.Background()
	n := newNetwork(t)
	require.NoError(t, n.manager.SetPaused("Marketplace", true))
	err := n.engine.ListItem(ctx, basicNFT, big.NewInt(0), listPrice, deployer)
	require.Error(t, err)
	require.Equal(t, "paused", marketplace.ErrorKind(err))

	require.NoError(t, n.manager.SetPaused("marketplace", false))
	require.NoError(t, n.engine.ListItem(ctx, basicNFT, big.NewInt(0), listPrice, deployer))
}

func TestRejectingReceiverRevertsSale(t *testing.T) {
	ctx := context.Background()
	n := newNetwork(t)
	id := big.NewInt(0)
	require.NoError(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, deployer))

	n.registry.SetTransferHook(func(ctx context.Context, _ [20]byte, _ *big.Int, _, to [20]byte) error {
		if to == player {
			return errors.New("receiver does not accept tokens")
		}
		return nil
	})
	err := n.engine.BuyItem(ctx, basicNFT, id, listPrice, player)
	require.ErrorIs(t, err, marketplace.ErrAssetTransferFailed)

	owner, err := n.registry.OwnerOf(basicNFT, id)
	require.NoError(t, err)
	require.Equal(t, deployer, owner)
	approved, err := n.registry.GetApproved(basicNFT, id)
	require.NoError(t, err)
	require.Equal(t, market, approved)

	listing, err := n.engine.GetListing(ctx, basicNFT, id)
	require.NoError(t, err)
	require.True(t, listing.Active())

	balance, err := n.ledger.Balance(player)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(1_000_000_000_000_000_000)))
	proceeds, err := n.engine.GetProceeds(ctx, deployer)
	require.NoError(t, err)
	require.Zero(t, proceeds.Sign())
}

func TestReceiverCallbackCannotReenter(t *testing.T) {
	ctx := context.Background()
	n := newNetwork(t)
	id := big.NewInt(0)
	require.NoError(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, deployer))

	var reentry error
	var seen *big.Int
	n.registry.SetTransferHook(func(ctx context.Context, contract [20]byte, id *big.Int, _, _ [20]byte) error {
		seen, _ = n.engine.GetProceeds(ctx, deployer)
		_, reentry = n.engine.WithdrawProceeds(ctx, deployer)
		return nil
	})
	require.NoError(t, n.engine.BuyItem(ctx, basicNFT, id, listPrice, player))
	require.ErrorIs(t, reentry, marketplace.ErrReentrantCall)
	require.Zero(t, seen.Cmp(listPrice))
}

func TestStaleListingPrunedAfterOutOfBandTransfer(t *testing.T) {
	ctx := context.Background()
	n := newNetwork(t)
	id := big.NewInt(0)
	require.NoError(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, deployer))

	require.NoError(t, n.registry.TransferFrom(ctx, deployer, basicNFT, id, deployer, player))
	require.ErrorIs(t, n.engine.BuyItem(ctx, basicNFT, id, listPrice, player), marketplace.ErrAssetTransferFailed)

	require.NoError(t, n.registry.Approve(player, basicNFT, id, market))
	require.ErrorIs(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, player), marketplace.ErrAlreadyListed)
	require.NoError(t, n.engine.PruneListing(ctx, basicNFT, id))
	require.NoError(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, player))
}

func TestBurnedAssetListingCanBePruned(t *testing.T) {
	ctx := context.Background()
	n := newNetwork(t)
	id := big.NewInt(0)
	require.NoError(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, deployer))

	require.ErrorIs(t, n.engine.PruneListing(ctx, basicNFT, id), marketplace.ErrListingNotStale)
	require.NoError(t, n.registry.Burn(deployer, basicNFT, id))

	require.ErrorIs(t, n.engine.CancelListing(ctx, basicNFT, id, deployer), marketplace.ErrAssetNotFound)
	require.NoError(t, n.engine.PruneListing(ctx, basicNFT, id))
	listing, err := n.engine.GetListing(ctx, basicNFT, id)
	require.NoError(t, err)
	require.False(t, listing.Active())
}

func TestFreshContextCallbackDoesNotWedgeEngine(t *testing.T) {
	ctx := context.Background()
	n := newNetwork(t)
	id := big.NewInt(0)
	require.NoError(t, n.engine.ListItem(ctx, basicNFT, id, listPrice, deployer))

	var reentry error
	n.registry.SetTransferHook(func(context.Context, [20]byte, *big.Int, [20]byte, [20]byte) error {
		_, reentry = n.engine.WithdrawProceeds(context.Background(), deployer)
		return nil
	})
	require.NoError(t, n.engine.BuyItem(ctx, basicNFT, id, listPrice, player))
	require.ErrorIs(t, reentry, marketplace.ErrReentrantCall)

	n.registry.SetTransferHook(nil)
	withdrawn, err := n.engine.WithdrawProceeds(ctx, deployer)
	require.NoError(t, err)
	require.Zero(t, withdrawn.Cmp(listPrice))
}

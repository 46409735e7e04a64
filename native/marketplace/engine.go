package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"golang.org/x/sync/semaphore"

	"nftmarket/core/events"
	"nftmarket/native/common"
	"nftmarket/observability"
)

type engineState interface {
	ListingGet(contract [20]byte, assetID *big.Int) (*Listing, bool, error)
	ListingPut(*Listing) error
	ListingClear(contract [20]byte, assetID *big.Int) error
	ProceedsGet(seller [20]byte) (*big.Int, error)
	ProceedsPut(seller [20]byte, amount *big.Int) error
}

// AssetRegistry is the authoritative owner-of-record for assets. The engine
// never caches its answers beyond a single operation.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, contract [20]byte, assetID *big.Int) ([20]byte, error)
	GetApproved(ctx context.Context, contract [20]byte, assetID *big.Int) ([20]byte, error)
	TransferFrom(ctx context.Context, contract [20]byte, assetID *big.Int, from, to [20]byte) error
}

// Funds moves settlement currency in and out of the marketplace vault.
type Funds interface {
	Collect(ctx context.Context, from [20]byte, amount *big.Int) error
	Disburse(ctx context.Context, to [20]byte, amount *big.Int) error
}

type inFlightKey struct{}

// lockWeight is the semaphore weight taken by a mutation; reads take one unit.
const lockWeight = 1 << 16

// Engine is the listing and proceeds state machine. Mutations are serialised
// by a semaphore that waits only as long as the caller's context allows. The
// context of a running mutation is marked, and the listing and proceeds keys
// it touches are recorded, so callbacks that re-enter the engine fail with
// ErrReentrantCall instead of deadlocking.
type Engine struct {
	lock     *semaphore.Weighted
	busyMu   sync.Mutex
	busy     map[string]struct{}
	address  [20]byte
	token    string
	state    engineState
	registry AssetRegistry
	funds    Funds
	emitter  events.Emitter
	pauses   common.PauseView
}

// NewEngine creates an engine acting as the supplied marketplace address. The
// registry's approval must name this address for listings to succeed.
func NewEngine(address [20]byte) *Engine {
	return &Engine{
		lock:    semaphore.NewWeighted(lockWeight),
		busy:    make(map[string]struct{}),
		address: address,
		token:   "NATIVE",
		emitter: events.NoopEmitter{},
	}
}

// Address returns the marketplace identity used for approval checks.
func (e *Engine) Address() [20]byte { return e.address }

// SetState configures the listing store and proceeds ledger backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the asset registry consulted for ownership.
func (e *Engine) SetRegistry(registry AssetRegistry) { e.registry = registry }

// SetFunds configures the settlement backend used for payments and withdrawals.
func (e *Engine) SetFunds(funds Funds) { e.funds = funds }

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetSettlementToken sets the label used for sale volume metrics.
func (e *Engine) SetSettlementToken(token string) {
	if token != "" {
		e.token = token
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.funds == nil {
		return errNilFunds
	}
	return nil
}

// enter takes the engine lock for a mutation touching keys and returns a
// context marked as in flight for this engine. A caller whose keys belong to
// the mutation currently holding the lock fails fast; any other caller waits
// until the lock frees or ctx is done.
func (e *Engine) enter(ctx context.Context, keys ...string) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, _ := ctx.Value(inFlightKey{}).(*Engine); owner == e {
		return ctx, func() {}, ErrReentrantCall
	}
	if key, ok := e.inFlight(keys); ok {
		return ctx, func() {}, fmt.Errorf("%w: %s is being modified", ErrReentrantCall, key)
	}
	if err := e.lock.Acquire(ctx, lockWeight); err != nil {
		return ctx, func() {}, fmt.Errorf("marketplace: waiting for engine lock: %w", err)
	}
	e.markBusy(keys...)
	release := func() {
		e.busyMu.Lock()
		clear(e.busy)
		e.busyMu.Unlock()
		e.lock.Release(lockWeight)
	}
	return context.WithValue(ctx, inFlightKey{}, e), release, nil
}

// markBusy records keys touched by the mutation holding the lock. The set is
// cleared when that mutation releases the lock.
func (e *Engine) markBusy(keys ...string) {
	e.busyMu.Lock()
	for _, key := range keys {
		e.busy[key] = struct{}{}
	}
	e.busyMu.Unlock()
}

func (e *Engine) inFlight(keys []string) (string, bool) {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	for _, key := range keys {
		if _, ok := e.busy[key]; ok {
			return key, true
		}
	}
	return "", false
}

// read takes a shared slot of the engine lock unless the caller already runs
// inside one of this engine's mutations, in which case the post-mutation state
// is visible without locking.
func (e *Engine) read(ctx context.Context) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, _ := ctx.Value(inFlightKey{}).(*Engine); owner == e {
		return func() {}, nil
	}
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("marketplace: waiting for engine lock: %w", err)
	}
	return func() { e.lock.Release(1) }, nil
}

func listingSlot(contract [20]byte, assetID *big.Int) string {
	return fmt.Sprintf("listing %x", ListingKey(contract, assetID))
}

func proceedsSlot(seller [20]byte) string {
	return "proceeds " + hexAddress(seller)
}

func (e *Engine) observe(op string, err error) {
	observability.Marketplace().RecordOperation(op, ErrorKind(err))
}

func (e *Engine) requireOwner(ctx context.Context, contract [20]byte, assetID *big.Int, caller [20]byte) error {
	owner, err := e.registry.OwnerOf(ctx, contract, assetID)
	if err != nil {
		return fmt.Errorf("%w: %s caller=%s: %w", ErrNotOwner, describe(contract, assetID), hexAddress(caller), err)
	}
	if owner != caller {
		return fmt.Errorf("%w: %s caller=%s", ErrNotOwner, describe(contract, assetID), hexAddress(caller))
	}
	return nil
}

func (e *Engine) loadListing(contract [20]byte, assetID *big.Int) (*Listing, error) {
	listing, ok, err := e.state.ListingGet(contract, assetID)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.Active() {
		return nil, fmt.Errorf("%w: %s", ErrNotListed, describe(contract, assetID))
	}
	return listing, nil
}

// ListItem offers an asset for sale at price. The caller must be the current
// registry owner and the marketplace must already hold transfer approval.
func (e *Engine) ListItem(ctx context.Context, contract [20]byte, assetID, price *big.Int, caller [20]byte) (err error) {
	defer func() { e.observe("list_item", err) }()
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release, err := e.enter(ctx, listingSlot(contract, assetID))
	defer release()
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, common.ModuleMarketplace); err != nil {
		return err
	}
	if err := ValidateAssetID(assetID); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: %s price=%s", ErrInvalidPrice, describe(contract, assetID), cloneBigInt(price))
	}
	if _, ok, err := e.state.ListingGet(contract, assetID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyListed, describe(contract, assetID))
	}
	if err := e.requireOwner(ctx, contract, assetID, caller); err != nil {
		return err
	}
	approved, err := e.registry.GetApproved(ctx, contract, assetID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotApprovedForMarketplace, describe(contract, assetID), err)
	}
	if approved != e.address {
		return fmt.Errorf("%w: %s approved=%s", ErrNotApprovedForMarketplace, describe(contract, assetID), hexAddress(approved))
	}
	listing := &Listing{
		AssetContract: contract,
		AssetID:       cloneBigInt(assetID),
		Seller:        caller,
		Price:         cloneBigInt(price),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(events.ItemListed{Seller: caller, Contract: contract, AssetID: listing.AssetID, Price: listing.Price})
	return nil
}

// CancelListing removes an active listing. Only the seller may cancel, and
// only while still holding the asset.
func (e *Engine) CancelListing(ctx context.Context, contract [20]byte, assetID *big.Int, caller [20]byte) (err error) {
	defer func() { e.observe("cancel_listing", err) }()
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release, err := e.enter(ctx, listingSlot(contract, assetID))
	defer release()
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, common.ModuleMarketplace); err != nil {
		return err
	}
	if err := ValidateAssetID(assetID); err != nil {
		return err
	}
	listing, err := e.loadListing(contract, assetID)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return fmt.Errorf("%w: %s caller=%s", ErrNotOwner, describe(contract, assetID), hexAddress(caller))
	}
	if err := e.requireOwner(ctx, contract, assetID, caller); err != nil {
		return err
	}
	if err := e.state.ListingClear(contract, assetID); err != nil {
		return err
	}
	e.emit(events.ItemCanceled{Seller: listing.Seller, Contract: contract, AssetID: listing.AssetID})
	return nil
}

// BuyItem purchases a listed asset. The full payment is credited to the
// seller's proceeds; overpayment is not refunded. Local state is committed
// before the registry transfer so callbacks observe the post-sale state.
func (e *Engine) BuyItem(ctx context.Context, contract [20]byte, assetID, payment *big.Int, buyer [20]byte) (err error) {
	defer func() { e.observe("buy_item", err) }()
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release, err := e.enter(ctx, listingSlot(contract, assetID), proceedsSlot(buyer))
	defer release()
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, common.ModuleMarketplace); err != nil {
		return err
	}
	if err := ValidateAssetID(assetID); err != nil {
		return err
	}
	listing, err := e.loadListing(contract, assetID)
	if err != nil {
		return err
	}
	e.markBusy(proceedsSlot(listing.Seller))
	amount := cloneBigInt(payment)
	if amount.Cmp(listing.Price) < 0 {
		return fmt.Errorf("%w: %s price=%s payment=%s", ErrPriceNotMet, describe(contract, assetID), listing.Price, amount)
	}
	if err := e.funds.Collect(ctx, buyer, amount); err != nil {
		return fmt.Errorf("%w: buyer=%s amount=%s: %w", ErrPaymentFailed, hexAddress(buyer), amount, err)
	}

	var j journal
	j.append(func() error { return e.funds.Disburse(ctx, buyer, amount) })

	prev, err := e.state.ProceedsGet(listing.Seller)
	if err != nil {
		return j.abort(err)
	}
	credited := new(big.Int).Add(cloneBigInt(prev), amount)
	if err := e.state.ProceedsPut(listing.Seller, credited); err != nil {
		return j.abort(err)
	}
	j.append(func() error { return e.state.ProceedsPut(listing.Seller, cloneBigInt(prev)) })

	if err := e.state.ListingClear(contract, assetID); err != nil {
		return j.abort(err)
	}
	restore := listing.Clone()
	j.append(func() error { return e.state.ListingPut(restore) })

	if err := e.registry.TransferFrom(ctx, contract, assetID, listing.Seller, buyer); err != nil {
		return j.abort(fmt.Errorf("%w: %s from=%s to=%s: %w", ErrAssetTransferFailed, describe(contract, assetID), hexAddress(listing.Seller), hexAddress(buyer), err))
	}
	observability.Marketplace().RecordSale(e.token, amount)
	e.emit(events.ItemBought{Buyer: buyer, Contract: contract, AssetID: listing.AssetID, Price: listing.Price})
	return nil
}

// UpdateListing replaces the price of an active listing. The update re-emits
// ItemListed so indexers can treat listings as upserts.
func (e *Engine) UpdateListing(ctx context.Context, contract [20]byte, assetID, newPrice *big.Int, caller [20]byte) (err error) {
	defer func() { e.observe("update_listing", err) }()
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release, err := e.enter(ctx, listingSlot(contract, assetID))
	defer release()
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, common.ModuleMarketplace); err != nil {
		return err
	}
	if err := ValidateAssetID(assetID); err != nil {
		return err
	}
	listing, err := e.loadListing(contract, assetID)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return fmt.Errorf("%w: %s caller=%s", ErrNotOwner, describe(contract, assetID), hexAddress(caller))
	}
	if err := e.requireOwner(ctx, contract, assetID, caller); err != nil {
		return err
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return fmt.Errorf("%w: %s price=%s", ErrInvalidPrice, describe(contract, assetID), cloneBigInt(newPrice))
	}
	listing.Price = cloneBigInt(newPrice)
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(events.ItemListed{Seller: listing.Seller, Contract: contract, AssetID: listing.AssetID, Price: listing.Price})
	return nil
}

// GetListing returns the active listing or the zero-price sentinel.
func (e *Engine) GetListing(ctx context.Context, contract [20]byte, assetID *big.Int) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := ValidateAssetID(assetID); err != nil {
		return nil, err
	}
	done, err := e.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	listing, ok, err := e.state.ListingGet(contract, assetID)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.Active() {
		return EmptyListing(contract, assetID), nil
	}
	return listing.Clone(), nil
}

// GetProceeds returns the seller's withdrawable balance, zero when none was
// ever recorded.
func (e *Engine) GetProceeds(ctx context.Context, seller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	done, err := e.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	amount, err := e.state.ProceedsGet(seller)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(amount), nil
}

// WithdrawProceeds zeroes the caller's balance and then disburses it. A failed
// disbursement restores the balance.
func (e *Engine) WithdrawProceeds(ctx context.Context, caller [20]byte) (withdrawn *big.Int, err error) {
	defer func() { e.observe("withdraw_proceeds", err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, release, err := e.enter(ctx, proceedsSlot(caller))
	defer release()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, common.ModuleMarketplace); err != nil {
		return nil, err
	}
	balance, err := e.state.ProceedsGet(caller)
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(balance)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: seller=%s", ErrNoProceeds, hexAddress(caller))
	}
	if err := e.state.ProceedsPut(caller, big.NewInt(0)); err != nil {
		return nil, err
	}
	var j journal
	j.append(func() error { return e.state.ProceedsPut(caller, amount) })
	if err := e.funds.Disburse(ctx, caller, amount); err != nil {
		return nil, j.abort(fmt.Errorf("%w: seller=%s amount=%s: %w", ErrWithdrawalFailed, hexAddress(caller), amount, err))
	}
	observability.Marketplace().RecordWithdrawal(amount)
	e.emit(events.ProceedsWithdrawn{Seller: caller, Amount: amount})
	return cloneBigInt(amount), nil
}

// PruneListing clears a listing whose seller no longer owns the asset or whose
// marketplace approval was revoked. Anyone may call it.
func (e *Engine) PruneListing(ctx context.Context, contract [20]byte, assetID *big.Int) (err error) {
	defer func() { e.observe("prune_listing", err) }()
	if err := e.ready(); err != nil {
		return err
	}
	ctx, release, err := e.enter(ctx, listingSlot(contract, assetID))
	defer release()
	if err != nil {
		return err
	}
	if err := common.Guard(e.pauses, common.ModuleMarketplace); err != nil {
		return err
	}
	if err := ValidateAssetID(assetID); err != nil {
		return err
	}
	listing, err := e.loadListing(contract, assetID)
	if err != nil {
		return err
	}
	stale, err := e.isStale(ctx, listing)
	if err != nil {
		return err
	}
	if !stale {
		return fmt.Errorf("%w: %s", ErrListingNotStale, describe(contract, assetID))
	}
	if err := e.state.ListingClear(contract, assetID); err != nil {
		return err
	}
	e.emit(events.ItemCanceled{Seller: listing.Seller, Contract: contract, AssetID: listing.AssetID})
	return nil
}

func (e *Engine) isStale(ctx context.Context, listing *Listing) (bool, error) {
	owner, err := e.registry.OwnerOf(ctx, listing.AssetContract, listing.AssetID)
	if errors.Is(err, ErrAssetNotFound) {
		// Burned; the listing can never settle.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("marketplace: resolve owner of %s: %w", describe(listing.AssetContract, listing.AssetID), err)
	}
	if owner != listing.Seller {
		return true, nil
	}
	approved, err := e.registry.GetApproved(ctx, listing.AssetContract, listing.AssetID)
	if err != nil {
		return false, err
	}
	return approved != e.address, nil
}

// journal records compensating actions for a mutation in progress.
type journal struct {
	undo []func() error
}

func (j *journal) append(fn func() error) {
	j.undo = append(j.undo, fn)
}

// abort runs the compensations in reverse order and returns cause, joined with
// any rollback failure.
func (j *journal) abort(cause error) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](); err != nil {
			errs = append(errs, err)
		}
	}
	j.undo = nil
	if len(errs) == 0 {
		return cause
	}
	return errors.Join(cause, fmt.Errorf("marketplace: rollback failed: %w", errors.Join(errs...)))
}

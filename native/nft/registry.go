package nft

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

type registryState interface {
	TokenGet(contract [20]byte, id *big.Int) (*Token, bool, error)
	TokenPut(*Token) error
	OperatorGet(contract, owner, operator [20]byte) (bool, error)
	OperatorPut(contract, owner, operator [20]byte, approved bool) error
}

// TransferHook runs after a transfer is recorded, with the context of the
// caller that triggered it. Returning an error reverts the transfer, the way a
// rejecting receiver would.
type TransferHook func(ctx context.Context, contract [20]byte, id *big.Int, from, to [20]byte) error

// Registry is a multi-collection ERC-721 style ownership registry.
type Registry struct {
	mu    sync.Mutex
	state registryState
	hook  TransferHook
}

func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// SetTransferHook installs the post-transfer hook. Passing nil removes it.
func (r *Registry) SetTransferHook(hook TransferHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

func (r *Registry) load(contract [20]byte, id *big.Int) (*Token, error) {
	if r == nil || r.state == nil {
		return nil, fmt.Errorf("nft: state not configured")
	}
	if !validTokenID(id) {
		return nil, ErrInvalidTokenID
	}
	token, ok, err := r.state.TokenGet(contract, id)
	if err != nil {
		return nil, err
	}
	if !ok || !token.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrNonexistentToken, id)
	}
	return token, nil
}

// Mint creates a token owned by to.
func (r *Registry) Mint(contract [20]byte, id *big.Int, to [20]byte) error {
	if to == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	if !validTokenID(id) {
		return ErrInvalidTokenID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return fmt.Errorf("nft: state not configured")
	}
	existing, ok, err := r.state.TokenGet(contract, id)
	if err != nil {
		return err
	}
	if ok && existing.Exists() {
		return fmt.Errorf("%w: %s", ErrTokenExists, id)
	}
	return r.state.TokenPut(&Token{Contract: contract, ID: new(big.Int).Set(id), Owner: to})
}

// Burn destroys a token. Only the owner, the approved address or an operator
// may burn.
func (r *Registry) Burn(caller, contract [20]byte, id *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, err := r.load(contract, id)
	if err != nil {
		return err
	}
	if err := r.authorize(caller, token); err != nil {
		return err
	}
	return r.state.TokenPut(&Token{Contract: contract, ID: token.ID})
}

// OwnerOf returns the current owner, failing for nonexistent tokens.
func (r *Registry) OwnerOf(contract [20]byte, id *big.Int) ([20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, err := r.load(contract, id)
	if err != nil {
		return [20]byte{}, err
	}
	return token.Owner, nil
}

// Approve grants single-token transfer rights. The zero address clears them.
func (r *Registry) Approve(caller, contract [20]byte, id *big.Int, spender [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, err := r.load(contract, id)
	if err != nil {
		return err
	}
	if spender == token.Owner {
		return ErrSelfApproval
	}
	if caller != token.Owner {
		operator, err := r.state.OperatorGet(contract, token.Owner, caller)
		if err != nil {
			return err
		}
		if !operator {
			return ErrUnauthorized
		}
	}
	token.Approved = spender
	return r.state.TokenPut(token)
}

// GetApproved returns the single-token approval, or the zero address.
func (r *Registry) GetApproved(contract [20]byte, id *big.Int) ([20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, err := r.load(contract, id)
	if err != nil {
		return [20]byte{}, err
	}
	return token.Approved, nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's
// tokens in a collection.
func (r *Registry) SetApprovalForAll(owner, contract, operator [20]byte, approved bool) error {
	if owner == operator {
		return ErrSelfApproval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return fmt.Errorf("nft: state not configured")
	}
	return r.state.OperatorPut(contract, owner, operator, approved)
}

// IsApprovedForAll reports whether operator may manage all of owner's tokens.
func (r *Registry) IsApprovedForAll(owner, contract, operator [20]byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return false, fmt.Errorf("nft: state not configured")
	}
	return r.state.OperatorGet(contract, owner, operator)
}

func (r *Registry) authorize(spender [20]byte, token *Token) error {
	if spender == token.Owner || (token.Approved != ([20]byte{}) && spender == token.Approved) {
		return nil
	}
	operator, err := r.state.OperatorGet(token.Contract, token.Owner, spender)
	if err != nil {
		return err
	}
	if !operator {
		return ErrUnauthorized
	}
	return nil
}

// TransferFrom moves a token from its owner to a new owner. The spender must
// be the owner, the approved address or an operator. The per-token approval
// is cleared. The transfer hook runs without the registry lock held so it may
// query the registry.
func (r *Registry) TransferFrom(ctx context.Context, spender, contract [20]byte, id *big.Int, from, to [20]byte) error {
	if to == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	r.mu.Lock()
	token, err := r.load(contract, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if token.Owner != from {
		r.mu.Unlock()
		return ErrWrongOwner
	}
	if err := r.authorize(spender, token); err != nil {
		r.mu.Unlock()
		return err
	}
	previous := token.Clone()
	token.Owner = to
	token.Approved = [20]byte{}
	if err := r.state.TokenPut(token); err != nil {
		r.mu.Unlock()
		return err
	}
	hook := r.hook
	r.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, contract, token.ID, from, to); err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Only undo the transfer if nothing else wrote the token meanwhile.
		current, ok, lerr := r.state.TokenGet(contract, id)
		if lerr != nil {
			return fmt.Errorf("nft: revert transfer after hook error %v: %w", err, lerr)
		}
		if !ok || current.Owner != to || current.Approved != ([20]byte{}) {
			return fmt.Errorf("nft: transfer rejected: %w: %w", err, ErrConcurrentUpdate)
		}
		if rerr := r.state.TokenPut(previous); rerr != nil {
			return fmt.Errorf("nft: revert transfer after hook error %v: %w", err, rerr)
		}
		return fmt.Errorf("nft: transfer rejected: %w", err)
	}
	return nil
}

package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
)

type ledgerState interface {
	BalanceGet(addr [20]byte, token string) (*big.Int, error)
	BalancePut(addr [20]byte, token string, amount *big.Int) error
}

// Ledger holds settlement balances for a single token and moves funds in and
// out of the marketplace vault.
type Ledger struct {
	mu    sync.Mutex
	state ledgerState
	vault [20]byte
	token string
}

// NewLedger creates a ledger for token whose vault is the marketplace address.
func NewLedger(state ledgerState, vault [20]byte, token string) *Ledger {
	return &Ledger{
		state: state,
		vault: vault,
		token: strings.ToUpper(strings.TrimSpace(token)),
	}
}

// Token returns the settlement token symbol.
func (l *Ledger) Token() string { return l.token }

// Vault returns the address holding collected payments.
func (l *Ledger) Vault() [20]byte { return l.vault }

// Balance returns the current balance of addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	return l.state.BalanceGet(addr, l.token)
}

// Credit mints amount into addr. Used for genesis allocations.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	current, err := l.state.BalanceGet(addr, l.token)
	if err != nil {
		return err
	}
	return l.state.BalancePut(addr, l.token, new(big.Int).Add(current, amount))
}

// Collect moves a buyer's payment into the vault.
func (l *Ledger) Collect(_ context.Context, from [20]byte, amount *big.Int) error {
	return l.transfer(from, l.vault, amount)
}

// Disburse pays amount out of the vault.
func (l *Ledger) Disburse(_ context.Context, to [20]byte, amount *big.Int) error {
	return l.transfer(l.vault, to, amount)
}

func (l *Ledger) transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	fromBal, err := l.state.BalanceGet(from, l.token)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	toBal, err := l.state.BalanceGet(to, l.token)
	if err != nil {
		return err
	}
	if err := l.state.BalancePut(from, l.token, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.state.BalancePut(to, l.token, new(big.Int).Add(toBal, amount)); err != nil {
		if rerr := l.state.BalancePut(from, l.token, fromBal); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

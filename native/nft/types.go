package nft

import (
	"errors"
	"math/big"
)

var (
	ErrNonexistentToken = errors.New("nft: nonexistent token")
	ErrTokenExists      = errors.New("nft: token already minted")
	ErrUnauthorized     = errors.New("nft: caller is not owner nor approved")
	ErrWrongOwner       = errors.New("nft: transfer from incorrect owner")
	ErrInvalidRecipient = errors.New("nft: transfer to the zero address")
	ErrInvalidTokenID   = errors.New("nft: invalid token id")
	ErrSelfApproval     = errors.New("nft: approval to current owner")
	ErrConcurrentUpdate = errors.New("nft: token changed before the transfer could be reverted")
)

// Token is the ownership record of a single asset. A zero Owner means the
// token does not exist (never minted or burned).
type Token struct {
	Contract [20]byte
	ID       *big.Int
	Owner    [20]byte
	Approved [20]byte
}

// Exists reports whether the record describes a live token.
func (t *Token) Exists() bool {
	return t != nil && t.Owner != ([20]byte{})
}

// Clone returns a deep copy of the token record.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ID != nil {
		clone.ID = new(big.Int).Set(t.ID)
	} else {
		clone.ID = big.NewInt(0)
	}
	return &clone
}

func validTokenID(id *big.Int) bool {
	return id != nil && id.Sign() >= 0 && id.BitLen() <= 256
}

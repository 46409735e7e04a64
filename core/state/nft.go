package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/native/marketplace"
	"nftmarket/native/nft"
)

var (
	tokenPrefix    = []byte("nft/token/")
	operatorPrefix = []byte("nft/operator/")
)

func tokenStorageKey(contract [20]byte, id *big.Int) []byte {
	return prefixedKey(tokenPrefix, contract[:], marketplace.AssetIDBytes(id))
}

func operatorStorageKey(contract, owner, operator [20]byte) []byte {
	return prefixedKey(operatorPrefix, contract[:], owner[:], operator[:])
}

type storedToken struct {
	Contract [20]byte
	ID       *big.Int
	Owner    [20]byte
	Approved [20]byte
}

// TokenPut stores the ownership record. A zero owner marks the token burned.
func (m *Manager) TokenPut(t *nft.Token) error {
	if t == nil {
		return fmt.Errorf("nft: nil token")
	}
	if err := marketplace.ValidateAssetID(t.ID); err != nil {
		return err
	}
	record := &storedToken{
		Contract: t.Contract,
		ID:       new(big.Int).Set(t.ID),
		Owner:    t.Owner,
		Approved: t.Approved,
	}
	return m.put(tokenStorageKey(t.Contract, t.ID), record)
}

// TokenGet loads the ownership record. Burned tokens are returned with
// ok=true and a zero owner; callers use Token.Exists.
func (m *Manager) TokenGet(contract [20]byte, id *big.Int) (*nft.Token, bool, error) {
	data, err := m.get(tokenStorageKey(contract, id))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	stored := new(storedToken)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, err
	}
	token := &nft.Token{
		Contract: stored.Contract,
		ID:       big.NewInt(0),
		Owner:    stored.Owner,
		Approved: stored.Approved,
	}
	if stored.ID != nil {
		token.ID = new(big.Int).Set(stored.ID)
	}
	return token, true, nil
}

func (m *Manager) OperatorGet(contract, owner, operator [20]byte) (bool, error) {
	var approved bool
	data, err := m.get(operatorStorageKey(contract, owner, operator))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, &approved); err != nil {
		return false, err
	}
	return approved, nil
}

func (m *Manager) OperatorPut(contract, owner, operator [20]byte, approved bool) error {
	return m.put(operatorStorageKey(contract, owner, operator), approved)
}

package state

import (
	"math/big"
	"strings"
)

var balancePrefix = []byte("balance:")

func balanceKey(addr [20]byte, symbol string) []byte {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	return prefixedKey(balancePrefix, []byte(normalized), []byte{':'}, addr[:])
}

// BalanceGet returns the settlement balance of addr in the given token.
func (m *Manager) BalanceGet(addr [20]byte, token string) (*big.Int, error) {
	return m.loadBigInt(balanceKey(addr, token))
}

// BalancePut overwrites the settlement balance of addr in the given token.
func (m *Manager) BalancePut(addr [20]byte, token string, amount *big.Int) error {
	return m.writeBigInt(balanceKey(addr, token), amount)
}

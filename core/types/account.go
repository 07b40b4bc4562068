package types

import "math/big"

// Account holds the native-value balance tracked by the ledger for a single
// address. The nonce counts successful mutating submissions from the address
// and exists purely for audit ordering.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

package solana

import (
	"github.com/gagliardetto/solana-go"
)

// TokenBalance is the raw amount held by an SPL token account.
// This is our domain model, independent of the RPC response format.
type TokenBalance struct {
	Account  solana.PublicKey
	Amount   uint64
	Decimals uint8
	Slot     uint64
}

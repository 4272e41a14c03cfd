// Package amm models the AMM program instructions the tracker understands and
// the swap arithmetic applied to pool reserves.
package amm

import (
	"github.com/gagliardetto/solana-go"
)

// Program IDs of the AMMs whose transactions are triaged.
var (
	// RaydiumAMMProgramID is Raydium liquidity pool v4, the only program whose
	// instructions mutate tracked reserves.
	RaydiumAMMProgramID = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

	// RaydiumCPProgramID is the Raydium constant-product (CPMM) program.
	RaydiumCPProgramID = solana.MustPublicKeyFromBase58("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")

	// WhirlpoolProgramID is the Orca Whirlpool program.
	WhirlpoolProgramID = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

	// PumpMigrationAccount signs the Raydium pool creation when a pump.fun
	// token graduates.
	PumpMigrationAccount = solana.MustPublicKeyFromBase58("39azUYFWPz3VHgKCf3VChUwbpURdCHRxjWVowf5jUJjg")
)

// SPL programs used to derive account to mint hints.
var (
	TokenProgramID           = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022ProgramID       = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// WSOL is the wrapped SOL mint, the default arbitrage base.
var WSOL = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// Program names used as metric labels.
const (
	ProgramRaydiumAMM = "raydium_amm"
	ProgramRaydiumCP  = "raydium_cp"
	ProgramWhirlpool  = "whirlpool"
)

// ClassifyProgram returns the label of the first known AMM program found in
// keys, or "" when the transaction touches none of them.
func ClassifyProgram(keys []solana.PublicKey) string {
	switch {
	case containsKey(keys, WhirlpoolProgramID):
		return ProgramWhirlpool
	case containsKey(keys, RaydiumCPProgramID):
		return ProgramRaydiumCP
	case containsKey(keys, RaydiumAMMProgramID):
		return ProgramRaydiumAMM
	}
	return ""
}

func containsKey(keys []solana.PublicKey, key solana.PublicKey) bool {
	for _, k := range keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

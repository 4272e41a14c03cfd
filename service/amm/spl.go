package amm

import (
	"github.com/gagliardetto/solana-go"
)

// SPL token instruction tags that create token accounts.
const (
	tokenInitializeAccount  = uint8(1)
	tokenInitializeAccount2 = uint8(16)
	tokenInitializeAccount3 = uint8(18)
)

// Associated token account program instructions.
const (
	ataCreate           = uint8(0)
	ataCreateIdempotent = uint8(1)
)

const pubkeyLen = 32

// TokenAccount is what a transaction reveals about a token account it creates.
type TokenAccount struct {
	Mint  solana.PublicKey
	Owner solana.PublicKey
}

// Hints maps token accounts to their mint and owner.
type Hints map[solana.PublicKey]TokenAccount

// CollectHints scans msg for SPL token account initialisations and
// associated token account creations. Instructions whose accounts cannot be
// resolved are skipped.
func CollectHints(msg *solana.Message) Hints {
	hints := make(Hints)
	for _, ix := range msg.Instructions {
		program, err := ProgramID(msg, ix)
		if err != nil {
			continue
		}
		accounts, err := InstructionAccounts(msg, ix)
		if err != nil {
			continue
		}
		switch {
		case program.Equals(TokenProgramID) || program.Equals(Token2022ProgramID):
			tokenHint(hints, ix.Data, accounts)
		case program.Equals(AssociatedTokenProgramID):
			ataHint(hints, ix.Data, accounts)
		}
	}
	return hints
}

func tokenHint(hints Hints, data []byte, accounts []solana.PublicKey) {
	if len(data) == 0 || len(accounts) < 2 {
		return
	}
	account, mint := accounts[0], accounts[1]
	switch data[0] {
	case tokenInitializeAccount:
		// account, mint, owner, rent sysvar
		if len(accounts) < 3 {
			return
		}
		hints[account] = TokenAccount{Mint: mint, Owner: accounts[2]}
	case tokenInitializeAccount2, tokenInitializeAccount3:
		// owner is carried in the instruction data
		if len(data) < 1+pubkeyLen {
			return
		}
		hints[account] = TokenAccount{Mint: mint, Owner: solana.PublicKeyFromBytes(data[1 : 1+pubkeyLen])}
	}
}

func ataHint(hints Hints, data []byte, accounts []solana.PublicKey) {
	// funder, associated account, wallet, mint, system program, token program
	if len(accounts) < 4 {
		return
	}
	if len(data) > 0 && data[0] != ataCreate && data[0] != ataCreateIdempotent {
		return
	}
	hints[accounts[1]] = TokenAccount{Mint: accounts[3], Owner: accounts[2]}
}

// AssociatedTokenAddress derives the associated token account of owner for
// mint under tokenProgram.
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		AssociatedTokenProgramID,
	)
	return addr, err
}

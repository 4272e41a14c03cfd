package amm

import (
	"github.com/gagliardetto/solana-go"
)

// NewSwapInstruction builds a Raydium AMM v4 swap in the 18 account layout,
// or the 17 account layout when targetOrders is false. Accounts the tracker
// does not read are filled with the system program. It is used to build
// replay and benchmark fixtures.
func NewSwapInstruction(ix Instruction, keys SwapAccounts, targetOrders bool) solana.Instruction {
	n := 17
	if targetOrders {
		n = 18
	}
	s := swapSchemas[n]
	accounts := make([]solana.PublicKey, n)
	accounts[0] = TokenProgramID
	accounts[s.amm] = keys.Amm
	accounts[s.coinVault] = keys.CoinVault
	accounts[s.pcVault] = keys.PcVault
	accounts[s.source] = keys.Source
	accounts[s.destination] = keys.Destination
	accounts[s.owner] = keys.Owner

	metas := make(solana.AccountMetaSlice, n)
	for i, k := range accounts {
		metas[i] = solana.Meta(k)
	}
	metas[s.amm].WRITE()
	metas[s.coinVault].WRITE()
	metas[s.pcVault].WRITE()
	metas[s.source].WRITE()
	metas[s.destination].WRITE()
	metas[s.owner].SIGNER()
	return solana.NewInstruction(RaydiumAMMProgramID, metas, ix.Encode())
}

// NewInitializeInstruction builds a Raydium AMM v4 Initialize2.
func NewInitializeInstruction(ix *Initialize2, keys InitAccounts) solana.Instruction {
	accounts := make([]solana.PublicKey, initAccountCount)
	accounts[0] = TokenProgramID
	accounts[1] = AssociatedTokenProgramID
	accounts[4] = keys.Amm
	accounts[8] = keys.CoinMint
	accounts[9] = keys.PcMint
	accounts[10] = keys.CoinVault
	accounts[11] = keys.PcVault
	accounts[17] = keys.Creator

	metas := make(solana.AccountMetaSlice, len(accounts))
	for i, k := range accounts {
		metas[i] = solana.Meta(k)
	}
	metas[17].WRITE().SIGNER()
	return solana.NewInstruction(RaydiumAMMProgramID, metas, ix.Encode())
}

// NewCreateATAInstruction builds an idempotent associated token account
// creation, the hint most swap transactions carry.
func NewCreateATAInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := AssociatedTokenAddress(owner, mint, TokenProgramID)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.PublicKey{}),
		solana.Meta(TokenProgramID),
	}
	return solana.NewInstruction(AssociatedTokenProgramID, metas, []byte{ataCreateIdempotent}), nil
}

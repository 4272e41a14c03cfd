package amm

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	ErrShortInstruction       = errors.New("instruction data too short")
	ErrAccountLayout          = errors.New("unexpected account layout")
	ErrUnresolvableAccount    = errors.New("account not in static keys")
)

// Kind names an instruction variant. Values are used as metric labels.
type Kind string

const (
	KindInitialize2 Kind = "initialize2"
	KindSwapBaseIn  Kind = "swap_base_in"
	KindSwapBaseOut Kind = "swap_base_out"
)

// Raydium AMM v4 instruction tags.
const (
	tagInitialize2 = uint8(1)
	tagSwapBaseIn  = uint8(9)
	tagSwapBaseOut = uint8(11)
)

// Instruction is the closed set of Raydium AMM v4 instructions the tracker
// applies: *Initialize2, *SwapBaseIn and *SwapBaseOut.
type Instruction interface {
	Kind() Kind
	Encode() []byte
	isInstruction()
}

// Initialize2 creates a pool and seeds its reserves.
type Initialize2 struct {
	Nonce          uint8
	OpenTime       uint64
	InitPcAmount   uint64
	InitCoinAmount uint64
}

// SwapBaseIn sells an exact input amount.
type SwapBaseIn struct {
	AmountIn         uint64
	MinimumAmountOut uint64
}

// SwapBaseOut buys an exact output amount.
type SwapBaseOut struct {
	MaxAmountIn uint64
	AmountOut   uint64
}

func (*Initialize2) Kind() Kind { return KindInitialize2 }
func (*SwapBaseIn) Kind() Kind  { return KindSwapBaseIn }
func (*SwapBaseOut) Kind() Kind { return KindSwapBaseOut }

func (*Initialize2) isInstruction() {}
func (*SwapBaseIn) isInstruction()  {}
func (*SwapBaseOut) isInstruction() {}

func (i *Initialize2) Encode() []byte {
	return encodeInstruction(tagInitialize2, func(enc *bin.Encoder) {
		enc.WriteUint8(i.Nonce)
		enc.WriteUint64(i.OpenTime, bin.LE)
		enc.WriteUint64(i.InitPcAmount, bin.LE)
		enc.WriteUint64(i.InitCoinAmount, bin.LE)
	})
}

func (i *SwapBaseIn) Encode() []byte {
	return encodeInstruction(tagSwapBaseIn, func(enc *bin.Encoder) {
		enc.WriteUint64(i.AmountIn, bin.LE)
		enc.WriteUint64(i.MinimumAmountOut, bin.LE)
	})
}

func (i *SwapBaseOut) Encode() []byte {
	return encodeInstruction(tagSwapBaseOut, func(enc *bin.Encoder) {
		enc.WriteUint64(i.MaxAmountIn, bin.LE)
		enc.WriteUint64(i.AmountOut, bin.LE)
	})
}

// encodeInstruction writes into a bytes.Buffer, which never fails, so the
// encoder errors are not checked.
func encodeInstruction(tag uint8, body func(enc *bin.Encoder)) []byte {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	enc.WriteUint8(tag)
	body(enc)
	return buf.Bytes()
}

// ParseRaydium decodes Raydium AMM v4 instruction data. Tags outside the
// supported set return ErrUnsupportedInstruction. Trailing bytes are ignored.
func ParseRaydium(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, ErrShortInstruction
	}
	dec := bin.NewBinDecoder(data[1:])
	var (
		ix  Instruction
		err error
	)
	switch data[0] {
	case tagInitialize2:
		v := &Initialize2{}
		if v.Nonce, err = dec.ReadUint8(); err == nil {
			v.OpenTime, v.InitPcAmount, v.InitCoinAmount, err = read3(dec)
		}
		ix = v
	case tagSwapBaseIn:
		v := &SwapBaseIn{}
		v.AmountIn, v.MinimumAmountOut, err = read2(dec)
		ix = v
	case tagSwapBaseOut:
		v := &SwapBaseOut{}
		v.MaxAmountIn, v.AmountOut, err = read2(dec)
		ix = v
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedInstruction, data[0])
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrShortInstruction, ix.Kind(), err)
	}
	return ix, nil
}

func read2(dec *bin.Decoder) (a, b uint64, err error) {
	if a, err = dec.ReadUint64(bin.LE); err != nil {
		return
	}
	b, err = dec.ReadUint64(bin.LE)
	return
}

func read3(dec *bin.Decoder) (a, b, c uint64, err error) {
	if a, b, err = read2(dec); err != nil {
		return
	}
	c, err = dec.ReadUint64(bin.LE)
	return
}

// SwapAccounts are the swap accounts the tracker needs, by role.
type SwapAccounts struct {
	Amm         solana.PublicKey
	CoinVault   solana.PublicKey
	PcVault     solana.PublicKey
	Source      solana.PublicKey
	Destination solana.PublicKey
	Owner       solana.PublicKey
}

type swapSchema struct {
	amm, coinVault, pcVault, source, destination, owner int
}

// Swap account layouts by account count. The 18 account form carries the
// AMM target orders account at index 4; the 17 account form omits it.
var swapSchemas = map[int]swapSchema{
	17: {amm: 1, coinVault: 4, pcVault: 5, source: 14, destination: 15, owner: 16},
	18: {amm: 1, coinVault: 5, pcVault: 6, source: 15, destination: 16, owner: 17},
}

// ParseSwapAccounts maps the accounts of a SwapBaseIn or SwapBaseOut
// instruction to their roles.
func ParseSwapAccounts(accounts []solana.PublicKey) (SwapAccounts, error) {
	s, ok := swapSchemas[len(accounts)]
	if !ok {
		return SwapAccounts{}, fmt.Errorf("%w: swap with %d accounts", ErrAccountLayout, len(accounts))
	}
	return SwapAccounts{
		Amm:         accounts[s.amm],
		CoinVault:   accounts[s.coinVault],
		PcVault:     accounts[s.pcVault],
		Source:      accounts[s.source],
		Destination: accounts[s.destination],
		Owner:       accounts[s.owner],
	}, nil
}

// InitAccounts are the Initialize2 accounts the tracker needs, by role.
type InitAccounts struct {
	Amm       solana.PublicKey
	CoinMint  solana.PublicKey
	PcMint    solana.PublicKey
	CoinVault solana.PublicKey
	PcVault   solana.PublicKey
	Creator   solana.PublicKey
}

const initAccountCount = 21

// ParseInitAccounts maps the accounts of an Initialize2 instruction.
func ParseInitAccounts(accounts []solana.PublicKey) (InitAccounts, error) {
	if len(accounts) < initAccountCount {
		return InitAccounts{}, fmt.Errorf("%w: initialize2 with %d accounts", ErrAccountLayout, len(accounts))
	}
	return InitAccounts{
		Amm:       accounts[4],
		CoinMint:  accounts[8],
		PcMint:    accounts[9],
		CoinVault: accounts[10],
		PcVault:   accounts[11],
		Creator:   accounts[17],
	}, nil
}

// InstructionAccounts resolves the account indexes of ix against the static
// keys of msg. Accounts loaded from address lookup tables cannot be resolved
// from the wire and return ErrUnresolvableAccount.
func InstructionAccounts(msg *solana.Message, ix solana.CompiledInstruction) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(ix.Accounts))
	for i, idx := range ix.Accounts {
		if int(idx) >= len(msg.AccountKeys) {
			return nil, fmt.Errorf("%w: index %d of %d", ErrUnresolvableAccount, idx, len(msg.AccountKeys))
		}
		out[i] = msg.AccountKeys[idx]
	}
	return out, nil
}

// ProgramID returns the program invoked by ix.
func ProgramID(msg *solana.Message, ix solana.CompiledInstruction) (solana.PublicKey, error) {
	if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
		return solana.PublicKey{}, fmt.Errorf("%w: program index %d", ErrUnresolvableAccount, ix.ProgramIDIndex)
	}
	return msg.AccountKeys[ix.ProgramIDIndex], nil
}

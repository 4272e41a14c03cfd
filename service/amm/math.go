package amm

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow              = errors.New("arithmetic overflow")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidFee            = errors.New("invalid fee")
)

// Fee is the swap fee charged on the input amount.
type Fee struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// DefaultFee is the Raydium AMM v4 trade fee of 0.25%.
var DefaultFee = Fee{Numerator: 25, Denominator: 10_000}

func (f Fee) Validate() error {
	if f.Denominator == 0 || f.Numerator >= f.Denominator {
		return fmt.Errorf("%w: %d/%d", ErrInvalidFee, f.Numerator, f.Denominator)
	}
	return nil
}

// Direction is the side of the pool a swap sells into.
type Direction uint8

const (
	CoinToPc Direction = iota
	PcToCoin
)

func (d Direction) String() string {
	if d == CoinToPc {
		return "coin_to_pc"
	}
	return "pc_to_coin"
}

// Reserves are the token balances of a pool's vaults.
type Reserves struct {
	Coin uint64 `json:"coin"`
	Pc   uint64 `json:"pc"`
}

// Split returns the input and output reserves for a swap in direction d.
func (r Reserves) Split(d Direction) (in, out uint64) {
	if d == CoinToPc {
		return r.Coin, r.Pc
	}
	return r.Pc, r.Coin
}

func join(d Direction, in, out uint64) Reserves {
	if d == CoinToPc {
		return Reserves{Coin: in, Pc: out}
	}
	return Reserves{Coin: out, Pc: in}
}

// AmountOut is the constant-product output for selling amountIn, with the
// fee rounded up and taken from the input.
func AmountOut(reserveIn, reserveOut, amountIn uint64, fee Fee) (uint64, error) {
	if err := fee.Validate(); err != nil {
		return 0, err
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, ErrInsufficientLiquidity
	}
	in := uint256.NewInt(amountIn)
	feeAmount, err := ceilDiv(mul(in, uint256.NewInt(fee.Numerator)), uint256.NewInt(fee.Denominator))
	if err != nil {
		return 0, err
	}
	inLessFee := new(uint256.Int).Sub(in, feeAmount)

	numerator := mul(uint256.NewInt(reserveOut), inLessFee)
	denominator, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(reserveIn), inLessFee)
	if numerator == nil || overflow {
		return 0, ErrOverflow
	}
	return toUint64(new(uint256.Int).Div(numerator, denominator))
}

// AmountIn is the input required to buy exactly amountOut, rounding every
// step up in the pool's favour.
func AmountIn(reserveIn, reserveOut, amountOut uint64, fee Fee) (uint64, error) {
	if err := fee.Validate(); err != nil {
		return 0, err
	}
	if reserveIn == 0 || amountOut >= reserveOut {
		return 0, ErrInsufficientLiquidity
	}
	inLessFee, err := ceilDiv(
		mul(uint256.NewInt(reserveIn), uint256.NewInt(amountOut)),
		uint256.NewInt(reserveOut-amountOut),
	)
	if err != nil {
		return 0, err
	}
	in, err := ceilDiv(
		mul(inLessFee, uint256.NewInt(fee.Denominator)),
		uint256.NewInt(fee.Denominator-fee.Numerator),
	)
	if err != nil {
		return 0, err
	}
	return toUint64(in)
}

// ApplySwapBaseIn sells amountIn in direction d and returns the new reserves
// and the amount paid out.
func ApplySwapBaseIn(r Reserves, d Direction, amountIn uint64, fee Fee) (Reserves, uint64, error) {
	reserveIn, reserveOut := r.Split(d)
	out, err := AmountOut(reserveIn, reserveOut, amountIn, fee)
	if err != nil {
		return r, 0, err
	}
	next, err := settle(d, reserveIn, reserveOut, amountIn, out)
	if err != nil {
		return r, 0, err
	}
	return next, out, nil
}

// ApplySwapBaseOut buys amountOut in direction d and returns the new
// reserves and the amount charged.
func ApplySwapBaseOut(r Reserves, d Direction, amountOut uint64, fee Fee) (Reserves, uint64, error) {
	reserveIn, reserveOut := r.Split(d)
	in, err := AmountIn(reserveIn, reserveOut, amountOut, fee)
	if err != nil {
		return r, 0, err
	}
	next, err := settle(d, reserveIn, reserveOut, in, amountOut)
	if err != nil {
		return r, 0, err
	}
	return next, in, nil
}

func settle(d Direction, reserveIn, reserveOut, in, out uint64) (Reserves, error) {
	if out > reserveOut {
		return Reserves{}, ErrInsufficientLiquidity
	}
	if in > math.MaxUint64-reserveIn {
		return Reserves{}, ErrOverflow
	}
	return join(d, reserveIn+in, reserveOut-out), nil
}

// Price is the pc per coin price adjusted for decimals.
func Price(r Reserves, coinDecimals, pcDecimals uint8) float64 {
	if r.Coin == 0 {
		return 0
	}
	coin := float64(r.Coin) / math.Pow10(int(coinDecimals))
	pc := float64(r.Pc) / math.Pow10(int(pcDecimals))
	return pc / coin
}

// mul returns nil on overflow.
func mul(x, y *uint256.Int) *uint256.Int {
	if x == nil || y == nil {
		return nil
	}
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil
	}
	return z
}

func ceilDiv(x, y *uint256.Int) (*uint256.Int, error) {
	if x == nil {
		return nil, ErrOverflow
	}
	if y.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.Div(x, y)
	r.Mod(x, y)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q, nil
}

func toUint64(z *uint256.Int) (uint64, error) {
	if !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

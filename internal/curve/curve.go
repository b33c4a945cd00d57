// ==============================
// File: internal/curve/curve.go
// ==============================

// Package curve implements constant-product bonding curve math for
// pump-style token launches. All reserve and amount arithmetic is done
// on big integers with floor division, matching the exact integer math
// the on-chain program performs, so a quote produced here equals the
// amounts the settlement layer will compute.
package curve

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidReserves is returned when a quote is requested against a
	// curve snapshot with zero or missing virtual reserves.
	ErrInvalidReserves = errors.New("bonding curve has invalid reserves")
	// ErrInvalidAmount is returned for non-positive trade amounts.
	ErrInvalidAmount = errors.New("trade amount must be positive")
)

const bpsDenominator = 10_000

// priceScale is the common fixed-point scale both spot and execution
// prices are computed at before comparing them for price impact.
var priceScale = big.NewInt(1_000_000_000)

// State is a snapshot of bonding curve reserves. Snapshots are fetched
// fresh before each quote and never cached across trades: reserves move
// with every on-chain fill.
type State struct {
	VirtualTokenReserves *big.Int
	VirtualSolReserves   *big.Int
	RealTokenReserves    *big.Int
	RealSolReserves      *big.Int
	TokenTotalSupply     *big.Int
	FeeBasisPoints       uint64
	Complete             bool
}

// Quote is the computed economics of a prospective trade. AmountOut and
// MinAmountOut are the exact values swap instructions must embed.
type Quote struct {
	AmountOut      *big.Int
	MinAmountOut   *big.Int
	Fee            *big.Int
	PriceImpactPct float64
}

func (s *State) validate() error {
	if s == nil || s.VirtualTokenReserves == nil || s.VirtualSolReserves == nil {
		return ErrInvalidReserves
	}
	if s.VirtualTokenReserves.Sign() <= 0 || s.VirtualSolReserves.Sign() <= 0 {
		return fmt.Errorf("%w: virtual reserves must be positive", ErrInvalidReserves)
	}
	return nil
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// QuoteBuy quotes buying tokens with solAmountIn lamports.
//
// Slippage is applied as an allowance increase on AmountOut, the
// ceiling the buy instruction embeds, while MinAmountOut stays at the
// unslipped base calculation. This is inverted relative to the usual
// slippage-floor convention and is preserved deliberately: the on-chain
// buy instruction takes a token amount plus a max cost, so the tolerance
// widens what the buyer may receive rather than lowering a floor.
func QuoteBuy(solAmountIn *big.Int, slippageBps uint64, state *State) (*Quote, error) {
	if err := state.validate(); err != nil {
		return nil, err
	}
	if err := validateAmount(solAmountIn); err != nil {
		return nil, err
	}

	// k = vSol * vToken, then floor-divide against grown sol reserves.
	k := new(big.Int).Mul(state.VirtualSolReserves, state.VirtualTokenReserves)
	newVirtualSol := new(big.Int).Add(state.VirtualSolReserves, solAmountIn)
	tokensOut := new(big.Int).Sub(state.VirtualTokenReserves, new(big.Int).Quo(k, newVirtualSol))

	amountOut := applyBps(tokensOut, bpsDenominator+slippageBps)
	// Cannot receive more than what is actually redeemable from the
	// curve, even when nothing is.
	if state.RealTokenReserves != nil && amountOut.Cmp(state.RealTokenReserves) > 0 {
		amountOut = new(big.Int).Set(state.RealTokenReserves)
	}
	minAmountOut := new(big.Int).Set(tokensOut)
	if minAmountOut.Cmp(amountOut) > 0 {
		minAmountOut.Set(amountOut)
	}

	fee := applyBps(solAmountIn, state.FeeBasisPoints)

	return &Quote{
		AmountOut:      amountOut,
		MinAmountOut:   minAmountOut,
		Fee:            fee,
		PriceImpactPct: priceImpact(solAmountIn, amountOut, state),
	}, nil
}

// QuoteSell quotes selling tokenAmountIn tokens back into the curve.
// Here slippage produces a conventional floor on the lamports received.
func QuoteSell(tokenAmountIn *big.Int, slippageBps uint64, state *State) (*Quote, error) {
	if err := state.validate(); err != nil {
		return nil, err
	}
	if err := validateAmount(tokenAmountIn); err != nil {
		return nil, err
	}
	if slippageBps > bpsDenominator {
		return nil, fmt.Errorf("%w: slippage above 10000 bps", ErrInvalidAmount)
	}

	// solOut = in * vSol / (vToken + in), floor division.
	numerator := new(big.Int).Mul(tokenAmountIn, state.VirtualSolReserves)
	denominator := new(big.Int).Add(state.VirtualTokenReserves, tokenAmountIn)
	solOut := new(big.Int).Quo(numerator, denominator)

	fee := applyBps(solOut, state.FeeBasisPoints)
	netOut := new(big.Int).Sub(solOut, fee)
	minAmountOut := applyBps(netOut, bpsDenominator-slippageBps)

	return &Quote{
		AmountOut:      netOut,
		MinAmountOut:   minAmountOut,
		Fee:            fee,
		PriceImpactPct: sellPriceImpact(tokenAmountIn, netOut, state),
	}, nil
}

// applyBps returns amount * bps / 10000 with floor division.
func applyBps(amount *big.Int, bps uint64) *big.Int {
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return scaled.Quo(scaled, big.NewInt(bpsDenominator))
}

// priceImpact compares execution price (solIn / tokensOut) against spot
// price (vSol / vToken) at a common fixed-point scale. When either
// price cannot be computed it reports 0 instead of failing: missing
// impact is display-only, unlike the hard reserve preconditions.
func priceImpact(solIn, tokensOut *big.Int, state *State) float64 {
	if tokensOut.Sign() == 0 {
		return 0
	}
	exec := scaledRatio(solIn, tokensOut)
	spot := scaledRatio(state.VirtualSolReserves, state.VirtualTokenReserves)
	return impactPct(exec, spot)
}

func sellPriceImpact(tokensIn, solOut *big.Int, state *State) float64 {
	if tokensIn.Sign() == 0 {
		return 0
	}
	exec := scaledRatio(solOut, tokensIn)
	spot := scaledRatio(state.VirtualSolReserves, state.VirtualTokenReserves)
	return impactPct(exec, spot)
}

func scaledRatio(num, den *big.Int) *big.Int {
	scaled := new(big.Int).Mul(num, priceScale)
	return scaled.Quo(scaled, den)
}

func impactPct(exec, spot *big.Int) float64 {
	if spot.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(exec, spot)
	diff.Abs(diff)
	pct := new(big.Float).Quo(new(big.Float).SetInt(diff), new(big.Float).SetInt(spot))
	result, _ := pct.Float64()
	return result * 100
}

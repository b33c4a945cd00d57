// ================================
// File: internal/trade/accounts.go
// ================================

// Package trade executes pump.fun swaps: it snapshots the bonding
// curve, quotes the trade, assembles and signs the transaction, and
// tracks it to confirmation.
package trade

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/pumpstream/pumpclient/internal/chain"
	"github.com/pumpstream/pumpclient/internal/curve"
)

// Known pump.fun protocol addresses.
var (
	PumpProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

	PumpEventAuthority = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")

	SysvarRentPubkey = solana.MPK("SysvarRent111111111111111111111111111111111")

	AssociatedTokenProgramID = solana.MPK("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// SwapAccounts is the full account set a buy/sell instruction needs.
type SwapAccounts struct {
	Global                 solana.PublicKey
	FeeRecipient           solana.PublicKey
	Mint                   solana.PublicKey
	BondingCurve           solana.PublicKey
	AssociatedBondingCurve solana.PublicKey
	AssociatedUser         solana.PublicKey
	User                   solana.PublicKey
}

// deriveBondingCurve computes the curve PDA and its token account for a
// mint.
func deriveBondingCurve(mint solana.PublicKey) (bondingCurve, associatedBondingCurve solana.PublicKey, err error) {
	bondingCurve, _, err = solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mint.Bytes()},
		PumpProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("failed to derive bonding curve: %w", err)
	}

	associatedBondingCurve, _, err = solana.FindAssociatedTokenAddress(bondingCurve, mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("failed to derive associated bonding curve: %w", err)
	}
	return bondingCurve, associatedBondingCurve, nil
}

// deriveGlobal computes the program global account PDA.
func deriveGlobal() (solana.PublicKey, error) {
	global, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("global")},
		PumpProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive global account: %w", err)
	}
	return global, nil
}

// fetchCurveState pulls a fresh reserve snapshot for the mint. Quotes
// are never computed from cached reserves.
func fetchCurveState(ctx context.Context, client *chain.Client, bondingCurve solana.PublicKey) (*curve.State, error) {
	data, owner, err := client.GetAccountData(ctx, bondingCurve)
	if err != nil {
		return nil, fmt.Errorf("failed to get bonding curve account: %w", err)
	}
	if !owner.Equals(PumpProgramID) {
		return nil, fmt.Errorf("bonding curve account has incorrect owner: %s", owner)
	}
	return curve.DecodeState(data)
}

// fetchGlobal pulls the protocol fee parameters and fee recipient.
func fetchGlobal(ctx context.Context, client *chain.Client, global solana.PublicKey) (feeBasisPoints uint64, feeRecipient solana.PublicKey, err error) {
	data, owner, err := client.GetAccountData(ctx, global)
	if err != nil {
		return 0, solana.PublicKey{}, fmt.Errorf("failed to get global account: %w", err)
	}
	if !owner.Equals(PumpProgramID) {
		return 0, solana.PublicKey{}, fmt.Errorf("global account has incorrect owner: %s", owner)
	}

	feeBasisPoints, err = curve.DecodeGlobalFeeBasisPoints(data)
	if err != nil {
		return 0, solana.PublicKey{}, err
	}
	recipientBytes, err := curve.DecodeGlobalFeeRecipient(data)
	if err != nil {
		return 0, solana.PublicKey{}, err
	}
	return feeBasisPoints, solana.PublicKeyFromBytes(recipientBytes[:]), nil
}

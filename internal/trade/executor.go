// ================================
// File: internal/trade/executor.go
// ================================
package trade

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"go.uber.org/zap"

	"github.com/pumpstream/pumpclient/internal/chain"
	"github.com/pumpstream/pumpclient/internal/curve"
	"github.com/pumpstream/pumpclient/internal/events"
	"github.com/pumpstream/pumpclient/internal/wallet"
)

const (
	defaultComputeUnits   = 200_000
	defaultConfirmTimeout = 60 * time.Second
)

// Options tune swap execution.
type Options struct {
	SlippageBps    uint64
	PriorityFeeSol string // "default" or a SOL value, converted to micro-lamports
	ComputeUnits   uint32
	ConfirmTimeout time.Duration
}

// Result reports an executed swap together with the quote that sized
// its instruction parameters.
type Result struct {
	Signature solana.Signature
	Quote     *curve.Quote
}

// Executor runs buy/sell swaps against pump.fun bonding curves.
type Executor struct {
	chain  *chain.Client
	wallet *wallet.Wallet
	bus    *events.Bus
	opts   Options
	logger *zap.Logger
}

func NewExecutor(chainClient *chain.Client, w *wallet.Wallet, bus *events.Bus, opts Options, logger *zap.Logger) *Executor {
	if opts.ComputeUnits == 0 {
		opts.ComputeUnits = defaultComputeUnits
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	return &Executor{
		chain:  chainClient,
		wallet: w,
		bus:    bus,
		opts:   opts,
		logger: logger.Named("trade"),
	}
}

// Buy spends solLamports on tokens from the mint's bonding curve. The
// quote's AmountOut becomes the instruction's token amount and the
// spent lamports its cost ceiling.
func (e *Executor) Buy(ctx context.Context, mintAddr string, solLamports uint64) (*Result, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}

	accounts, state, err := e.prepareSwap(ctx, mint)
	if err != nil {
		return nil, err
	}

	quote, err := curve.QuoteBuy(new(big.Int).SetUint64(solLamports), e.opts.SlippageBps, state)
	if err != nil {
		return nil, fmt.Errorf("quote buy: %w", err)
	}

	e.logger.Info("Executing buy",
		zap.String("mint", mintAddr),
		zap.Uint64("sol_lamports", solLamports),
		zap.String("amount_out", quote.AmountOut.String()),
		zap.String("min_amount_out", quote.MinAmountOut.String()),
		zap.Float64("price_impact_pct", quote.PriceImpactPct))

	instructions, err := e.baseInstructions()
	if err != nil {
		return nil, err
	}
	instructions = append(instructions,
		buildCreateATAInstruction(e.wallet.PublicKey, accounts.AssociatedUser, e.wallet.PublicKey, mint),
		buildBuyInstruction(accounts, quote.AmountOut.Uint64(), solLamports),
	)

	sig, err := e.sendAndTrack(ctx, instructions, mintAddr, "buy", solLamports, quote)
	if err != nil {
		return nil, err
	}
	return &Result{Signature: sig, Quote: quote}, nil
}

// Sell swaps tokenAmount of the mint back into SOL. The quote's
// MinAmountOut becomes the instruction's output floor.
func (e *Executor) Sell(ctx context.Context, mintAddr string, tokenAmount uint64) (*Result, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}

	accounts, state, err := e.prepareSwap(ctx, mint)
	if err != nil {
		return nil, err
	}

	quote, err := curve.QuoteSell(new(big.Int).SetUint64(tokenAmount), e.opts.SlippageBps, state)
	if err != nil {
		return nil, fmt.Errorf("quote sell: %w", err)
	}

	e.logger.Info("Executing sell",
		zap.String("mint", mintAddr),
		zap.Uint64("token_amount", tokenAmount),
		zap.String("amount_out", quote.AmountOut.String()),
		zap.String("min_amount_out", quote.MinAmountOut.String()),
		zap.Float64("price_impact_pct", quote.PriceImpactPct))

	instructions, err := e.baseInstructions()
	if err != nil {
		return nil, err
	}
	instructions = append(instructions,
		buildSellInstruction(accounts, tokenAmount, quote.MinAmountOut.Uint64()),
	)

	sig, err := e.sendAndTrack(ctx, instructions, mintAddr, "sell", tokenAmount, quote)
	if err != nil {
		return nil, err
	}
	return &Result{Signature: sig, Quote: quote}, nil
}

// prepareSwap derives all swap accounts and snapshots fresh reserves
// and the protocol fee. Nothing here is cached between trades.
func (e *Executor) prepareSwap(ctx context.Context, mint solana.PublicKey) (SwapAccounts, *curve.State, error) {
	bondingCurve, associatedBondingCurve, err := deriveBondingCurve(mint)
	if err != nil {
		return SwapAccounts{}, nil, err
	}
	global, err := deriveGlobal()
	if err != nil {
		return SwapAccounts{}, nil, err
	}

	feeBasisPoints, feeRecipient, err := fetchGlobal(ctx, e.chain, global)
	if err != nil {
		return SwapAccounts{}, nil, err
	}

	state, err := fetchCurveState(ctx, e.chain, bondingCurve)
	if err != nil {
		return SwapAccounts{}, nil, err
	}
	if state.Complete {
		return SwapAccounts{}, nil, fmt.Errorf("bonding curve for %s is complete, token has graduated", mint)
	}
	state.FeeBasisPoints = feeBasisPoints

	associatedUser, err := e.wallet.ATA(mint)
	if err != nil {
		return SwapAccounts{}, nil, err
	}

	return SwapAccounts{
		Global:                 global,
		FeeRecipient:           feeRecipient,
		Mint:                   mint,
		BondingCurve:           bondingCurve,
		AssociatedBondingCurve: associatedBondingCurve,
		AssociatedUser:         associatedUser,
		User:                   e.wallet.PublicKey,
	}, state, nil
}

func (e *Executor) baseInstructions() ([]solana.Instruction, error) {
	var priorityFee uint64
	if e.opts.PriorityFeeSol == "" || e.opts.PriorityFeeSol == "default" {
		priorityFee = 5_000 // micro-lamports
	} else {
		var solValue float64
		if _, err := fmt.Sscanf(e.opts.PriorityFeeSol, "%f", &solValue); err != nil {
			return nil, fmt.Errorf("invalid priority fee format: %w", err)
		}
		priorityFee = uint64(solValue * 1_000_000_000_000) // SOL to micro-lamports
	}
	return []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(e.opts.ComputeUnits).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(priorityFee).Build(),
	}, nil
}

// sendAndTrack assembles, signs and submits the transaction, then
// waits for confirmation, publishing swap lifecycle events as it goes.
func (e *Executor) sendAndTrack(ctx context.Context, instructions []solana.Instruction, mint, direction string, amountIn uint64, quote *curve.Quote) (solana.Signature, error) {
	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(e.wallet.PublicKey),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("create transaction: %w", err)
	}

	if err := e.wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := e.chain.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	e.logger.Info("Transaction sent",
		zap.String("signature", sig.String()),
		zap.String("mint", mint),
		zap.String("direction", direction))

	_ = e.bus.Publish(events.SwapSubmittedEvent{
		BaseEvent: events.BaseEvent{EventType: events.SwapSubmitted, EventTime: time.Now()},
		Mint:      mint,
		Direction: direction,
		Signature: sig.String(),
		AmountIn:  fmt.Sprintf("%d", amountIn),
		MinOut:    quote.MinAmountOut.String(),
	})

	confirmCtx, cancel := context.WithTimeout(ctx, e.opts.ConfirmTimeout)
	defer cancel()
	if err := e.chain.WaitForConfirmation(confirmCtx, sig); err != nil {
		e.logger.Warn("Swap confirmation failed",
			zap.String("signature", sig.String()), zap.Error(err))
		_ = e.bus.Publish(events.SwapFailedEvent{
			BaseEvent: events.BaseEvent{EventType: events.SwapFailed, EventTime: time.Now()},
			Mint:      mint,
			Signature: sig.String(),
			Error:     err,
		})
		return sig, fmt.Errorf("confirmation failed: %w", err)
	}

	e.logger.Info("Swap confirmed", zap.String("signature", sig.String()))
	_ = e.bus.Publish(events.SwapConfirmedEvent{
		BaseEvent: events.BaseEvent{EventType: events.SwapConfirmed, EventTime: time.Now()},
		Mint:      mint,
		Signature: sig.String(),
	})
	return sig, nil
}

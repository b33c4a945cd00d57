// ================================
// File: internal/chain/client.go
// ================================

// Package chain wraps Solana JSON-RPC access behind a round-robin
// endpoint pool with bounded retries. Reads fail over between
// endpoints; transaction submission is never retried blindly since a
// resend is not idempotent.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	defaultMaxTries   = 3
	retryBaseInterval = 100 * time.Millisecond
	confirmPollEvery  = 500 * time.Millisecond
)

var ErrAccountNotFound = errors.New("account not found")

// Client is a failover pool over one or more RPC endpoints.
type Client struct {
	endpoints []*rpc.Client
	urls      []string
	next      atomic.Uint64
	maxTries  uint
	logger    *zap.Logger
}

// NewClient builds a pool over the configured RPC endpoints.
func NewClient(urls []string, logger *zap.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}
	endpoints := make([]*rpc.Client, 0, len(urls))
	for _, url := range urls {
		endpoints = append(endpoints, rpc.New(url))
	}
	return &Client{
		endpoints: endpoints,
		urls:      urls,
		maxTries:  defaultMaxTries,
		logger:    logger.Named("chain"),
	}, nil
}

// pick returns the next endpoint in round-robin order, so consecutive
// retries naturally fail over.
func (c *Client) pick() (*rpc.Client, string) {
	i := c.next.Add(1) % uint64(len(c.endpoints))
	return c.endpoints[i], c.urls[i]
}

func (c *Client) retryPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseInterval
	policy.MaxInterval = retryBaseInterval * 10
	return policy
}

func (c *Client) notify(op string) backoff.Notify {
	return func(err error, next time.Duration) {
		c.logger.Debug("Retrying RPC call",
			zap.String("op", op), zap.Error(err), zap.Duration("backoff", next))
	}
}

// GetBalance returns the lamport balance of an address.
func (c *Client) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	operation := func() (uint64, error) {
		node, _ := c.pick()
		out, err := node.GetBalance(ctx, addr, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, err
		}
		return out.Value, nil
	}
	balance, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.retryPolicy()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(c.notify("get_balance")))
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// GetAccountData returns the raw data and owner of an account.
func (c *Client) GetAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, solana.PublicKey, error) {
	type accountData struct {
		data  []byte
		owner solana.PublicKey
	}
	operation := func() (accountData, error) {
		node, _ := c.pick()
		out, err := node.GetAccountInfo(ctx, addr)
		if err != nil {
			return accountData{}, err
		}
		if out == nil || out.Value == nil {
			// Not found is terminal, retrying will not create the account.
			return accountData{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrAccountNotFound, addr))
		}
		return accountData{
			data:  out.Value.Data.GetBinary(),
			owner: out.Value.Owner,
		}, nil
	}
	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.retryPolicy()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(c.notify("get_account_info")))
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("get account info: %w", err)
	}
	return result.data, result.owner, nil
}

// GetLatestBlockhash returns a recent blockhash for transaction assembly.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	operation := func() (solana.Hash, error) {
		node, _ := c.pick()
		out, err := node.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return solana.Hash{}, err
		}
		return out.Value.Blockhash, nil
	}
	hash, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.retryPolicy()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(c.notify("get_latest_blockhash")))
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return hash, nil
}

// SendTransaction submits a signed transaction, skipping preflight for
// latency. One attempt only.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	node, url := c.pick()
	sig, err := node.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction via %s: %w", url, err)
	}
	return sig, nil
}

// WaitForConfirmation polls signature status until the transaction is
// confirmed, fails on-chain, or ctx expires.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(confirmPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait: %w", ctx.Err())
		case <-ticker.C:
			node, _ := c.pick()
			out, err := node.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				c.logger.Debug("Signature status poll failed", zap.Error(err))
				continue
			}
			if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

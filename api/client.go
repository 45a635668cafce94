// api/client.go

// Solana JSON-RPC transport used by the crank
// Wraps the solana-go RPC client with a client-side request limiter
// Exposes account reads, latest blockhash, simulation and send-with-confirmation
// Confirmation polls signature status until the commitment is reached (see poller.go)

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrAccountNotFound is returned when an account does not exist
var ErrAccountNotFound = errors.New("account not found")

// Options configures a Client
type Options struct {
	Commitment        rpc.CommitmentType
	RequestsPerSecond float64
	Burst             int
	PollInterval      time.Duration
	ConfirmTimeout    time.Duration
	Logger            *zap.SugaredLogger
}

// DefaultOptions mirrors the config package defaults
func DefaultOptions() Options {
	return Options{
		Commitment:        rpc.CommitmentFinalized,
		RequestsPerSecond: 10,
		Burst:             5,
		PollInterval:      2 * time.Second,
		ConfirmTimeout:    90 * time.Second,
	}
}

// Client represents an RPC client for one cluster endpoint
type Client struct {
	rpc     *rpc.Client
	limiter *rate.Limiter
	opts    Options
	logger  *zap.SugaredLogger
}

// NewClient creates a new RPC client
func NewClient(endpoint string, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentFinalized
	}
	return &Client{
		rpc:     rpc.New(endpoint),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		opts:    opts,
		logger:  opts.Logger,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// GetAccountData fetches the raw data of an account
func (c *Client) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.opts.Commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", account, err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	return out.Value.Data.GetBinary(), nil
}

// GetBalance fetches the lamport balance of an account
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	out, err := c.rpc.GetBalance(ctx, account, c.opts.Commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance of %s: %w", account, err)
	}
	return out.Value, nil
}

// Blockhash is a recent blockhash and the last block height it is valid for
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// GetLatestBlockhash fetches the newest blockhash at the client commitment
func (c *Client) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	if err := c.wait(ctx); err != nil {
		return Blockhash{}, err
	}

	out, err := c.rpc.GetLatestBlockhash(ctx, c.opts.Commitment)
	if err != nil {
		return Blockhash{}, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return Blockhash{}, errors.New("failed to fetch latest blockhash: empty response")
	}
	return Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// SimulationResult is the outcome of a dry run
type SimulationResult struct {
	Err           interface{}
	Logs          []string
	UnitsConsumed uint64
}

// Failed reports whether the simulated transaction returned an error
func (r *SimulationResult) Failed() bool {
	return r.Err != nil
}

// SimulateTransaction runs the transaction without broadcasting it.
// Signatures are verified.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: c.opts.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("simulation request failed: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, errors.New("simulation request failed: empty response")
	}

	result := &SimulationResult{
		Err:  out.Value.Err,
		Logs: out.Value.Logs,
	}
	if out.Value.UnitsConsumed != nil {
		result.UnitsConsumed = *out.Value.UnitsConsumed
	}
	return result, nil
}

// SendTransaction broadcasts the transaction after preflight checks
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.opts.Commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus fetches the status of one signature; nil means unknown
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// BlockHeight fetches the current block height
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	height, err := c.rpc.GetBlockHeight(ctx, c.opts.Commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch block height: %w", err)
	}
	return height, nil
}

// SendAndConfirmTransaction broadcasts the transaction and blocks until it
// reaches the client commitment, fails on-chain, expires or times out.
func (c *Client) SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error) {
	sig, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	c.logger.Infow("transaction sent, awaiting confirmation",
		"signature", sig,
		"commitment", c.opts.Commitment)

	poller := NewSignaturePoller(c, sig, c.opts.Commitment)
	poller.SetInterval(c.opts.PollInterval)
	poller.SetLastValidBlockHeight(lastValidBlockHeight)
	poller.OnStatusChange(func(status rpc.ConfirmationStatusType) {
		c.logger.Debugw("signature status changed", "signature", sig, "status", status)
	})
	poller.OnError(func(err error) {
		c.logger.Warnw("signature status poll failed", "signature", sig, "error", err)
	})

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	if _, err := poller.Wait(waitCtx); err != nil {
		return sig, err
	}
	return sig, nil
}

// Close releases the underlying HTTP client
func (c *Client) Close() error {
	return c.rpc.Close()
}

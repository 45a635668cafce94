package liquid

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// AccountReader is the subset of the RPC transport the protocol client needs
type AccountReader interface {
	GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Addresses locates one deployment of the program
type Addresses struct {
	Program       solana.PublicKey
	State         solana.PublicKey
	Reserve       solana.PublicKey
	ValidatorList solana.PublicKey
}

// Client reads pool state over RPC and builds program instructions. The
// state is loaded once by Load and is immutable for the rest of the run.
type Client struct {
	reader AccountReader
	addrs  Addresses
	logger *zap.SugaredLogger

	state *State
}

// NewClient creates a protocol client; call Load before anything else
func NewClient(reader AccountReader, addrs Addresses, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		reader: reader,
		addrs:  addrs,
		logger: logger,
	}
}

// Load fetches and decodes the State account
func (c *Client) Load(ctx context.Context) error {
	data, err := c.reader.GetAccountData(ctx, c.addrs.State)
	if err != nil {
		return fmt.Errorf("failed to fetch state %s: %w", c.addrs.State, err)
	}
	state, err := DecodeState(data)
	if err != nil {
		return err
	}

	listAccount := state.ValidatorSystem.ValidatorList.Account
	if !c.addrs.ValidatorList.IsZero() && !listAccount.Equals(c.addrs.ValidatorList) {
		return fmt.Errorf("state references validator list %s, configured %s", listAccount, c.addrs.ValidatorList)
	}

	c.state = state
	c.logger.Debugw("loaded pool state",
		"validators", state.ValidatorSystem.ValidatorList.Count,
		"total_active_balance", state.ValidatorSystem.TotalActiveBalance,
		"total_validator_score", state.ValidatorSystem.TotalValidatorScore)
	return nil
}

// State returns the loaded state, nil before Load
func (c *Client) State() *State {
	return c.state
}

var errNotLoaded = errors.New("protocol state not loaded")

// ValidatorList fetches and decodes every validator record
func (c *Client) ValidatorList(ctx context.Context) ([]ValidatorEntry, error) {
	if c.state == nil {
		return nil, errNotLoaded
	}
	list := c.state.ValidatorSystem.ValidatorList
	data, err := c.reader.GetAccountData(ctx, list.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch validator list %s: %w", list.Account, err)
	}
	return DecodeValidatorList(data, list.ItemSize, list.Count)
}

// FindValidator looks up the record of a single vote account
func (c *Client) FindValidator(ctx context.Context, vote solana.PublicKey) (ValidatorEntry, error) {
	entries, err := c.ValidatorList(ctx)
	if err != nil {
		return ValidatorEntry{}, err
	}
	return FindValidator(entries, vote)
}

// ReserveBalance reads the lamports held by the reserve account
func (c *Client) ReserveBalance(ctx context.Context) (uint64, error) {
	balance, err := c.reader.GetBalance(ctx, c.addrs.Reserve)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch reserve balance %s: %w", c.addrs.Reserve, err)
	}
	return balance, nil
}

// StakeDelta reads the reserve balance and computes the pool-wide delta
func (c *Client) StakeDelta(ctx context.Context) (uint64, *big.Int, error) {
	if c.state == nil {
		return 0, nil, errNotLoaded
	}
	reserve, err := c.ReserveBalance(ctx)
	if err != nil {
		return 0, nil, err
	}
	return reserve, c.state.StakeDelta(reserve), nil
}

// ValidatorStakeTarget applies the pool's allocation formula
func (c *Client) ValidatorStakeTarget(score uint32, totalStakeTarget uint64) (uint64, error) {
	if c.state == nil {
		return 0, errNotLoaded
	}
	return c.state.ValidatorStakeTarget(score, totalStakeTarget)
}

// StakeReserve builds the delegation instruction for this deployment
func (c *Client) StakeReserve(params StakeReserveParams) (solana.Instruction, error) {
	if c.state == nil {
		return nil, errNotLoaded
	}
	return NewStakeReserveInstruction(c.addrs.Program, c.addrs.State, c.state, params)
}

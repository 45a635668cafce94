// Package crank drives one delegation run: resolve the validator, plan the
// allocation, then build and submit the transaction.
package crank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaplanmaxe/marinade-crank/core/transaction"
	"github.com/kaplanmaxe/marinade-crank/crypto"
	"github.com/kaplanmaxe/marinade-crank/staking/delegation"
	"github.com/kaplanmaxe/marinade-crank/staking/liquid"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Stage is a run-level state; executor stages follow Planning in the trace
type Stage string

const (
	StageStart       Stage = "start"
	StagePlanning    Stage = "planning"
	StageSkippedExit Stage = "skipped_exit"
)

// ProtocolClient is the read side of the liquid staking pool plus its
// instruction builder
type ProtocolClient interface {
	Load(ctx context.Context) error
	FindValidator(ctx context.Context, vote solana.PublicKey) (liquid.ValidatorEntry, error)
	StakeDelta(ctx context.Context) (uint64, *big.Int, error)
	State() *liquid.State
	ValidatorStakeTarget(score uint32, totalStakeTarget uint64) (uint64, error)
	StakeReserve(params liquid.StakeReserveParams) (solana.Instruction, error)
}

// Executor submits an allocation decision
type Executor interface {
	Execute(ctx context.Context, req transaction.Request) (*transaction.Outcome, error)
}

// Options are the per-run inputs
type Options struct {
	VoteAccount solana.PublicKey
	Signer      *crypto.KeyMaterial
	Mode        transaction.Mode
	PriorityFee *uint64
}

// Result summarizes a completed run
type Result struct {
	RunID     string                      `json:"run_id"`
	ExitCode  int                         `json:"exit_code"`
	Validator delegation.ValidatorRecord  `json:"validator"`
	Capacity  delegation.ProtocolCapacity `json:"capacity"`
	Decision  delegation.Decision         `json:"decision"`
	Outcome   *transaction.Outcome        `json:"outcome,omitempty"`
	Trace     []string                    `json:"trace"`
}

// Crank wires the protocol client, planner and executor together
type Crank struct {
	protocol ProtocolClient
	executor Executor
	stdout   io.Writer
	stderr   io.Writer
	logger   *zap.SugaredLogger
}

// New creates a crank writing operator status lines to stdout and stderr
func New(protocol ProtocolClient, executor Executor, stdout, stderr io.Writer, logger *zap.SugaredLogger) *Crank {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Crank{
		protocol: protocol,
		executor: executor,
		stdout:   stdout,
		stderr:   stderr,
		logger:   logger,
	}
}

// Run performs a single linear pass. Expected protocol states (negative
// delta, validator at target) are reported through Result.ExitCode; errors
// are reserved for failures that stop the run.
func (c *Crank) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Signer == nil {
		return nil, errors.New("fee payer keypair is required")
	}

	result := &Result{RunID: uuid.NewString()}
	log := c.logger.With("run", result.RunID, "validator", opts.VoteAccount.Short(4))
	enter := func(stage string) {
		result.Trace = append(result.Trace, stage)
		log.Debugw("run stage", "stage", stage)
	}

	enter(string(StageStart))
	if err := c.protocol.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load pool state: %w", err)
	}

	entry, err := c.protocol.FindValidator(ctx, opts.VoteAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve validator %s: %w", opts.VoteAccount, err)
	}
	result.Validator = delegation.ValidatorRecord{
		VoteAccount:   entry.Record.ValidatorAccount,
		Index:         entry.Index,
		ActiveBalance: entry.Record.ActiveBalance,
		Score:         entry.Record.Score,
	}

	reserve, rawDelta, err := c.protocol.StakeDelta(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stake delta: %w", err)
	}
	result.Capacity = delegation.ProtocolCapacity{
		TotalActiveBalance: c.protocol.State().ValidatorSystem.TotalActiveBalance,
		ReserveBalance:     reserve,
		RawStakeDelta:      rawDelta,
	}

	enter(string(StagePlanning))
	planner := delegation.NewPlanner(delegation.TargetFormulaFunc(
		func(v delegation.ValidatorRecord, poolTarget uint64) (uint64, error) {
			return c.protocol.ValidatorStakeTarget(v.Score, poolTarget)
		}))
	decision, err := planner.Plan(result.Capacity, result.Validator)
	if err != nil {
		return nil, err
	}
	result.Decision = decision
	log.Infow("allocation planned",
		"action", decision.Action,
		"reason", decision.Reason,
		"stake_delta", rawDelta,
		"pool_target", decision.Target.PoolTarget,
		"validator_target", decision.Target.ValidatorTarget,
		"active_balance", result.Validator.ActiveBalance,
		"lamports", decision.Lamports)

	if decision.Skip() {
		enter(string(StageSkippedExit))
		result.ExitCode = c.reportSkip(result)
		return result, nil
	}

	fmt.Fprintf(c.stdout, "Attempting to stake %s with %s SOL\n",
		opts.VoteAccount, delegation.FormatLamportsSOL(decision.Lamports))

	outcome, err := c.executor.Execute(ctx, transaction.Request{
		Decision:    decision,
		Validator:   result.Validator,
		Signer:      opts.Signer,
		Mode:        opts.Mode,
		PriorityFee: opts.PriorityFee,
	})
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome
	for _, stage := range outcome.Trace {
		enter(string(stage))
	}

	result.ExitCode = c.reportOutcome(outcome)
	log.Infow("run finished", "outcome", outcome.Kind, "exit_code", result.ExitCode, "trace", result.Trace)
	return result, nil
}

func (c *Crank) reportSkip(result *Result) int {
	vote := result.Validator.VoteAccount
	switch result.Decision.Reason {
	case delegation.SkipNegativeDelta:
		fmt.Fprintf(c.stderr, "Marinade's stake delta is negative (%s SOL), therefore the crank cannot be run this epoch\n",
			delegation.FormatSOL(result.Capacity.RawStakeDelta))
		return ExitFailure
	case delegation.SkipAlreadyAtTarget:
		fmt.Fprintf(c.stdout, "Validator %s already reached stake target. Active balance: %s SOL, stake_target: %s SOL\n",
			vote,
			delegation.FormatLamportsSOL(result.Validator.ActiveBalance),
			delegation.FormatLamportsSOL(result.Decision.Target.ValidatorTarget))
		return ExitSuccess
	case delegation.SkipNoCapacity:
		fmt.Fprintf(c.stdout, "Validator %s is below stake target (%s SOL) but Marinade has no stake delta to allocate this epoch\n",
			vote, delegation.FormatLamportsSOL(result.Decision.Target.ValidatorTarget))
		return ExitSuccess
	default:
		fmt.Fprintf(c.stderr, "Skipping validator %s: %s\n", vote, result.Decision.Reason)
		return ExitFailure
	}
}

func (c *Crank) reportOutcome(outcome *transaction.Outcome) int {
	switch outcome.Kind {
	case transaction.OutcomeSimulated:
		fmt.Fprintf(c.stdout, "Simulation result: ok, %d compute units consumed\n", outcome.UnitsConsumed)
		for _, line := range outcome.Logs {
			fmt.Fprintf(c.stdout, "  %s\n", line)
		}
		return ExitSuccess
	case transaction.OutcomeConfirmed:
		fmt.Fprintf(c.stdout, "Transaction signature: %s\n", outcome.Signature)
		return ExitSuccess
	default:
		fmt.Fprintf(c.stderr, "Error: %s\n", outcome.Message)
		if !outcome.Signature.IsZero() {
			fmt.Fprintf(c.stderr, "Transaction signature: %s\n", outcome.Signature)
		}
		for _, line := range outcome.Logs {
			fmt.Fprintf(c.stderr, "  %s\n", line)
		}
		return ExitFailure
	}
}

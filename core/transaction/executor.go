// core/transaction/executor.go
// Builds, signs and submits the delegation transaction for one allocation:

// ✅ Fresh ephemeral stake account per run, never persisted
// ✅ Compute-budget price/limit instructions ahead of stake_reserve
// ✅ Latest blockhash fetched right before signing
// ✅ Simulate mode: dry run with signature verification, never broadcasts
// ✅ Send mode: broadcast and wait for confirmation
// ✅ Run trace of the states visited

package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/kaplanmaxe/marinade-crank/api"
	"github.com/kaplanmaxe/marinade-crank/crypto"
	"github.com/kaplanmaxe/marinade-crank/staking/delegation"
	"github.com/kaplanmaxe/marinade-crank/staking/liquid"
)

// Mode selects between a dry run and a real submission
type Mode int

const (
	ModeSimulate Mode = iota
	ModeSend
)

func (m Mode) String() string {
	switch m {
	case ModeSimulate:
		return "simulate"
	case ModeSend:
		return "send"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Stage is a state of the per-run state machine
type Stage string

const (
	StageBuilding   Stage = "building"
	StageSigning    Stage = "signing"
	StageSimulating Stage = "simulating"
	StageSending    Stage = "sending"
	StageConfirming Stage = "confirming"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// OutcomeKind classifies a submission result
type OutcomeKind int

const (
	OutcomeSimulated OutcomeKind = iota
	OutcomeConfirmed
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSimulated:
		return "simulated"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of Execute
type Outcome struct {
	Kind          OutcomeKind      `json:"kind"`
	Signature     solana.Signature `json:"signature"`
	StakeAccount  solana.PublicKey `json:"stake_account"`
	Logs          []string         `json:"logs,omitempty"`
	UnitsConsumed uint64           `json:"units_consumed,omitempty"`
	Message       string           `json:"message,omitempty"`
	Trace         []Stage          `json:"trace"`
}

// Succeeded reports whether the run should exit cleanly
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Kind != OutcomeFailed
}

// Transport is the network side of the executor
type Transport interface {
	GetLatestBlockhash(ctx context.Context) (api.Blockhash, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*api.SimulationResult, error)
	SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error)
}

// InstructionBuilder produces the protocol's delegation instruction
type InstructionBuilder interface {
	StakeReserve(params liquid.StakeReserveParams) (solana.Instruction, error)
}

// Request carries everything one execution needs
type Request struct {
	Decision  delegation.Decision
	Validator delegation.ValidatorRecord
	Signer    *crypto.KeyMaterial
	Mode      Mode
	// nil means price 0
	PriorityFee *uint64
}

// ErrNothingToAllocate is returned for decisions that are not allocations
var ErrNothingToAllocate = errors.New("decision does not allocate any stake")

// Executor handles building and submitting delegation transactions
type Executor struct {
	transport        Transport
	builder          InstructionBuilder
	computeUnitLimit uint32
	logger           *zap.SugaredLogger

	newStakeAccount func() (*crypto.KeyMaterial, error)
}

// NewExecutor creates a new delegation executor
func NewExecutor(transport Transport, builder InstructionBuilder, computeUnitLimit uint32, logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{
		transport:        transport,
		builder:          builder,
		computeUnitLimit: computeUnitLimit,
		logger:           logger,
		newStakeAccount:  crypto.NewEphemeral,
	}
}

// Execute runs Building → Signing → Simulating|Sending → Confirming → Done.
// Failures before submission are returned as errors; submission failures
// come back as an OutcomeFailed outcome.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if req.Decision.Action != delegation.ActionAllocate || req.Decision.Lamports == 0 {
		return nil, ErrNothingToAllocate
	}
	if req.Signer == nil {
		return nil, errors.New("fee payer key is required")
	}

	outcome := &Outcome{}
	enter := func(stage Stage) {
		outcome.Trace = append(outcome.Trace, stage)
		e.logger.Debugw("executor stage", "stage", stage, "mode", req.Mode)
	}

	enter(StageBuilding)
	stakeAccount, err := e.newStakeAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to create stake account key: %w", err)
	}
	outcome.StakeAccount = stakeAccount.PublicKey()

	instructions, err := e.buildInstructions(req, stakeAccount.PublicKey())
	if err != nil {
		return nil, err
	}

	blockhash, err := e.transport.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	enter(StageSigning)
	payer := req.Signer.PublicKey()
	tx, err := NewSignedTransaction(instructions, blockhash.Hash, payer, crypto.NewKeyring(req.Signer, stakeAccount))
	if err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, fmt.Errorf("signed transaction does not verify: %w", err)
	}
	outcome.Signature = tx.Signatures[0]

	e.logger.Infow("delegation transaction ready",
		"validator", req.Validator.VoteAccount,
		"validator_index", req.Validator.Index,
		"lamports", req.Decision.Lamports,
		"stake_account", outcome.StakeAccount,
		"priority_fee", priorityFee(req.PriorityFee),
		"mode", req.Mode)

	switch req.Mode {
	case ModeSimulate:
		enter(StageSimulating)
		e.simulate(ctx, tx, outcome)
	case ModeSend:
		if req.PriorityFee == nil || *req.PriorityFee == 0 {
			e.logger.Warnw("sending with zero compute unit price; the transaction may not land under congestion")
		}
		enter(StageSending)
		e.send(ctx, tx, blockhash.LastValidBlockHeight, outcome, enter)
	default:
		return nil, fmt.Errorf("unknown mode %v", req.Mode)
	}

	if outcome.Kind == OutcomeFailed {
		enter(StageFailed)
	} else {
		enter(StageDone)
	}
	return outcome, nil
}

func (e *Executor) buildInstructions(req Request, stakeAccount solana.PublicKey) ([]solana.Instruction, error) {
	stakeReserve, err := e.builder.StakeReserve(liquid.StakeReserveParams{
		ValidatorIndex: req.Validator.Index,
		ValidatorVote:  req.Validator.VoteAccount,
		StakeAccount:   stakeAccount,
		RentPayer:      req.Signer.PublicKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build stake_reserve instruction: %w", err)
	}

	budget, err := ComputeBudgetInstructions(priorityFee(req.PriorityFee), e.computeUnitLimit)
	if err != nil {
		return nil, err
	}
	return append(budget, stakeReserve), nil
}

func (e *Executor) simulate(ctx context.Context, tx *solana.Transaction, outcome *Outcome) {
	result, err := e.transport.SimulateTransaction(ctx, tx)
	if err != nil {
		outcome.Kind = OutcomeFailed
		outcome.Message = err.Error()
		return
	}

	outcome.Logs = result.Logs
	outcome.UnitsConsumed = result.UnitsConsumed
	if result.Failed() {
		outcome.Kind = OutcomeFailed
		outcome.Message = fmt.Sprintf("simulation failed: %v", result.Err)
		return
	}
	outcome.Kind = OutcomeSimulated
}

func (e *Executor) send(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64, outcome *Outcome, enter func(Stage)) {
	enter(StageConfirming)
	sig, err := e.transport.SendAndConfirmTransaction(ctx, tx, lastValidBlockHeight)
	if !sig.IsZero() {
		outcome.Signature = sig
	}
	if err != nil {
		outcome.Kind = OutcomeFailed
		outcome.Message = err.Error()
		return
	}
	outcome.Kind = OutcomeConfirmed
}

func priorityFee(fee *uint64) uint64 {
	if fee == nil {
		return 0
	}
	return *fee
}

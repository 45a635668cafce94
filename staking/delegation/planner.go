// staking/delegation/planner.go

// Stake allocation decision for a single validator per crank:
// - Pool capacity: the pool-wide stake delta is converted to an unsigned amount
//   or the run is skipped (a negative delta blocks delegation to every validator)
// - Pool target: total active balance plus the available delta, saturating
// - Validator target: supplied by the protocol's allocation formula
// - Allocation: min(shortfall, available delta), never zero
//
// All amounts are lamports; conversion to SOL happens only in FormatSOL.

package delegation

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Action is what the crank should do with a validator this epoch
type Action int

const (
	ActionSkip Action = iota
	ActionAllocate
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionAllocate:
		return "allocate"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// SkipReason explains a skip decision
type SkipReason int

const (
	SkipNone SkipReason = iota
	// The pool owes withdrawals; nothing may be delegated this epoch
	SkipNegativeDelta
	// The validator already holds at least its target
	SkipAlreadyAtTarget
	// The delta is exactly zero, so there is nothing to hand out
	SkipNoCapacity
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipNegativeDelta:
		return "negative_delta"
	case SkipAlreadyAtTarget:
		return "already_at_target"
	case SkipNoCapacity:
		return "no_capacity"
	default:
		return fmt.Sprintf("SkipReason(%d)", int(r))
	}
}

// ProtocolCapacity is the pool-wide liquidity snapshot taken at run start
type ProtocolCapacity struct {
	TotalActiveBalance uint64   `json:"total_active_balance"`
	ReserveBalance     uint64   `json:"reserve_balance"`
	RawStakeDelta      *big.Int `json:"raw_stake_delta"`
}

// ValidatorRecord is the crank's view of the target validator
type ValidatorRecord struct {
	VoteAccount   solana.PublicKey `json:"vote_account"`
	Index         uint32           `json:"index"`
	ActiveBalance uint64           `json:"active_balance"`
	Score         uint32           `json:"score"`
}

// StakeTarget pairs the pool target with the validator's share of it
type StakeTarget struct {
	PoolTarget      uint64 `json:"pool_target"`
	ValidatorTarget uint64 `json:"validator_target"`
}

// Decision is the planner's output. Lamports is non-zero exactly when
// Action is ActionAllocate.
type Decision struct {
	Action     Action      `json:"action"`
	Reason     SkipReason  `json:"reason"`
	Lamports   uint64      `json:"lamports"`
	StakeDelta uint64      `json:"stake_delta"`
	Target     StakeTarget `json:"target"`
}

// Skip reports whether the run should stop before building a transaction
func (d Decision) Skip() bool {
	return d.Action != ActionAllocate
}

// TargetFormula computes a validator's fair share of the pool target
type TargetFormula interface {
	ValidatorStakeTarget(validator ValidatorRecord, poolTarget uint64) (uint64, error)
}

// TargetFormulaFunc adapts a function to TargetFormula
type TargetFormulaFunc func(validator ValidatorRecord, poolTarget uint64) (uint64, error)

func (f TargetFormulaFunc) ValidatorStakeTarget(validator ValidatorRecord, poolTarget uint64) (uint64, error) {
	return f(validator, poolTarget)
}

// ErrMissingStakeDelta is returned when the capacity carries no delta
var ErrMissingStakeDelta = errors.New("capacity has no stake delta")

// Planner turns capacity and validator state into a Decision. It performs
// no I/O.
type Planner struct {
	formula TargetFormula
}

// NewPlanner creates a planner using the given allocation formula
func NewPlanner(formula TargetFormula) *Planner {
	return &Planner{formula: formula}
}

// Plan evaluates one validator against the pool capacity
func (p *Planner) Plan(capacity ProtocolCapacity, validator ValidatorRecord) (Decision, error) {
	delta, ok, err := UnsignedStakeDelta(capacity.RawStakeDelta)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Action: ActionSkip, Reason: SkipNegativeDelta}, nil
	}

	poolTarget := SaturatingAdd(capacity.TotalActiveBalance, delta)

	validatorTarget, err := p.formula.ValidatorStakeTarget(validator, poolTarget)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to compute stake target for %s: %w", validator.VoteAccount, err)
	}

	return Decide(delta, validator, StakeTarget{
		PoolTarget:      poolTarget,
		ValidatorTarget: validatorTarget,
	}), nil
}

// Decide applies the shortfall rule once the targets are known
func Decide(stakeDelta uint64, validator ValidatorRecord, target StakeTarget) Decision {
	decision := Decision{
		Action:     ActionSkip,
		StakeDelta: stakeDelta,
		Target:     target,
	}

	if validator.ActiveBalance >= target.ValidatorTarget {
		decision.Reason = SkipAlreadyAtTarget
		return decision
	}

	shortfall := target.ValidatorTarget - validator.ActiveBalance
	amount := min(shortfall, stakeDelta)
	if amount == 0 {
		decision.Reason = SkipNoCapacity
		return decision
	}

	decision.Action = ActionAllocate
	decision.Lamports = amount
	return decision
}

// UnsignedStakeDelta converts the signed pool delta. ok is false when the
// delta is negative. Values beyond u64 are clamped.
func UnsignedStakeDelta(raw *big.Int) (delta uint64, ok bool, err error) {
	if raw == nil {
		return 0, false, ErrMissingStakeDelta
	}
	if raw.Sign() < 0 {
		return 0, false, nil
	}
	if !raw.IsUint64() {
		return math.MaxUint64, true, nil
	}
	return raw.Uint64(), true, nil
}

// SaturatingAdd returns a+b, or MaxUint64 when the sum would wrap
func SaturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}
	return sum
}

var lamportsPerSOL = new(big.Int).SetUint64(solana.LAMPORTS_PER_SOL)

// FormatSOL renders a lamport amount in SOL without rounding
func FormatSOL(lamports *big.Int) string {
	if lamports == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(lamports, lamportsPerSOL).FloatString(9)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// FormatLamportsSOL is FormatSOL for unsigned amounts
func FormatLamportsSOL(lamports uint64) string {
	return FormatSOL(new(big.Int).SetUint64(lamports))
}

// staking/liquid/state.go

// On-chain account layouts of the Marinade liquid staking program and the
// pool-level formulas the crank depends on:
// - State account decoding (Anchor discriminator + borsh)
// - Stake delta: net lamports the pool may delegate (positive) or must withdraw (negative)
// - Validator stake target: a validator's score-proportional share of the pool target

package liquid

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const discriminatorSize = 8

// ErrStakeTargetOverflow is returned when a proportional share does not fit in u64
var ErrStakeTargetOverflow = errors.New("validator stake target overflows u64")

type Fee struct {
	BasisPoints uint32
}

type FeeCents struct {
	BpCents uint32
}

// List describes an external list account (validator list, stake list)
type List struct {
	Account   solana.PublicKey
	ItemSize  uint32
	Count     uint32
	Reserved1 solana.PublicKey
	Reserved2 uint32
}

type StakeSystem struct {
	StakeList                 List
	DelayedUnstakeCoolingDown uint64
	StakeDepositBumpSeed      uint8
	StakeWithdrawBumpSeed     uint8
	SlotsForStakeDelta        uint64
	LastStakeDeltaEpoch       uint64
	MinStake                  uint64
	ExtraStakeDeltaRuns       uint32
}

type ValidatorSystem struct {
	ValidatorList           List
	ManagerAuthority        solana.PublicKey
	TotalValidatorScore     uint32
	TotalActiveBalance      uint64
	AutoAddValidatorEnabled uint8
}

type LiqPool struct {
	LpMint                   solana.PublicKey
	LpMintAuthorityBumpSeed  uint8
	SolLegBumpSeed           uint8
	MsolLegAuthorityBumpSeed uint8
	MsolLeg                  solana.PublicKey
	LpLiquidityTarget        uint64
	LpMaxFee                 Fee
	LpMinFee                 Fee
	TreasuryCut              Fee
	LpSupply                 uint64
	LentFromSolLeg           uint64
	LiquiditySolCap          uint64
}

// State is the leading part of the program's State account. Fields after
// EmergencyCoolingDown are not needed by the crank and are left undecoded.
type State struct {
	MsolMint                  solana.PublicKey
	AdminAuthority            solana.PublicKey
	OperationalSolAccount     solana.PublicKey
	TreasuryMsolAccount       solana.PublicKey
	ReserveBumpSeed           uint8
	MsolMintAuthorityBumpSeed uint8
	RentExemptForTokenAcc     uint64
	RewardFee                 Fee
	StakeSystem               StakeSystem
	ValidatorSystem           ValidatorSystem
	LiqPool                   LiqPool
	AvailableReserveBalance   uint64
	MsolSupply                uint64
	MsolPrice                 uint64
	CirculatingTicketCount    uint64
	CirculatingTicketBalance  uint64
	LentFromReserve           uint64
	MinDeposit                uint64
	MinWithdraw               uint64
	StakingSolCap             uint64
	EmergencyCoolingDown      uint64
}

// StateDiscriminator prefixes every State account
var StateDiscriminator = anchorDiscriminator("account", "State")

func anchorDiscriminator(namespace, name string) [discriminatorSize]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [discriminatorSize]byte
	copy(d[:], sum[:discriminatorSize])
	return d
}

// DecodeState parses raw State account data
func DecodeState(data []byte) (*State, error) {
	if len(data) < discriminatorSize {
		return nil, fmt.Errorf("state account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:discriminatorSize], StateDiscriminator[:]) {
		return nil, fmt.Errorf("account is not a marinade State (discriminator %x)", data[:discriminatorSize])
	}

	var state State
	if err := bin.NewBorshDecoder(data[discriminatorSize:]).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &state, nil
}

// EncodeState serializes a State with its discriminator. The trailing
// fields the crank does not decode are not written.
func EncodeState(state *State) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(StateDiscriminator[:])
	if err := bin.NewBorshEncoder(buf).Encode(state); err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// StakeDelta returns how many lamports the pool can stake (positive) or has
// to unstake (negative) given the reserve account balance. Lamports in
// emergency cool-down are never restaked but may offset a negative delta.
func (s *State) StakeDelta(reserveBalance uint64) *big.Int {
	available := uint64(0)
	if reserveBalance > s.RentExemptForTokenAcc {
		available = reserveBalance - s.RentExemptForTokenAcc
	}

	raw := new(big.Int).SetUint64(available)
	raw.Add(raw, new(big.Int).SetUint64(s.StakeSystem.DelayedUnstakeCoolingDown))
	raw.Sub(raw, new(big.Int).SetUint64(s.CirculatingTicketBalance))
	if raw.Sign() >= 0 {
		return raw
	}

	withEmergency := raw.Add(raw, new(big.Int).SetUint64(s.EmergencyCoolingDown))
	if withEmergency.Sign() > 0 {
		return new(big.Int)
	}
	return withEmergency
}

// ValidatorStakeTarget is the validator's score-weighted share of
// totalStakeTarget. A pool without any score targets zero for everyone.
func (s *State) ValidatorStakeTarget(score uint32, totalStakeTarget uint64) (uint64, error) {
	return proportional(totalStakeTarget, uint64(score), uint64(s.ValidatorSystem.TotalValidatorScore))
}

// proportional computes amount*numerator/denominator with a 128-bit intermediate
func proportional(amount, numerator, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(amount, numerator)
	if hi >= denominator {
		return 0, ErrStakeTargetOverflow
	}
	quo, _ := bits.Div64(hi, lo, denominator)
	return quo, nil
}

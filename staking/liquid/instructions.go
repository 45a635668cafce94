package liquid

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// PDA seeds used by the program
var (
	ReserveSeed      = []byte("reserve")
	StakeDepositSeed = []byte("deposit")
)

// StakeConfigID is the stake program's config account
var StakeConfigID = solana.MustPublicKeyFromBase58("StakeConfig11111111111111111111111111111111")

var stakeReserveDiscriminator = anchorDiscriminator("global", "stake_reserve")

type stakeReserveArgs struct {
	Discriminator  [discriminatorSize]byte
	ValidatorIndex uint32
}

// StakeReserveParams are the per-call inputs of stake_reserve
type StakeReserveParams struct {
	ValidatorIndex uint32
	ValidatorVote  solana.PublicKey
	StakeAccount   solana.PublicKey
	RentPayer      solana.PublicKey
}

// ReservePDA derives the reserve account of a state
func ReservePDA(program, state solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{state[:], ReserveSeed}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive reserve address: %w", err)
	}
	return pda, nil
}

// StakeDepositAuthority derives the stake deposit authority of a state
func StakeDepositAuthority(program, state solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{state[:], StakeDepositSeed}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive stake deposit authority: %w", err)
	}
	return pda, nil
}

// NewStakeReserveInstruction builds the instruction that moves reserve
// lamports into a new stake account delegated to the validator. Both the
// stake account and the rent payer must sign.
func NewStakeReserveInstruction(program, stateAddress solana.PublicKey, state *State, params StakeReserveParams) (solana.Instruction, error) {
	if state == nil {
		return nil, fmt.Errorf("state is required")
	}
	if params.StakeAccount.IsZero() || params.RentPayer.IsZero() || params.ValidatorVote.IsZero() {
		return nil, fmt.Errorf("validator vote, stake account and rent payer are required")
	}
	if params.ValidatorIndex >= state.ValidatorSystem.ValidatorList.Count {
		return nil, fmt.Errorf("validator index %d out of range (list holds %d)",
			params.ValidatorIndex, state.ValidatorSystem.ValidatorList.Count)
	}

	reserve, err := ReservePDA(program, stateAddress)
	if err != nil {
		return nil, err
	}
	depositAuthority, err := StakeDepositAuthority(program, stateAddress)
	if err != nil {
		return nil, err
	}

	data := new(bytes.Buffer)
	args := stakeReserveArgs{Discriminator: stakeReserveDiscriminator, ValidatorIndex: params.ValidatorIndex}
	if err := bin.NewBorshEncoder(data).Encode(&args); err != nil {
		return nil, fmt.Errorf("failed to encode stake_reserve args: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(stateAddress, true, false),
		solana.NewAccountMeta(state.ValidatorSystem.ValidatorList.Account, true, false),
		solana.NewAccountMeta(state.StakeSystem.StakeList.Account, true, false),
		solana.NewAccountMeta(params.ValidatorVote, true, false),
		solana.NewAccountMeta(reserve, true, false),
		solana.NewAccountMeta(params.StakeAccount, true, true),
		solana.NewAccountMeta(depositAuthority, false, false),
		solana.NewAccountMeta(params.RentPayer, true, true),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
		solana.NewAccountMeta(solana.SysVarEpochSchedulePubkey, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SysVarStakeHistoryPubkey, false, false),
		solana.NewAccountMeta(StakeConfigID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.StakeProgramID, false, false),
	}

	return solana.NewInstruction(program, accounts, data.Bytes()), nil
}

package liquid

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrValidatorNotFound is returned when no record matches the vote account
var ErrValidatorNotFound = errors.New("validator not found in validator list")

// ValidatorListDiscriminator prefixes the validator list account
var ValidatorListDiscriminator = [discriminatorSize]byte{'v', 'a', 'l', 'i', 'd', 'a', 't', 'r'}

// validatorRecordSize is the borsh size of ValidatorRecord; list items may
// be padded beyond it.
const validatorRecordSize = 32 + 8 + 4 + 8 + 1

// ValidatorRecord is one entry of the validator list
type ValidatorRecord struct {
	ValidatorAccount        solana.PublicKey
	ActiveBalance           uint64
	Score                   uint32
	LastStakeDeltaEpoch     uint64
	DuplicationFlagBumpSeed uint8
}

// ValidatorEntry is a record together with its position in the list. The
// position is required by stake_reserve.
type ValidatorEntry struct {
	Index  uint32
	Record ValidatorRecord
}

// DecodeValidatorList parses count records of itemSize bytes each
func DecodeValidatorList(data []byte, itemSize, count uint32) ([]ValidatorEntry, error) {
	if itemSize < validatorRecordSize {
		return nil, fmt.Errorf("validator list item size %d smaller than record size %d", itemSize, validatorRecordSize)
	}
	if len(data) < discriminatorSize {
		return nil, fmt.Errorf("validator list account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:discriminatorSize], ValidatorListDiscriminator[:]) {
		return nil, fmt.Errorf("account is not a validator list (discriminator %x)", data[:discriminatorSize])
	}

	need := uint64(discriminatorSize) + uint64(itemSize)*uint64(count)
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("validator list holds %d bytes, need %d for %d records", len(data), need, count)
	}

	entries := make([]ValidatorEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		start := discriminatorSize + uint64(i)*uint64(itemSize)
		var record ValidatorRecord
		if err := bin.NewBorshDecoder(data[start : start+uint64(itemSize)]).Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode validator record %d: %w", i, err)
		}
		entries = append(entries, ValidatorEntry{Index: i, Record: record})
	}
	return entries, nil
}

// EncodeValidatorList serializes records padded to itemSize
func EncodeValidatorList(records []ValidatorRecord, itemSize uint32) ([]byte, error) {
	if itemSize < validatorRecordSize {
		return nil, fmt.Errorf("item size %d smaller than record size %d", itemSize, validatorRecordSize)
	}
	buf := new(bytes.Buffer)
	buf.Write(ValidatorListDiscriminator[:])
	for i := range records {
		item := new(bytes.Buffer)
		if err := bin.NewBorshEncoder(item).Encode(&records[i]); err != nil {
			return nil, fmt.Errorf("failed to encode validator record %d: %w", i, err)
		}
		padded := make([]byte, itemSize)
		copy(padded, item.Bytes())
		buf.Write(padded)
	}
	return buf.Bytes(), nil
}

// FindValidator returns the entry whose validator account equals vote
func FindValidator(entries []ValidatorEntry, vote solana.PublicKey) (ValidatorEntry, error) {
	for _, entry := range entries {
		if entry.Record.ValidatorAccount.Equals(vote) {
			return entry, nil
		}
	}
	return ValidatorEntry{}, fmt.Errorf("%w: %s", ErrValidatorNotFound, vote)
}

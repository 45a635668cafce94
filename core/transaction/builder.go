package transaction

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/kaplanmaxe/marinade-crank/crypto"
)

// ComputeBudgetInstructions returns the price and limit directives that
// precede the business instructions. A zero price is still emitted.
func ComputeBudgetInstructions(microLamportsPerUnit uint64, unitLimit uint32) ([]solana.Instruction, error) {
	// Validate rejects a zero price
	price := computebudget.NewSetComputeUnitPriceInstruction(microLamportsPerUnit).Build()
	limit, err := computebudget.NewSetComputeUnitLimitInstruction(unitLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute unit limit instruction: %w", err)
	}
	return []solana.Instruction{price, limit}, nil
}

// NewSignedTransaction assembles the instructions with payer as fee payer
// and signs with every key the message requires. A required signer missing
// from the keyring is an error.
func NewSignedTransaction(instructions []solana.Instruction, blockhash solana.Hash, payer solana.PublicKey, keyring *crypto.Keyring) (*solana.Transaction, error) {
	if len(instructions) == 0 {
		return nil, errors.New("no instructions to sign")
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}

	if _, err := tx.Sign(keyring.Get); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

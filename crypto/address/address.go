package address

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	// Address format constants
	Alphabet      = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	MaxLength     = 44 // base58 of 32 bytes never exceeds 44 characters
	KeyByteLength = 32
)

// Parse converts a base58 address string to a public key
func Parse(addr string) (solana.PublicKey, error) {
	if err := Validate(addr); err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address format: %w", err)
	}

	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return pk, nil
}

// ParseNamed is Parse with the offending field named in the error
func ParseNamed(field, addr string) (solana.PublicKey, error) {
	pk, err := Parse(addr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: %w", field, err)
	}
	return pk, nil
}

// Validate checks if a string is a well-formed base58 address
func Validate(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("address is empty")
	}

	if len(addr) > MaxLength {
		return fmt.Errorf("address must be at most %d characters long, got %d", MaxLength, len(addr))
	}

	for i, char := range addr {
		if !isBase58Char(char) {
			return fmt.Errorf("address contains invalid base58 character '%c' at position %d", char, i)
		}
	}

	return nil
}

// IsValid is a convenience function for address validation
func IsValid(addr string) bool {
	if Validate(addr) != nil {
		return false
	}
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}

func isBase58Char(char rune) bool {
	return strings.ContainsRune(Alphabet, char)
}

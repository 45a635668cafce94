// Key material for the crank: the fee payer loaded once per run and the
// one-shot stake account keys generated for each delegation.
package crypto

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrEmptyKey is returned when key material carries no private key
var ErrEmptyKey = errors.New("key material is empty")

// KeyMaterial holds an ed25519 keypair in the Solana 64-byte layout
// (32 bytes seed followed by 32 bytes public key).
type KeyMaterial struct {
	key    solana.PrivateKey
	source string
}

// LoadKeypairFile reads a solana-keygen JSON file. It is meant to be called
// once at process start; the result is shared by every consumer.
func LoadKeypairFile(path string) (*KeyMaterial, error) {
	if path == "" {
		return nil, errors.New("keypair path is empty")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}

	km, err := NewKeyMaterial(key)
	if err != nil {
		return nil, fmt.Errorf("keypair %s: %w", path, err)
	}
	km.source = path
	return km, nil
}

// NewEphemeral generates a fresh keypair that is never persisted
func NewEphemeral() (*KeyMaterial, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return &KeyMaterial{key: key, source: "ephemeral"}, nil
}

// NewKeyMaterial wraps raw key bytes after checking that the embedded
// public half matches the seed.
func NewKeyMaterial(key solana.PrivateKey) (*KeyMaterial, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	sig, err := key.Sign(keyCheckPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign with private key: %w", err)
	}
	if !sig.Verify(key.PublicKey(), keyCheckPayload) {
		return nil, errors.New("public key does not match private seed")
	}

	// Make a copy to ensure immutability
	keyCopy := make(solana.PrivateKey, len(key))
	copy(keyCopy, key)

	return &KeyMaterial{key: keyCopy, source: "memory"}, nil
}

var keyCheckPayload = []byte("marinade-crank key check")

// PublicKey returns the address of the keypair
func (k *KeyMaterial) PublicKey() solana.PublicKey {
	if k == nil || len(k.key) == 0 {
		return solana.PublicKey{}
	}
	return k.key.PublicKey()
}

// Source reports where the key came from (file path, "ephemeral" or "memory")
func (k *KeyMaterial) Source() string {
	if k == nil {
		return ""
	}
	return k.source
}

func (k *KeyMaterial) String() string {
	if k == nil || len(k.key) == 0 {
		return "KeyMaterial(nil)"
	}
	return fmt.Sprintf("KeyMaterial(%s)", k.PublicKey())
}

// Keyring resolves signer keys for transaction signing
type Keyring struct {
	keys map[solana.PublicKey]*KeyMaterial
}

// NewKeyring indexes the given key material by public key
func NewKeyring(keys ...*KeyMaterial) *Keyring {
	kr := &Keyring{keys: make(map[solana.PublicKey]*KeyMaterial, len(keys))}
	for _, k := range keys {
		if k == nil || len(k.key) == 0 {
			continue
		}
		kr.keys[k.PublicKey()] = k
	}
	return kr
}

// Get satisfies the getter signature expected by solana.Transaction.Sign.
// A nil result makes signing fail for that key.
func (kr *Keyring) Get(pk solana.PublicKey) *solana.PrivateKey {
	k, ok := kr.keys[pk]
	if !ok {
		return nil
	}
	key := k.key
	return &key
}

// Len returns the number of distinct keys held
func (kr *Keyring) Len() int {
	return len(kr.keys)
}

package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func writeKeygenFile(t *testing.T, key solana.PrivateKey) string {
	t.Helper()
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadKeypairFile(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	path := writeKeygenFile(t, key)

	km, err := LoadKeypairFile(path)
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), km.PublicKey())
	require.Equal(t, path, km.Source())
	require.NotContains(t, km.String(), key.String(), "String must not leak the secret")
}

func TestLoadKeypairFileErrors(t *testing.T) {
	_, err := LoadKeypairFile("")
	require.Error(t, err)

	missing := filepath.Join(t.TempDir(), "missing.json")
	_, err = LoadKeypairFile(missing)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Contains(t, err.Error(), missing)

	garbage := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0o600))
	_, err = LoadKeypairFile(garbage)
	require.Error(t, err)
}

func TestNewKeyMaterial(t *testing.T) {
	_, err := NewKeyMaterial(nil)
	require.ErrorIs(t, err, ErrEmptyKey)

	_, err = NewKeyMaterial(make(solana.PrivateKey, 12))
	require.Error(t, err)

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	// Corrupt the public half
	bad := make(solana.PrivateKey, len(key))
	copy(bad, key)
	bad[63] ^= 0xff
	_, err = NewKeyMaterial(bad)
	require.Error(t, err)

	km, err := NewKeyMaterial(key)
	require.NoError(t, err)
	want := key.PublicKey()

	// Mutating the caller's slice must not affect the stored key
	key[40] ^= 0xff
	require.Equal(t, want, km.PublicKey())
}

func TestNewEphemeral(t *testing.T) {
	a, err := NewEphemeral()
	require.NoError(t, err)
	b, err := NewEphemeral()
	require.NoError(t, err)

	require.False(t, a.PublicKey().Equals(b.PublicKey()), "ephemeral keys must be distinct")
	require.Equal(t, "ephemeral", a.Source())
}

func TestKeyring(t *testing.T) {
	payer, err := NewEphemeral()
	require.NoError(t, err)
	stake, err := NewEphemeral()
	require.NoError(t, err)

	kr := NewKeyring(payer, stake, nil, payer)
	require.Equal(t, 2, kr.Len())
	require.NotNil(t, kr.Get(payer.PublicKey()))
	require.NotNil(t, kr.Get(stake.PublicKey()))
	require.Nil(t, kr.Get(solana.SystemProgramID))
	require.Equal(t, payer.PublicKey(), kr.Get(payer.PublicKey()).PublicKey())
}

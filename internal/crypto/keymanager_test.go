package crypto_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/crypto"
	"github.com/aklo360/cc-sub001/internal/domain"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	keyHex, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr, err := crypto.AddressOf(keyHex)
	require.NoError(t, err)

	blob, err := crypto.EncryptKey("0x"+keyHex, "correct horse")
	require.NoError(t, err)
	assert.Contains(t, string(blob), addr)
	assert.NotContains(t, string(blob), keyHex)

	pk, err := crypto.DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.NotNil(t, pk)

	_, err = crypto.DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "wrong password")
}

func TestEncryptRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := crypto.EncryptKey("abcd", "pw")
	assert.Error(t, err)

	keyHex, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = crypto.EncryptKey(keyHex, "")
	assert.Error(t, err)
}

func TestKeyringResolvesAndChecksAddress(t *testing.T) {
	t.Parallel()

	keyHex, err := crypto.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "hot.json")
	addr, err := crypto.WriteKeyFile(path, keyHex, "pw")
	require.NoError(t, err)

	ring := crypto.NewKeyring("pw")
	pk, err := ring.Key(domain.WalletRef{Role: domain.WalletHot, Address: addr, KeyRef: path})
	require.NoError(t, err)
	assert.NotNil(t, pk)

	_, err = ring.Key(domain.WalletRef{Role: domain.WalletHot, Address: "0x000000000000000000000000000000000000dEaD", KeyRef: path})
	assert.ErrorContains(t, err, "controls")

	_, err = ring.Key(domain.WalletRef{Role: domain.WalletBurn, Address: addr})
	assert.ErrorIs(t, err, domain.ErrWalletNotConfigured)
}

func TestKeyFileAddress(t *testing.T) {
	t.Parallel()

	keyHex, err := crypto.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cold.json")
	addr, err := crypto.WriteKeyFile(path, keyHex, "pw")
	require.NoError(t, err)

	got, err := crypto.KeyFileAddress(path)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	_, err = crypto.KeyFileAddress(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

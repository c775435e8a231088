package cryptoref_test

import (
	"context"
	"testing"

	"github.com/sunet/fieldcrypt/pkg/fieldcrypt"
	"github.com/sunet/fieldcrypt/pkg/fieldcrypt/cryptoref"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyHandle_EncryptDecryptRoundTrip(t *testing.T) {
	provider := cryptoref.NewProvider()
	provider.Register("k1", []byte("root secret material, at least 32 bytes"))

	key, err := provider.GetKey(context.Background(), "k1", fieldcrypt.Randomized)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	ciphertext := make([]byte, key.CiphertextLength(len(plaintext)))
	n, err := key.Encrypt(plaintext, ciphertext, 0)
	require.NoError(t, err)
	ciphertext = ciphertext[:n]

	out := make([]byte, key.PlaintextLength(len(ciphertext)))
	n, err = key.Decrypt(ciphertext, 0, len(ciphertext), out, 0)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out[:n])
}

func TestKeyHandle_DeterministicCiphertextLength(t *testing.T) {
	provider := cryptoref.NewProvider()
	provider.Register("k1", []byte("root secret material, at least 32 bytes"))
	key, err := provider.GetKey(context.Background(), "k1", fieldcrypt.Randomized)
	require.NoError(t, err)

	a, err := key.Encrypt([]byte("hello"), make([]byte, key.CiphertextLength(5)), 0)
	require.NoError(t, err)
	b, err := key.Encrypt([]byte("world"), make([]byte, key.CiphertextLength(5)), 0)
	require.NoError(t, err)
	assert.Equal(t, a, b, "ciphertext length must depend only on plaintext length")
}

func TestKeyHandle_TwoEncryptionsOfSameInputDiffer(t *testing.T) {
	provider := cryptoref.NewProvider()
	provider.Register("k1", []byte("root secret material, at least 32 bytes"))
	key, err := provider.GetKey(context.Background(), "k1", fieldcrypt.Randomized)
	require.NoError(t, err)

	out1 := make([]byte, key.CiphertextLength(5))
	_, err = key.Encrypt([]byte("hello"), out1, 0)
	require.NoError(t, err)

	out2 := make([]byte, key.CiphertextLength(5))
	_, err = key.Encrypt([]byte("hello"), out2, 0)
	require.NoError(t, err)

	assert.NotEqual(t, out1, out2, "randomized IV must make ciphertexts differ across calls")
}

func TestProvider_UnknownKeyID(t *testing.T) {
	provider := cryptoref.NewProvider()
	_, err := provider.GetKey(context.Background(), "missing", fieldcrypt.Randomized)
	require.Error(t, err)
}

package fieldcrypt

import (
	"context"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// KeyHandle is a data-encryption key resolved from a KeyProvider. The
// codec only relies on the two properties called out in §4.3: a
// ciphertext length that is a deterministic function of plaintext
// length, and authenticated decryption that fails loudly and
// distinctly on tag mismatch. The concrete primitive (AES-CBC+HMAC or
// otherwise) is an external collaborator; see cryptoref for a
// reference implementation used by the demo and tests.
type KeyHandle interface {
	// CiphertextLength returns the number of bytes Encrypt will write
	// for a plaintext of the given length.
	CiphertextLength(plaintextLen int) int

	// Encrypt writes the ciphertext for plaintext into out starting at
	// outputOffset and returns the number of bytes written. out must
	// have at least outputOffset+CiphertextLength(len(plaintext))
	// bytes.
	Encrypt(plaintext []byte, out []byte, outputOffset int) (int, error)

	// PlaintextLength returns the size of the output buffer Decrypt
	// needs for a ciphertext of the given length. It may be an upper
	// bound; Decrypt's return value is the exact number of bytes written.
	PlaintextLength(ciphertextLen int) int

	// Decrypt authenticates and decrypts ciphertext[offset:offset+length]
	// into out starting at outputOffset, returning the number of bytes
	// written. It returns an *apperr.Error with KindAuthFailed on tag
	// mismatch.
	Decrypt(ciphertext []byte, offset, length int, out []byte, outputOffset int) (int, error)
}

// KeyProvider resolves a data-encryption key by id. Implementations
// must be safe for concurrent use; the codec calls GetKey at most
// once per encrypt/decrypt call.
type KeyProvider interface {
	GetKey(ctx context.Context, keyID string, algorithm Algorithm) (KeyHandle, error)
}

// ErrKeyUnknown is returned by a KeyProvider when keyID does not
// resolve to a key it holds.
var ErrKeyUnknown = apperr.New(apperr.KindInvalidArgument, "key_unknown")

// encryptInto rents the correctly-sized ciphertext buffer from acq
// and invokes KeyHandle.Encrypt, rather than allocating fresh heap
// memory on every property (§5 Resource policy).
func encryptInto(acq *acquisition, h KeyHandle, plaintext []byte) ([]byte, error) {
	out := acq.rentExact(h.CiphertextLength(len(plaintext)))
	n, err := h.Encrypt(plaintext, out, 0)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// decryptFrom is the inverse of encryptInto, renting its plaintext
// buffer from acq the same way.
func decryptFrom(acq *acquisition, h KeyHandle, ciphertext []byte) ([]byte, error) {
	out := acq.rentExact(h.PlaintextLength(len(ciphertext)))
	n, err := h.Decrypt(ciphertext, 0, len(ciphertext), out, 0)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// Package cryptoref is a reference implementation of the
// fieldcrypt.KeyProvider / fieldcrypt.KeyHandle collaborator. The
// codec itself treats the primitive as out of scope (§1); this
// package exists so the demo binary and the codec's own tests have a
// concrete, AEAD-shaped key to encrypt under, following the
// IV | ciphertext | MAC layout used by restic's internal/crypto
// package.
package cryptoref

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/sunet/fieldcrypt/pkg/apperr"
	"github.com/sunet/fieldcrypt/pkg/fieldcrypt"

	"golang.org/x/crypto/hkdf"
)

const (
	ivLen  = aes.BlockSize
	macLen = sha256.Size
)

// KeyHandle implements fieldcrypt.KeyHandle over AES-256-CBC with a
// PKCS#7 pad and an HMAC-SHA256 tag computed over IV||ciphertext,
// i.e. encrypt-then-MAC. Layout:
//
//	[IV(16)] [CBC ciphertext(padded)] [HMAC-SHA256(32)]
type KeyHandle struct {
	id     string
	encKey [32]byte
	macKey [32]byte
}

var _ fieldcrypt.KeyHandle = (*KeyHandle)(nil)

// deriveKeyHandle derives independent encryption and MAC keys from a
// root secret using HKDF, keyed on the data-encryption key id so that
// two ids backed by the same root secret never share key material.
func deriveKeyHandle(id string, root []byte) (*KeyHandle, error) {
	h := &KeyHandle{id: id}
	kdf := hkdf.New(sha256.New, root, nil, []byte("fieldcrypt-enc:"+id))
	if _, err := io.ReadFull(kdf, h.encKey[:]); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "key derivation failed", err)
	}
	kdf = hkdf.New(sha256.New, root, nil, []byte("fieldcrypt-mac:"+id))
	if _, err := io.ReadFull(kdf, h.macKey[:]); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "key derivation failed", err)
	}
	return h, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	padding := bytes.Repeat([]byte{byte(n)}, n)
	return append(b, padding...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, apperr.New(apperr.KindFormatViolation, "ciphertext is not a whole number of blocks")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, apperr.New(apperr.KindFormatViolation, "invalid PKCS#7 padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, apperr.New(apperr.KindFormatViolation, "invalid PKCS#7 padding")
		}
	}
	return b[:len(b)-n], nil
}

func paddedLen(plaintextLen int) int {
	return ((plaintextLen / aes.BlockSize) + 1) * aes.BlockSize
}

// CiphertextLength implements fieldcrypt.KeyHandle.
func (h *KeyHandle) CiphertextLength(plaintextLen int) int {
	return ivLen + paddedLen(plaintextLen) + macLen
}

// PlaintextLength implements fieldcrypt.KeyHandle. It returns an
// upper bound; the true length is only known after the PKCS#7 pad is
// stripped during Decrypt.
func (h *KeyHandle) PlaintextLength(ciphertextLen int) int {
	n := ciphertextLen - ivLen - macLen
	if n < 0 {
		return 0
	}
	return n
}

// Encrypt implements fieldcrypt.KeyHandle.
func (h *KeyHandle) Encrypt(plaintext []byte, out []byte, outputOffset int) (int, error) {
	need := h.CiphertextLength(len(plaintext))
	if len(out)-outputOffset < need {
		return 0, apperr.New(apperr.KindInternal, "output buffer too small for ciphertext")
	}

	iv := out[outputOffset : outputOffset+ivLen]
	if _, err := rand.Read(iv); err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "failed to generate IV", err)
	}

	block, err := aes.NewCipher(h.encKey[:])
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "failed to create AES cipher", err)
	}

	padded := pad(append([]byte(nil), plaintext...))
	ciphertext := out[outputOffset+ivLen : outputOffset+ivLen+len(padded)]
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, h.macKey[:])
	mac.Write(iv)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)
	copy(out[outputOffset+ivLen+len(padded):], tag)

	return ivLen + len(padded) + macLen, nil
}

// Decrypt implements fieldcrypt.KeyHandle.
func (h *KeyHandle) Decrypt(ciphertext []byte, offset, length int, out []byte, outputOffset int) (int, error) {
	if length < ivLen+macLen {
		return 0, apperr.New(apperr.KindFormatViolation, "ciphertext shorter than IV+MAC overhead")
	}
	blob := ciphertext[offset : offset+length]
	iv := blob[:ivLen]
	body := blob[ivLen : len(blob)-macLen]
	gotTag := blob[len(blob)-macLen:]

	mac := hmac.New(sha256.New, h.macKey[:])
	mac.Write(iv)
	mac.Write(body)
	wantTag := mac.Sum(nil)
	if !hmac.Equal(gotTag, wantTag) {
		return 0, apperr.New(apperr.KindAuthFailed, "authentication tag mismatch")
	}

	block, err := aes.NewCipher(h.encKey[:])
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "failed to create AES cipher", err)
	}
	if len(body)%aes.BlockSize != 0 {
		return 0, apperr.New(apperr.KindFormatViolation, "ciphertext body is not a whole number of blocks")
	}
	padded := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, body)

	plaintext, err := unpad(padded)
	if err != nil {
		return 0, err
	}
	if len(out)-outputOffset < len(plaintext) {
		return 0, apperr.New(apperr.KindInternal, "output buffer too small for plaintext")
	}
	n := copy(out[outputOffset:], plaintext)
	return n, nil
}

// Provider is an in-memory fieldcrypt.KeyProvider backed by a fixed
// set of root secrets, keyed by data-encryption key id. It is meant
// for tests and the demo binary; a production deployment resolves
// keys against a managed key vault instead.
type Provider struct {
	mu    sync.RWMutex
	roots map[string][]byte
}

var _ fieldcrypt.KeyProvider = (*Provider)(nil)

// NewProvider builds a Provider with no keys registered.
func NewProvider() *Provider {
	return &Provider{roots: make(map[string][]byte)}
}

// Register installs a root secret for keyID. Calling it again for
// the same id replaces the secret.
func (p *Provider) Register(keyID string, rootSecret []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots[keyID] = append([]byte(nil), rootSecret...)
}

// GetKey implements fieldcrypt.KeyProvider.
func (p *Provider) GetKey(_ context.Context, keyID string, _ fieldcrypt.Algorithm) (fieldcrypt.KeyHandle, error) {
	p.mu.RLock()
	root, ok := p.roots[keyID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errKeyUnknown, keyID)
	}
	return deriveKeyHandle(keyID, root)
}

var errKeyUnknown = fieldcrypt.ErrKeyUnknown

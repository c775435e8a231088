package fieldcrypt

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// Format versions, dispatched per §4.7. The per-version mode is fixed
// and never renegotiated at runtime.
const (
	FormatLegacyWholeObject  = 2 // legacy_aead_cbc_hmac, whole-object
	FormatRandomizedPlain    = 3 // randomized_aead_cbc_hmac, no property compressed
	FormatRandomizedCompress = 4 // randomized_aead_cbc_hmac, >=1 property compressed
)

// Codec is the public entry point for the field-level encryption
// pipeline. It holds no mutable state across calls; the KeyProvider
// and BytePool it wraps must be safe for concurrent use.
type Codec struct {
	keys KeyProvider
	pool BytePool
}

// New builds a Codec backed by the given key provider. A nil pool
// falls back to the package's default sync.Pool-backed BytePool.
func New(keys KeyProvider, pool BytePool) *Codec {
	if pool == nil {
		pool = NewBytePool()
	}
	return &Codec{keys: keys, pool: pool}
}

// Encrypt implements the state machine in §4.7: Idle → Validating →
// KeyFetch → PerProperty* → Finalizing → Done. An empty
// PathsToEncrypt returns input unmodified, per the I/O contract in
// §6.
func (c *Codec) Encrypt(ctx context.Context, input []byte, opts EncryptionRequest) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(opts.PathsToEncrypt) == 0 {
		return input, nil
	}

	key, err := c.keys.GetKey(ctx, opts.DataEncryptionKeyID, opts.Algorithm)
	if err != nil {
		return nil, err
	}

	switch opts.Algorithm {
	case Legacy:
		return c.encryptLegacyBytes(input, opts, key)
	case Randomized:
		return c.encryptRandomizedBytes(ctx, input, opts, key)
	default:
		// opts.validate already rejects this, kept for exhaustiveness.
		return nil, apperr.New(apperr.KindUnsupportedAlgorithm, "unknown algorithm").WithDetail("algorithm", string(opts.Algorithm))
	}
}

func (c *Codec) encryptLegacyBytes(input []byte, opts EncryptionRequest, key KeyHandle) ([]byte, error) {
	var doc map[string]any
	if err := unmarshalPreservingNumbers(input, &doc); err != nil {
		return nil, err
	}

	ciphertext, included, err := encryptLegacy(doc, opts, key, c.pool)
	if err != nil {
		return nil, err
	}

	doc[SidecarKey] = Sidecar{
		EncryptionFormatVersion: FormatLegacyWholeObject,
		EncryptionAlgorithm:     Legacy,
		DataEncryptionKeyID:     opts.DataEncryptionKeyID,
		EncryptedData:           ciphertext,
		EncryptedPaths:          included,
		CompressionAlgorithm:    CompressionNone,
	}

	return json.Marshal(doc)
}

func (c *Codec) encryptRandomizedBytes(ctx context.Context, input []byte, opts EncryptionRequest, key KeyHandle) ([]byte, error) {
	var out bytes.Buffer
	w, encrypted, compressedLens, anyCompressed, err := encryptStream(ctx, input, &out, opts, key, c.pool)
	if err != nil {
		return nil, err
	}

	version := FormatRandomizedPlain
	compAlgo := CompressionNone
	if anyCompressed {
		version = FormatRandomizedCompress
		compAlgo = opts.Compression.Algorithm
	}

	sidecar := Sidecar{
		EncryptionFormatVersion:  version,
		EncryptionAlgorithm:      Randomized,
		DataEncryptionKeyID:      opts.DataEncryptionKeyID,
		EncryptedPaths:           encrypted,
		CompressionAlgorithm:     compAlgo,
		CompressedEncryptedPaths: compressedLens,
	}
	if err := writeSidecarAndClose(w, sidecar); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// Decrypt implements the reverse direction: dispatch by the sidecar's
// recorded format version. A document lacking the sidecar returns
// input unmodified and a null report, per the I/O contract.
func (c *Codec) Decrypt(ctx context.Context, input []byte) ([]byte, DecryptionReport, error) {
	sidecar, hasSidecar, err := extractSidecar(input)
	if err != nil {
		return nil, DecryptionReport{}, err
	}
	if !hasSidecar {
		return input, DecryptionReport{}, nil
	}
	if err := validateFormatVersion(sidecar.EncryptionFormatVersion); err != nil {
		return nil, DecryptionReport{}, err
	}

	if sidecar.EncryptionFormatVersion == FormatLegacyWholeObject {
		return c.decryptLegacyBytes(ctx, input, sidecar)
	}

	var out bytes.Buffer
	resolveKey := func(keyID string, algorithm Algorithm) (KeyHandle, error) {
		return c.keys.GetKey(ctx, keyID, algorithm)
	}
	report, err := decryptStream(ctx, input, &out, resolveKey, c.pool)
	if err != nil {
		return nil, DecryptionReport{}, err
	}
	return out.Bytes(), report, nil
}

func (c *Codec) decryptLegacyBytes(ctx context.Context, input []byte, sidecar Sidecar) ([]byte, DecryptionReport, error) {
	var doc map[string]any
	if err := unmarshalPreservingNumbers(input, &doc); err != nil {
		return nil, DecryptionReport{}, err
	}
	delete(doc, SidecarKey)

	key, err := c.keys.GetKey(ctx, sidecar.DataEncryptionKeyID, sidecar.EncryptionAlgorithm)
	if err != nil {
		return nil, DecryptionReport{}, err
	}

	decrypted, err := decryptLegacy(doc, sidecar, key, c.pool)
	if err != nil {
		return nil, DecryptionReport{}, err
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, DecryptionReport{}, apperr.Wrap(apperr.KindInternal, "failed to serialize decrypted document", err)
	}

	return out, DecryptionReport{PathsDecrypted: decrypted, KeyID: sidecar.DataEncryptionKeyID}, nil
}

// DecryptTree operates on an already-parsed JSON object (C5), rather
// than a byte stream. It mutates obj in place and also returns it for
// convenience.
func (c *Codec) DecryptTree(ctx context.Context, obj map[string]any) (map[string]any, DecryptionReport, error) {
	raw, ok := obj[SidecarKey]
	if !ok {
		return obj, DecryptionReport{}, nil
	}

	sidecarJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, DecryptionReport{}, apperr.Wrap(apperr.KindFormatViolation, "malformed sidecar metadata", err)
	}
	var sidecar Sidecar
	if err := json.Unmarshal(sidecarJSON, &sidecar); err != nil {
		return nil, DecryptionReport{}, apperr.Wrap(apperr.KindFormatViolation, "malformed sidecar metadata", err)
	}
	if err := validateFormatVersion(sidecar.EncryptionFormatVersion); err != nil {
		return nil, DecryptionReport{}, err
	}
	delete(obj, SidecarKey)

	key, err := c.keys.GetKey(ctx, sidecar.DataEncryptionKeyID, sidecar.EncryptionAlgorithm)
	if err != nil {
		return nil, DecryptionReport{}, err
	}

	var decrypted []Path
	if sidecar.EncryptionFormatVersion == FormatLegacyWholeObject {
		decrypted, err = decryptLegacy(obj, sidecar, key, c.pool)
	} else {
		decrypted, err = decryptTreeRandomized(obj, sidecar, key, c.pool)
	}
	if err != nil {
		return nil, DecryptionReport{}, err
	}

	return obj, DecryptionReport{PathsDecrypted: decrypted, KeyID: sidecar.DataEncryptionKeyID}, nil
}

// EncryptTree is the C5 counterpart to Encrypt: it mutates a parsed
// JSON object in place rather than rewriting a byte stream. It exists
// alongside the streaming path so the two processors can be tested
// for parity (§8, testable property 6).
func (c *Codec) EncryptTree(ctx context.Context, obj map[string]any, opts EncryptionRequest) (map[string]any, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(opts.PathsToEncrypt) == 0 {
		return obj, nil
	}

	key, err := c.keys.GetKey(ctx, opts.DataEncryptionKeyID, opts.Algorithm)
	if err != nil {
		return nil, err
	}

	if opts.Algorithm == Legacy {
		ciphertext, included, err := encryptLegacy(obj, opts, key, c.pool)
		if err != nil {
			return nil, err
		}
		obj[SidecarKey] = Sidecar{
			EncryptionFormatVersion: FormatLegacyWholeObject,
			EncryptionAlgorithm:     Legacy,
			DataEncryptionKeyID:     opts.DataEncryptionKeyID,
			EncryptedData:           ciphertext,
			EncryptedPaths:          included,
			CompressionAlgorithm:    CompressionNone,
		}
		return obj, nil
	}

	encrypted, compressedLens, anyCompressed, err := encryptTreeRandomized(obj, opts, key, c.pool)
	if err != nil {
		return nil, err
	}

	version := FormatRandomizedPlain
	compAlgo := CompressionNone
	if anyCompressed {
		version = FormatRandomizedCompress
		compAlgo = opts.Compression.Algorithm
	}
	obj[SidecarKey] = Sidecar{
		EncryptionFormatVersion:  version,
		EncryptionAlgorithm:      Randomized,
		DataEncryptionKeyID:      opts.DataEncryptionKeyID,
		EncryptedPaths:           encrypted,
		CompressionAlgorithm:     compAlgo,
		CompressedEncryptedPaths: compressedLens,
	}
	return obj, nil
}

func validateFormatVersion(v int) error {
	switch v {
	case FormatLegacyWholeObject, FormatRandomizedPlain, FormatRandomizedCompress:
		return nil
	default:
		return apperr.New(apperr.KindUnsupportedFormatVersion, "sidecar format version is not supported by this codec version; upgrade required").
			WithDetail("version", v)
	}
}

func unmarshalPreservingNumbers(input []byte, doc *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	if err := dec.Decode(doc); err != nil {
		return apperr.Wrap(apperr.KindFormatViolation, "malformed JSON document", err)
	}
	return nil
}

// Package fieldcrypt implements the document field-level encryption
// codec: given a JSON document, a set of top-level property paths and
// a data-encryption-key provider, it replaces the selected properties
// with self-describing ciphertext and records sidecar metadata
// sufficient for a compatible reader to recover the document.
package fieldcrypt

import (
	"strings"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// Algorithm names an encryption mode. Only Randomized supports
// per-field encryption and streaming.
type Algorithm string

const (
	// Legacy encrypts the whole sub-object formed by the selected
	// paths as a single ciphertext blob.
	Legacy Algorithm = "legacy_aead_cbc_hmac"

	// Randomized encrypts each selected property independently,
	// producing distinct ciphertexts for identical plaintexts across
	// invocations.
	Randomized Algorithm = "randomized_aead_cbc_hmac"
)

// CompressionAlgorithm names a pluggable stream compressor.
type CompressionAlgorithm string

const (
	CompressionNone    CompressionAlgorithm = "none"
	CompressionDeflate CompressionAlgorithm = "deflate"
	CompressionGzip    CompressionAlgorithm = "gzip"
	CompressionBrotli  CompressionAlgorithm = "brotli"
)

// IDPath is the reserved identifier path that may never be encrypted.
const IDPath = "/id"

// SidecarKey is the reserved top-level property the codec uses to
// store its metadata object.
const SidecarKey = "_ei"

// Path is a top-level JSON property path of the form "/name".
type Path string

// Name returns the bare property name, stripping the leading slash.
func (p Path) Name() string {
	return strings.TrimPrefix(string(p), "/")
}

func validatePathSyntax(p Path) error {
	s := string(p)
	if len(s) < 2 || s[0] != '/' {
		return apperr.New(apperr.KindInvalidPath, "path must start with '/' and name a property").WithDetail("path", s)
	}
	if strings.Count(s[1:], "/") > 0 {
		return apperr.New(apperr.KindInvalidPath, "path must not contain a nested '/'").WithDetail("path", s)
	}
	if p == IDPath {
		return apperr.New(apperr.KindInvalidPath, "the reserved identifier path may not be encrypted").WithDetail("path", s)
	}
	return nil
}

// CompressionOptions configures optional per-property compression.
type CompressionOptions struct {
	Algorithm CompressionAlgorithm
	// Level is passed to the chosen compressor; its meaning is
	// compressor-specific (e.g. flate.BestSpeed..flate.BestCompression).
	// Zero or an out-of-range value selects the compressor's default level.
	Level int
	// MinimumSize is the minimum serialized length, in bytes, before
	// compression is attempted. Shorter values are stored raw.
	MinimumSize int
}

func (c CompressionOptions) enabled() bool {
	return c.Algorithm != "" && c.Algorithm != CompressionNone
}

// EncryptionRequest carries the immutable parameters of one encrypt
// call.
type EncryptionRequest struct {
	DataEncryptionKeyID string
	Algorithm           Algorithm
	PathsToEncrypt      []Path
	Compression         CompressionOptions
}

func (r EncryptionRequest) validate() error {
	if r.DataEncryptionKeyID == "" {
		return apperr.New(apperr.KindInvalidArgument, "data_encryption_key_id must not be empty")
	}
	switch r.Algorithm {
	case Legacy, Randomized:
	default:
		return apperr.New(apperr.KindUnsupportedAlgorithm, "unknown algorithm").WithDetail("algorithm", string(r.Algorithm))
	}
	if r.Compression.MinimumSize < 0 {
		return apperr.New(apperr.KindInvalidArgument, "compression.minimum_size must be >= 0")
	}
	switch r.Compression.Algorithm {
	case "", CompressionNone, CompressionDeflate, CompressionGzip, CompressionBrotli:
	default:
		return apperr.New(apperr.KindInvalidArgument, "unknown compression algorithm").WithDetail("compression_algorithm", string(r.Compression.Algorithm))
	}

	seen := make(map[Path]bool, len(r.PathsToEncrypt))
	for _, p := range r.PathsToEncrypt {
		if err := validatePathSyntax(p); err != nil {
			return err
		}
		if seen[p] {
			return apperr.New(apperr.KindInvalidPath, "duplicate path").WithDetail("path", string(p))
		}
		seen[p] = true
	}
	return nil
}

// Sidecar is the metadata object written under SidecarKey describing
// what the codec did to a document.
type Sidecar struct {
	EncryptionFormatVersion  int                  `json:"EncryptionFormatVersion"`
	EncryptionAlgorithm      Algorithm            `json:"EncryptionAlgorithm"`
	DataEncryptionKeyID      string               `json:"DataEncryptionKeyId"`
	EncryptedData            []byte               `json:"EncryptedData,omitempty"`
	EncryptedPaths           []Path               `json:"EncryptedPaths"`
	CompressionAlgorithm     CompressionAlgorithm `json:"CompressionAlgorithm"`
	CompressedEncryptedPaths map[Path]int         `json:"CompressedEncryptedPaths,omitempty"`
}

// DecryptionReport summarizes what a decrypt call did.
type DecryptionReport struct {
	PathsDecrypted []Path
	KeyID          string
}

package fieldcrypt

import (
	"encoding/binary"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// The Framer owns every byte-offset constant in the per-value wire
// layout; no other component may reach into these bytes directly.
//
//	[TypeMarker(1)] [Ciphertext(N)]
//
// The TypeMarker is written unencrypted, directly alongside the
// ciphertext of the serialized value (§3): it is never part of the
// plaintext that gets encrypted, so it costs exactly one byte on top
// of whatever the key's ciphertext length function reports.
//
// When the original value was compressed, the outer marker is
// MarkerCompressed and the *decrypted* plaintext begins with a
// secondary header:
//
//	[CompressionAlgorithm(1)] [OriginalLength(4, big-endian)] [InnerTypeMarker(1)]
//
// OQ1: this implementation keeps that secondary in-plaintext header
// rather than relying solely on the sidecar's
// CompressedEncryptedPaths map, so a single encrypted value is fully
// self-describing without consulting the sidecar. The sidecar map is
// still populated (see Sidecar.CompressedEncryptedPaths) for readers
// that want the length without touching ciphertext.

const (
	outerHeaderLen      = 1
	compressedHeaderLen = 1 + 4 + 1
)

func compressionAlgorithmByte(a CompressionAlgorithm) byte {
	switch a {
	case CompressionDeflate:
		return 1
	case CompressionGzip:
		return 2
	case CompressionBrotli:
		return 3
	default:
		return 0
	}
}

func compressionAlgorithmFromByte(b byte) (CompressionAlgorithm, error) {
	switch b {
	case 1:
		return CompressionDeflate, nil
	case 2:
		return CompressionGzip, nil
	case 3:
		return CompressionBrotli, nil
	default:
		return "", apperr.New(apperr.KindFormatViolation, "unknown compression algorithm byte").WithDetail("byte", b)
	}
}

// frameValue prepends the unencrypted outer TypeMarker byte to
// ciphertext, renting the combined buffer from acq rather than
// allocating fresh heap memory.
func frameValue(acq *acquisition, marker TypeMarker, ciphertext []byte) []byte {
	out := acq.rentExact(outerHeaderLen + len(ciphertext))
	out[0] = byte(marker)
	copy(out[outerHeaderLen:], ciphertext)
	return out
}

// unframeValue splits a framed per-value blob into its outer marker
// and the ciphertext that follows it. It is a view into framed, not a
// copy.
func unframeValue(framed []byte) (TypeMarker, []byte, error) {
	if len(framed) < outerHeaderLen {
		return 0, nil, apperr.New(apperr.KindFormatViolation, "ciphertext too short for outer header")
	}
	return TypeMarker(framed[0]), framed[outerHeaderLen:], nil
}

// writeCompressedHeader builds the secondary header plus already-
// compressed bytes that together form the plaintext to be encrypted
// when the outer marker is MarkerCompressed.
func writeCompressedHeader(acq *acquisition, algo CompressionAlgorithm, originalLen int, innerMarker TypeMarker, compressed []byte) []byte {
	inner := acq.rentExact(compressedHeaderLen + len(compressed))
	inner[0] = compressionAlgorithmByte(algo)
	binary.BigEndian.PutUint32(inner[1:5], uint32(originalLen))
	inner[5] = byte(innerMarker)
	copy(inner[compressedHeaderLen:], compressed)
	return inner
}

// compressedHeader describes a parsed secondary header.
type compressedHeader struct {
	Algorithm   CompressionAlgorithm
	OriginalLen int
	InnerMarker TypeMarker
}

// readCompressedHeader parses the secondary header out of decrypted
// plaintext whose outer marker was MarkerCompressed.
func readCompressedHeader(plaintext []byte) (compressedHeader, []byte, error) {
	if len(plaintext) < compressedHeaderLen {
		return compressedHeader{}, nil, apperr.New(apperr.KindFormatViolation, "plaintext too short for compressed header")
	}
	algo, err := compressionAlgorithmFromByte(plaintext[0])
	if err != nil {
		return compressedHeader{}, nil, err
	}
	h := compressedHeader{
		Algorithm:   algo,
		OriginalLen: int(binary.BigEndian.Uint32(plaintext[1:5])),
		InnerMarker: TypeMarker(plaintext[5]),
	}
	return h, plaintext[compressedHeaderLen:], nil
}

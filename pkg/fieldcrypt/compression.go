package fieldcrypt

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// compress runs plaintext through the named algorithm at the given
// level and returns the compressed bytes. The working buffer is
// rented from acq, so repeated calls within one acquisition's scope
// reuse a pooled backing array instead of allocating fresh heap
// memory each time (§5 Resource policy). An internal_error is
// returned on write failure, matching the policy in §4.2: encrypt-
// side compressor errors are the codec's own fault, not a format
// problem in someone else's data.
func compress(acq *acquisition, algo CompressionAlgorithm, level int, plaintext []byte) ([]byte, error) {
	out := bytes.NewBuffer(acq.rent(len(plaintext)))

	w, err := newCompressWriter(algo, level, out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "compressor write failed", err)
	}
	if err := w.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "compressor close failed", err)
	}

	return out.Bytes(), nil
}

// decompress is the inverse of compress. Failures here are the
// caller's data being wrong, so they surface as format_violation.
func decompress(acq *acquisition, algo CompressionAlgorithm, compressed []byte, originalLen int) ([]byte, error) {
	r, err := newDecompressReader(algo, bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sizeHint := originalLen
	if sizeHint < 0 {
		sizeHint = len(compressed)
	}
	out := bytes.NewBuffer(acq.rent(sizeHint))

	if _, err := io.Copy(out, r); err != nil {
		return nil, apperr.Wrap(apperr.KindFormatViolation, "decompression failed", err)
	}
	if originalLen >= 0 && out.Len() != originalLen {
		return nil, apperr.New(apperr.KindFormatViolation, "decompressed length does not match recorded original length").
			WithDetail("want", originalLen).WithDetail("got", out.Len())
	}

	return out.Bytes(), nil
}

type closeWriter interface {
	io.Writer
	Close() error
}

func newCompressWriter(algo CompressionAlgorithm, level int, w io.Writer) (closeWriter, error) {
	switch algo {
	case CompressionDeflate:
		fw, err := flate.NewWriter(w, normalizeFlateLevel(level))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to create deflate writer", err)
		}
		return fw, nil
	case CompressionGzip:
		gw, err := gzip.NewWriterLevel(w, normalizeFlateLevel(level))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to create gzip writer", err)
		}
		return gw, nil
	case CompressionBrotli:
		return brotli.NewWriterLevel(w, normalizeBrotliLevel(level)), nil
	default:
		return nil, apperr.New(apperr.KindInvalidArgument, "unsupported compression algorithm").WithDetail("algorithm", string(algo))
	}
}

func newDecompressReader(algo CompressionAlgorithm, r io.Reader) (io.ReadCloser, error) {
	switch algo {
	case CompressionDeflate:
		return flate.NewReader(r), nil
	case CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindFormatViolation, "invalid gzip stream", err)
		}
		return gr, nil
	case CompressionBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	default:
		return nil, apperr.New(apperr.KindFormatViolation, "unknown compression algorithm recorded in sidecar").WithDetail("algorithm", string(algo))
	}
}

func normalizeFlateLevel(level int) int {
	if level == 0 {
		return flate.DefaultCompression
	}
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return flate.DefaultCompression
	}
	return level
}

func normalizeBrotliLevel(level int) int {
	if level <= 0 || level > brotli.BestCompression {
		return brotli.DefaultCompression
	}
	return level
}

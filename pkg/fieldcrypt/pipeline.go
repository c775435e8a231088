package fieldcrypt

import "github.com/sunet/fieldcrypt/pkg/apperr"

// withPathDetail annotates err with the property path being processed
// when it came back as an *apperr.Error, and passes it through
// unchanged otherwise.
func withPathDetail(err error, path Path) error {
	if e, ok := err.(*apperr.Error); ok {
		return e.WithDetail("path", string(path))
	}
	return err
}

// encryptedProperty is the result of running one property through
// the C1→C2→C3→C4 pipeline. wire holds the complete per-value wire
// bytes: the unencrypted outer TypeMarker byte followed by the
// ciphertext (§3) — this is what callers store or emit verbatim.
type encryptedProperty struct {
	wire        []byte
	compressed  bool
	originalLen int // meaningful only when compressed
}

// encryptProperty implements the shared per-property pipeline used by
// both the tree and stream processors: serialize the typed value,
// optionally compress it, encrypt it, then frame the ciphertext with
// its unencrypted outer marker. acq supplies every intermediate
// buffer (§5 Resource policy).
func encryptProperty(acq *acquisition, value any, comp CompressionOptions, key KeyHandle) (encryptedProperty, error) {
	marker, plain, err := serializeTyped(value)
	if err != nil {
		return encryptedProperty{}, err
	}

	if comp.enabled() && len(plain) >= comp.MinimumSize {
		compressed, cerr := compress(acq, comp.Algorithm, comp.Level, plain)
		if cerr != nil {
			return encryptedProperty{}, cerr
		}
		plaintext := writeCompressedHeader(acq, comp.Algorithm, len(plain), marker, compressed)
		ct, eerr := encryptInto(acq, key, plaintext)
		if eerr != nil {
			return encryptedProperty{}, eerr
		}
		return encryptedProperty{wire: frameValue(acq, MarkerCompressed, ct), compressed: true, originalLen: len(plain)}, nil
	}

	ct, err := encryptInto(acq, key, plain)
	if err != nil {
		return encryptedProperty{}, err
	}
	return encryptedProperty{wire: frameValue(acq, marker, ct)}, nil
}

// decryptProperty is the inverse of encryptProperty: split the
// unencrypted outer marker from the ciphertext, authenticate and
// decrypt it, then (if compressed) unwrap the in-plaintext secondary
// header before deserializing the typed value. recordedOriginalLen is
// the sidecar's recorded pre-compression length for this path, or -1
// if the sidecar did not record one (the in-plaintext header is
// authoritative either way).
func decryptProperty(acq *acquisition, framed []byte, key KeyHandle, recordedOriginalLen int) (any, error) {
	marker, ciphertext, err := unframeValue(framed)
	if err != nil {
		return nil, err
	}

	plaintext, err := decryptFrom(acq, key, ciphertext)
	if err != nil {
		return nil, err
	}

	if marker != MarkerCompressed {
		return deserializeTyped(marker, plaintext)
	}

	hdr, body, err := readCompressedHeader(plaintext)
	if err != nil {
		return nil, err
	}
	if recordedOriginalLen >= 0 && recordedOriginalLen != hdr.OriginalLen {
		return nil, apperr.New(apperr.KindCompressionMismatch, "sidecar original length disagrees with in-plaintext header").
			WithDetail("sidecar_len", recordedOriginalLen).WithDetail("header_len", hdr.OriginalLen)
	}

	decompressed, err := decompress(acq, hdr.Algorithm, body, hdr.OriginalLen)
	if err != nil {
		return nil, err
	}
	return deserializeTyped(hdr.InnerMarker, decompressed)
}

package fieldcrypt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// streamWriter is the minimal subset of a streaming JSON writer the
// processor needs: open and close the root object, write a property
// whose already-encoded raw JSON value is copied verbatim, and encode
// bytes as a base64 JSON string. It tracks commas and braces itself so callers never touch
// delimiter bytes directly (§6 JSON reader/writer external
// interface).
type streamWriter struct {
	w        *bufio.Writer
	wroteAny bool
	err      error
}

func newStreamWriter(w io.Writer) *streamWriter {
	return &streamWriter{w: bufio.NewWriter(w)}
}

func (s *streamWriter) startObject() {
	if s.err != nil {
		return
	}
	_, s.err = s.w.WriteString("{")
}

func (s *streamWriter) endObject() {
	if s.err != nil {
		return
	}
	_, s.err = s.w.WriteString("}")
}

func (s *streamWriter) property(name string, rawValue []byte) {
	if s.err != nil {
		return
	}
	if s.wroteAny {
		if _, err := s.w.WriteString(","); err != nil {
			s.err = err
			return
		}
	}
	nameJSON, err := json.Marshal(name)
	if err != nil {
		s.err = err
		return
	}
	if _, err := s.w.Write(nameJSON); err != nil {
		s.err = err
		return
	}
	if _, err := s.w.WriteString(":"); err != nil {
		s.err = err
		return
	}
	if _, err := s.w.Write(rawValue); err != nil {
		s.err = err
		return
	}
	s.wroteAny = true
}

func (s *streamWriter) writeBase64String(data []byte) []byte {
	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(data))
	if err != nil {
		s.err = err
		return nil
	}
	return encoded
}

func (s *streamWriter) flush() error {
	if s.err != nil {
		return s.err
	}
	return s.w.Flush()
}

// encryptStream implements C6 on the encrypt path: it walks the input
// document's top-level properties one at a time via json.Decoder,
// buffering only the value currently being processed rather than the
// whole document, and writes the rewritten document to out as it
// goes. It returns the paths actually encrypted, in the order their
// properties appear in the document, and any compressed lengths.
func encryptStream(ctx context.Context, input []byte, out io.Writer, req EncryptionRequest, key KeyHandle, pool BytePool) (*streamWriter, []Path, map[Path]int, bool, error) {
	acq := newAcquisition(pool)
	defer acq.release()

	toEncrypt := make(map[string]Path, len(req.PathsToEncrypt))
	for _, p := range req.PathsToEncrypt {
		toEncrypt[p.Name()] = p
	}

	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	w := newStreamWriter(out)

	if err := expectDelim(dec, '{'); err != nil {
		return w, nil, nil, false, err
	}

	w.startObject()

	encrypted := make([]Path, 0, len(req.PathsToEncrypt))
	compressedLens := make(map[Path]int)
	anyCompressed := false

	for dec.More() {
		if err := acq.checkCancelled(ctx); err != nil {
			return w, nil, nil, false, err
		}

		nameTok, err := dec.Token()
		if err != nil {
			return w, nil, nil, false, apperr.Wrap(apperr.KindFormatViolation, "expected a property name", err)
		}
		name, ok := nameTok.(string)
		if !ok {
			return w, nil, nil, false, apperr.New(apperr.KindFormatViolation, "expected a property name token")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return w, nil, nil, false, apperr.Wrap(apperr.KindFormatViolation, "malformed property value", err).WithDetail("property", name)
		}

		path, candidate := toEncrypt[name]
		if !candidate || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			w.property(name, raw)
			continue
		}

		buf := acq.rent(len(raw))
		buf = append(buf, raw...)

		var value any
		if err := json.Unmarshal(buf, &useNumberValue{&value}); err != nil {
			return w, nil, nil, false, apperr.Wrap(apperr.KindFormatViolation, "malformed property value", err).WithDetail("property", name)
		}

		result, err := encryptProperty(acq, value, req.Compression, key)
		if err != nil {
			return w, nil, nil, false, withPathDetail(err, path)
		}

		w.property(name, w.writeBase64String(result.wire))
		encrypted = append(encrypted, path)
		if result.compressed {
			compressedLens[path] = result.originalLen
			anyCompressed = true
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return w, nil, nil, false, err
	}

	return w, encrypted, compressedLens, anyCompressed, w.err
}

// writeSidecarAndClose appends the sidecar object as the final
// top-level property and closes the root object, per §4.6: "After the
// original root object's closing token, the processor injects the
// sidecar as an additional property at the same depth."
func writeSidecarAndClose(w *streamWriter, sidecar Sidecar) error {
	raw, err := json.Marshal(sidecar)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to serialize sidecar", err)
	}
	w.property(SidecarKey, raw)
	w.endObject()
	return w.flush()
}

// decryptStream implements C6 on the decrypt path. Because the
// sidecar is only discoverable after reading the whole object, it
// buffers the input into a pooled buffer once, locates and parses the
// sidecar, then rewrites the document in a second single pass.
func decryptStream(ctx context.Context, input []byte, out io.Writer, resolveKey func(keyID string, algorithm Algorithm) (KeyHandle, error), pool BytePool) (DecryptionReport, error) {
	acq := newAcquisition(pool)
	defer acq.release()

	buffered := acq.rent(len(input))
	buffered = append(buffered, input...)

	sidecar, hasSidecar, err := extractSidecar(buffered)
	if err != nil {
		return DecryptionReport{}, err
	}
	if !hasSidecar {
		if _, err := out.Write(buffered); err != nil {
			return DecryptionReport{}, apperr.Wrap(apperr.KindInternal, "failed to write passthrough document", err)
		}
		return DecryptionReport{}, nil
	}

	if err := validateFormatVersion(sidecar.EncryptionFormatVersion); err != nil {
		return DecryptionReport{}, err
	}

	key, err := resolveKey(sidecar.DataEncryptionKeyID, sidecar.EncryptionAlgorithm)
	if err != nil {
		return DecryptionReport{}, err
	}

	wanted := make(map[string]Path, len(sidecar.EncryptedPaths))
	for _, p := range sidecar.EncryptedPaths {
		wanted[p.Name()] = p
	}

	dec := json.NewDecoder(bytes.NewReader(buffered))
	dec.UseNumber()
	if err := expectDelim(dec, '{'); err != nil {
		return DecryptionReport{}, err
	}

	w := newStreamWriter(out)
	w.startObject()

	decrypted := make([]Path, 0, len(sidecar.EncryptedPaths))

	for dec.More() {
		if err := acq.checkCancelled(ctx); err != nil {
			return DecryptionReport{}, err
		}

		nameTok, err := dec.Token()
		if err != nil {
			return DecryptionReport{}, apperr.Wrap(apperr.KindFormatViolation, "expected a property name", err)
		}
		name := nameTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return DecryptionReport{}, apperr.Wrap(apperr.KindFormatViolation, "malformed property value", err).WithDetail("property", name)
		}

		if name == SidecarKey {
			continue
		}

		path, candidate := wanted[name]
		if !candidate {
			w.property(name, raw)
			continue
		}

		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			w.property(name, raw) // present but malformed: skipped and copied through untouched
			continue
		}
		framed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			w.property(name, raw)
			continue
		}

		recordedLen := -1
		if l, ok := sidecar.CompressedEncryptedPaths[path]; ok {
			recordedLen = l
		}

		value, derr := decryptProperty(acq, framed, key, recordedLen)
		if derr != nil {
			return DecryptionReport{}, withPathDetail(derr, path)
		}

		valueJSON, merr := json.Marshal(value)
		if merr != nil {
			return DecryptionReport{}, apperr.Wrap(apperr.KindInternal, "failed to re-serialize decrypted value", merr)
		}

		w.property(name, valueJSON)
		decrypted = append(decrypted, path)
	}

	w.endObject()
	if err := w.flush(); err != nil {
		return DecryptionReport{}, apperr.Wrap(apperr.KindInternal, "failed to flush output", err)
	}

	return DecryptionReport{PathsDecrypted: decrypted, KeyID: sidecar.DataEncryptionKeyID}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return apperr.Wrap(apperr.KindFormatViolation, "malformed JSON document", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != want {
		return apperr.New(apperr.KindFormatViolation, "document is not a JSON object")
	}
	return nil
}

// extractSidecar parses just the sidecar object out of a document
// without unmarshalling every other property into Go values.
func extractSidecar(input []byte) (Sidecar, bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(input, &doc); err != nil {
		return Sidecar{}, false, apperr.Wrap(apperr.KindFormatViolation, "malformed JSON document", err)
	}
	raw, ok := doc[SidecarKey]
	if !ok {
		return Sidecar{}, false, nil
	}
	var sidecar Sidecar
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		return Sidecar{}, false, apperr.Wrap(apperr.KindFormatViolation, "malformed sidecar metadata", err)
	}
	return sidecar, true, nil
}

// useNumberValue is a json.Unmarshaler adapter so an individual raw
// property value can be decoded with the same "no float64 for
// integers" behavior json.Decoder.UseNumber gives the top-level walk.
type useNumberValue struct {
	dst *any
}

func (u *useNumberValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(u.dst)
}

package fieldcrypt

import (
	"encoding/json"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// encryptLegacy implements format version 2: the selected properties
// are collected into a sub-object, serialized to compact JSON and
// encrypted as a single blob, which is stored in the sidecar's
// EncryptedData rather than back in the document. It has no
// compression support and is never used on the streaming path (§4.7,
// §9). pool backs a single acquisition scoped to this call; the
// ciphertext is copied out of the acquisition's pooled buffer before
// it is released, since EncryptedData outlives this call (it still
// needs to be JSON-marshalled by the caller).
func encryptLegacy(doc map[string]any, req EncryptionRequest, key KeyHandle, pool BytePool) ([]byte, []Path, error) {
	acq := newAcquisition(pool)
	defer acq.release()

	sub := make(map[string]any, len(req.PathsToEncrypt))
	included := make([]Path, 0, len(req.PathsToEncrypt))

	for _, path := range req.PathsToEncrypt {
		name := path.Name()
		value, present := doc[name]
		if !present || value == nil {
			continue
		}
		sub[name] = value
		included = append(included, path)
	}

	if len(included) == 0 {
		return nil, nil, nil
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "failed to serialize legacy sub-object", err)
	}

	pooled, err := encryptInto(acq, key, raw)
	if err != nil {
		return nil, nil, err
	}
	ciphertext := append([]byte(nil), pooled...)

	for _, path := range included {
		delete(doc, path.Name())
	}

	return ciphertext, included, nil
}

// decryptLegacy is the inverse of encryptLegacy: decrypt the sidecar's
// EncryptedData blob and merge its properties back into doc. pool
// backs a single acquisition scoped to this call; the decrypted
// plaintext is unmarshalled into sub before the acquisition releases,
// so no pooled memory escapes this function.
func decryptLegacy(doc map[string]any, sidecar Sidecar, key KeyHandle, pool BytePool) ([]Path, error) {
	if len(sidecar.EncryptedData) == 0 {
		return nil, nil
	}

	acq := newAcquisition(pool)
	defer acq.release()

	plaintext, err := decryptFrom(acq, key, sidecar.EncryptedData)
	if err != nil {
		return nil, err
	}

	var sub map[string]any
	if err := json.Unmarshal(plaintext, &sub); err != nil {
		return nil, apperr.Wrap(apperr.KindFormatViolation, "malformed legacy sub-object", err)
	}

	decrypted := make([]Path, 0, len(sub))
	for _, path := range sidecar.EncryptedPaths {
		name := path.Name()
		if v, ok := sub[name]; ok {
			doc[name] = v
			decrypted = append(decrypted, path)
		}
	}

	return decrypted, nil
}

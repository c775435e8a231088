package fieldcrypt

import "encoding/base64"

// encryptTreeRandomized mutates doc in place, replacing each property
// named by req.PathsToEncrypt with a base64-encoded ciphertext string
// (OQ2: base64-UTF-8 is the conservative wire representation). It
// returns the paths actually encrypted, in request order, and the
// pre-compression length of any path that ended up compressed. pool
// backs a single acquisition scoped to this call (§5 Resource
// policy); every property's scratch buffers are released on return,
// after each has already been copied out into an independent base64
// string.
func encryptTreeRandomized(doc map[string]any, req EncryptionRequest, key KeyHandle, pool BytePool) ([]Path, map[Path]int, bool, error) {
	acq := newAcquisition(pool)
	defer acq.release()

	encrypted := make([]Path, 0, len(req.PathsToEncrypt))
	compressedLens := make(map[Path]int)
	anyCompressed := false

	for _, path := range req.PathsToEncrypt {
		name := path.Name()
		value, present := doc[name]
		if !present || value == nil {
			continue
		}

		result, err := encryptProperty(acq, value, req.Compression, key)
		if err != nil {
			return nil, nil, false, withPathDetail(err, path)
		}

		doc[name] = base64.StdEncoding.EncodeToString(result.wire)
		encrypted = append(encrypted, path)
		if result.compressed {
			compressedLens[path] = result.originalLen
			anyCompressed = true
		}
	}

	return encrypted, compressedLens, anyCompressed, nil
}

// decryptTreeRandomized mutates doc in place, replacing each
// base64-encoded ciphertext named in sidecar.EncryptedPaths with the
// decrypted, typed value it decodes to. Paths listed in the sidecar
// but absent or malformed in doc are silently skipped (§4.5); paths
// present but not listed are left untouched. pool backs a single
// acquisition scoped to this call, mirroring encryptTreeRandomized.
func decryptTreeRandomized(doc map[string]any, sidecar Sidecar, key KeyHandle, pool BytePool) ([]Path, error) {
	acq := newAcquisition(pool)
	defer acq.release()

	decrypted := make([]Path, 0, len(sidecar.EncryptedPaths))

	for _, path := range sidecar.EncryptedPaths {
		name := path.Name()
		raw, present := doc[name]
		if !present {
			continue
		}
		encoded, ok := raw.(string)
		if !ok {
			continue
		}
		framed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}

		recordedLen := -1
		if l, ok := sidecar.CompressedEncryptedPaths[path]; ok {
			recordedLen = l
		}

		value, derr := decryptProperty(acq, framed, key, recordedLen)
		if derr != nil {
			return nil, derr
		}

		doc[name] = value
		decrypted = append(decrypted, path)
	}

	return decrypted, nil
}

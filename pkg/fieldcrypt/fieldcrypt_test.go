package fieldcrypt_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sunet/fieldcrypt/pkg/apperr"
	"github.com/sunet/fieldcrypt/pkg/fieldcrypt"
	"github.com/sunet/fieldcrypt/pkg/fieldcrypt/cryptoref"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *fieldcrypt.Codec {
	t.Helper()
	provider := cryptoref.NewProvider()
	provider.Register("k1", []byte("a very secret root key, 32+ bytes long"))
	return fieldcrypt.New(provider, nil)
}

// S1: scalar properties, no compression.
func TestEncryptDecrypt_S1(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","pk":"a","s":"hello","n":42}`)
	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/s", "/n"},
	}

	encrypted, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(encrypted, &doc))
	assert.Equal(t, "1", doc["id"])
	assert.Equal(t, "a", doc["pk"])
	assert.IsType(t, "", doc["s"])
	assert.IsType(t, "", doc["n"])

	sidecarRaw, err := json.Marshal(doc["_ei"])
	require.NoError(t, err)
	var sidecar fieldcrypt.Sidecar
	require.NoError(t, json.Unmarshal(sidecarRaw, &sidecar))
	assert.Equal(t, fieldcrypt.FormatRandomizedPlain, sidecar.EncryptionFormatVersion)
	assert.Equal(t, []fieldcrypt.Path{"/s", "/n"}, sidecar.EncryptedPaths)
	assert.Equal(t, fieldcrypt.CompressionNone, sidecar.CompressionAlgorithm)

	decrypted, report, err := codec.Decrypt(ctx, encrypted)
	require.NoError(t, err)
	assert.ElementsMatch(t, []fieldcrypt.Path{"/s", "/n"}, report.PathsDecrypted)
	assert.Equal(t, "k1", report.KeyID)

	var out map[string]any
	require.NoError(t, json.Unmarshal(decrypted, &out))
	assert.Equal(t, "hello", out["s"])
	assert.EqualValues(t, 42, out["n"])
	assert.Equal(t, "1", out["id"])
}

// S2: compression kicks in only at or above minimum_size, and the sidecar
// records the pre-compression length.
func TestEncryptDecrypt_S2_Compression(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	long := strings.Repeat("the quick brown fox jumps over the lazy dog", 64)
	input, err := json.Marshal(map[string]any{
		"id": "1",
		"pk": "a",
		"s":  long,
		"n":  42,
	})
	require.NoError(t, err)

	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/s", "/n"},
		Compression: fieldcrypt.CompressionOptions{
			Algorithm:   fieldcrypt.CompressionDeflate,
			MinimumSize: 64,
		},
	}

	encrypted, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(encrypted, &doc))
	sidecarRaw, err := json.Marshal(doc["_ei"])
	require.NoError(t, err)
	var sidecar fieldcrypt.Sidecar
	require.NoError(t, json.Unmarshal(sidecarRaw, &sidecar))

	assert.Equal(t, fieldcrypt.FormatRandomizedCompress, sidecar.EncryptionFormatVersion)
	require.Contains(t, sidecar.CompressedEncryptedPaths, fieldcrypt.Path("/s"))
	assert.Equal(t, len(long), sidecar.CompressedEncryptedPaths["/s"])
	assert.NotContains(t, sidecar.CompressedEncryptedPaths, fieldcrypt.Path("/n"))

	decrypted, _, err := codec.Decrypt(ctx, encrypted)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(decrypted, &out))
	assert.Equal(t, long, out["s"])
}

// S3: structural equality for arrays and objects, not just round-trip
// of their string form.
func TestEncryptDecrypt_S3_Structural(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","a":[1,2,3],"o":{"k":"v"}}`)
	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/a", "/o"},
	}

	encrypted, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)

	decrypted, _, err := codec.Decrypt(ctx, encrypted)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(decrypted, &out))
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, out["a"])
	assert.Equal(t, map[string]any{"k": "v"}, out["o"])
}

// S4: a null-valued property is left untouched and not recorded.
func TestEncryptDecrypt_S4_Null(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","x":null}`)
	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/x"},
	}

	encrypted, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(encrypted, &doc))
	assert.Nil(t, doc["x"])

	if sidecarRaw, ok := doc["_ei"]; ok {
		raw, err := json.Marshal(sidecarRaw)
		require.NoError(t, err)
		var sidecar fieldcrypt.Sidecar
		require.NoError(t, json.Unmarshal(raw, &sidecar))
		assert.Empty(t, sidecar.EncryptedPaths)
	}
}

// S5: /id may never be encrypted.
func TestEncrypt_S5_ReservedIDPath(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1"}`)
	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/id"},
	}

	_, err := codec.Encrypt(ctx, input, opts)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidPath))
}

// S6: an unknown sidecar format version is a hard, explicit failure.
func TestDecrypt_S6_UnsupportedVersion(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","_ei":{"EncryptionFormatVersion":99,"EncryptionAlgorithm":"randomized_aead_cbc_hmac","DataEncryptionKeyId":"k1","EncryptedPaths":[]}}`)

	_, _, err := codec.Decrypt(ctx, input)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnsupportedFormatVersion))
}

func TestEncrypt_EmptyPathsReturnsInputUnmodified(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","s":"hello"}`)
	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
	}

	out, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestDecrypt_NoSidecarReturnsInputUnmodified(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","s":"hello"}`)
	out, report, err := codec.Decrypt(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Equal(t, fieldcrypt.DecryptionReport{}, report)
}

func TestLegacyWholeObjectRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","pk":"a","s":"hello","n":42}`)
	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Legacy,
		PathsToEncrypt:      []fieldcrypt.Path{"/s", "/n"},
	}

	encrypted, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(encrypted, &doc))
	_, hasS := doc["s"]
	assert.False(t, hasS)

	sidecarRaw, err := json.Marshal(doc["_ei"])
	require.NoError(t, err)
	var sidecar fieldcrypt.Sidecar
	require.NoError(t, json.Unmarshal(sidecarRaw, &sidecar))
	assert.Equal(t, fieldcrypt.FormatLegacyWholeObject, sidecar.EncryptionFormatVersion)
	assert.NotEmpty(t, sidecar.EncryptedData)

	decrypted, report, err := codec.Decrypt(ctx, encrypted)
	require.NoError(t, err)
	assert.ElementsMatch(t, []fieldcrypt.Path{"/s", "/n"}, report.PathsDecrypted)

	var out map[string]any
	require.NoError(t, json.Unmarshal(decrypted, &out))
	assert.Equal(t, "hello", out["s"])
	assert.EqualValues(t, 42, out["n"])
}

// Testable property 6: tree and stream processors agree on the
// decrypted value, even though their encoded bytes may differ in
// whitespace.
func TestTreeAndStreamProcessorsParity(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","a":[1,2,3],"o":{"k":"v"},"s":"hello","n":7}`)
	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/a", "/o", "/s", "/n"},
	}

	var treeDoc map[string]any
	require.NoError(t, json.Unmarshal(input, &treeDoc))
	treeEncrypted, err := codec.EncryptTree(ctx, treeDoc, opts)
	require.NoError(t, err)

	streamEncrypted, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)

	treeDecrypted, _, err := codec.DecryptTree(ctx, treeEncrypted)
	require.NoError(t, err)
	treeDecryptedJSON, err := json.Marshal(treeDecrypted)
	require.NoError(t, err)
	var treeNormalized map[string]any
	require.NoError(t, json.Unmarshal(treeDecryptedJSON, &treeNormalized))

	streamDecryptedBytes, _, err := codec.Decrypt(ctx, streamEncrypted)
	require.NoError(t, err)
	var streamDecrypted map[string]any
	require.NoError(t, json.Unmarshal(streamDecryptedBytes, &streamDecrypted))

	assert.Equal(t, treeNormalized, streamDecrypted)
}

func TestInvalidArgument_EmptyKeyID(t *testing.T) {
	codec := newTestCodec(t)
	_, err := codec.Encrypt(context.Background(), []byte(`{"id":"1","s":"x"}`), fieldcrypt.EncryptionRequest{
		Algorithm:      fieldcrypt.Randomized,
		PathsToEncrypt: []fieldcrypt.Path{"/s"},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestInvalidPath_DuplicateRejected(t *testing.T) {
	codec := newTestCodec(t)
	_, err := codec.Encrypt(context.Background(), []byte(`{"id":"1","s":"x"}`), fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/s", "/s"},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidPath))
}

func TestUnsupportedAlgorithm(t *testing.T) {
	codec := newTestCodec(t)
	_, err := codec.Encrypt(context.Background(), []byte(`{"id":"1"}`), fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           "not_a_real_algorithm",
		PathsToEncrypt:      []fieldcrypt.Path{"/s"},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnsupportedAlgorithm))
}

// Testable property 4: for an uncompressed property, the wire bytes
// (outer marker + ciphertext) are exactly 1 byte longer than the
// key's own deterministic ciphertext length for the serialized value
// — the marker sits outside the AEAD boundary, it is never encrypted
// alongside the value.
func TestDeterministicCiphertextLength_Property4(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	value := "hello world!!!!" // 15 raw bytes once serialized as a string
	require.Len(t, value, 15)

	doc := map[string]any{"id": "1", "s": value}
	encrypted, err := codec.EncryptTree(ctx, doc, fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/s"},
	})
	require.NoError(t, err)

	encoded, ok := encrypted["s"].(string)
	require.True(t, ok)
	wire, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	// AES-256-CBC+HMAC-SHA256 (cryptoref.KeyHandle): CiphertextLength(n)
	// = ivLen(16) + paddedLen(n) + macLen(32), paddedLen(n) = ((n/16)+1)*16.
	wantCiphertextLen := 48 + ((len(value)/16)+1)*16
	assert.Equal(t, 1+wantCiphertextLen, len(wire))
	assert.Equal(t, 65, len(wire))
}

// compression_mismatch fires when the sidecar's recorded
// pre-compression length disagrees with the in-plaintext secondary
// header's own recorded length (OQ1).
func TestCompressionMismatch(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	long := strings.Repeat("the quick brown fox jumps over the lazy dog", 64)
	input, err := json.Marshal(map[string]any{"id": "1", "s": long})
	require.NoError(t, err)

	opts := fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/s"},
		Compression: fieldcrypt.CompressionOptions{
			Algorithm:   fieldcrypt.CompressionDeflate,
			MinimumSize: 64,
		},
	}

	encrypted, err := codec.Encrypt(ctx, input, opts)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(encrypted, &doc))
	sidecarRaw, err := json.Marshal(doc["_ei"])
	require.NoError(t, err)
	var sidecar fieldcrypt.Sidecar
	require.NoError(t, json.Unmarshal(sidecarRaw, &sidecar))
	require.Contains(t, sidecar.CompressedEncryptedPaths, fieldcrypt.Path("/s"))

	sidecar.CompressedEncryptedPaths["/s"]++ // disagree with the in-plaintext header

	tamperedSidecarRaw, err := json.Marshal(sidecar)
	require.NoError(t, err)
	var tamperedSidecarMap map[string]any
	require.NoError(t, json.Unmarshal(tamperedSidecarRaw, &tamperedSidecarMap))
	doc["_ei"] = tamperedSidecarMap

	tampered, err := json.Marshal(doc)
	require.NoError(t, err)

	_, _, err = codec.Decrypt(ctx, tampered)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCompressionMismatch))
}

func TestAuthFailed_TamperedCiphertext(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	input := []byte(`{"id":"1","s":"hello"}`)
	encrypted, err := codec.Encrypt(ctx, input, fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: "k1",
		Algorithm:           fieldcrypt.Randomized,
		PathsToEncrypt:      []fieldcrypt.Path{"/s"},
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(encrypted, &doc))
	encodedCiphertext, ok := doc["s"].(string)
	require.True(t, ok)

	ciphertext, err := base64.StdEncoding.DecodeString(encodedCiphertext)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF // flip a byte inside the HMAC tag
	doc["s"] = base64.StdEncoding.EncodeToString(ciphertext)

	tampered, err := json.Marshal(doc)
	require.NoError(t, err)

	_, _, err = codec.Decrypt(ctx, tampered)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuthFailed))
}

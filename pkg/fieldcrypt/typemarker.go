package fieldcrypt

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/sunet/fieldcrypt/pkg/apperr"
)

// TypeMarker tags the original JSON type of a serialized value so it
// can be reconstructed exactly on decrypt.
type TypeMarker byte

const (
	MarkerNull       TypeMarker = 1
	MarkerString     TypeMarker = 2
	MarkerDouble     TypeMarker = 3
	MarkerLong       TypeMarker = 4
	MarkerBoolean    TypeMarker = 5
	MarkerArray      TypeMarker = 6
	MarkerObject     TypeMarker = 7
	MarkerCompressed TypeMarker = 99
)

// serializeTyped converts a decoded JSON value into its canonical
// byte form plus the marker identifying how to decode it back. A
// JSON null is never serialized; callers must check for it first and
// skip the property entirely.
func serializeTyped(v any) (TypeMarker, []byte, error) {
	switch val := v.(type) {
	case nil:
		return MarkerNull, nil, nil
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return MarkerBoolean, []byte{b}, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(i))
			return MarkerLong, buf, nil
		}
		f, err := val.Float64()
		if err != nil {
			return 0, nil, apperr.Wrap(apperr.KindFormatViolation, "number neither integer nor double", err)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return MarkerDouble, buf, nil
	case float64:
		// Large integral values that round-trip exactly as int64 are
		// preferred so that e.g. 42 survives as a Long, not a Double.
		if i := int64(val); float64(i) == val {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(i))
			return MarkerLong, buf, nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(val))
		return MarkerDouble, buf, nil
	case string:
		if !utf8.ValidString(val) {
			return 0, nil, apperr.New(apperr.KindFormatViolation, "string value is not valid UTF-8")
		}
		return MarkerString, []byte(val), nil
	case []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return 0, nil, apperr.Wrap(apperr.KindInternal, "failed to serialize array sub-tree", err)
		}
		return MarkerArray, raw, nil
	case map[string]any:
		raw, err := json.Marshal(val)
		if err != nil {
			return 0, nil, apperr.Wrap(apperr.KindInternal, "failed to serialize object sub-tree", err)
		}
		return MarkerObject, raw, nil
	default:
		return 0, nil, apperr.New(apperr.KindFormatViolation, "unsupported JSON value type")
	}
}

// deserializeTyped is the inverse of serializeTyped: given a marker
// and its canonical bytes, reconstruct the decoded JSON value.
func deserializeTyped(marker TypeMarker, data []byte) (any, error) {
	switch marker {
	case MarkerNull:
		return nil, nil
	case MarkerBoolean:
		if len(data) != 1 {
			return nil, apperr.New(apperr.KindFormatViolation, "boolean payload must be exactly 1 byte").WithDetail("len", len(data))
		}
		return data[0] != 0, nil
	case MarkerLong:
		if len(data) != 8 {
			return nil, apperr.New(apperr.KindFormatViolation, "long payload must be exactly 8 bytes").WithDetail("len", len(data))
		}
		return int64(binary.BigEndian.Uint64(data)), nil
	case MarkerDouble:
		if len(data) != 8 {
			return nil, apperr.New(apperr.KindFormatViolation, "double payload must be exactly 8 bytes").WithDetail("len", len(data))
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	case MarkerString:
		if !utf8.Valid(data) {
			return nil, apperr.New(apperr.KindFormatViolation, "string payload is not valid UTF-8")
		}
		return string(data), nil
	case MarkerArray:
		var v []any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, apperr.Wrap(apperr.KindFormatViolation, "malformed array sub-tree", err)
		}
		return v, nil
	case MarkerObject:
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, apperr.Wrap(apperr.KindFormatViolation, "malformed object sub-tree", err)
		}
		return v, nil
	default:
		return nil, apperr.New(apperr.KindFormatViolation, "unknown type marker").WithDetail("marker", byte(marker))
	}
}

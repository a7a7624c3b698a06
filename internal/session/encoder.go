package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/cuongbtq/labbox-api/internal/feed"
)

// NDArray is implemented by n-dimensional array values. They are never
// encoded inline; array payloads travel through a separate channel.
type NDArray interface {
	Shape() []int
}

// ResultEncoder turns job results into content hashes
type ResultEncoder struct {
	store feed.Store
}

// NewResultEncoder creates an encoder that persists into store
func NewResultEncoder(store feed.Store) *ResultEncoder {
	return &ResultEncoder{store: store}
}

// Encode normalizes v, stores its canonical JSON and returns the sha1 hash
func (e *ResultEncoder) Encode(ctx context.Context, v any) (string, error) {
	normalized, err := Normalize(v)
	if err != nil {
		return "", err
	}

	data, err := feed.CanonicalJSON(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFault, err)
	}

	uri, err := e.store.StoreJSON(ctx, data)
	if err != nil {
		return "", fmt.Errorf("%w: store result: %w", ErrBackendFault, err)
	}

	hash, err := feed.SHA1FromURI(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackendFault, err)
	}
	return hash, nil
}

var (
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
	numberType     = reflect.TypeOf(json.Number(""))
	ndarrayType    = reflect.TypeOf((*NDArray)(nil)).Elem()
	marshalerType  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// Normalize converts v into a JSON-safe tree of nil, bool, string, int64,
// uint64, float64, []any and map[string]any. Multi-dimensional numeric arrays
// and values with no JSON form fail with ErrEncodingFault.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	t := rv.Type()
	if t.Implements(ndarrayType) {
		return nil, fmt.Errorf("%w: cannot make ndarray json safe", ErrEncodingFault)
	}

	switch t {
	case numberType:
		return normalizeNumber(json.Number(rv.String()))
	case rawMessageType:
		return normalizeJSON(rv.Bytes())
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Kind() == reflect.Pointer && t.Implements(marshalerType) {
			return normalizeMarshaler(rv)
		}
		return normalizeValue(rv.Elem())

	case reflect.Bool:
		return rv.Bool(), nil

	case reflect.String:
		return rv.String(), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u), nil
		}
		return u, nil

	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v is not representable in json", ErrEncodingFault, f)
		}
		return f, nil

	case reflect.Map:
		return normalizeMap(rv)

	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		fallthrough
	case reflect.Array:
		return normalizeSequence(rv)

	case reflect.Struct:
		return normalizeMarshaler(rv)

	default:
		return nil, fmt.Errorf("%w: item is not json safe: %s", ErrEncodingFault, t)
	}
}

func normalizeNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid number %q", ErrEncodingFault, n)
	}
	return f, nil
}

func normalizeMap(rv reflect.Value) (any, error) {
	if rv.IsNil() {
		return nil, nil
	}

	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		val, err := normalizeValue(iter.Value())
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	case reflect.Interface:
		if !k.IsNil() {
			return mapKey(k.Elem())
		}
	}
	return "", fmt.Errorf("%w: unsupported map key type %s", ErrEncodingFault, k.Type())
}

func normalizeSequence(rv reflect.Value) (any, error) {
	elem := rv.Type().Elem()
	if elem.Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("%w: byte arrays are not json safe", ErrEncodingFault)
	}
	if isNumericArray(elem) {
		return nil, fmt.Errorf("%w: cannot make multi-dimensional array %s json safe", ErrEncodingFault, rv.Type())
	}

	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		val, err := normalizeValue(rv.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

// isNumericArray reports whether t is a typed slice or array with a numeric leaf
func isNumericArray(t reflect.Type) bool {
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
	}
	return false
}

// normalizeMarshaler round-trips structs and custom marshalers through JSON
func normalizeMarshaler(rv reflect.Value) (any, error) {
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: item is not json safe: %v", ErrEncodingFault, err)
	}
	return normalizeJSON(data)
}

func normalizeJSON(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrEncodingFault, err)
	}
	return normalizeValue(reflect.ValueOf(v))
}

package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type keyKind uint8

const (
	kindString keyKind = iota + 1
	kindInt
	kindUint
	kindFloat
)

// Key identifies an entry. A Key is always a string or a number, and is
// stored as its string form, so IntKey(1) and StringKey("1") address the
// same entry. The zero Key is invalid and fails every operation with
// ErrTypeMismatch.
type Key struct {
	kind keyKind
	s    string
}

// StringKey returns a Key for s.
func StringKey(s string) Key {
	return Key{kind: kindString, s: s}
}

// IntKey returns a Key for i.
func IntKey(i int64) Key {
	return Key{kind: kindInt, s: strconv.FormatInt(i, 10)}
}

// UintKey returns a Key for u.
func UintKey(u uint64) Key {
	return Key{kind: kindUint, s: strconv.FormatUint(u, 10)}
}

// FloatKey returns a Key for f. Integral values have no fractional part in
// their string form, so FloatKey(2) and IntKey(2) are the same key, and
// negative zero is stored as "0". NaN and the infinities have no key: for
// them FloatKey returns the zero Key, which fails with ErrTypeMismatch.
func FloatKey(f float64) Key {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Key{}
	}
	if f == 0 {
		f = 0
	}
	return Key{kind: kindFloat, s: strconv.FormatFloat(f, 'f', -1, 64)}
}

// KeyOf converts v into a Key. v must be a string, one of Go's integer or
// floating point types, or a json.Number. Anything else, including nil, NaN
// and the infinities, fails with ErrTypeMismatch.
func KeyOf(v any) (Key, error) {
	switch k := v.(type) {
	case Key:
		if k.valid() {
			return k, nil
		}
	case string:
		return StringKey(k), nil
	case int:
		return IntKey(int64(k)), nil
	case int8:
		return IntKey(int64(k)), nil
	case int16:
		return IntKey(int64(k)), nil
	case int32:
		return IntKey(int64(k)), nil
	case int64:
		return IntKey(k), nil
	case uint:
		return UintKey(uint64(k)), nil
	case uint8:
		return UintKey(uint64(k)), nil
	case uint16:
		return UintKey(uint64(k)), nil
	case uint32:
		return UintKey(uint64(k)), nil
	case uint64:
		return UintKey(k), nil
	case float32:
		return floatKeyOf(float64(k))
	case float64:
		return floatKeyOf(k)
	case json.Number:
		f, err := k.Float64()
		if err != nil {
			return Key{}, fmt.Errorf("%w: %q is not a number: %v", ErrTypeMismatch, k, err)
		}
		if i, err := k.Int64(); err == nil {
			return IntKey(i), nil
		}
		return floatKeyOf(f)
	}
	return Key{}, fmt.Errorf("%w: a key must be a string or a number, not %T", ErrTypeMismatch, v)
}

func floatKeyOf(f float64) (Key, error) {
	k := FloatKey(f)
	if !k.valid() {
		return Key{}, fmt.Errorf("%w: %v can't be used as a key", ErrTypeMismatch, f)
	}
	return k, nil
}

// KeysOf converts every element of vs with KeyOf, stopping at the first
// error.
func KeysOf(vs ...any) ([]Key, error) {
	keys := make([]Key, len(vs))
	for i, v := range vs {
		k, err := KeyOf(v)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

// String returns the form the key is stored under.
func (k Key) String() string {
	return k.s
}

func (k Key) valid() bool {
	return k.kind != 0
}

func checkKey(k Key) error {
	if !k.valid() {
		return fmt.Errorf("%w: the key is empty or not a finite number", ErrTypeMismatch)
	}
	return nil
}

// Package value implements CLASP's tagged Value union: null, bool, i64,
// f64, string, bytes, array, and string-keyed map. Values are the payload
// type carried by Param, Event, Stream, Gesture, and Timeline messages.
//
// Grounded on the envelope-wrapping pattern in ws's messaging package
// (every outbound message is wrapped with typed header fields around an
// opaque payload); here the payload itself is given a closed, typed shape
// instead of being opaque JSON, and encoded with MessagePack so the wire
// type tag comes from the self-describing msgpack format itself rather
// than an extra discriminator field.
package value

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind discriminates which union variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindMap
)

// Value is a closed tagged union over the eight CLASP value variants.
// Construct with the Of* helpers; inspect with Kind() and the As*
// accessors.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	arr   []Value
	m     map[string]Value
}

func Null() Value                    { return Value{kind: KindNull} }
func OfBool(b bool) Value            { return Value{kind: KindBool, b: b} }
func OfInt(i int64) Value            { return Value{kind: KindInt, i: i} }
func OfFloat(f float64) Value        { return Value{kind: KindFloat, f: f} }
func OfString(s string) Value        { return Value{kind: KindString, s: s} }
func OfBytes(b []byte) Value         { return Value{kind: KindBytes, bytes: b} }
func OfArray(a []Value) Value        { return Value{kind: KindArray, arr: a} }
func OfMap(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)             { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)             { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)         { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)         { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)          { return v.bytes, v.kind == KindBytes }
func (v Value) AsArray() ([]Value, bool)         { return v.arr, v.kind == KindArray }
func (v Value) AsMap() (map[string]Value, bool)  { return v.m, v.kind == KindMap }

// IsNumeric reports whether the value is an int or float, the only kinds
// for which equality/ordering (conflict strategies, epsilon coalescing)
// apply per spec.md §3.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Float64 returns the value as a float64 if numeric. ok is false
// otherwise.
func (v Value) Float64() (f float64, ok bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports structural equality between two Values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindBytes:
		return string(v.bytes) == string(other.bytes)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, mv := range v.m {
			ov, ok := other.m[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// EncodeMsgpack implements msgpack.CustomEncoder. Each variant maps to the
// native msgpack wire type for that Go shape, making the encoding
// self-describing without an extra tag field.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch v.kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.b)
	case KindInt:
		return enc.EncodeInt(v.i)
	case KindFloat:
		return enc.EncodeFloat64(v.f)
	case KindString:
		return enc.EncodeString(v.s)
	case KindBytes:
		return enc.EncodeBytes(v.bytes)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.arr)); err != nil {
			return err
		}
		for _, elem := range v.arr {
			if err := enc.Encode(elem); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if err := enc.EncodeMapLen(len(v.m)); err != nil {
			return err
		}
		for k, mv := range v.m {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := enc.Encode(mv); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder. Any wire type the
// decoder cannot map to one of the eight known variants (e.g. a msgpack
// extension type) is rejected, per spec.md §9's deserializer contract.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	// Decode generically and classify the resulting Go type; this mirrors
	// msgpack's own type-code switch without duplicating its internal
	// wire-format tables for every int/float width variant.
	raw, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	return v.fromInterface(raw)
}

// FromInterface converts a generically-decoded msgpack value (as produced
// by decoding into map[string]interface{}, e.g. when picking a Value out
// of a larger structured frame) into a Value, rejecting any shape that
// does not map to one of the eight known variants.
func FromInterface(raw interface{}) (Value, error) {
	var v Value
	err := v.fromInterface(raw)
	return v, err
}

func (v *Value) fromInterface(raw interface{}) error {
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case bool:
		*v = OfBool(t)
	case int8:
		*v = OfInt(int64(t))
	case int16:
		*v = OfInt(int64(t))
	case int32:
		*v = OfInt(int64(t))
	case int64:
		*v = OfInt(t)
	case int:
		*v = OfInt(int64(t))
	case uint8:
		*v = OfInt(int64(t))
	case uint16:
		*v = OfInt(int64(t))
	case uint32:
		*v = OfInt(int64(t))
	case uint64:
		*v = OfInt(int64(t))
	case float32:
		*v = OfFloat(float64(t))
	case float64:
		*v = OfFloat(t)
	case string:
		*v = OfString(t)
	case []byte:
		*v = OfBytes(t)
	case []interface{}:
		arr := make([]Value, len(t))
		for i, elem := range t {
			if err := arr[i].fromInterface(elem); err != nil {
				return err
			}
		}
		*v = OfArray(arr)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, elem := range t {
			var mv Value
			if err := mv.fromInterface(elem); err != nil {
				return err
			}
			m[k] = mv
		}
		*v = OfMap(m)
	default:
		return fmt.Errorf("value: cannot decode %T into a known Value variant", raw)
	}
	return nil
}

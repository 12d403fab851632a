package value

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	data, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Value
	if err := msgpack.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestRoundTripScalars(t *testing.T) {
	cases := []Value{
		Null(),
		OfBool(true),
		OfBool(false),
		OfInt(-42),
		OfInt(0),
		OfFloat(3.14159),
		OfString("hello"),
		OfBytes([]byte{1, 2, 3}),
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		if !got.Equal(c) {
			t.Errorf("round trip mismatch: %+v != %+v", got, c)
		}
	}
}

func TestRoundTripComposite(t *testing.T) {
	arr := OfArray([]Value{OfInt(1), OfString("two"), OfBool(true)})
	got := roundTrip(t, arr)
	if !got.Equal(arr) {
		t.Errorf("array round trip mismatch: %+v != %+v", got, arr)
	}

	m := OfMap(map[string]Value{
		"a": OfInt(1),
		"b": OfArray([]Value{OfFloat(1.5), Null()}),
	})
	got = roundTrip(t, m)
	if !got.Equal(m) {
		t.Errorf("map round trip mismatch: %+v != %+v", got, m)
	}
}

func TestIsNumeric(t *testing.T) {
	if !OfInt(1).IsNumeric() {
		t.Error("int should be numeric")
	}
	if !OfFloat(1.0).IsNumeric() {
		t.Error("float should be numeric")
	}
	if OfString("1").IsNumeric() {
		t.Error("string should not be numeric")
	}
}

func TestFloat64Conversion(t *testing.T) {
	f, ok := OfInt(5).Float64()
	if !ok || f != 5.0 {
		t.Errorf("OfInt(5).Float64() = %v, %v", f, ok)
	}
	if _, ok := OfString("x").Float64(); ok {
		t.Error("string should not convert to float64")
	}
}

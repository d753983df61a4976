package resp

import (
	"bytes"
	"math"
	"testing"
)

func TestEncodeCommandPing(t *testing.T) {
	c := NewCommand("PING")
	got := c.Encode(nil)
	want := "*1\r\n$4\r\nPING\r\n"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if len(got) != c.EncodedLen() {
		t.Fatalf("EncodedLen mismatch: got %d want %d", c.EncodedLen(), len(got))
	}
}

func TestDecodeSimpleString(t *testing.T) {
	d := NewDecoder(3)
	v, n, err := d.Decode([]byte("+OK\r\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 5 || v.Kind != KindSimpleString || v.Str != "OK" {
		t.Fatalf("got %+v consumed=%d", v, n)
	}
}

func TestDecodeError(t *testing.T) {
	d := NewDecoder(3)
	v, _, err := d.Decode([]byte("-WRONGTYPE Operation against a key\r\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Kind != KindError || v.Err.Prefix != "WRONGTYPE" {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeNullBulkAndArrayDistinct(t *testing.T) {
	d := NewDecoder(3)
	bulk, _, err := d.Decode([]byte("$-1\r\n"))
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	arr, _, err := d.Decode([]byte("*-1\r\n"))
	if err != nil {
		t.Fatalf("arr: %v", err)
	}
	if !bulk.IsNull() || bulk.Kind != KindBulkBytes {
		t.Fatalf("expected null bulk, got %+v", bulk)
	}
	if !arr.IsNull() || arr.Kind != KindArray {
		t.Fatalf("expected null array, got %+v", arr)
	}
}

func TestDecodeZeroLengthBulkIsNotNull(t *testing.T) {
	d := NewDecoder(3)
	v, n, err := d.Decode([]byte("$0\r\n\r\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Null {
		t.Fatalf("zero-length bulk must not be null")
	}
	if len(v.Bytes) != 0 {
		t.Fatalf("expected empty bytes, got %v", v.Bytes)
	}
	if n != 6 {
		t.Fatalf("consumed = %d, want 6", n)
	}
}

func TestBinarySafety(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	cmd := Command{Args: [][]byte{[]byte("SET"), []byte("k"), payload}}
	wire := cmd.Encode(nil)

	d := NewDecoder(3)
	v, n, err := d.Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d want %d", n, len(wire))
	}
	if v.Kind != KindArray || len(v.Arr) != 3 {
		t.Fatalf("unexpected shape: %+v", v)
	}
	if !bytes.Equal(v.Arr[2].Bytes, payload) {
		t.Fatalf("binary payload mismatch")
	}
}

func TestIncrementalSafety(t *testing.T) {
	full := []byte("*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	d := NewDecoder(3)
	for k := 0; k < len(full); k++ {
		_, _, err := d.Decode(full[:k])
		if err != ErrIncomplete {
			t.Fatalf("prefix length %d: expected ErrIncomplete, got %v", k, err)
		}
	}
	v, n, err := d.Decode(full)
	if err != nil {
		t.Fatalf("full decode: %v", err)
	}
	if n != len(full) {
		t.Fatalf("consumed %d want %d", n, len(full))
	}
	if v.Kind != KindArray || len(v.Arr) != 2 {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestDecodeMapMarkerBooleanDouble(t *testing.T) {
	d := NewDecoder(3)

	m, _, err := d.Decode([]byte("%1\r\n+server\r\n+redisx\r\n"))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if v, ok := m.MapLookup("server"); !ok || v.Str != "redisx" {
		t.Fatalf("map lookup failed: %+v", m)
	}

	b, _, err := d.Decode([]byte("#t\r\n"))
	if err != nil {
		t.Fatalf("bool: %v", err)
	}
	if !b.Bool() {
		t.Fatalf("expected true")
	}

	dbl, _, err := d.Decode([]byte(",inf\r\n"))
	if err != nil {
		t.Fatalf("double: %v", err)
	}
	if !math.IsInf(dbl.Num, 1) {
		t.Fatalf("expected +inf, got %v", dbl.Num)
	}
}

func TestProtocolMismatchUnderV2(t *testing.T) {
	d := NewDecoder(2)
	_, _, err := d.Decode([]byte("%1\r\n+a\r\n+b\r\n"))
	var de *DecodeError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asDecodeError(err, &de) || de.Kind != ProtocolMismatch {
		t.Fatalf("expected ProtocolMismatch, got %v", err)
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}

func TestPushFrame(t *testing.T) {
	d := NewDecoder(3)
	v, _, err := d.Decode([]byte(">2\r\n$7\r\nmessage\r\n$2\r\nhi\r\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Kind != KindPush || len(v.Arr) != 2 || string(v.Arr[0].Bytes) != "message" {
		t.Fatalf("unexpected push value: %+v", v)
	}
}

func TestVerbatimString(t *testing.T) {
	d := NewDecoder(3)
	v, _, err := d.Decode([]byte("=9\r\ntxt:hello\r\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.VerbatimTag != "txt" || string(v.Bytes) != "hello" {
		t.Fatalf("unexpected verbatim: %+v", v)
	}
}

func TestBigNumber(t *testing.T) {
	d := NewDecoder(3)
	v, _, err := d.Decode([]byte("(3492890328409238509324850943850943825024385\r\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Kind != KindBigNumber || len(v.Bytes) == 0 {
		t.Fatalf("unexpected bignumber: %+v", v)
	}
}

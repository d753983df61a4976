// Package resp implements the wire protocol codec: a length-prefixed, typed
// binary protocol (version 3, a superset of version 2). The codec is pure —
// the encoder writes directly into a caller-supplied buffer and the decoder's
// byte-slice payloads borrow from the buffer it is given.
package resp

import "fmt"

// Kind identifies the concrete shape stored in a Value.
type Kind uint8

const (
	KindSimpleString Kind = iota
	KindError
	KindInteger
	KindBulkBytes
	KindArray
	KindMap
	KindSet
	KindDouble
	KindBoolean
	KindBigNumber
	KindNull
	KindVerbatimString
	KindPush
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "SimpleString"
	case KindError:
		return "Error"
	case KindInteger:
		return "Integer"
	case KindBulkBytes:
		return "BulkBytes"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	case KindSet:
		return "Set"
	case KindDouble:
		return "Double"
	case KindBoolean:
		return "Boolean"
	case KindBigNumber:
		return "BigNumber"
	case KindNull:
		return "Null"
	case KindVerbatimString:
		return "VerbatimString"
	case KindPush:
		return "Push"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Pair is one (key, value) entry of a Map value, in wire order.
type Pair struct {
	Key Value
	Val Value
}

// Value is a decoded protocol value. Only the fields relevant to Kind are
// populated; zero values elsewhere are not meaningful.
//
// BulkBytes and Array distinguish null from empty: Null==true with
// Kind==KindBulkBytes is a null bulk string, Null==true with Kind==KindArray
// is a null array. A zero-length (non-null) bulk decodes with Null==false
// and len(Bytes)==0.
type Value struct {
	Kind Kind

	Str   string  // SimpleString
	Err   *Error  // Error
	Int   int64   // Integer, Boolean (0/1)
	Bytes []byte  // BulkBytes, VerbatimString payload, BigNumber decimal text
	Arr   []Value // Array, Set, Push
	Map   []Pair  // Map
	Num   float64 // Double
	Null  bool    // BulkBytes / Array null marker

	VerbatimTag string // 3-char format tag for VerbatimString
}

// Error is the decoded shape of a protocol error reply.
type Error struct {
	Prefix  string // first whitespace-delimited token, e.g. "WRONGTYPE"
	Message string
}

func (e *Error) Error() string {
	if e.Prefix == "" {
		return e.Message
	}
	return e.Prefix + " " + e.Message
}

// Bool reports the boolean value of a KindBoolean Value.
func (v Value) Bool() bool { return v.Int != 0 }

// IsNull reports whether v is a null bulk string or null array/map/set.
func (v Value) IsNull() bool {
	return v.Null && (v.Kind == KindBulkBytes || v.Kind == KindArray || v.Kind == KindMap || v.Kind == KindSet)
}

func SimpleString(s string) Value { return Value{Kind: KindSimpleString, Str: s} }

func Integer(n int64) Value { return Value{Kind: KindInteger, Int: n} }

func Bulk(b []byte) Value {
	if b == nil {
		return Value{Kind: KindBulkBytes, Null: true}
	}
	return Value{Kind: KindBulkBytes, Bytes: b}
}

func NullBulk() Value { return Value{Kind: KindBulkBytes, Null: true} }

func NullArray() Value { return Value{Kind: KindArray, Null: true} }

func Array(vs []Value) Value { return Value{Kind: KindArray, Arr: vs} }

func SetValue(vs []Value) Value { return Value{Kind: KindSet, Arr: vs} }

func MapValue(pairs []Pair) Value { return Value{Kind: KindMap, Map: pairs} }

func Double(f float64) Value { return Value{Kind: KindDouble, Num: f} }

func Boolean(b bool) Value {
	v := Value{Kind: KindBoolean}
	if b {
		v.Int = 1
	}
	return v
}

func BigNumber(decimal string) Value { return Value{Kind: KindBigNumber, Bytes: []byte(decimal)} }

func Null() Value { return Value{Kind: KindNull} }

func Verbatim(tag string, b []byte) Value {
	return Value{Kind: KindVerbatimString, VerbatimTag: tag, Bytes: b}
}

func Push(vs []Value) Value { return Value{Kind: KindPush, Arr: vs} }

func ErrValue(prefix, message string) Value {
	return Value{Kind: KindError, Err: &Error{Prefix: prefix, Message: message}}
}

// MapLookup returns the value paired with a SimpleString/BulkBytes key equal
// to name, per §4.3's "parse as Map and look up known keys by name" decision.
func (v Value) MapLookup(name string) (Value, bool) {
	for _, p := range v.Map {
		var key string
		switch p.Key.Kind {
		case KindSimpleString:
			key = p.Key.Str
		case KindBulkBytes:
			key = string(p.Key.Bytes)
		default:
			continue
		}
		if key == name {
			return p.Val, true
		}
	}
	return Value{}, false
}

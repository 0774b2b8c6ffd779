// Package item defines the schema-less data model shared by every layer:
// attribute values, items, row keys and table snapshots.
package item

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBinary
	KindList
	KindMap
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for c := KindNull; c <= KindSet; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", b)
}

// Value is a tagged union over the attribute types a DynamoDB item can hold.
// The zero Value is Null. Values are immutable once built.
type Value struct {
	kind Kind
	b    bool
	n    decimal.Decimal
	s    string
	bin  []byte
	list []Value
	m    map[string]Value
}

// Null returns the explicit null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value with exact decimal precision.
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, n: d} }

// Int returns a numeric value from an integer.
func Int(i int64) Value { return Number(decimal.NewFromInt(i)) }

// ParseNumber parses the textual form DynamoDB uses for numbers.
func ParseNumber(s string) (Value, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Number(d), nil
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Binary returns a binary value. The slice is copied.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, bin: bytes.Clone(b)}
}

// List returns an ordered list value.
func List(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindList, list: vs}
}

// Map returns a nested map value.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Set returns a DynamoDB set. Elements must be non-empty, unique and all of
// the same scalar kind (string, number or binary).
func Set(vs ...Value) (Value, error) {
	if len(vs) == 0 {
		return Value{}, fmt.Errorf("%w: empty set", ErrInvalidSet)
	}
	elem := vs[0].kind
	if elem != KindString && elem != KindNumber && elem != KindBinary {
		return Value{}, fmt.Errorf("%w: %s elements", ErrInvalidSet, elem)
	}
	seen := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		if v.kind != elem {
			return Value{}, fmt.Errorf("%w: mixed %s and %s elements", ErrInvalidSet, elem, v.kind)
		}
		k := v.scalarKey()
		if _, dup := seen[k]; dup {
			return Value{}, fmt.Errorf("%w: duplicate element %s", ErrInvalidSet, v)
		}
		seen[k] = struct{}{}
	}
	return Value{kind: KindSet, list: vs}, nil
}

// StringSet is a convenience for Set over string elements.
func StringSet(ss ...string) (Value, error) {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return Set(vs...)
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the explicit null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload (false for other kinds).
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the numeric payload (zero for other kinds).
func (v Value) AsNumber() decimal.Decimal { return v.n }

// AsString returns the string payload (empty for other kinds).
func (v Value) AsString() string { return v.s }

// AsBinary returns a copy of the binary payload.
func (v Value) AsBinary() []byte { return bytes.Clone(v.bin) }

// Elems returns the elements of a List or Set.
func (v Value) Elems() []Value { return v.list }

// Fields returns the entries of a Map.
func (v Value) Fields() map[string]Value { return v.m }

// ElemKind returns the element kind of a Set, or KindNull otherwise.
func (v Value) ElemKind() Kind {
	if v.kind != KindSet || len(v.list) == 0 {
		return KindNull
	}
	return v.list[0].kind
}

// Equal reports structural equality: numbers by value, maps regardless of
// key order and sets regardless of element order.
func (v Value) Equal(o Value) bool {
	return Equal(v, o)
}

// Equal reports whether a and b hold structurally equal values.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n.Equal(b.n)
	case KindString:
		return a.s == b.s
	case KindBinary:
		return bytes.Equal(a.bin, b.bin)
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindSet:
		if a.ElemKind() != b.ElemKind() || len(a.list) != len(b.list) {
			return false
		}
		ak, bk := a.setKeys(), b.setKeys()
		for i := range ak {
			if ak[i] != bk[i] {
				return false
			}
		}
		return true
	}
	return false
}

// scalarKey is a canonical text form of a scalar, used for set membership.
func (v Value) scalarKey() string {
	switch v.kind {
	case KindNumber:
		return v.n.String()
	case KindBinary:
		return base64.StdEncoding.EncodeToString(v.bin)
	default:
		return v.s
	}
}

func (v Value) setKeys() []string {
	keys := make([]string, len(v.list))
	for i, e := range v.list {
		keys[i] = e.scalarKey()
	}
	sort.Strings(keys)
	return keys
}

// String renders v for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return v.n.String()
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBinary:
		return fmt.Sprintf("<binary %d bytes>", len(v.bin))
	case KindList, KindSet:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		if v.kind == KindSet {
			return "<<" + strings.Join(parts, ", ") + ">>"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		names := make([]string, 0, len(v.m))
		for k := range v.m {
			names = append(names, k)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, k := range names {
			parts[i] = fmt.Sprintf("%q: %s", k, v.m[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "?"
}

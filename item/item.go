package item

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingKey is returned when an item has no value for the key attribute.
	ErrMissingKey = errors.New("item: key attribute missing")

	// ErrInvalidKey is returned when the key attribute is null or not a string or number.
	ErrInvalidKey = errors.New("item: key attribute must be a string or number")

	// ErrDuplicateKey is returned when two items of one snapshot share a key.
	ErrDuplicateKey = errors.New("item: duplicate key in snapshot")

	// ErrInvalidSet is returned when set elements are empty, mixed or duplicated.
	ErrInvalidSet = errors.New("item: invalid set")
)

// Item is one schema-less record: attribute name to value.
type Item map[string]Value

// Clone returns a shallow copy of the attribute map. Values are immutable,
// so the copy can be modified independently.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// Equal reports whether both items hold the same attribute names with
// structurally equal values.
func (it Item) Equal(o Item) bool {
	if len(it) != len(o) {
		return false
	}
	for k, v := range it {
		ov, ok := o[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// Names returns the attribute names of it in sorted order.
func (it Item) Names() []string {
	names := make([]string, 0, len(it))
	for k := range it {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Key identifies a row within a table. Numeric keys are stored in
// canonical form so 1 and 1.0 address the same row.
type Key struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// StringKey returns a key for a string partition key.
func StringKey(s string) Key { return Key{Kind: KindString, Text: s} }

// NumberKey returns a key for a numeric partition key.
func NumberKey(d decimal.Decimal) Key { return Key{Kind: KindNumber, Text: d.String()} }

// KeyFromValue converts a key attribute value into a Key.
func KeyFromValue(v Value) (Key, error) {
	switch v.kind {
	case KindString:
		return StringKey(v.s), nil
	case KindNumber:
		return NumberKey(v.n), nil
	default:
		return Key{}, fmt.Errorf("%w: got %s", ErrInvalidKey, v.kind)
	}
}

// KeyOf extracts the key of it under the given key attribute.
func KeyOf(it Item, keyAttr string) (Key, error) {
	v, ok := it[keyAttr]
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrMissingKey, keyAttr)
	}
	return KeyFromValue(v)
}

// Value returns the attribute value a key was built from.
func (k Key) Value() Value {
	if k.Kind == KindNumber {
		return Number(decimal.RequireFromString(k.Text))
	}
	return String(k.Text)
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k.Kind == KindNull && k.Text == "" }

func (k Key) String() string {
	if k.Kind == KindNumber {
		return k.Text
	}
	return fmt.Sprintf("%q", k.Text)
}

// Less orders keys: numbers before strings, numbers by value, strings
// lexically.
func (k Key) Less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if k.Kind == KindNumber {
		return decimal.RequireFromString(k.Text).LessThan(decimal.RequireFromString(o.Text))
	}
	return k.Text < o.Text
}

// SortKeys sorts keys in place using Key.Less.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Snapshot is the content of a whole table at one point in time.
type Snapshot struct {
	// KeyAttribute is the name of the partition key attribute.
	KeyAttribute string

	// Items holds the rows in display order.
	Items []Item

	// Columns is the union of attribute names over Items, key column first.
	Columns []string

	// Origins maps the key of an edited row to the baseline key it was
	// derived from. Only rows whose key cell was edited need an entry.
	Origins map[Key]Key
}

// NewSnapshot builds a snapshot and computes its union schema.
func NewSnapshot(keyAttr string, items []Item) Snapshot {
	return Snapshot{
		KeyAttribute: keyAttr,
		Items:        items,
		Columns:      Columns(keyAttr, items),
	}
}

// Columns returns the union of attribute names across items: the key
// attribute first, then the remaining names sorted.
func Columns(keyAttr string, items []Item) []string {
	seen := map[string]struct{}{keyAttr: {}}
	var rest []string
	for _, it := range items {
		for name := range it {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append([]string{keyAttr}, rest...)
}

// Len returns the number of rows.
func (s Snapshot) Len() int { return len(s.Items) }

// Index maps every row key to its item. It fails on rows without a valid
// key and on duplicate keys.
func (s Snapshot) Index() (map[Key]Item, error) {
	idx := make(map[Key]Item, len(s.Items))
	for i, it := range s.Items {
		k, err := KeyOf(it, s.KeyAttribute)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if _, dup := idx[k]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, k)
		}
		idx[k] = it
	}
	return idx, nil
}

// Get returns the row with key k.
func (s Snapshot) Get(k Key) (Item, bool) {
	for _, it := range s.Items {
		if ik, err := KeyOf(it, s.KeyAttribute); err == nil && ik == k {
			return it, true
		}
	}
	return nil, false
}

// Clone returns a copy of s whose slices and maps can be modified
// independently.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		KeyAttribute: s.KeyAttribute,
		Items:        make([]Item, len(s.Items)),
		Columns:      append([]string(nil), s.Columns...),
	}
	for i, it := range s.Items {
		out.Items[i] = it.Clone()
	}
	if s.Origins != nil {
		out.Origins = make(map[Key]Key, len(s.Origins))
		for k, v := range s.Origins {
			out.Origins[k] = v
		}
	}
	return out
}

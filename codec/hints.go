package codec

import (
	"fmt"

	"github.com/mrtj/dynamodb-connection/item"
)

// ColumnType is the type a grid column is expected to hold. Free-text
// cells are coerced to it on decode.
type ColumnType uint8

const (
	// ColumnAuto is used for empty and mixed-type columns; text stays text.
	ColumnAuto ColumnType = iota
	ColumnString
	ColumnNumber
	ColumnBool
	ColumnNested
	ColumnSet
	ColumnBinary
)

var columnTypeNames = [...]string{
	ColumnAuto:   "auto",
	ColumnString: "string",
	ColumnNumber: "number",
	ColumnBool:   "bool",
	ColumnNested: "nested",
	ColumnSet:    "set",
	ColumnBinary: "binary",
}

func (t ColumnType) String() string {
	if int(t) < len(columnTypeNames) {
		return columnTypeNames[t]
	}
	return fmt.Sprintf("column(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ColumnType) UnmarshalText(b []byte) error {
	for i, name := range columnTypeNames {
		if name == string(b) {
			*t = ColumnType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown column type %q", b)
}

// Hints maps column names to their expected type.
type Hints map[string]ColumnType

// ColumnTypeOf returns the column type that holds values of kind k.
func ColumnTypeOf(k item.Kind) ColumnType {
	switch k {
	case item.KindString:
		return ColumnString
	case item.KindNumber:
		return ColumnNumber
	case item.KindBool:
		return ColumnBool
	case item.KindList, item.KindMap:
		return ColumnNested
	case item.KindSet:
		return ColumnSet
	case item.KindBinary:
		return ColumnBinary
	default:
		return ColumnAuto
	}
}

// InferHints derives a type per column from the non-null values of the
// snapshot. Columns whose values disagree, or that hold no values, are Auto.
func InferHints(s item.Snapshot) Hints {
	columns := s.Columns
	if columns == nil {
		columns = item.Columns(s.KeyAttribute, s.Items)
	}
	hints := make(Hints, len(columns))
	for _, col := range columns {
		t, seen := ColumnAuto, false
		for _, it := range s.Items {
			v, ok := it[col]
			if !ok || v.IsNull() {
				continue
			}
			ct := ColumnTypeOf(v.Kind())
			if !seen {
				t, seen = ct, true
				continue
			}
			if ct != t {
				t = ColumnAuto
				break
			}
		}
		hints[col] = t
	}
	return hints
}

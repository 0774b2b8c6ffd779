// Package codec converts items to the flat cell representation of an
// editable grid and parses edited cells back into items.
//
// # Empty cells
//
// The grid cannot tell "no value" from "empty string", so the codec
// keeps the two apart explicitly:
//
//   - [Remove] (an Empty cell) always removes the attribute.
//   - [TextCell]("") sets an empty string when the row's prior value was a
//     string; when the prior value was absent or of another kind it is a
//     removal too.
//   - A Null cell round-trips to an explicit NULL attribute.
//
// # Nested values
//
// Maps, lists and sets are edited as canonical JSON text. Numbers are
// written as exact decimal literals, binary blobs nested in documents as
// {"$binary": "<base64>"} and sets as {"$set": [...]}.
package codec

import (
	"fmt"
)

// CellKind is the display type of a grid cell.
type CellKind uint8

const (
	CellEmpty CellKind = iota
	CellNull
	CellText
	CellNumber
	CellBool
	CellJSON
	CellBinary
)

var cellKindNames = [...]string{
	CellEmpty:  "empty",
	CellNull:   "null",
	CellText:   "text",
	CellNumber: "number",
	CellBool:   "bool",
	CellJSON:   "json",
	CellBinary: "binary",
}

func (k CellKind) String() string {
	if int(k) < len(cellKindNames) {
		return cellKindNames[k]
	}
	return fmt.Sprintf("cell(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k CellKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CellKind) UnmarshalText(b []byte) error {
	for i, name := range cellKindNames {
		if name == string(b) {
			*k = CellKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown cell kind %q", b)
}

// Cell is the displayable form of one attribute of one row.
type Cell struct {
	Kind CellKind `json:"kind"`

	// Text holds string content, the exact decimal text of numbers, the JSON
	// text of nested values and the placeholder of binary cells.
	Text string `json:"text,omitempty"`

	Bool bool `json:"bool,omitempty"`

	// Float is the float64 rendering of a number cell, filled only when
	// Options.FloatDisplay is set. Lossy flags that Float is inexact.
	Float float64 `json:"float,omitempty"`
	Lossy bool    `json:"lossy,omitempty"`

	// ReadOnly marks cells the grid must not let the user edit.
	ReadOnly bool `json:"readOnly,omitempty"`
}

// Row is one grid row: attribute name to cell. Attributes the item does
// not have are simply missing.
type Row map[string]Cell

// Remove returns the removal sentinel: decoding it deletes the attribute.
func Remove() Cell { return Cell{Kind: CellEmpty} }

// NullCell returns a cell holding an explicit NULL.
func NullCell() Cell { return Cell{Kind: CellNull} }

// TextCell returns a free-text cell. Text cells are coerced to the column's
// type on decode.
func TextCell(s string) Cell { return Cell{Kind: CellText, Text: s} }

// NumberCell returns a number cell from its decimal text.
func NumberCell(s string) Cell { return Cell{Kind: CellNumber, Text: s} }

// BoolCell returns a boolean cell.
func BoolCell(b bool) Cell { return Cell{Kind: CellBool, Bool: b} }

// JSONCell returns a nested-value cell from its JSON text.
func JSONCell(s string) Cell { return Cell{Kind: CellJSON, Text: s} }

// Display returns the text a grid shows for c.
func (c Cell) Display() string {
	switch c.Kind {
	case CellEmpty, CellNull:
		return ""
	case CellBool:
		if c.Bool {
			return "true"
		}
		return "false"
	default:
		return c.Text
	}
}

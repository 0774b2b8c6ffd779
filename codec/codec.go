package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mrtj/dynamodb-connection/item"
)

// Options controls how values are rendered into cells.
type Options struct {
	// FloatDisplay fills Cell.Float for number cells, for grid widgets that
	// can only show float64. Inexact renderings are flagged with Cell.Lossy.
	FloatDisplay bool
}

// Codec converts between items and grid rows of one table.
type Codec struct {
	KeyAttribute string
	Options      Options
}

// New returns a Codec for a table keyed by keyAttr.
func New(keyAttr string) Codec {
	return Codec{KeyAttribute: keyAttr}
}

// Encode renders every attribute of it as a cell.
func (c Codec) Encode(it item.Item) Row {
	row := make(Row, len(it))
	for name, v := range it {
		row[name] = c.EncodeValue(v)
	}
	return row
}

// EncodeValue renders a single value as a cell.
func (c Codec) EncodeValue(v item.Value) Cell {
	switch v.Kind() {
	case item.KindNull:
		return NullCell()
	case item.KindBool:
		return BoolCell(v.AsBool())
	case item.KindNumber:
		cell := NumberCell(v.AsNumber().String())
		if c.Options.FloatDisplay {
			f, exact := v.AsNumber().Float64()
			cell.Float = f
			cell.Lossy = !exact
		}
		return cell
	case item.KindString:
		return TextCell(v.AsString())
	case item.KindBinary:
		return Cell{
			Kind:     CellBinary,
			Text:     fmt.Sprintf("<binary %d bytes>", len(v.AsBinary())),
			ReadOnly: true,
		}
	default:
		return JSONCell(MarshalJSONValue(v))
	}
}

// Decode parses a row produced by Encode. Without a prior value the row
// is read literally: an empty text cell is the empty string, and only
// Remove cells and missing cells leave an attribute out.
func (c Codec) Decode(row Row, hints Hints) (item.Item, error) {
	return c.decodeRow(row, hints, nil, rowLiteral)
}

// DecodeEdit parses an edited row against the item it was rendered from.
// The prior value decides how empty cells are read and which type text
// cells are coerced to. Attributes of prior without a cell in row are kept.
//
// Cells that fail to decode keep their prior value (or are left out) and
// are reported as joined *CodecError values; the returned item is usable
// either way.
func (c Codec) DecodeEdit(row Row, hints Hints, prior item.Item) (item.Item, error) {
	return c.decodeRow(row, hints, prior, rowEdit)
}

type rowMode uint8

const (
	// rowLiteral reads Encode output without a prior item.
	rowLiteral rowMode = iota
	// rowEdit resolves cells against the prior item and keeps its
	// attributes that have no cell.
	rowEdit
	// rowNew is an added grid row: edit rules, nothing to keep.
	rowNew
)

func (c Codec) decodeRow(row Row, hints Hints, prior item.Item, mode rowMode) (item.Item, error) {
	label := c.rowLabel(row, prior)
	out := make(item.Item, len(row))
	var errs []error
	for name, cell := range row {
		pv, hadPrior := prior[name]
		v, present, err := decodeCell(cell, hints[name], pv, hadPrior, mode == rowLiteral)
		if err != nil {
			errs = append(errs, &CodecError{Row: label, Attribute: name, Text: cell.Display(), Err: err})
			if hadPrior {
				out[name] = pv
			}
			continue
		}
		if present {
			out[name] = v
		}
	}
	if mode == rowEdit {
		for name, pv := range prior {
			if _, ok := row[name]; !ok {
				out[name] = pv
			}
		}
	}
	if _, err := item.KeyOf(out, c.KeyAttribute); err != nil {
		errs = append(errs, &CodecError{Row: label, Attribute: c.KeyAttribute, Text: row[c.KeyAttribute].Display(), Err: err})
	}
	return out, errors.Join(errs...)
}

func (c Codec) rowLabel(row Row, prior item.Item) string {
	if cell, ok := row[c.KeyAttribute]; ok && cell.Display() != "" {
		return cell.Display()
	}
	if k, err := item.KeyOf(prior, c.KeyAttribute); err == nil {
		return k.Text
	}
	return "?"
}

func decodeCell(cell Cell, hint ColumnType, prior item.Value, hadPrior, literal bool) (item.Value, bool, error) {
	switch cell.Kind {
	case CellEmpty:
		return item.Value{}, false, nil
	case CellNull:
		return item.Null(), true, nil
	case CellBool:
		return item.Bool(cell.Bool), true, nil
	case CellNumber:
		if strings.TrimSpace(cell.Text) == "" {
			return item.Value{}, false, nil
		}
		v, err := item.ParseNumber(cell.Text)
		if err != nil {
			return item.Value{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return v, true, nil
	case CellJSON:
		if strings.TrimSpace(cell.Text) == "" {
			return item.Value{}, false, nil
		}
		return decodeNested(cell.Text, wantsSet(hint, prior, hadPrior))
	case CellBinary:
		return keepBinary(prior, hadPrior)
	case CellText:
		return coerceText(cell.Text, hint, prior, hadPrior, literal)
	default:
		return item.Value{}, false, fmt.Errorf("%w: unknown cell kind %s", ErrMalformed, cell.Kind)
	}
}

// coerceText converts free text typed into the grid to the type of the
// prior value, or to the column type for new attributes.
func coerceText(text string, hint ColumnType, prior item.Value, hadPrior, literal bool) (item.Value, bool, error) {
	target := hint
	if hadPrior && !prior.IsNull() {
		target = ColumnTypeOf(prior.Kind())
	}
	blank := text == ""
	if target != ColumnString && target != ColumnAuto {
		blank = strings.TrimSpace(text) == ""
	}

	if target == ColumnBinary {
		if blank && !hadPrior {
			return item.Value{}, false, nil
		}
		return keepBinary(prior, hadPrior)
	}

	if blank {
		switch {
		case hadPrior && prior.Kind() == item.KindString && text == "":
			return item.String(""), true, nil
		case literal && !hadPrior && text == "" && (target == ColumnString || target == ColumnAuto):
			return item.String(""), true, nil
		case hadPrior && prior.IsNull():
			return item.Null(), true, nil
		default:
			return item.Value{}, false, nil
		}
	}

	switch target {
	case ColumnNumber:
		v, err := item.ParseNumber(text)
		if err != nil {
			return item.Value{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return v, true, nil
	case ColumnBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return item.Value{}, false, fmt.Errorf("%w: invalid boolean %q", ErrMalformed, text)
		}
		return item.Bool(b), true, nil
	case ColumnNested, ColumnSet:
		return decodeNested(text, target == ColumnSet)
	default:
		return item.String(text), true, nil
	}
}

func wantsSet(hint ColumnType, prior item.Value, hadPrior bool) bool {
	if hadPrior && !prior.IsNull() {
		return prior.Kind() == item.KindSet
	}
	return hint == ColumnSet
}

func decodeNested(text string, asSet bool) (item.Value, bool, error) {
	v, err := UnmarshalJSONValue(text)
	if err != nil {
		return item.Value{}, false, err
	}
	if asSet && v.Kind() == item.KindList {
		v, err = toSet(v.Elems())
		if err != nil {
			return item.Value{}, false, err
		}
	}
	return v, true, nil
}

func keepBinary(prior item.Value, hadPrior bool) (item.Value, bool, error) {
	if hadPrior && prior.Kind() == item.KindBinary {
		return prior, true, nil
	}
	return item.Value{}, false, ErrReadOnly
}

package codec

import (
	"errors"
	"fmt"

	"github.com/mrtj/dynamodb-connection/item"
)

// Grid is a whole snapshot rendered for display.
type Grid struct {
	KeyAttribute string   `json:"keyAttribute"`
	Columns      []string `json:"columns"`
	Hints        Hints    `json:"hints"`
	Rows         []Row    `json:"rows"`

	// Keys holds the key of each row, in row order. Clients send it back
	// as EditedRow.Origin.
	Keys []item.Key `json:"keys"`
}

// EditedRow is one row of an edited grid.
type EditedRow struct {
	// Origin is the key of the baseline row these cells were rendered
	// from. It is nil for rows added in the grid.
	Origin *item.Key `json:"origin,omitempty"`

	// ByKey makes a row without Origin address the baseline row carrying
	// the same key, as when a table is imported from a file.
	ByKey bool `json:"byKey,omitempty"`

	Cells Row `json:"cells"`
}

// EncodeSnapshot renders every row of s.
func (c Codec) EncodeSnapshot(s item.Snapshot) Grid {
	columns := s.Columns
	if columns == nil {
		columns = item.Columns(s.KeyAttribute, s.Items)
	}
	g := Grid{
		KeyAttribute: s.KeyAttribute,
		Columns:      columns,
		Hints:        InferHints(s),
		Rows:         make([]Row, 0, len(s.Items)),
		Keys:         make([]item.Key, 0, len(s.Items)),
	}
	for _, it := range s.Items {
		k, _ := item.KeyOf(it, s.KeyAttribute)
		g.Rows = append(g.Rows, c.Encode(it))
		g.Keys = append(g.Keys, k)
	}
	return g
}

// DecodeGrid parses an edited grid into a snapshot against the baseline
// it was rendered from. Rows whose key cell changed are linked to their
// baseline key through Snapshot.Origins.
//
// A row whose key cannot be read, or whose key is already taken by an
// earlier row, reverts to its baseline item; a new row in that state is
// dropped. All failures are returned joined; the snapshot is always
// usable.
func (c Codec) DecodeGrid(baseline item.Snapshot, hints Hints, rows []EditedRow) (item.Snapshot, error) {
	idx, err := baseline.Index()
	if err != nil {
		return item.Snapshot{}, fmt.Errorf("codec: baseline: %w", err)
	}
	if hints == nil {
		hints = InferHints(baseline)
	}

	var (
		errs    []error
		items   = make([]item.Item, 0, len(rows))
		origins = make(map[item.Key]item.Key)
		used    = make(map[item.Key]struct{}, len(rows))
	)
	for i, r := range rows {
		var (
			prior     item.Item
			origin    item.Key
			hasOrigin bool
		)
		switch {
		case r.Origin != nil:
			if p, ok := idx[*r.Origin]; ok {
				prior, origin, hasOrigin = p, *r.Origin, true
			}
		case r.ByKey:
			if k, ok := c.peekKey(r.Cells, hints); ok {
				if p, ok := idx[k]; ok {
					prior, origin, hasOrigin = p, k, true
				}
			}
		}

		mode := rowNew
		if hasOrigin {
			mode = rowEdit
		}
		it, err := c.decodeRow(r.Cells, hints, prior, mode)
		if err != nil {
			for _, ce := range Errors(err) {
				if ce.Row == "?" {
					ce.Row = fmt.Sprintf("#%d", i)
				}
			}
			errs = append(errs, err)
		}

		key, err := item.KeyOf(it, c.KeyAttribute)
		if err != nil {
			// Already reported by decodeRow.
			if !hasOrigin {
				continue
			}
			it, key = prior.Clone(), origin
		}
		if _, dup := used[key]; dup {
			errs = append(errs, &CodecError{
				Row:       key.Text,
				Attribute: c.KeyAttribute,
				Text:      r.Cells[c.KeyAttribute].Display(),
				Err:       item.ErrDuplicateKey,
			})
			if _, taken := used[origin]; !hasOrigin || taken {
				continue
			}
			it, key = prior.Clone(), origin
		}

		if hasOrigin && key != origin {
			origins[key] = origin
		}
		used[key] = struct{}{}
		items = append(items, it)
	}

	snap := item.NewSnapshot(c.KeyAttribute, items)
	if len(origins) > 0 {
		snap.Origins = origins
	}
	return snap, errors.Join(errs...)
}

// peekKey decodes only the key cell of a row.
func (c Codec) peekKey(row Row, hints Hints) (item.Key, bool) {
	cell, ok := row[c.KeyAttribute]
	if !ok {
		return item.Key{}, false
	}
	v, present, err := decodeCell(cell, hints[c.KeyAttribute], item.Value{}, false, false)
	if err != nil || !present {
		return item.Key{}, false
	}
	k, err := item.KeyFromValue(v)
	if err != nil {
		return item.Key{}, false
	}
	return k, true
}

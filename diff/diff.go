// Package diff computes the row and attribute changes between two
// snapshots of a table.
package diff

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mrtj/dynamodb-connection/item"
)

// ErrKeyAttribute is returned when the snapshots disagree on the key
// attribute.
var ErrKeyAttribute = errors.New("diff: snapshots have different key attributes")

// Kind classifies a row change.
type Kind uint8

const (
	Inserted Kind = iota + 1
	Deleted
	Modified
)

func (k Kind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// AttrChange is the change of one attribute of a modified row.
type AttrChange struct {
	Old    item.Value
	HadOld bool
	New    item.Value

	// Remove means the attribute was deleted; New is unset.
	Remove bool
}

// Change is the change of one row.
type Change struct {
	Kind Kind
	Key  item.Key

	// Item is the edited row (Inserted, Modified).
	Item item.Item

	// Prior is the original row (Deleted, Modified).
	Prior item.Item

	// Attrs holds the differing attributes of a Modified row.
	Attrs map[string]AttrChange

	// RenamedFrom links an Inserted row to the Deleted row whose key was
	// edited into this one. RenamedTo is the reverse link.
	RenamedFrom *item.Key
	RenamedTo   *item.Key
}

// Diff is the set of changes between two snapshots, ordered by key.
type Diff struct {
	KeyAttribute string
	Changes      []Change
}

// Compute diffs edited against original. Rows only in edited are Inserted,
// rows only in original are Deleted and rows in both with at least one
// structurally different attribute are Modified. A key edit is a Deleted
// and an Inserted change linked through edited.Origins.
func Compute(original, edited item.Snapshot) (Diff, error) {
	if original.KeyAttribute != edited.KeyAttribute {
		return Diff{}, fmt.Errorf("%w: %q and %q", ErrKeyAttribute, original.KeyAttribute, edited.KeyAttribute)
	}
	before, err := original.Index()
	if err != nil {
		return Diff{}, fmt.Errorf("diff: original: %w", err)
	}
	after, err := edited.Index()
	if err != nil {
		return Diff{}, fmt.Errorf("diff: edited: %w", err)
	}

	d := Diff{KeyAttribute: original.KeyAttribute}
	for k, prior := range before {
		next, ok := after[k]
		if !ok {
			d.Changes = append(d.Changes, Change{Kind: Deleted, Key: k, Prior: prior})
			continue
		}
		if attrs := compareItems(prior, next); len(attrs) > 0 {
			d.Changes = append(d.Changes, Change{Kind: Modified, Key: k, Item: next, Prior: prior, Attrs: attrs})
		}
	}
	for k, next := range after {
		if _, ok := before[k]; !ok {
			d.Changes = append(d.Changes, Change{Kind: Inserted, Key: k, Item: next})
		}
	}
	d.linkRenames(edited.Origins)
	d.sort()
	return d, nil
}

func compareItems(prior, next item.Item) map[string]AttrChange {
	attrs := make(map[string]AttrChange)
	for name, old := range prior {
		v, ok := next[name]
		switch {
		case !ok:
			attrs[name] = AttrChange{Old: old, HadOld: true, Remove: true}
		case !old.Equal(v):
			attrs[name] = AttrChange{Old: old, HadOld: true, New: v}
		}
	}
	for name, v := range next {
		if _, ok := prior[name]; !ok {
			attrs[name] = AttrChange{New: v}
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// linkRenames pairs Inserted rows with the Deleted rows they were renamed
// from. Links whose counterpart is not a Deleted change are ignored.
func (d *Diff) linkRenames(origins map[item.Key]item.Key) {
	if len(origins) == 0 {
		return
	}
	deleted := make(map[item.Key]int)
	for i, c := range d.Changes {
		if c.Kind == Deleted {
			deleted[c.Key] = i
		}
	}
	for i := range d.Changes {
		c := &d.Changes[i]
		if c.Kind != Inserted {
			continue
		}
		from, ok := origins[c.Key]
		if !ok {
			continue
		}
		j, ok := deleted[from]
		if !ok || d.Changes[j].RenamedTo != nil {
			continue
		}
		to := c.Key
		c.RenamedFrom = &from
		d.Changes[j].RenamedTo = &to
	}
}

func (d *Diff) sort() {
	sort.SliceStable(d.Changes, func(i, j int) bool {
		a, b := d.Changes[i], d.Changes[j]
		if a.Key != b.Key {
			return a.Key.Less(b.Key)
		}
		return a.Kind < b.Kind
	})
}

// Empty reports whether there are no changes.
func (d Diff) Empty() bool { return len(d.Changes) == 0 }

// Keys returns the keys of all changes in order.
func (d Diff) Keys() []item.Key {
	keys := make([]item.Key, len(d.Changes))
	for i, c := range d.Changes {
		keys[i] = c.Key
	}
	return keys
}

// Subset returns the changes whose key is in keys.
func (d Diff) Subset(keys []item.Key) Diff {
	want := make(map[item.Key]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := Diff{KeyAttribute: d.KeyAttribute}
	for _, c := range d.Changes {
		if want[c.Key] {
			out.Changes = append(out.Changes, c)
		}
	}
	return out
}

// Count returns the number of changes of each kind.
func (d Diff) Count() (inserted, deleted, modified int) {
	for _, c := range d.Changes {
		switch c.Kind {
		case Inserted:
			inserted++
		case Deleted:
			deleted++
		case Modified:
			modified++
		}
	}
	return inserted, deleted, modified
}

// String renders one line per change, for logs and the CLI.
func (d Diff) String() string {
	var b strings.Builder
	for _, c := range d.Changes {
		fmt.Fprintf(&b, "%-8s %s", c.Kind, c.Key)
		switch {
		case c.RenamedFrom != nil:
			fmt.Fprintf(&b, " (renamed from %s)", c.RenamedFrom)
		case c.RenamedTo != nil:
			fmt.Fprintf(&b, " (renamed to %s)", c.RenamedTo)
		}
		b.WriteByte('\n')
		if c.Kind != Modified {
			continue
		}
		names := make([]string, 0, len(c.Attrs))
		for name := range c.Attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			a := c.Attrs[name]
			switch {
			case a.Remove:
				fmt.Fprintf(&b, "    - %s: %v\n", name, a.Old)
			case !a.HadOld:
				fmt.Fprintf(&b, "    + %s: %v\n", name, a.New)
			default:
				fmt.Fprintf(&b, "    ~ %s: %v -> %v\n", name, a.Old, a.New)
			}
		}
	}
	return b.String()
}

package reconcile

import (
	"errors"
	"fmt"

	"github.com/mrtj/dynamodb-connection/diff"
	"github.com/mrtj/dynamodb-connection/item"
)

// Failure is one row that could not be applied.
type Failure struct {
	Key  item.Key
	Op   diff.Kind
	Kind ErrorKind
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Op, f.Key, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report is the outcome of one Apply call.
type Report struct {
	CommitID  string
	Succeeded []item.Key
	Failed    []Failure

	// Pending holds the changes of the failed rows. They stay unsaved.
	Pending diff.Diff

	// written maps each succeeded key to the item as stored afterwards,
	// or nil when the row was deleted.
	written map[item.Key]item.Item
}

// OK reports whether every row was applied.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

// Written returns the stored item for a succeeded key. deleted is true
// when the row was removed.
func (r *Report) Written(k item.Key) (it item.Item, deleted, ok bool) {
	it, ok = r.written[k]
	return it, ok && it == nil, ok
}

// Err joins the failures, or returns nil.
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Rebase returns baseline with the succeeded rows replaced by their
// stored items. Failed rows keep their baseline item, so a later diff
// against the result shows them again.
func (r *Report) Rebase(baseline item.Snapshot) item.Snapshot {
	keyAttr := baseline.KeyAttribute
	seen := make(map[item.Key]bool, len(r.written))
	items := make([]item.Item, 0, len(baseline.Items)+len(r.written))
	for _, it := range baseline.Items {
		k, err := item.KeyOf(it, keyAttr)
		if err == nil {
			if w, ok := r.written[k]; ok {
				seen[k] = true
				if w != nil {
					items = append(items, w.Clone())
				}
				continue
			}
		}
		items = append(items, it.Clone())
	}

	var added []item.Key
	for k, w := range r.written {
		if !seen[k] && w != nil {
			added = append(added, k)
		}
	}
	item.SortKeys(added)
	for _, k := range added {
		items = append(items, r.written[k].Clone())
	}
	return item.NewSnapshot(keyAttr, items)
}

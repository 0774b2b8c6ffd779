// Package editor is the edit-commit entry point for a grid view of one
// table. It owns the baseline snapshot the grid is rendered from and
// serializes commits against it.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrtj/dynamodb-connection/codec"
	"github.com/mrtj/dynamodb-connection/diff"
	"github.com/mrtj/dynamodb-connection/item"
	"github.com/mrtj/dynamodb-connection/reconcile"
	"github.com/mrtj/dynamodb-connection/store"
)

// ErrNotLoaded is returned by operations that need a baseline before
// Load or Restore succeeded.
var ErrNotLoaded = errors.New("editor: baseline not loaded")

// ErrRemoteChange is reported for rows that changed in the table after
// the grid was rendered. It wraps store.ErrConflict.
var ErrRemoteChange = fmt.Errorf("%w: row changed remotely since it was loaded", store.ErrConflict)

// Source reads whole tables. *store.Store satisfies it.
type Source interface {
	TableName() string
	KeyAttribute() string
	Snapshot(ctx context.Context) (item.Snapshot, error)
}

// Applier writes diffs. *reconcile.Reconciler satisfies it.
type Applier interface {
	Apply(ctx context.Context, d diff.Diff) *reconcile.Report
}

// Persister keeps the baseline between sessions. *baseline.Store
// satisfies it.
type Persister interface {
	Save(table string, s item.Snapshot) error
	Load(table string) (item.Snapshot, error)
}

var (
	_ Source  = (*store.Store)(nil)
	_ Applier = (*reconcile.Reconciler)(nil)
)

// Options configures an Editor.
type Options struct {
	Codec codec.Options

	// Persist, if set, receives the baseline after every load and commit.
	Persist Persister
}

// Result is the outcome of a commit.
type Result struct {
	*reconcile.Report

	// Diff is what the edit changed relative to the baseline.
	Diff diff.Diff

	// CellErrors lists the cells that could not be decoded. Their rows
	// were committed with the cell's prior value.
	CellErrors []*codec.CodecError
}

// remote is a row image observed from the change feed.
type remote struct {
	item    item.Item
	deleted bool
}

func (r remote) matches(it item.Item, deleted bool) bool {
	if r.deleted || deleted {
		return r.deleted == deleted
	}
	return r.item.Equal(it)
}

const (
	echoRows   = 4096
	echoPerRow = 8
)

// Editor holds the baseline of one table.
type Editor struct {
	source  Source
	applier Applier
	codec   codec.Codec
	persist Persister
	logger  *slog.Logger

	mu       sync.Mutex
	loaded   bool
	baseline item.Snapshot
	stale    map[item.Key]remote

	// echoes holds the images recent commits wrote, per row, oldest
	// first, until the change feed delivers them back.
	echoes *lru.Cache[item.Key, []remote]
}

// New creates an Editor. Call Load or Restore before use.
func New(source Source, applier Applier, opts Options, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	c := codec.New(source.KeyAttribute())
	c.Options = opts.Codec
	echoes, _ := lru.New[item.Key, []remote](echoRows)
	return &Editor{
		source:  source,
		applier: applier,
		codec:   c,
		persist: opts.Persist,
		logger:  logger,
		stale:   make(map[item.Key]remote),
		echoes:  echoes,
	}
}

// Load scans the table and makes the result the baseline.
func (e *Editor) Load(ctx context.Context) error {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("editor: load: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline = snap
	e.loaded = true
	clear(e.stale)
	e.echoes.Purge()
	e.save()
	e.logger.Info("editor: loaded", "table", e.source.TableName(), "rows", snap.Len())
	return nil
}

// Restore makes the persisted baseline current without scanning.
func (e *Editor) Restore() error {
	if e.persist == nil {
		return fmt.Errorf("editor: restore: no persister configured")
	}
	snap, err := e.persist.Load(e.source.TableName())
	if err != nil {
		return fmt.Errorf("editor: restore: %w", err)
	}
	if snap.KeyAttribute != e.source.KeyAttribute() {
		return fmt.Errorf("editor: restore: saved key attribute %q, table has %q", snap.KeyAttribute, e.source.KeyAttribute())
	}
	if _, err := snap.Index(); err != nil {
		return fmt.Errorf("editor: restore: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline = snap
	e.loaded = true
	clear(e.stale)
	e.echoes.Purge()
	e.logger.Info("editor: restored", "table", e.source.TableName(), "rows", snap.Len())
	return nil
}

// Baseline returns a copy of the current baseline.
func (e *Editor) Baseline() (item.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return item.Snapshot{}, ErrNotLoaded
	}
	return e.baseline.Clone(), nil
}

// Grid renders the baseline for display.
func (e *Editor) Grid() (codec.Grid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return codec.Grid{}, ErrNotLoaded
	}
	return e.codec.EncodeSnapshot(e.baseline), nil
}

// Codec returns the codec grids are rendered with.
func (e *Editor) Codec() codec.Codec { return e.codec }

// Commit decodes an edited grid and writes what changed. Cells that fail
// to decode keep their prior value and are listed in the result; they
// never abort the commit. hints may be nil to infer them from the
// baseline.
func (e *Editor) Commit(ctx context.Context, rows []codec.EditedRow, hints codec.Hints) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, ErrNotLoaded
	}
	edited, err := e.codec.DecodeGrid(e.baseline, hints, rows)
	cellErrs := codec.Errors(err)
	if err != nil && len(cellErrs) == 0 {
		return nil, fmt.Errorf("editor: %w", err)
	}
	res, err := e.commit(ctx, edited)
	if err != nil {
		return nil, err
	}
	res.CellErrors = cellErrs
	return res, nil
}

// CommitSnapshot writes the difference between the baseline and edited.
func (e *Editor) CommitSnapshot(ctx context.Context, edited item.Snapshot) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, ErrNotLoaded
	}
	return e.commit(ctx, edited)
}

// Diff returns the difference between the baseline and edited without
// writing anything.
func (e *Editor) Diff(edited item.Snapshot) (diff.Diff, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return diff.Diff{}, ErrNotLoaded
	}
	return diff.Compute(e.baseline, edited)
}

func (e *Editor) commit(ctx context.Context, edited item.Snapshot) (*Result, error) {
	d, err := diff.Compute(e.baseline, edited)
	if err != nil {
		return nil, fmt.Errorf("editor: %w", err)
	}

	blocked := e.blocked(d)
	var apply diff.Diff
	if len(blocked) == 0 {
		apply = d
	} else {
		apply = diff.Diff{KeyAttribute: d.KeyAttribute}
		for _, c := range d.Changes {
			if _, ok := blocked[c.Key]; !ok {
				apply.Changes = append(apply.Changes, c)
			}
		}
	}

	report := e.applier.Apply(ctx, apply)
	if len(blocked) > 0 {
		mergeBlocked(report, d, blocked)
	}

	e.rememberWrites(report)
	e.baseline = report.Rebase(e.baseline)
	e.refreshStale()
	e.save()

	return &Result{Report: report, Diff: d}, nil
}

// blocked returns the changes that must not be written because their
// row changed remotely, with the failure to report for each. The other
// half of a rename shares the fate of a blocked row.
func (e *Editor) blocked(d diff.Diff) map[item.Key]reconcile.Failure {
	out := make(map[item.Key]reconcile.Failure)
	if len(e.stale) == 0 {
		return out
	}
	for _, c := range d.Changes {
		if _, ok := e.stale[c.Key]; ok {
			out[c.Key] = reconcile.Failure{Key: c.Key, Op: c.Kind, Kind: reconcile.KindConflict, Err: ErrRemoteChange}
		}
	}
	for _, c := range d.Changes {
		partner := c.RenamedTo
		if partner == nil {
			partner = c.RenamedFrom
		}
		if partner == nil {
			continue
		}
		if _, ok := out[*partner]; ok {
			if _, self := out[c.Key]; !self {
				out[c.Key] = reconcile.Failure{Key: c.Key, Op: c.Kind, Kind: reconcile.KindDependent, Err: reconcile.ErrDependent}
			}
		}
	}
	return out
}

func mergeBlocked(report *reconcile.Report, d diff.Diff, blocked map[item.Key]reconcile.Failure) {
	for _, f := range blocked {
		report.Failed = append(report.Failed, f)
	}
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Key.Less(report.Failed[j].Key)
	})
	keys := make([]item.Key, len(report.Failed))
	for i, f := range report.Failed {
		keys[i] = f.Key
	}
	report.Pending = d.Subset(keys)
}

// ObserveRemote records a row image written by someone else. The row's
// next edit fails with ErrRemoteChange and the baseline takes the image.
// Images equal to the baseline, or to one of the editor's recent
// writes, are ignored.
func (e *Editor) ObserveRemote(k item.Key, it item.Item, deleted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return
	}
	if e.ownEcho(k, it, deleted) {
		return
	}
	cur, ok := e.baseline.Get(k)
	switch {
	case deleted && !ok:
		delete(e.stale, k)
		return
	case !deleted && ok && cur.Equal(it):
		delete(e.stale, k)
		return
	}
	e.stale[k] = remote{item: it.Clone(), deleted: deleted}
	e.logger.Debug("editor: remote change", "key", k, "deleted", deleted)
}

// rememberWrites records what report wrote so the change feed's copy of
// it is not mistaken for a remote change.
func (e *Editor) rememberWrites(report *reconcile.Report) {
	for _, k := range report.Succeeded {
		it, deleted, ok := report.Written(k)
		if !ok {
			continue
		}
		prev, _ := e.echoes.Get(k)
		next := append(append([]remote(nil), prev...), remote{item: it.Clone(), deleted: deleted})
		if len(next) > echoPerRow {
			next = next[len(next)-echoPerRow:]
		}
		e.echoes.Add(k, next)
	}
}

// ownEcho reports whether an observed image is one of this editor's own
// writes. The matched write and the ones before it are forgotten.
func (e *Editor) ownEcho(k item.Key, it item.Item, deleted bool) bool {
	pending, ok := e.echoes.Get(k)
	if !ok {
		return false
	}
	for i, r := range pending {
		if !r.matches(it, deleted) {
			continue
		}
		if rest := pending[i+1:]; len(rest) > 0 {
			e.echoes.Add(k, rest)
		} else {
			e.echoes.Remove(k)
		}
		return true
	}
	return false
}

// Stale returns the keys observed to have changed remotely, in key order.
func (e *Editor) Stale() []item.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]item.Key, 0, len(e.stale))
	for k := range e.stale {
		keys = append(keys, k)
	}
	item.SortKeys(keys)
	return keys
}

// refreshStale folds the observed remote images into the baseline.
func (e *Editor) refreshStale() {
	if len(e.stale) == 0 {
		return
	}
	items := make([]item.Item, 0, len(e.baseline.Items)+len(e.stale))
	seen := make(map[item.Key]bool, len(e.stale))
	for _, it := range e.baseline.Items {
		k, err := item.KeyOf(it, e.baseline.KeyAttribute)
		if r, ok := e.stale[k]; err == nil && ok {
			seen[k] = true
			if !r.deleted {
				items = append(items, r.item)
			}
			continue
		}
		items = append(items, it)
	}
	var added []item.Key
	for k, r := range e.stale {
		if !seen[k] && !r.deleted {
			added = append(added, k)
		}
	}
	item.SortKeys(added)
	for _, k := range added {
		items = append(items, e.stale[k].item)
	}
	e.baseline = item.NewSnapshot(e.baseline.KeyAttribute, items)
	clear(e.stale)
}

func (e *Editor) save() {
	if e.persist == nil {
		return
	}
	if err := e.persist.Save(e.source.TableName(), e.baseline); err != nil {
		e.logger.Warn("editor: failed to persist baseline", "table", e.source.TableName(), "error", err)
	}
}

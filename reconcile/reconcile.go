// Package reconcile applies a diff to a table row by row.
//
// Rows are independent: each one is written with a single store call and
// succeeds or fails on its own. Writes fan out over a bounded worker pool
// and writes to the same key never overlap. A key rename is one task that
// deletes the old key before it inserts the new one; when the delete
// fails the insert is not issued.
//
// Canceling the context stops dispatch. Rows already handed to a worker
// run to completion.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mrtj/dynamodb-connection/diff"
	"github.com/mrtj/dynamodb-connection/internal/shard"
	"github.com/mrtj/dynamodb-connection/item"
	"github.com/mrtj/dynamodb-connection/store"
)

// Store is the part of the mapping façade the reconciler writes through.
// *store.Store satisfies it.
type Store interface {
	Put(ctx context.Context, k item.Key, it item.Item, conds ...store.Condition) (item.Item, error)
	Update(ctx context.Context, k item.Key, ch store.Changes, conds ...store.Condition) (item.Item, error)
	Delete(ctx context.Context, k item.Key, conds ...store.Condition) error
	VersionAttribute() string
}

var _ Store = (*store.Store)(nil)

// Reconciler applies diffs through a Store. It keeps no state between
// calls apart from its key locks.
type Reconciler struct {
	store  Store
	config Config
	logger *slog.Logger
	locks  *shard.Locks
}

// New creates a Reconciler.
func New(s Store, config Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	config.validate()
	return &Reconciler{
		store:  s,
		config: config,
		logger: logger,
		locks:  shard.NewLocks(config.LockStripes),
	}
}

// task is the unit of dispatch: one change, or the two halves of a rename.
type task struct {
	first  diff.Change
	second *diff.Change
}

func (t task) keys() []string {
	if t.second == nil {
		return []string{t.first.Key.String()}
	}
	return []string{t.first.Key.String(), t.second.Key.String()}
}

type outcome struct {
	change  diff.Change
	written item.Item
	err     error
}

// Apply writes every change of d and reports which rows succeeded.
func (r *Reconciler) Apply(ctx context.Context, d diff.Diff) *Report {
	start := time.Now()
	defer func() { ApplySeconds.Observe(time.Since(start).Seconds()) }()

	report := &Report{
		CommitID: uuid.NewString(),
		Pending:  diff.Diff{KeyAttribute: d.KeyAttribute},
		written:  make(map[item.Key]item.Item),
	}
	tasks := plan(d)
	results := xsync.NewMapOf[item.Key, outcome]()

	queue := make(chan task)
	done := make(chan struct{})
	workers := min(r.config.Concurrency, max(len(tasks), 1))
	// Dispatched rows must finish even if the commit is canceled.
	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for t := range queue {
				r.run(runCtx, t, results)
			}
		}()
	}

	var canceled []task
dispatch:
	for i, t := range tasks {
		if ctx.Err() != nil {
			canceled = tasks[i:]
			break
		}
		select {
		case queue <- t:
		case <-ctx.Done():
			canceled = tasks[i:]
			break dispatch
		}
	}
	close(queue)
	for i := 0; i < workers; i++ {
		<-done
	}

	for _, t := range canceled {
		results.Store(t.first.Key, outcome{change: t.first, err: ErrCanceled})
		if t.second != nil {
			results.Store(t.second.Key, outcome{change: *t.second, err: ErrCanceled})
		}
	}

	for _, c := range d.Changes {
		o, ok := results.Load(c.Key)
		if !ok {
			continue
		}
		if o.err == nil {
			report.Succeeded = append(report.Succeeded, c.Key)
			report.written[c.Key] = o.written
			continue
		}
		report.Failed = append(report.Failed, Failure{Key: c.Key, Op: c.Kind, Kind: KindOf(o.err), Err: o.err})
		report.Pending.Changes = append(report.Pending.Changes, c)
	}

	if len(canceled) > 0 {
		r.logger.Warn("reconcile: commit canceled before dispatch", "commit", report.CommitID, "undispatched", len(canceled))
	}
	r.logger.Info("reconcile: applied",
		"commit", report.CommitID,
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"duration", time.Since(start),
	)
	return report
}

// plan groups the changes of d into tasks, pairing the halves of renames.
func plan(d diff.Diff) []task {
	byKey := make(map[item.Key]int, len(d.Changes))
	for i, c := range d.Changes {
		byKey[c.Key] = i
	}
	paired := make(map[item.Key]bool)
	for _, c := range d.Changes {
		if c.Kind != diff.Deleted || c.RenamedTo == nil {
			continue
		}
		if i, ok := byKey[*c.RenamedTo]; ok && d.Changes[i].Kind == diff.Inserted {
			paired[*c.RenamedTo] = true
		}
	}

	tasks := make([]task, 0, len(d.Changes))
	for _, c := range d.Changes {
		switch {
		case c.Kind == diff.Inserted && paired[c.Key]:
			continue
		case c.Kind == diff.Deleted && c.RenamedTo != nil && paired[*c.RenamedTo]:
			ins := d.Changes[byKey[*c.RenamedTo]]
			tasks = append(tasks, task{first: c, second: &ins})
		default:
			tasks = append(tasks, task{first: c})
		}
	}
	return tasks
}

func (r *Reconciler) run(ctx context.Context, t task, results *xsync.MapOf[item.Key, outcome]) {
	unlock := r.locks.Lock(t.keys()...)
	defer unlock()

	o := r.apply(ctx, t.first)
	results.Store(t.first.Key, o)
	if t.second == nil {
		return
	}
	if o.err != nil {
		r.logger.Warn("reconcile: skipping insert of renamed row", "key", t.second.Key, "from", t.first.Key)
		observe(opName(t.second.Kind), ErrDependent)
		results.Store(t.second.Key, outcome{change: *t.second, err: ErrDependent})
		return
	}
	results.Store(t.second.Key, r.apply(ctx, *t.second))
}

// apply issues the store call for one change.
func (r *Reconciler) apply(ctx context.Context, c diff.Change) outcome {
	o := outcome{change: c}
	ver := r.store.VersionAttribute()
	var conds []store.Condition

	switch c.Kind {
	case diff.Inserted:
		if ver != "" {
			conds = append(conds, store.IfNotExists())
		}
		o.written, o.err = r.store.Put(ctx, c.Key, c.Item, conds...)
	case diff.Deleted:
		if ver != "" {
			conds = append(conds, store.IfVersion(store.VersionOf(c.Prior[ver])))
		}
		o.err = r.store.Delete(ctx, c.Key, conds...)
		if o.err != nil && KindOf(o.err) == KindNotFound {
			// Already gone.
			o.err = nil
		}
	case diff.Modified:
		if ver != "" {
			conds = append(conds, store.IfVersion(store.VersionOf(c.Prior[ver])))
		}
		o.written, o.err = r.store.Update(ctx, c.Key, changesOf(c), conds...)
	}

	observe(opName(c.Kind), o.err)
	if o.err != nil {
		r.logger.Warn("reconcile: row failed", "op", c.Kind, "key", c.Key.String(), "stripe", r.stripe(c.Key), "kind", KindOf(o.err), "error", o.err)
	} else {
		r.logger.Debug("reconcile: row applied", "op", c.Kind, "key", c.Key.String(), "stripe", r.stripe(c.Key))
	}
	return o
}

// stripe names the lock stripe guarding k.
func (r *Reconciler) stripe(k item.Key) string {
	return shard.Label(k.String(), r.locks.Len())
}

// changesOf converts the attribute changes of a modified row into an
// update.
func changesOf(c diff.Change) store.Changes {
	ch := store.Changes{Set: make(map[string]item.Value)}
	for name, a := range c.Attrs {
		if a.Remove {
			ch.Remove = append(ch.Remove, name)
			continue
		}
		ch.Set[name] = a.New
	}
	return ch
}

func opName(k diff.Kind) string {
	switch k {
	case diff.Inserted:
		return "put"
	case diff.Deleted:
		return "delete"
	default:
		return "update"
	}
}

// Package bulkops groups store writes on one course into a single unit of work. A
// session lives on the context; nested Begin calls on the same course share it and
// only the outermost End commits.
package bulkops

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

type ctxKey struct{ scope string }

// Record is the state of one open session.
type Record struct {
	Course keys.CourseKey
	Tx     docstore.Tx

	mu       sync.Mutex
	now      time.Time
	depth    int
	dirty    bool
	closed   bool
	parents  map[string]*keys.UsageKey
	stash    map[string]any
	onCommit []func(ctx context.Context)
	hooks    map[string]bool
	events   []signals.Event
	seen     map[string]bool
}

func newRecord(course keys.CourseKey, tx docstore.Tx) *Record {
	return &Record{
		Course:  course,
		Tx:      tx,
		now:     time.Now().UTC().Truncate(time.Millisecond),
		depth:   1,
		parents: map[string]*keys.UsageKey{},
		stash:   map[string]any{},
		hooks:   map[string]bool{},
		seen:    map[string]bool{},
	}
}

// Now is the timestamp every write of the session stamps into edit info.
func (r *Record) Now() time.Time { return r.now }

// MarkDirty records that the session wrote something. It drops stashed derived data.
func (r *Record) MarkDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = true
	r.stash = map[string]any{}
}

func (r *Record) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

func (r *Record) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth
}

func parentKey(branch keys.Branch, child keys.UsageKey) string {
	return string(branch) + "|" + child.String()
}

// CacheParent remembers the parent of child under branch; nil records "no parent".
func (r *Record) CacheParent(branch keys.Branch, child keys.UsageKey, parent *keys.UsageKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if parent != nil {
		p := *parent
		parent = &p
	}
	r.parents[parentKey(branch, child)] = parent
}

// CachedParent returns the cached parent and whether the cache knew about child.
func (r *Record) CachedParent(branch keys.Branch, child keys.UsageKey) (*keys.UsageKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parents[parentKey(branch, child)]
	return p, ok
}

func (r *Record) ForgetParent(branch keys.Branch, child keys.UsageKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.parents, parentKey(branch, child))
}

// Stash keeps derived data for the rest of the session, until the next write.
func (r *Record) Stash(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stash[key] = v
}

func (r *Record) Stashed(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.stash[key]
	return v, ok
}

// OnCommit registers fn to run after the outermost commit and before signals go out.
func (r *Record) OnCommit(fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCommit = append(r.onCommit, fn)
}

// OnCommitOnce is OnCommit keyed by name; later registrations under the same name are
// dropped.
func (r *Record) OnCommitOnce(name string, fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks[name] {
		return
	}
	r.hooks[name] = true
	r.onCommit = append(r.onCommit, fn)
}

// Queue defers e until after commit. Identical events are sent once.
func (r *Record) Queue(e signals.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := fmt.Sprintf("%s|%s|%v", e.Name, e.CourseKey, e.Payload)
	if r.seen[k] {
		return
	}
	r.seen[k] = true
	r.events = append(r.events, e)
}

type Manager struct {
	log   *logger.Logger
	store docstore.Store
	emit  signals.Emitter
}

func NewManager(store docstore.Store, emit signals.Emitter, baseLog *logger.Logger) *Manager {
	return &Manager{
		log:   baseLog.With("component", "BulkOps"),
		store: store,
		emit:  emit,
	}
}

// Current returns the live session for course carried by ctx, if any.
func Current(ctx context.Context, course keys.CourseKey) *Record {
	if ctx == nil {
		return nil
	}
	rec, _ := ctx.Value(ctxKey{course.Scope()}).(*Record)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return nil
	}
	return rec
}

func (m *Manager) IsInBulkOperation(ctx context.Context, course keys.CourseKey) bool {
	return Current(ctx, course) != nil
}

// Begin opens a session for course or joins the one ctx already carries.
func (m *Manager) Begin(ctx context.Context, course keys.CourseKey) (context.Context, *Record, error) {
	if rec := Current(ctx, course); rec != nil {
		rec.mu.Lock()
		rec.depth++
		rec.mu.Unlock()
		return ctx, rec, nil
	}
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin bulk operation for %s: %w", course, err)
	}
	rec := newRecord(course, tx)
	return context.WithValue(ctx, ctxKey{course.Scope()}, rec), rec, nil
}

// End leaves one level of the session. Inner levels hand cause back to their caller,
// which may handle it; only the cause given to the outermost End decides between
// rollback and commit. The outermost End commits, runs commit callbacks and then emits
// queued signals plus course_structure_changed if anything was written.
func (m *Manager) End(ctx context.Context, rec *Record, cause error) error {
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return fmt.Errorf("bulk operation for %s already closed", rec.Course)
	}
	rec.depth--
	if rec.depth > 0 {
		rec.mu.Unlock()
		return cause
	}
	rec.closed = true
	dirty := rec.dirty
	callbacks := rec.onCommit
	events := rec.events
	rec.mu.Unlock()

	if cause != nil {
		if err := rec.Tx.Rollback(ctx); err != nil {
			m.log.Warn("bulk operation rollback failed", "course_key", rec.Course.String(), "error", err)
		}
		return cause
	}
	if err := rec.Tx.Commit(ctx); err != nil {
		m.log.Error("bulk operation commit failed", "course_key", rec.Course.String(), "error", err)
		return fmt.Errorf("commit bulk operation for %s: %w", rec.Course, err)
	}
	if dirty {
		m.log.Debug("bulk operation committed", "course_key", rec.Course.String(), "events", len(events))
	}
	for _, fn := range callbacks {
		fn(ctx)
	}
	if m.emit == nil {
		return nil
	}
	if dirty {
		events = append(events, signals.StructureChanged(rec.Course))
	}
	for _, e := range events {
		if err := m.emit.Emit(ctx, e); err != nil {
			m.log.Warn("signal emit failed", "signal", e.Name, "course_key", e.CourseKey, "error", err)
		}
	}
	return nil
}

// Run executes fn inside a session for course.
func (m *Manager) Run(ctx context.Context, course keys.CourseKey, fn func(ctx context.Context, rec *Record) error) error {
	ctx, rec, err := m.Begin(ctx, course)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = m.End(ctx, rec, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()
	return m.End(ctx, rec, fn(ctx, rec))
}

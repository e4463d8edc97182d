// Package modulestore is the block store: course trees of blocks kept on a draft and
// a published branch, with publish, revert, move, delete and parent resolution.
package modulestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/bulkops"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/inheritance"
	"github.com/yungbote/coursestore-backend/internal/observability"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

type Store struct {
	log     *logger.Logger
	reg     *blocktypes.Registry
	docs    docstore.Store
	bulk    *bulkops.Manager
	inherit *inheritance.Engine
	emit    signals.Emitter
	newID   func() string
}

func New(docs docstore.Store, bulk *bulkops.Manager, inherit *inheritance.Engine, emit signals.Emitter, reg *blocktypes.Registry, baseLog *logger.Logger) *Store {
	if reg == nil {
		reg = blocktypes.Default()
	}
	return &Store{
		log:     baseLog.With("component", "ModuleStore"),
		reg:     reg,
		docs:    docs,
		bulk:    bulk,
		inherit: inherit,
		emit:    emit,
		newID:   randomBlockID,
	}
}

func (s *Store) Registry() *blocktypes.Registry { return s.reg }

// RunBulk runs fn inside one bulk operation on course. Store calls made with the ctx
// handed to fn join that operation.
func (s *Store) RunBulk(ctx context.Context, course keys.CourseKey, fn func(ctx context.Context) error) error {
	return s.bulk.Run(ctx, course, func(ctx context.Context, _ *bulkops.Record) error { return fn(ctx) })
}

func (s *Store) IsInBulkOperation(ctx context.Context, course keys.CourseKey) bool {
	return s.bulk.IsInBulkOperation(ctx, course)
}

// randomBlockID is 12 hex characters.
func randomBlockID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// session binds one bulk record to the store helpers every operation uses.
type session struct {
	*bulkops.Record
	s      *Store
	course keys.CourseKey
}

func (s *Store) run(ctx context.Context, op string, course keys.CourseKey, fn func(ctx context.Context, ss *session) error) (err error) {
	ctx, span := observability.StartSpan(ctx, "modulestore."+op, attribute.String("course_key", course.String()))
	defer func() { observability.EndSpan(span, err) }()
	return s.bulk.Run(ctx, course, func(ctx context.Context, rec *bulkops.Record) error {
		return fn(ctx, &session{Record: rec, s: s, course: course})
	})
}

func (ss *session) now() *time.Time {
	t := ss.Now()
	return &t
}

func userRef(user string) *string {
	if user == "" {
		return nil
	}
	return &user
}

// wrote marks the session dirty and schedules the inheritance invalidation.
func (ss *session) wrote() {
	ss.MarkDirty()
	course := ss.course
	inherit := ss.s.inherit
	ss.OnCommitOnce("inheritance:"+course.Scope(), func(ctx context.Context) {
		if inherit != nil {
			inherit.Invalidate(ctx, course)
		}
	})
}

func (ss *session) directOnly(blockType string) bool { return ss.s.reg.IsDirectOnly(blockType) }

// writeBranch is where writes for blockType land.
func (ss *session) writeBranch(blockType string) keys.Branch {
	if ss.directOnly(blockType) {
		return keys.BranchPublished
	}
	return keys.BranchDraft
}

func (ss *session) checkCourse(key keys.UsageKey) error {
	if !key.Course.SameScope(ss.course) {
		return storeerr.New(storeerr.ErrInvalidKey, key.String(), "%s does not belong to %s", key, ss.course)
	}
	return nil
}

// rawDoc returns the document stored at (key, branch) or nil.
func (ss *session) rawDoc(ctx context.Context, key keys.UsageKey, branch keys.Branch) (*docstore.Document, error) {
	d, err := ss.Tx.Get(ctx, docstore.IDFor(key, branch))
	if errors.Is(err, storeerr.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// viewDoc resolves key under branch: draft overlays published for types that support
// drafts; everything else reads the published document.
func (ss *session) viewDoc(ctx context.Context, key keys.UsageKey, branch keys.Branch) (*docstore.Document, error) {
	if branch == keys.BranchDraft && !ss.directOnly(key.BlockType) {
		d, err := ss.rawDoc(ctx, key, keys.BranchDraft)
		if err != nil || d != nil {
			return d, err
		}
	}
	d, err := ss.rawDoc(ctx, key, keys.BranchPublished)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, storeerr.NotFound(key.String())
	}
	return d, nil
}

// editableDoc is the document a write touching key in place should modify: the draft
// when there is one, else the published document.
func (ss *session) editableDoc(ctx context.Context, key keys.UsageKey) (*docstore.Document, error) {
	return ss.viewDoc(ctx, key, keys.BranchDraft)
}

func (ss *session) snapshot(ctx context.Context) (*inheritance.Snapshot, error) {
	if ss.s.inherit == nil {
		return nil, nil
	}
	return ss.s.inherit.Load(ctx, ss.course, ss.Tx, ss.Record)
}

// decode turns d into a Block with its inherited settings and cached parent.
func (ss *session) decode(ctx context.Context, d *docstore.Document, branch keys.Branch) (*Block, error) {
	snap, err := ss.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	key := d.ID.UsageKey(ss.course)
	parent, _ := ss.CachedParent(branch, key)
	return decodeDocument(ss.s.reg, ss.course, d, snap.For(branch, key.BlockType, key.BlockID), parent), nil
}

// load reads key under branch with children prefetched to depth (negative: all).
func (ss *session) load(ctx context.Context, key keys.UsageKey, branch keys.Branch, depth int) (*Block, error) {
	if err := ss.checkCourse(key); err != nil {
		return nil, err
	}
	d, err := ss.viewDoc(ctx, key, branch)
	if err != nil {
		return nil, err
	}
	b, err := ss.decode(ctx, d, branch)
	if err != nil {
		return nil, err
	}
	if depth == 0 {
		return b, nil
	}
	for _, child := range b.Children() {
		cb, err := ss.load(ctx, child, branch, depth-1)
		if errors.Is(err, storeerr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ss.CacheParent(branch, child, &b.Key)
		cb.fields = cb.fields.WithParent(&b.Key)
		b.Loaded = append(b.Loaded, cb)
	}
	return b, nil
}

// put stores d and records the write.
func (ss *session) put(ctx context.Context, docs ...*docstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ss.Tx.Upsert(ctx, docs...); err != nil {
		return err
	}
	ss.wrote()
	return nil
}

func (ss *session) remove(ctx context.Context, ids ...docstore.DocID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ss.Tx.Delete(ctx, ids...); err != nil {
		return err
	}
	ss.wrote()
	return nil
}

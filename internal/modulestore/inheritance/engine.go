package inheritance

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/bulkops"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

const stashKey = "inheritance"

type Engine struct {
	log   *logger.Logger
	reg   *blocktypes.Registry
	cache Cache
	group singleflight.Group
}

func NewEngine(reg *blocktypes.Registry, cache Cache, baseLog *logger.Logger) *Engine {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Engine{
		log:   baseLog.With("component", "InheritanceEngine"),
		reg:   reg,
		cache: cache,
	}
}

// Load returns the inheritance snapshot of course. Inside a session that has written,
// the snapshot is computed from the session's view and kept on the session only.
// Otherwise the process cache is consulted and refilled, one computation per course
// at a time.
func (e *Engine) Load(ctx context.Context, course keys.CourseKey, r docstore.Reader, rec *bulkops.Record) (*Snapshot, error) {
	if rec != nil {
		if v, ok := rec.Stashed(stashKey); ok {
			return v.(*Snapshot), nil
		}
		if rec.Dirty() {
			snap, err := e.compute(ctx, course, r)
			if err != nil {
				return nil, err
			}
			rec.Stash(stashKey, snap)
			return snap, nil
		}
	}

	scope := course.Scope()
	gen, err := e.cache.Generation(ctx, scope)
	if err != nil {
		e.log.Warn("inheritance cache generation lookup failed", "course_key", course.String(), "error", err)
	}
	if err == nil {
		if snap, lerr := e.cache.Load(ctx, scope); lerr != nil {
			e.log.Warn("inheritance cache load failed", "course_key", course.String(), "error", lerr)
		} else if snap != nil && snap.Generation == gen {
			if rec != nil {
				rec.Stash(stashKey, snap)
			}
			return snap, nil
		}
	}

	v, err, _ := e.group.Do(fmt.Sprintf("%s#%d", scope, gen), func() (interface{}, error) {
		snap, err := e.compute(ctx, course, r)
		if err != nil {
			return nil, err
		}
		snap.Generation = gen
		if serr := e.cache.Store(ctx, scope, snap); serr != nil {
			e.log.Warn("inheritance cache store failed", "course_key", course.String(), "error", serr)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	snap := v.(*Snapshot)
	if rec != nil {
		rec.Stash(stashKey, snap)
	}
	return snap, nil
}

// Invalidate marks the cached snapshot of course stale.
func (e *Engine) Invalidate(ctx context.Context, course keys.CourseKey) {
	if err := e.cache.Invalidate(ctx, course.Scope()); err != nil {
		e.log.Warn("inheritance cache invalidate failed", "course_key", course.String(), "error", err)
	}
}

func (e *Engine) compute(ctx context.Context, course keys.CourseKey, r docstore.Reader) (*Snapshot, error) {
	docs, err := r.Find(ctx, docstore.Filter{
		Org:        course.Org,
		Course:     course.Course,
		Categories: e.reg.ContainerTypes(),
	})
	if err != nil {
		return nil, fmt.Errorf("load containers of %s: %w", course, err)
	}
	snap := Compute(e.reg, docs, course.Run)
	e.log.Debug("inheritance computed", "course_key", course.String(), "containers", len(docs))
	return snap, nil
}

package modulestore

import (
	"context"
	"sort"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

// GetOrphans lists the blocks of course that no document in either branch lists as a
// child. The course root and detached types are never orphans.
func (s *Store) GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error) {
	var out []keys.UsageKey
	err := s.run(ctx, "GetOrphans", course, func(ctx context.Context, ss *session) error {
		orphans, err := ss.orphans(ctx)
		out = orphans
		return err
	})
	return out, err
}

func (ss *session) orphans(ctx context.Context) ([]keys.UsageKey, error) {
	docs, err := ss.Tx.Find(ctx, docstore.Filter{Org: ss.course.Org, Course: ss.course.Course})
	if err != nil {
		return nil, err
	}
	referenced := map[string]bool{}
	for _, d := range docs {
		for _, ref := range d.Definition.Children {
			if k, ok := parseRef(ref, ss.course); ok {
				referenced[k.String()] = true
			}
		}
	}
	seen := map[string]bool{}
	out := []keys.UsageKey{}
	for _, d := range docs {
		if d.ID.Category == "course" || ss.s.reg.IsDetached(d.ID.Category) {
			continue
		}
		k := d.ID.UsageKey(ss.course)
		ref := k.String()
		if referenced[ref] || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// DeleteOrphans returns the orphans of course and, when commit is set, deletes them
// with their subtrees from both branches.
func (s *Store) DeleteOrphans(ctx context.Context, course keys.CourseKey, user string, commit bool) ([]keys.UsageKey, error) {
	var out []keys.UsageKey
	err := s.run(ctx, "DeleteOrphans", course, func(ctx context.Context, ss *session) error {
		orphans, err := ss.orphans(ctx)
		if err != nil {
			return err
		}
		out = orphans
		if !commit {
			return nil
		}
		for _, k := range orphans {
			if err := ss.deleteItem(ctx, k, user, DeleteAll); err != nil && !storeerr.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
	if err == nil && commit && len(out) > 0 {
		s.log.Info("deleted orphans", "course_key", course.String(), "count", len(out))
	}
	return out, err
}

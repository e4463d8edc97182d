package modulestore

import (
	"context"

	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

// CreateCourse writes the published root of a new course. Org and course ids collide
// case-insensitively with existing courses of any run.
func (s *Store) CreateCourse(ctx context.Context, user, org, course, run string, fields map[string]any) (*Block, error) {
	key := keys.CourseKey{Org: org, Course: course, Run: run}
	if org == "" || course == "" || run == "" {
		return nil, storeerr.InvalidKey(key.String())
	}
	var out *Block
	err := s.run(ctx, "CreateCourse", key, func(ctx context.Context, ss *session) error {
		existing, err := ss.Tx.FindCourseRoots(ctx, org, course, true)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			other := keys.CourseKey{Org: existing[0].ID.Org, Course: existing[0].ID.Course, Run: existing[0].ID.Name}
			return storeerr.New(storeerr.ErrDuplicateCourse, key.String(), "course %s already exists as %s", key, other)
		}
		root, err := ss.create(ctx, user, key.Root(), fields)
		out = root
		return err
	})
	if err == nil {
		s.log.Info("created course", "course_key", key.String(), "user_id", user)
	}
	return out, err
}

// GetCourse returns the course root with descendants prefetched to depth.
func (s *Store) GetCourse(ctx context.Context, course keys.CourseKey, depth int) (*Block, error) {
	return s.GetItem(ctx, course.Root(), keys.BranchDraft, depth)
}

// GetCourses lists every course root, without inherited settings.
func (s *Store) GetCourses(ctx context.Context) ([]*Block, error) {
	roots, err := s.docs.FindCourseRoots(ctx, "", "", false)
	if err != nil {
		return nil, err
	}
	out := make([]*Block, 0, len(roots))
	for _, d := range roots {
		course := keys.CourseKey{Org: d.ID.Org, Course: d.ID.Course, Run: d.ID.Name}
		out = append(out, decodeDocument(s.reg, course, d, nil, nil))
	}
	return out, nil
}

// DeleteCourse drops every block document and the asset record of course.
func (s *Store) DeleteCourse(ctx context.Context, course keys.CourseKey, user string) error {
	err := s.run(ctx, "DeleteCourse", course, func(ctx context.Context, ss *session) error {
		root, err := ss.rawDoc(ctx, course.Root(), keys.BranchPublished)
		if err != nil {
			return err
		}
		if root == nil {
			return storeerr.NotFound(course.String())
		}
		if err := ss.Tx.DeleteScope(ctx, course.Org, course.Course); err != nil {
			return err
		}
		if err := ss.Tx.DeleteAssets(ctx, course.Org, course.Course); err != nil {
			return err
		}
		ss.wrote()
		ss.Queue(signals.Deleted(course))
		return nil
	})
	if err == nil {
		s.log.Info("deleted course", "course_key", course.String(), "user_id", user)
	}
	return err
}

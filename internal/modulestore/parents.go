package modulestore

import (
	"context"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

// GetParentLocation returns the parent of key under branch, or nil for a course root,
// a detached block or an orphan.
func (s *Store) GetParentLocation(ctx context.Context, key keys.UsageKey, branch keys.Branch) (*keys.UsageKey, error) {
	var out *keys.UsageKey
	err := s.run(ctx, "GetParentLocation", key.Course, func(ctx context.Context, ss *session) error {
		if err := ss.checkCourse(key); err != nil {
			return err
		}
		p, err := ss.parentOf(ctx, key, branch)
		out = p
		return err
	})
	return out, err
}

// candidateParents lists the documents visible under branch whose children hold key.
// Under draft a published candidate is shadowed by its own draft.
func (ss *session) candidateParents(ctx context.Context, key keys.UsageKey, branch keys.Branch) ([]*docstore.Document, error) {
	docs, err := ss.Tx.Find(ctx, docstore.Filter{
		Org:      ss.course.Org,
		Course:   ss.course.Course,
		ChildRef: key.String(),
	})
	if err != nil {
		return nil, err
	}
	out := []*docstore.Document{}
	seen := map[string]bool{}
	for _, d := range docs {
		node := d.ID.Category + "/" + d.ID.Name
		if seen[node] {
			continue
		}
		if branch == keys.BranchPublished {
			if d.ID.Revision == string(keys.BranchPublished) {
				seen[node] = true
				out = append(out, d)
			}
			continue
		}
		view, err := ss.viewDoc(ctx, d.ID.UsageKey(ss.course), keys.BranchDraft)
		if err != nil {
			return nil, err
		}
		seen[node] = true
		if view.ID == d.ID || view.HasChild(key.String()) {
			out = append(out, view)
		}
	}
	return out, nil
}

// parentOf resolves the parent of key. With several candidates, the ones that do not
// lead back to the course root are orphan parents: under published they lose key
// from their children, under draft they are ignored.
func (ss *session) parentOf(ctx context.Context, key keys.UsageKey, branch keys.Branch) (*keys.UsageKey, error) {
	if p, ok := ss.CachedParent(branch, key); ok {
		return p, nil
	}
	if key == ss.course.Root() || ss.s.reg.IsDetached(key.BlockType) {
		return nil, nil
	}
	candidates, err := ss.candidateParents(ctx, key, branch)
	if err != nil {
		return nil, err
	}
	switch len(candidates) {
	case 0:
		ss.CacheParent(branch, key, nil)
		return nil, nil
	case 1:
		p := candidates[0].ID.UsageKey(ss.course)
		ss.CacheParent(branch, key, &p)
		return &p, nil
	}

	var kept []keys.UsageKey
	for _, c := range candidates {
		ck := c.ID.UsageKey(ss.course)
		reachable, err := ss.reachesRoot(ctx, ck, branch, map[keys.UsageKey]bool{key: true})
		if err != nil {
			return nil, err
		}
		if reachable {
			kept = append(kept, ck)
			continue
		}
		if branch != keys.BranchPublished {
			continue
		}
		repaired := c.Clone()
		children := make([]string, 0, len(repaired.Definition.Children))
		for _, ref := range repaired.Definition.Children {
			if ref != key.String() {
				children = append(children, ref)
			}
		}
		repaired.Definition.Children = children
		if err := ss.put(ctx, repaired); err != nil {
			return nil, err
		}
		ss.s.log.Warn("removed child from orphan parent",
			"child", key.String(),
			"orphan_parent", ck.String(),
			"course_key", ss.course.String(),
		)
	}
	if len(kept) != 1 {
		names := make([]string, 0, len(kept))
		for _, k := range kept {
			names = append(names, k.String())
		}
		return nil, storeerr.New(storeerr.ErrReferentialIntegrity, key.String(),
			"%s has %d parents under %s: %v", key, len(kept), branch, names)
	}
	p := kept[0]
	ss.CacheParent(branch, key, &p)
	return &p, nil
}

// reachesRoot reports whether some chain of parents leads from key to the course root.
func (ss *session) reachesRoot(ctx context.Context, key keys.UsageKey, branch keys.Branch, visiting map[keys.UsageKey]bool) (bool, error) {
	if key == ss.course.Root() {
		return true, nil
	}
	if visiting[key] {
		return false, nil
	}
	visiting[key] = true
	defer delete(visiting, key)
	candidates, err := ss.candidateParents(ctx, key, branch)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		ok, err := ss.reachesRoot(ctx, c.ID.UsageKey(ss.course), branch, visiting)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// ancestors walks up from key under branch, nearest first.
func (ss *session) ancestors(ctx context.Context, key keys.UsageKey, branch keys.Branch) ([]keys.UsageKey, error) {
	out := []keys.UsageKey{}
	seen := map[keys.UsageKey]bool{key: true}
	cur := key
	for {
		p, err := ss.parentOf(ctx, cur, branch)
		if err != nil {
			return nil, err
		}
		if p == nil || seen[*p] {
			return out, nil
		}
		seen[*p] = true
		out = append(out, *p)
		cur = *p
	}
}

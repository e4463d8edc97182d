package modulestore

import (
	"context"
	"reflect"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
)

// GetItem loads key under branch with children prefetched to depth; a negative depth
// loads the whole subtree.
func (s *Store) GetItem(ctx context.Context, key keys.UsageKey, branch keys.Branch, depth int) (*Block, error) {
	var out *Block
	err := s.run(ctx, "GetItem", key.Course, func(ctx context.Context, ss *session) error {
		b, err := ss.load(ctx, key, branch, depth)
		out = b
		return err
	})
	return out, err
}

// ItemQuery narrows GetItems. Zero fields match everything; Settings and Content match
// local values by equality after normalization.
type ItemQuery struct {
	BlockType string
	BlockID   string
	Settings  map[string]any
	Content   map[string]any
	// Child selects blocks whose children include this key.
	Child *keys.UsageKey
}

// GetItems returns the blocks of course matching q. With an empty branch every stored
// document is returned, drafts first; otherwise the branch view is returned.
func (s *Store) GetItems(ctx context.Context, course keys.CourseKey, branch keys.Branch, q ItemQuery) ([]*Block, error) {
	var out []*Block
	err := s.run(ctx, "GetItems", course, func(ctx context.Context, ss *session) error {
		f := docstore.Filter{Org: course.Org, Course: course.Course}
		if q.BlockType != "" {
			f.Categories = []string{q.BlockType}
		}
		if q.BlockID != "" {
			f.Names = []string{q.BlockID}
		}
		if q.Child != nil {
			f.ChildRef = q.Child.MapIntoCourse(course).String()
		}
		docs, err := ss.Tx.Find(ctx, f)
		if err != nil {
			return err
		}
		docs = ss.branchView(docs, branch)
		for _, d := range docs {
			view := branch
			if view == "" {
				view = d.ID.Branch()
			}
			b, err := ss.decode(ctx, d, view)
			if err != nil {
				return err
			}
			if matchesFields(b, q) {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

// branchView reduces docs (sorted drafts first) to what branch sees.
func (ss *session) branchView(docs []*docstore.Document, branch keys.Branch) []*docstore.Document {
	if branch == "" {
		return docs
	}
	out := make([]*docstore.Document, 0, len(docs))
	seen := map[string]bool{}
	for _, d := range docs {
		node := d.ID.Category + "/" + d.ID.Name
		if seen[node] {
			continue
		}
		switch {
		case branch == keys.BranchPublished && d.ID.Revision != string(keys.BranchPublished):
			continue
		case branch == keys.BranchDraft && ss.directOnly(d.ID.Category) && d.ID.Revision != string(keys.BranchPublished):
			continue
		}
		seen[node] = true
		out = append(out, d)
	}
	return out
}

func matchesFields(b *Block, q ItemQuery) bool {
	match := func(want map[string]any, have map[string]any) bool {
		for name, v := range want {
			got, ok := have[name]
			if !ok {
				return false
			}
			norm, err := normalizeField(b.Type, name, v, b.Key.Course)
			if err != nil {
				norm = blocktypes.NormalizeGeneric(v)
			}
			if !reflect.DeepEqual(got, norm) {
				return false
			}
		}
		return true
	}
	return match(q.Settings, b.Settings()) && match(q.Content, b.Content())
}

// HasPublishedVersion reports whether key has a published document.
func (s *Store) HasPublishedVersion(ctx context.Context, key keys.UsageKey) (bool, error) {
	var out bool
	err := s.run(ctx, "HasPublishedVersion", key.Course, func(ctx context.Context, ss *session) error {
		d, err := ss.rawDoc(ctx, key, keys.BranchPublished)
		out = d != nil
		return err
	})
	return out, err
}

// HasChanges reports whether key or any descendant has a draft that differs from its
// published version, or was never published.
func (s *Store) HasChanges(ctx context.Context, key keys.UsageKey) (bool, error) {
	var out bool
	err := s.run(ctx, "HasChanges", key.Course, func(ctx context.Context, ss *session) error {
		changed, err := ss.hasChanges(ctx, key, map[keys.UsageKey]bool{})
		out = changed
		return err
	})
	return out, err
}

func (ss *session) hasChanges(ctx context.Context, key keys.UsageKey, seen map[keys.UsageKey]bool) (bool, error) {
	if seen[key] {
		return false, nil
	}
	seen[key] = true
	published, err := ss.rawDoc(ctx, key, keys.BranchPublished)
	if err != nil {
		return false, err
	}
	view := published
	if !ss.directOnly(key.BlockType) {
		draft, err := ss.rawDoc(ctx, key, keys.BranchDraft)
		if err != nil {
			return false, err
		}
		if draft != nil {
			if published == nil || documentsDiffer(draft, published) {
				return true, nil
			}
			view = draft
		}
	}
	if view == nil {
		return false, nil
	}
	for _, ref := range view.Definition.Children {
		child, ok := parseRef(ref, ss.course)
		if !ok {
			continue
		}
		changed, err := ss.hasChanges(ctx, child, seen)
		if err != nil || changed {
			return changed, err
		}
	}
	return false, nil
}

// documentsDiffer compares the authored parts of two documents. Edit info is ignored.
func documentsDiffer(a, b *docstore.Document) bool {
	norm := func(m map[string]any) any {
		if len(m) == 0 {
			return map[string]any{}
		}
		return blocktypes.NormalizeGeneric(m)
	}
	if !reflect.DeepEqual(norm(a.Definition.Data), norm(b.Definition.Data)) {
		return true
	}
	if !reflect.DeepEqual(norm(a.Metadata), norm(b.Metadata)) {
		return true
	}
	if len(a.Definition.Children) != len(b.Definition.Children) {
		return true
	}
	for i := range a.Definition.Children {
		if a.Definition.Children[i] != b.Definition.Children[i] {
			return true
		}
	}
	return false
}

package modulestore

import (
	"context"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

// Publish copies the drafts of key and its descendants to published and drops the
// drafts. Published children no longer listed by the draft are removed. Publishing a
// tree without drafts writes nothing. pre_publish goes out immediately, even inside a
// bulk operation, so its handlers run before any draft is replaced; course_published
// is queued with the rest of the batch.
func (s *Store) Publish(ctx context.Context, key keys.UsageKey, user string) (*Block, error) {
	if s.emit != nil {
		if err := s.emit.Emit(ctx, signals.BeforePublish(key.Course)); err != nil {
			s.log.Warn("pre_publish delivery failed", "course_key", key.Course.String(), "error", err)
		}
	}
	var out *Block
	err := s.run(ctx, "Publish", key.Course, func(ctx context.Context, ss *session) error {
		if err := ss.checkCourse(key); err != nil {
			return err
		}
		if _, err := ss.viewDoc(ctx, key, keys.BranchDraft); err != nil {
			return err
		}
		changed, err := ss.publish(ctx, key, user, map[keys.UsageKey]bool{})
		if err != nil {
			return err
		}
		if changed {
			if err := ss.stampPublished(ctx, key, user); err != nil {
				return err
			}
			if err := ss.touchAncestors(ctx, key, user); err != nil {
				return err
			}
			ss.Queue(signals.Published(ss.course))
		}
		out, err = ss.load(ctx, key, keys.BranchPublished, 0)
		return err
	})
	return out, err
}

// publish promotes the draft of key, then walks its children. It reports whether any
// document was written.
func (ss *session) publish(ctx context.Context, key keys.UsageKey, user string, seen map[keys.UsageKey]bool) (bool, error) {
	if seen[key] {
		return false, nil
	}
	seen[key] = true
	changed := false
	published, err := ss.rawDoc(ctx, key, keys.BranchPublished)
	if err != nil {
		return false, err
	}
	if !ss.directOnly(key.BlockType) {
		draft, err := ss.rawDoc(ctx, key, keys.BranchDraft)
		if err != nil {
			return false, err
		}
		if draft != nil {
			next := draft.Clone()
			next.ID.Revision = string(keys.BranchPublished)
			next.EditInfo.PublishedDate, next.EditInfo.PublishedBy = ss.now(), userRef(user)
			if published != nil {
				if err := ss.dropRemovedChildren(ctx, key, published, next); err != nil {
					return false, err
				}
			}
			if err := ss.put(ctx, next); err != nil {
				return false, err
			}
			if err := ss.remove(ctx, draft.ID); err != nil {
				return false, err
			}
			published, changed = next, true
		}
	}
	if published == nil {
		return changed, nil
	}
	for _, ref := range published.Definition.Children {
		child, ok := parseRef(ref, ss.course)
		if !ok {
			continue
		}
		c, err := ss.publish(ctx, child, user, seen)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	return changed, nil
}

// dropRemovedChildren deletes the published subtrees of children that prev lists and
// next does not, unless another block has taken them in.
func (ss *session) dropRemovedChildren(ctx context.Context, key keys.UsageKey, prev, next *docstore.Document) error {
	for _, ref := range prev.Definition.Children {
		if next.HasChild(ref) {
			continue
		}
		child, ok := parseRef(ref, ss.course)
		if !ok {
			continue
		}
		others, err := ss.candidateParents(ctx, child, keys.BranchDraft)
		if err != nil {
			return err
		}
		adopted := false
		for _, o := range others {
			if o.ID.UsageKey(ss.course) != key {
				adopted = true
			}
		}
		if adopted {
			continue
		}
		subtree, err := ss.subtree(ctx, child, keys.BranchPublished)
		if err != nil {
			return err
		}
		ids := make([]docstore.DocID, 0, len(subtree))
		for _, k := range subtree {
			ids = append(ids, docstore.IDFor(k, keys.BranchPublished))
			ss.ForgetParent(keys.BranchPublished, k)
		}
		if err := ss.removeExisting(ctx, ids); err != nil {
			return err
		}
	}
	return nil
}

// stampPublished records the publish on the published document of key.
func (ss *session) stampPublished(ctx context.Context, key keys.UsageKey, user string) error {
	d, err := ss.rawDoc(ctx, key, keys.BranchPublished)
	if err != nil || d == nil {
		return err
	}
	d = d.Clone()
	d.EditInfo.PublishedDate, d.EditInfo.PublishedBy = ss.now(), userRef(user)
	return ss.put(ctx, d)
}

// RevertToPublished discards the drafts under key, restoring the published tree.
func (s *Store) RevertToPublished(ctx context.Context, key keys.UsageKey, user string) (*Block, error) {
	var out *Block
	err := s.run(ctx, "RevertToPublished", key.Course, func(ctx context.Context, ss *session) error {
		if err := ss.checkCourse(key); err != nil {
			return err
		}
		if ss.directOnly(key.BlockType) {
			return storeerr.New(storeerr.ErrInvalidBranch, key.String(), "%s is always published and can not be reverted", key)
		}
		published, err := ss.rawDoc(ctx, key, keys.BranchPublished)
		if err != nil {
			return err
		}
		if published == nil {
			return storeerr.New(storeerr.ErrInvalidBranch, key.String(), "%s has no published version to revert to", key)
		}
		subtree, err := ss.subtree(ctx, key, keys.BranchDraft)
		if err != nil {
			return err
		}
		ids := make([]docstore.DocID, 0, len(subtree))
		for _, k := range subtree {
			if ss.directOnly(k.BlockType) {
				continue
			}
			ids = append(ids, docstore.IDFor(k, keys.BranchDraft))
			ss.ForgetParent(keys.BranchDraft, k)
		}
		if err := ss.removeExisting(ctx, ids); err != nil {
			return err
		}
		out, err = ss.load(ctx, key, keys.BranchPublished, 0)
		return err
	})
	return out, err
}

// Unpublish turns the published subtree of key back into drafts.
func (s *Store) Unpublish(ctx context.Context, key keys.UsageKey, user string) (*Block, error) {
	var out *Block
	err := s.run(ctx, "Unpublish", key.Course, func(ctx context.Context, ss *session) error {
		if err := ss.checkCourse(key); err != nil {
			return err
		}
		if ss.directOnly(key.BlockType) {
			return storeerr.New(storeerr.ErrInvalidBranch, key.String(), "%s can not be unpublished", key)
		}
		subtree, err := ss.subtree(ctx, key, keys.BranchPublished)
		if err != nil {
			return err
		}
		if len(subtree) == 0 {
			out, err = ss.load(ctx, key, keys.BranchDraft, 0)
			return err
		}
		var drop []docstore.DocID
		for _, k := range subtree {
			if ss.directOnly(k.BlockType) {
				continue
			}
			published, err := ss.rawDoc(ctx, k, keys.BranchPublished)
			if err != nil {
				return err
			}
			draft, err := ss.rawDoc(ctx, k, keys.BranchDraft)
			if err != nil {
				return err
			}
			if draft == nil {
				draft = published.Clone()
				draft.ID.Revision = string(keys.BranchDraft)
				draft.EditInfo.PublishedDate, draft.EditInfo.PublishedBy = nil, nil
				if err := ss.put(ctx, draft); err != nil {
					return err
				}
			}
			drop = append(drop, published.ID)
			ss.ForgetParent(keys.BranchPublished, k)
		}
		if err := ss.remove(ctx, drop...); err != nil {
			return err
		}
		out, err = ss.load(ctx, key, keys.BranchDraft, 0)
		return err
	})
	return out, err
}

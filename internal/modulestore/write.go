package modulestore

import (
	"context"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/kvs"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

// CreateItem writes a new, unattached block. An empty blockID gets a random one.
func (s *Store) CreateItem(ctx context.Context, user string, course keys.CourseKey, blockType, blockID string, fields map[string]any) (*Block, error) {
	var out *Block
	err := s.run(ctx, "CreateItem", course, func(ctx context.Context, ss *session) error {
		b, err := ss.create(ctx, user, course.MakeUsageKey(blockType, blockID), fields)
		out = b
		return err
	})
	return out, err
}

// CreateChild creates a block and links it under parent at position (nil appends).
func (s *Store) CreateChild(ctx context.Context, user string, parent keys.UsageKey, blockType, blockID string, fields map[string]any, position *int) (*Block, error) {
	var out *Block
	err := s.run(ctx, "CreateChild", parent.Course, func(ctx context.Context, ss *session) error {
		p, err := ss.load(ctx, parent, keys.BranchDraft, 0)
		if err != nil {
			return err
		}
		if !p.Type.HasChildren {
			return storeerr.New(storeerr.ErrInvalidArgument, parent.String(), "%s can not have children", parent)
		}
		child, err := ss.create(ctx, user, parent.Course.MakeUsageKey(blockType, blockID), fields)
		if err != nil {
			return err
		}
		at := -1
		if position != nil {
			at = *position
		}
		p.SetChildren(insertKey(p.Children(), child.Key, at))
		if _, err := ss.update(ctx, p, user); err != nil {
			return err
		}
		out, err = ss.load(ctx, child.Key, keys.BranchDraft, 0)
		return err
	})
	return out, err
}

func (ss *session) create(ctx context.Context, user string, key keys.UsageKey, fields map[string]any) (*Block, error) {
	if key.BlockID == "" {
		key.BlockID = ss.s.newID()
	}
	if err := ss.checkCourse(key); err != nil {
		return nil, err
	}
	branch := ss.writeBranch(key.BlockType)
	for _, b := range []keys.Branch{keys.BranchDraft, keys.BranchPublished} {
		existing, err := ss.rawDoc(ctx, key, b)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, storeerr.New(storeerr.ErrInvalidArgument, key.String(), "%s already exists", key)
		}
	}
	t := ss.s.reg.Get(key.BlockType)
	b := newBlock(key, branch, t, kvs.New(nil, nil, nil, nil, nil))
	if err := b.SetFields(fields); err != nil {
		return nil, err
	}
	if err := ss.checkChildren(b); err != nil {
		return nil, err
	}
	now, by := ss.now(), userRef(user)
	b.Edit = EditInfo{EditedOn: now, EditedBy: by, SubtreeEditedOn: now, SubtreeEditedBy: by}
	if err := ss.put(ctx, encodeBlock(b, branch)); err != nil {
		return nil, err
	}
	for _, c := range b.Children() {
		ss.CacheParent(keys.BranchDraft, c, &b.Key)
	}
	return b, nil
}

// UpdateItem persists every scope of b, stamps its edit info with the bulk operation
// time and propagates subtree_edited_* to all ancestors.
func (s *Store) UpdateItem(ctx context.Context, b *Block, user string) (*Block, error) {
	var out *Block
	err := s.run(ctx, "UpdateItem", b.Key.Course, func(ctx context.Context, ss *session) error {
		updated, err := ss.update(ctx, b, user)
		out = updated
		return err
	})
	return out, err
}

func (ss *session) checkChildren(b *Block) error {
	for _, c := range b.Children() {
		if !c.Course.SameScope(b.Key.Course) {
			return storeerr.New(storeerr.ErrInvalidKey, c.String(), "child %s of %s belongs to another course", c, b.Key)
		}
	}
	return nil
}

func (ss *session) update(ctx context.Context, b *Block, user string) (*Block, error) {
	if err := ss.checkCourse(b.Key); err != nil {
		return nil, err
	}
	if err := ss.checkChildren(b); err != nil {
		return nil, err
	}
	branch := ss.writeBranch(b.Key.BlockType)

	var before []keys.UsageKey
	if prev, err := ss.viewDoc(ctx, b.Key, keys.BranchDraft); err == nil {
		before = decodeDocument(ss.s.reg, ss.course, prev, nil, nil).Children()
	} else if !storeerr.IsNotFound(err) {
		return nil, err
	}
	for _, c := range b.Children() {
		if indexOf(before, c) >= 0 {
			continue
		}
		if err := ss.ensureUnparented(ctx, c, b.Key); err != nil {
			return nil, err
		}
	}

	now, by := ss.now(), userRef(user)
	b.Edit.EditedOn, b.Edit.EditedBy = now, by
	b.Edit.SubtreeEditedOn, b.Edit.SubtreeEditedBy = now, by
	if err := ss.put(ctx, encodeBlock(b, branch)); err != nil {
		return nil, err
	}
	for _, c := range before {
		if indexOf(b.Children(), c) < 0 {
			ss.ForgetParent(keys.BranchDraft, c)
			ss.ForgetParent(keys.BranchPublished, c)
		}
	}
	for _, c := range b.Children() {
		ss.CacheParent(keys.BranchDraft, c, &b.Key)
		if branch == keys.BranchPublished {
			ss.CacheParent(keys.BranchPublished, c, &b.Key)
		}
	}
	if err := ss.touchAncestors(ctx, b.Key, user); err != nil {
		return nil, err
	}
	b.Branch = branch
	return b, nil
}

// ensureUnparented fails when child is still listed by a parent other than newParent.
func (ss *session) ensureUnparented(ctx context.Context, child, newParent keys.UsageKey) error {
	candidates, err := ss.candidateParents(ctx, child, keys.BranchDraft)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		ck := c.ID.UsageKey(ss.course)
		if ck == newParent {
			continue
		}
		return storeerr.New(storeerr.ErrReferentialIntegrity, child.String(),
			"%s is already a child of %s and can not be added to %s, possibly caused by concurrent authors",
			child, ck, newParent)
	}
	return nil
}

// touchAncestors stamps subtree_edited_* on every ancestor of key, in place.
func (ss *session) touchAncestors(ctx context.Context, key keys.UsageKey, user string) error {
	ancestors, err := ss.ancestors(ctx, key, keys.BranchDraft)
	if err != nil {
		return err
	}
	now, by := ss.now(), userRef(user)
	docs := make([]*docstore.Document, 0, len(ancestors))
	for _, a := range ancestors {
		d, err := ss.editableDoc(ctx, a)
		if storeerr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		d.EditInfo.SubtreeEditedOn, d.EditInfo.SubtreeEditedBy = now, by
		docs = append(docs, d)
	}
	return ss.put(ctx, docs...)
}

package modulestore

import (
	"context"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

// DeleteMode selects which branches DeleteItem removes.
type DeleteMode string

const (
	// DeleteDraft removes the draft subtree, leaving published content pending deletion
	// until the parent is published.
	DeleteDraft DeleteMode = "draft"
	// DeletePublishedOnly removes the published subtree and keeps drafts.
	DeletePublishedOnly DeleteMode = "published_only"
	DeleteAll           DeleteMode = "all"
)

func ParseDeleteMode(raw string) (DeleteMode, error) {
	switch m := DeleteMode(raw); m {
	case DeleteDraft, DeletePublishedOnly, DeleteAll:
		return m, nil
	case "":
		return DeleteAll, nil
	}
	return "", storeerr.New(storeerr.ErrInvalidBranch, raw, "unknown delete mode %q", raw)
}

// DeleteItem removes key and its descendants from the branches mode selects and
// detaches key from its parent there. Draft deletes of direct-only blocks, or of blocks
// under a direct-only parent, remove every branch.
func (s *Store) DeleteItem(ctx context.Context, key keys.UsageKey, user string, mode DeleteMode) error {
	return s.run(ctx, "DeleteItem", key.Course, func(ctx context.Context, ss *session) error {
		if err := ss.checkCourse(key); err != nil {
			return err
		}
		return ss.deleteItem(ctx, key, user, mode)
	})
}

func (ss *session) deleteItem(ctx context.Context, key keys.UsageKey, user string, mode DeleteMode) error {
	if _, err := ss.viewDoc(ctx, key, keys.BranchDraft); err != nil {
		return err
	}
	if mode == DeleteDraft && ss.directOnly(key.BlockType) {
		mode = DeleteAll
	}
	if mode == DeleteDraft {
		parent, err := ss.parentOf(ctx, key, keys.BranchDraft)
		if err != nil {
			return err
		}
		if parent != nil && ss.directOnly(parent.BlockType) {
			mode = DeleteAll
		}
	}

	var branches []keys.Branch
	switch mode {
	case DeleteDraft:
		branches = []keys.Branch{keys.BranchDraft}
	case DeletePublishedOnly:
		branches = []keys.Branch{keys.BranchPublished}
	default:
		branches = []keys.Branch{keys.BranchDraft, keys.BranchPublished}
	}

	for _, branch := range branches {
		if err := ss.detach(ctx, key, branch, user); err != nil {
			return err
		}
	}
	var ids []docstore.DocID
	for _, branch := range branches {
		subtree, err := ss.subtree(ctx, key, branch)
		if err != nil {
			return err
		}
		for _, k := range subtree {
			ids = append(ids, docstore.IDFor(k, branch))
			ss.ForgetParent(branch, k)
		}
	}
	if err := ss.removeExisting(ctx, ids); err != nil {
		return err
	}
	if key.BlockType == "static_tab" {
		if err := ss.dropStaticTab(ctx, key.BlockID); err != nil {
			return err
		}
	}
	ss.Queue(signals.ItemRemoved(key, user))
	return nil
}

// subtree lists key and its descendants breadth first, as stored under branch. Missing
// children are skipped.
func (ss *session) subtree(ctx context.Context, key keys.UsageKey, branch keys.Branch) ([]keys.UsageKey, error) {
	out := []keys.UsageKey{}
	seen := map[keys.UsageKey]bool{}
	queue := []keys.UsageKey{key}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		d, err := ss.viewDoc(ctx, cur, branch)
		if storeerr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
		for _, ref := range d.Definition.Children {
			if child, ok := parseRef(ref, ss.course); ok {
				queue = append(queue, child)
			}
		}
	}
	return out, nil
}

// removeExisting deletes the ids that are actually stored.
func (ss *session) removeExisting(ctx context.Context, ids []docstore.DocID) error {
	existing := make([]docstore.DocID, 0, len(ids))
	for _, id := range ids {
		if _, err := ss.Tx.Get(ctx, id); err != nil {
			if storeerr.IsNotFound(err) {
				continue
			}
			return err
		}
		existing = append(existing, id)
	}
	return ss.remove(ctx, existing...)
}

// detach drops key from its parent's children under branch. Under draft a published
// only parent of a draft-capable type gets a draft copy.
func (ss *session) detach(ctx context.Context, key keys.UsageKey, branch keys.Branch, user string) error {
	parent, err := ss.parentOf(ctx, key, branch)
	if err != nil || parent == nil {
		return err
	}
	var d *docstore.Document
	if branch == keys.BranchDraft {
		d, err = ss.editableDoc(ctx, *parent)
	} else {
		d, err = ss.rawDoc(ctx, *parent, keys.BranchPublished)
	}
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	d = d.Clone()
	if branch == keys.BranchDraft && !ss.directOnly(parent.BlockType) {
		d.ID.Revision = string(keys.BranchDraft)
	}
	ref := key.String()
	children := make([]string, 0, len(d.Definition.Children))
	for _, c := range d.Definition.Children {
		if c != ref {
			children = append(children, c)
		}
	}
	d.Definition.Children = children
	now, by := ss.now(), userRef(user)
	d.EditInfo.EditedOn, d.EditInfo.EditedBy = now, by
	d.EditInfo.SubtreeEditedOn, d.EditInfo.SubtreeEditedBy = now, by
	if err := ss.put(ctx, d); err != nil {
		return err
	}
	ss.ForgetParent(keys.BranchDraft, key)
	ss.ForgetParent(keys.BranchPublished, key)
	if branch == keys.BranchDraft {
		return ss.touchAncestors(ctx, *parent, user)
	}
	return nil
}

// dropStaticTab removes the course tab whose url_slug is slug.
func (ss *session) dropStaticTab(ctx context.Context, slug string) error {
	root, err := ss.rawDoc(ctx, ss.course.Root(), keys.BranchPublished)
	if err != nil || root == nil {
		return err
	}
	tabs, ok := blocktypes.NormalizeGeneric(root.Metadata["tabs"]).([]any)
	if !ok {
		return nil
	}
	kept := make([]any, 0, len(tabs))
	for _, tab := range tabs {
		if m, ok := tab.(map[string]any); ok && m["url_slug"] == slug {
			continue
		}
		kept = append(kept, tab)
	}
	if len(kept) == len(tabs) {
		return nil
	}
	root = root.Clone()
	root.Metadata["tabs"] = kept
	return ss.put(ctx, root)
}

package modulestore

import (
	"context"
	"fmt"

	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

// structural pairs a parent type with the only child type it takes besides containers.
var structural = map[string]string{
	"chapter":    "sequential",
	"sequential": "vertical",
}

// MoveResult reports where the moved block came from, so the move can be undone.
type MoveResult struct {
	Source     keys.UsageKey
	OldParent  keys.UsageKey
	OldIndex   int
	NewParent  keys.UsageKey
	InsertedAt int
}

// MoveItem detaches source from its parent and inserts it into target at index (nil
// appends). Nothing is written when the move is refused.
func (s *Store) MoveItem(ctx context.Context, user string, source, target keys.UsageKey, index *int) (*MoveResult, error) {
	var out *MoveResult
	err := s.run(ctx, "MoveItem", source.Course, func(ctx context.Context, ss *session) error {
		res, err := ss.move(ctx, user, source, target, index)
		out = res
		return err
	})
	if err == nil {
		s.log.Info("moved block",
			"usage_key", out.Source.String(),
			"from", out.OldParent.String(),
			"to", out.NewParent.String(),
			"index", out.InsertedAt,
		)
	}
	return out, err
}

func (ss *session) move(ctx context.Context, user string, source, target keys.UsageKey, index *int) (*MoveResult, error) {
	if err := ss.checkCourse(source); err != nil {
		return nil, err
	}
	if err := ss.checkCourse(target); err != nil {
		return nil, err
	}
	src, err := ss.load(ctx, source, keys.BranchDraft, 0)
	if err != nil {
		return nil, err
	}
	tgt, err := ss.load(ctx, target, keys.BranchDraft, 0)
	if err != nil {
		return nil, err
	}
	oldParent, err := ss.parentOf(ctx, source, keys.BranchDraft)
	if err != nil {
		return nil, err
	}
	refuse := func(format string, args ...any) (*MoveResult, error) {
		return nil, storeerr.InvalidMove(source.String(), fmt.Sprintf(format, args...))
	}

	srcType, tgtType := src.Key.BlockType, tgt.Key.BlockType
	container := tgt.Type.HasChildren && !ss.directOnly(tgtType)
	if structural[tgtType] != srcType && !container {
		return refuse("You can not move %s into %s.", srcType, tgtType)
	}
	if (oldParent != nil && *oldParent == target) || tgt.HasChild(source) {
		return refuse("Item is already present in target location.")
	}
	if source == target {
		return refuse("You can not move an item into itself.")
	}
	above, err := ss.ancestors(ctx, target, keys.BranchDraft)
	if err != nil {
		return nil, err
	}
	if indexOf(above, source) >= 0 {
		return refuse("You can not move an item into it's child.")
	}
	if tgtType == "split_test" {
		return refuse("You can not move an item directly into content experiment.")
	}
	if oldParent == nil {
		return refuse("%s has no parent.", source)
	}
	from, err := ss.load(ctx, *oldParent, keys.BranchDraft, 0)
	if err != nil {
		return nil, err
	}
	oldIndex := indexOf(from.Children(), source)
	if oldIndex < 0 {
		return refuse("%s not found in %s.", source, *oldParent)
	}
	at := len(tgt.Children())
	if index != nil {
		if *index < 0 || *index > len(tgt.Children()) {
			return refuse("You can not move %s at an invalid index (%d).", source, *index)
		}
		at = *index
	}

	remaining, _ := removeKey(from.Children(), source)
	from.SetChildren(remaining)
	if _, err := ss.update(ctx, from, user); err != nil {
		return nil, err
	}
	ss.ForgetParent(keys.BranchDraft, source)
	tgt.SetChildren(insertKey(tgt.Children(), source, at))
	if _, err := ss.update(ctx, tgt, user); err != nil {
		return nil, err
	}
	src, err = ss.load(ctx, source, keys.BranchDraft, 0)
	if err != nil {
		return nil, err
	}
	if _, err := ss.update(ctx, src, user); err != nil {
		return nil, err
	}
	return &MoveResult{
		Source:     source,
		OldParent:  *oldParent,
		OldIndex:   oldIndex,
		NewParent:  target,
		InsertedAt: at,
	}, nil
}

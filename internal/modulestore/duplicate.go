package modulestore

import (
	"context"
	"fmt"

	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

// DuplicateBlock copies source and its subtree under fresh ids into parent (nil: the
// source's own parent, right after the source). displayName overrides the default
// "Duplicate of ..." label of the copy.
func (s *Store) DuplicateBlock(ctx context.Context, user string, source keys.UsageKey, parent *keys.UsageKey, displayName *string) (*Block, error) {
	var out *Block
	err := s.run(ctx, "DuplicateBlock", source.Course, func(ctx context.Context, ss *session) error {
		if err := ss.checkCourse(source); err != nil {
			return err
		}
		src, err := ss.load(ctx, source, keys.BranchDraft, 0)
		if err != nil {
			return err
		}
		current, err := ss.parentOf(ctx, source, keys.BranchDraft)
		if err != nil {
			return err
		}
		dest := parent
		if dest == nil {
			dest = current
		}
		if dest == nil {
			return storeerr.New(storeerr.ErrInvalidArgument, source.String(), "%s has no parent to duplicate into", source)
		}
		if err := ss.checkCourse(*dest); err != nil {
			return err
		}

		label := ""
		if displayName != nil {
			label = *displayName
		} else if name := src.Text("display_name"); name != "" {
			label = fmt.Sprintf("Duplicate of '%s'", name)
		} else {
			label = fmt.Sprintf("Duplicate of %s", src.Key.BlockType)
		}
		copyKey, err := ss.duplicate(ctx, user, src, &label)
		if err != nil {
			return err
		}

		p, err := ss.load(ctx, *dest, keys.BranchDraft, 0)
		if err != nil {
			return err
		}
		at := -1
		if current != nil && *current == *dest {
			at = indexOf(p.Children(), source) + 1
		}
		p.SetChildren(insertKey(p.Children(), copyKey, at))
		if _, err := ss.update(ctx, p, user); err != nil {
			return err
		}
		ss.Queue(signals.Duplicated(copyKey, source, source.BlockType))
		out, err = ss.load(ctx, copyKey, keys.BranchDraft, 0)
		return err
	})
	return out, err
}

// duplicate writes a copy of b (children first) and returns its key.
func (ss *session) duplicate(ctx context.Context, user string, b *Block, label *string) (keys.UsageKey, error) {
	children := make([]keys.UsageKey, 0, len(b.Children()))
	for _, c := range b.Children() {
		cb, err := ss.load(ctx, c, keys.BranchDraft, 0)
		if storeerr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return keys.UsageKey{}, err
		}
		ck, err := ss.duplicate(ctx, user, cb, nil)
		if err != nil {
			return keys.UsageKey{}, err
		}
		children = append(children, ck)
	}
	fields := b.Content()
	for name, v := range b.Settings() {
		fields[name] = v
	}
	if label != nil {
		fields["display_name"] = *label
	}
	if b.Type.HasChildren {
		fields["children"] = children
	}
	copied, err := ss.create(ctx, user, b.Key.Course.MakeUsageKey(b.Key.BlockType, ""), fields)
	if err != nil {
		return keys.UsageKey{}, err
	}
	return copied.Key, nil
}

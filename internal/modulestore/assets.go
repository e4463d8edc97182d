package modulestore

import (
	"context"
	"sort"
	"time"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

// AssetMetadata describes one stored asset. The bytes live elsewhere.
type AssetMetadata struct {
	Key          keys.AssetKey  `json:"asset_key"`
	InternalName string         `json:"internal_name,omitempty"`
	Locked       bool           `json:"locked"`
	ContentType  string         `json:"contenttype,omitempty"`
	Thumbnail    string         `json:"thumbnail,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	CurrVersion  string         `json:"curr_version,omitempty"`
	PrevVersion  string         `json:"prev_version,omitempty"`
	EditedBy     *string        `json:"edited_by,omitempty"`
	EditedOn     *time.Time     `json:"edited_on,omitempty"`
	CreatedBy    *string        `json:"created_by,omitempty"`
	CreatedOn    *time.Time     `json:"created_on,omitempty"`
}

// AssetSort orders GetAllAssetMetadata results.
type AssetSort struct {
	// Field is one of "displayname", "uploadDate" or "locked".
	Field      string
	Descending bool
}

func assetFromRecord(key keys.AssetKey, r docstore.AssetRecord) *AssetMetadata {
	return &AssetMetadata{
		Key:          key,
		InternalName: r.InternalName,
		Locked:       r.Locked,
		ContentType:  r.ContentType,
		Thumbnail:    r.Thumbnail,
		Fields:       r.Fields,
		CurrVersion:  r.CurrVersion,
		PrevVersion:  r.PrevVersion,
		EditedBy:     r.EditedBy,
		EditedOn:     r.EditedOn,
		CreatedBy:    r.CreatedBy,
		CreatedOn:    r.CreatedOn,
	}
}

func (a *AssetMetadata) record() docstore.AssetRecord {
	return docstore.AssetRecord{
		Filename:     a.Key.Filename,
		InternalName: a.InternalName,
		Locked:       a.Locked,
		ContentType:  a.ContentType,
		Thumbnail:    a.Thumbnail,
		Fields:       a.Fields,
		CurrVersion:  a.CurrVersion,
		PrevVersion:  a.PrevVersion,
		EditedBy:     a.EditedBy,
		EditedOn:     a.EditedOn,
		CreatedBy:    a.CreatedBy,
		CreatedOn:    a.CreatedOn,
	}
}

func (ss *session) assets(ctx context.Context, course keys.CourseKey) (*docstore.CourseAssets, error) {
	a, err := ss.Tx.GetAssets(ctx, course.Org, course.Course)
	if err != nil {
		return nil, err
	}
	if a == nil {
		a = &docstore.CourseAssets{Org: course.Org, Course: course.Course}
	}
	if a.Assets == nil {
		a.Assets = map[string][]docstore.AssetRecord{}
	}
	return a, nil
}

func findRecord(list []docstore.AssetRecord, filename string) int {
	i := sort.Search(len(list), func(i int) bool { return list[i].Filename >= filename })
	if i < len(list) && list[i].Filename == filename {
		return i
	}
	return -1
}

// FindAssetMetadata returns the metadata stored for key, or NotFound.
func (s *Store) FindAssetMetadata(ctx context.Context, key keys.AssetKey) (*AssetMetadata, error) {
	var out *AssetMetadata
	err := s.run(ctx, "FindAssetMetadata", key.Course, func(ctx context.Context, ss *session) error {
		a, err := ss.assets(ctx, key.Course)
		if err != nil {
			return err
		}
		list := a.Assets[key.AssetType]
		i := findRecord(list, key.Filename)
		if i < 0 {
			return storeerr.NotFound(key.String())
		}
		out = assetFromRecord(key, list[i])
		return nil
	})
	return out, err
}

// GetAllAssetMetadata pages through the assets of course. An empty assetType lists
// every type; maxResults < 0 means no limit.
func (s *Store) GetAllAssetMetadata(ctx context.Context, course keys.CourseKey, assetType string, start, maxResults int, order *AssetSort) ([]*AssetMetadata, error) {
	var out []*AssetMetadata
	err := s.run(ctx, "GetAllAssetMetadata", course, func(ctx context.Context, ss *session) error {
		a, err := ss.assets(ctx, course)
		if err != nil {
			return err
		}
		types := []string{assetType}
		if assetType == "" {
			types = types[:0]
			for t := range a.Assets {
				types = append(types, t)
			}
			sort.Strings(types)
		}
		all := []*AssetMetadata{}
		for _, t := range types {
			for _, r := range a.Assets[t] {
				all = append(all, assetFromRecord(course.MakeAssetKey(t, r.Filename), r))
			}
		}
		if order != nil {
			sortAssets(all, *order)
		}
		if start < 0 {
			start = 0
		}
		if start >= len(all) {
			out = []*AssetMetadata{}
			return nil
		}
		end := len(all)
		if maxResults >= 0 && start+maxResults < end {
			end = start + maxResults
		}
		out = all[start:end]
		return nil
	})
	return out, err
}

func sortAssets(list []*AssetMetadata, order AssetSort) {
	less := func(a, b *AssetMetadata) bool { return a.Key.Filename < b.Key.Filename }
	switch order.Field {
	case "uploadDate":
		less = func(a, b *AssetMetadata) bool {
			var at, bt time.Time
			if a.EditedOn != nil {
				at = *a.EditedOn
			}
			if b.EditedOn != nil {
				bt = *b.EditedOn
			}
			return at.Before(bt)
		}
	case "locked":
		less = func(a, b *AssetMetadata) bool { return !a.Locked && b.Locked }
	}
	sort.SliceStable(list, func(i, j int) bool {
		if order.Descending {
			return less(list[j], list[i])
		}
		return less(list[i], list[j])
	})
}

// SaveAssetMetadata inserts or replaces one asset, stamping edited_* (and created_* on
// first save).
func (s *Store) SaveAssetMetadata(ctx context.Context, md *AssetMetadata, user string) error {
	return s.SaveAssetMetadataList(ctx, []*AssetMetadata{md}, user)
}

// SaveAssetMetadataList saves assets that all belong to one course.
func (s *Store) SaveAssetMetadataList(ctx context.Context, list []*AssetMetadata, user string) error {
	if len(list) == 0 {
		return nil
	}
	course := list[0].Key.Course
	return s.run(ctx, "SaveAssetMetadata", course, func(ctx context.Context, ss *session) error {
		a, err := ss.assets(ctx, course)
		if err != nil {
			return err
		}
		now, by := ss.now(), userRef(user)
		for _, md := range list {
			if !md.Key.Course.SameScope(course) {
				return storeerr.New(storeerr.ErrInvalidKey, md.Key.String(), "%s does not belong to %s", md.Key, course)
			}
			if md.Key.AssetType == "" || md.Key.Filename == "" {
				return storeerr.InvalidKey(md.Key.String())
			}
			md.EditedOn, md.EditedBy = now, by
			records := a.Assets[md.Key.AssetType]
			if i := findRecord(records, md.Key.Filename); i >= 0 {
				if md.CreatedOn == nil {
					md.CreatedOn, md.CreatedBy = records[i].CreatedOn, records[i].CreatedBy
				}
				records[i] = md.record()
			} else {
				if md.CreatedOn == nil {
					md.CreatedOn, md.CreatedBy = now, by
				}
				records = append(records, md.record())
				sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
			}
			a.Assets[md.Key.AssetType] = records
		}
		return ss.Tx.SaveAssets(ctx, a)
	})
}

// SetAssetMetadataAttrs updates named attributes of an existing asset. Names that are
// not asset attributes land in Fields.
func (s *Store) SetAssetMetadataAttrs(ctx context.Context, key keys.AssetKey, attrs map[string]any, user string) error {
	return s.run(ctx, "SetAssetMetadataAttrs", key.Course, func(ctx context.Context, ss *session) error {
		a, err := ss.assets(ctx, key.Course)
		if err != nil {
			return err
		}
		records := a.Assets[key.AssetType]
		i := findRecord(records, key.Filename)
		if i < 0 {
			return storeerr.NotFound(key.String())
		}
		md := assetFromRecord(key, records[i])
		for name, v := range attrs {
			switch name {
			case "locked":
				b, ok := v.(bool)
				if !ok {
					return storeerr.New(storeerr.ErrInvalidArgument, key.String(), "locked must be a boolean")
				}
				md.Locked = b
			case "contenttype":
				md.ContentType, _ = v.(string)
			case "thumbnail":
				md.Thumbnail, _ = v.(string)
			case "internal_name":
				md.InternalName, _ = v.(string)
			case "curr_version":
				md.CurrVersion, _ = v.(string)
			case "prev_version":
				md.PrevVersion, _ = v.(string)
			default:
				if md.Fields == nil {
					md.Fields = map[string]any{}
				}
				md.Fields[name] = blocktypes.NormalizeGeneric(v)
			}
		}
		md.EditedOn, md.EditedBy = ss.now(), userRef(user)
		records[i] = md.record()
		return ss.Tx.SaveAssets(ctx, a)
	})
}

// DeleteAssetMetadata removes one asset and reports how many records went away.
func (s *Store) DeleteAssetMetadata(ctx context.Context, key keys.AssetKey, user string) (int, error) {
	removed := 0
	err := s.run(ctx, "DeleteAssetMetadata", key.Course, func(ctx context.Context, ss *session) error {
		a, err := ss.assets(ctx, key.Course)
		if err != nil {
			return err
		}
		records := a.Assets[key.AssetType]
		i := findRecord(records, key.Filename)
		if i < 0 {
			return nil
		}
		a.Assets[key.AssetType] = append(records[:i:i], records[i+1:]...)
		removed = 1
		return ss.Tx.SaveAssets(ctx, a)
	})
	return removed, err
}

func (s *Store) DeleteAllAssetMetadata(ctx context.Context, course keys.CourseKey, user string) error {
	return s.run(ctx, "DeleteAllAssetMetadata", course, func(ctx context.Context, ss *session) error {
		return ss.Tx.DeleteAssets(ctx, course.Org, course.Course)
	})
}

// CopyAllAssetMetadata replaces the assets of dst with those of src.
func (s *Store) CopyAllAssetMetadata(ctx context.Context, src, dst keys.CourseKey, user string) error {
	return s.run(ctx, "CopyAllAssetMetadata", dst, func(ctx context.Context, ss *session) error {
		from, err := ss.assets(ctx, src)
		if err != nil {
			return err
		}
		now, by := ss.now(), userRef(user)
		copied := &docstore.CourseAssets{Org: dst.Org, Course: dst.Course, Assets: map[string][]docstore.AssetRecord{}}
		for t, records := range from.Assets {
			out := make([]docstore.AssetRecord, 0, len(records))
			for _, r := range records {
				r.Fields = cloneFields(r.Fields)
				r.EditedOn, r.EditedBy = now, by
				out = append(out, r)
			}
			copied.Assets[t] = out
		}
		return ss.Tx.SaveAssets(ctx, copied)
	})
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = blocktypes.Clone(v)
	}
	return out
}

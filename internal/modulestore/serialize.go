package modulestore

import (
	"fmt"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/kvs"
)

// decodeDocument binds a stored document to course and loads it into a Block. inherited
// holds stored-form values; parent is the cached parent (nil when unknown).
func decodeDocument(reg *blocktypes.Registry, course keys.CourseKey, d *docstore.Document, inherited map[string]any, parent *keys.UsageKey) *Block {
	t := reg.Get(d.ID.Category)
	content := make(map[string]any, len(d.Definition.Data))
	for name, raw := range d.Definition.Data {
		content[name] = decodeField(t, name, raw, course)
	}
	settings := make(map[string]any, len(d.Metadata))
	for name, raw := range d.Metadata {
		settings[name] = decodeField(t, name, raw, course)
	}
	inh := make(map[string]any, len(inherited))
	for name, raw := range inherited {
		inh[name] = decodeField(t, name, raw, course)
	}
	// Containers always carry an explicit, possibly empty, children list.
	var children []keys.UsageKey
	if t.HasChildren || len(d.Definition.Children) > 0 {
		children = make([]keys.UsageKey, 0, len(d.Definition.Children))
	}
	for _, ref := range d.Definition.Children {
		if k, ok := parseRef(ref, course); ok {
			children = append(children, k)
		}
	}
	b := newBlock(d.ID.UsageKey(course), d.ID.Branch(), t, kvs.New(content, settings, children, parent, inh))
	b.Edit = EditInfo{
		EditedOn:        d.EditInfo.EditedOn,
		EditedBy:        d.EditInfo.EditedBy,
		SubtreeEditedOn: d.EditInfo.SubtreeEditedOn,
		SubtreeEditedBy: d.EditInfo.SubtreeEditedBy,
		PublishedOn:     d.EditInfo.PublishedDate,
		PublishedBy:     d.EditInfo.PublishedBy,
	}
	return b
}

// encodeBlock renders b as the stored document for branch.
func encodeBlock(b *Block, branch keys.Branch) *docstore.Document {
	d := &docstore.Document{
		ID: docstore.IDFor(b.Key, branch),
		Definition: docstore.Definition{
			Data:     map[string]any{},
			Children: docstore.ChildRefs(b.Children()),
		},
		Metadata: map[string]any{},
		EditInfo: docstore.EditInfo{
			EditedOn:        b.Edit.EditedOn,
			EditedBy:        b.Edit.EditedBy,
			SubtreeEditedOn: b.Edit.SubtreeEditedOn,
			SubtreeEditedBy: b.Edit.SubtreeEditedBy,
			PublishedDate:   b.Edit.PublishedOn,
			PublishedBy:     b.Edit.PublishedBy,
		},
	}
	for name, v := range b.Content() {
		d.Definition.Data[name] = encodeField(b.Type, name, v)
	}
	for name, v := range b.Settings() {
		d.Metadata[name] = encodeField(b.Type, name, v)
	}
	return d
}

func kindOf(t *blocktypes.Type, name string) (blocktypes.FieldKind, bool) {
	f, ok := t.Field(name)
	if !ok {
		return "", false
	}
	return f.Kind, true
}

// decodeField turns a stored value into its in-memory form. Values that do not fit the
// declared kind are kept as generic values rather than dropped.
func decodeField(t *blocktypes.Type, name string, raw any, course keys.CourseKey) any {
	kind, ok := kindOf(t, name)
	if !ok {
		return blocktypes.NormalizeGeneric(raw)
	}
	switch kind {
	case blocktypes.KindReference:
		if s, ok := raw.(string); ok {
			if k, ok := parseRef(s, course); ok {
				return k
			}
		}
		return raw
	case blocktypes.KindReferenceList:
		list, ok := blocktypes.NormalizeGeneric(raw).([]any)
		if !ok {
			return blocktypes.NormalizeGeneric(raw)
		}
		out := make([]keys.UsageKey, 0, len(list))
		for _, item := range list {
			s, _ := item.(string)
			if k, ok := parseRef(s, course); ok {
				out = append(out, k)
			}
		}
		return out
	case blocktypes.KindReferenceValueDict:
		m, ok := blocktypes.NormalizeGeneric(raw).(map[string]any)
		if !ok {
			return blocktypes.NormalizeGeneric(raw)
		}
		out := make(map[string]keys.UsageKey, len(m))
		for k, item := range m {
			s, _ := item.(string)
			if ref, ok := parseRef(s, course); ok {
				out[k] = ref
			}
		}
		return out
	}
	v, err := kind.Normalize(raw)
	if err != nil {
		return blocktypes.NormalizeGeneric(raw)
	}
	return v
}

// normalizeField validates a caller supplied value for name.
func normalizeField(t *blocktypes.Type, name string, value any, course keys.CourseKey) (any, error) {
	kind, ok := kindOf(t, name)
	if !ok {
		return blocktypes.NormalizeGeneric(value), nil
	}
	switch kind {
	case blocktypes.KindReference:
		switch v := value.(type) {
		case keys.UsageKey:
			return v, nil
		case string:
			return keys.ParseUsageKeyIn(v, course)
		}
	case blocktypes.KindReferenceList:
		switch v := value.(type) {
		case []keys.UsageKey:
			return append([]keys.UsageKey(nil), v...), nil
		case []string:
			return parseRefList(v, course)
		case []any:
			strs := make([]string, 0, len(v))
			for _, item := range v {
				s, _ := item.(string)
				strs = append(strs, s)
			}
			return parseRefList(strs, course)
		}
	case blocktypes.KindReferenceValueDict:
		switch v := value.(type) {
		case map[string]keys.UsageKey:
			out := make(map[string]keys.UsageKey, len(v))
			for k, ref := range v {
				out[k] = ref
			}
			return out, nil
		case map[string]any:
			out := make(map[string]keys.UsageKey, len(v))
			for k, item := range v {
				s, _ := item.(string)
				ref, err := keys.ParseUsageKeyIn(s, course)
				if err != nil {
					return nil, err
				}
				out[k] = ref
			}
			return out, nil
		}
	default:
		return kind.Normalize(value)
	}
	return nil, fmt.Errorf("unsupported %s value %T", kind, value)
}

func parseRefList(raw []string, course keys.CourseKey) ([]keys.UsageKey, error) {
	out := make([]keys.UsageKey, 0, len(raw))
	for _, s := range raw {
		k, err := keys.ParseUsageKeyIn(s, course)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func encodeField(t *blocktypes.Type, name string, v any) any {
	switch val := v.(type) {
	case keys.UsageKey:
		return val.String()
	case []keys.UsageKey:
		out := make([]any, 0, len(val))
		for _, k := range val {
			out = append(out, k.String())
		}
		return out
	case map[string]keys.UsageKey:
		out := make(map[string]any, len(val))
		for k, ref := range val {
			out[k] = ref.String()
		}
		return out
	}
	if kind, ok := kindOf(t, name); ok {
		return kind.Encode(v)
	}
	return v
}

// parseRef reads a stored child or reference string, filling in the run from course.
func parseRef(raw string, course keys.CourseKey) (keys.UsageKey, bool) {
	if raw == "" {
		return keys.UsageKey{}, false
	}
	k, err := keys.ParseUsageKey(raw)
	if err != nil {
		return keys.UsageKey{}, false
	}
	return k.MapIntoCourse(course), true
}

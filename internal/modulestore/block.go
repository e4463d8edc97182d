package modulestore

import (
	"fmt"
	"sort"
	"time"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/kvs"
)

type EditInfo struct {
	EditedOn        *time.Time
	EditedBy        *string
	SubtreeEditedOn *time.Time
	SubtreeEditedBy *string
	PublishedOn     *time.Time
	PublishedBy     *string
}

// Block is one loaded node of a course tree. Field values are held in their in-memory
// form (see blocktypes.FieldKind.Normalize); reference fields hold keys.UsageKey values.
type Block struct {
	Key    keys.UsageKey
	Branch keys.Branch
	Type   *blocktypes.Type
	Edit   EditInfo
	// Loaded is the prefetched children, filled to the depth requested from GetItem.
	Loaded []*Block

	fields *kvs.KVS
}

func newBlock(key keys.UsageKey, branch keys.Branch, t *blocktypes.Type, fields *kvs.KVS) *Block {
	return &Block{Key: key, Branch: branch, Type: t, fields: fields}
}

func (b *Block) BlockType() string { return b.Key.BlockType }

// Get returns the value of name: the local value, then the inherited one for settings,
// then the declared default. ok is false when none of them exists.
func (b *Block) Get(name string) (any, bool) {
	if name == "children" {
		return b.Children(), true
	}
	if v, err := b.fields.Get(b.Type.ScopeOf(name), name); err == nil {
		return v, true
	}
	if def := b.Type.Default(name); def != nil {
		return def, true
	}
	return nil, false
}

// Field is Get without the presence flag.
func (b *Block) Field(name string) any {
	v, _ := b.Get(name)
	return v
}

func (b *Block) Text(name string) string {
	s, _ := b.Field(name).(string)
	return s
}

// Int returns an integer field; ok is false when the field is unset or not an integer.
func (b *Block) Int(name string) (int, bool) {
	i, ok := b.Field(name).(int)
	return i, ok
}

// IsSet reports whether name has a local value.
func (b *Block) IsSet(name string) bool {
	ok, _ := b.fields.Has(b.Type.ScopeOf(name), name)
	return ok
}

// Set normalizes value for the field's kind and stores it locally. A nil value clears
// the field.
func (b *Block) Set(name string, value any) error {
	if value == nil {
		return b.Clear(name)
	}
	scope := b.Type.ScopeOf(name)
	if scope == blocktypes.ScopeChildren {
		children, ok := value.([]keys.UsageKey)
		if !ok {
			return fmt.Errorf("%w: children of %s must be usage keys", kvs.ErrInvalidValue, b.Key)
		}
		return b.fields.Set(scope, name, children)
	}
	v, err := normalizeField(b.Type, name, value, b.Key.Course)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %v", kvs.ErrInvalidValue, b.Key, name, err)
	}
	return b.fields.Set(scope, name, v)
}

func (b *Block) Clear(name string) error {
	return b.fields.Delete(b.Type.ScopeOf(name), name)
}

func (b *Block) Inherited(name string) (any, bool) { return b.fields.Inherited(name) }

func (b *Block) Children() []keys.UsageKey { return b.fields.Children() }

func (b *Block) SetChildren(children []keys.UsageKey) {
	_ = b.fields.Set(blocktypes.ScopeChildren, "children", children)
}

func (b *Block) HasChild(k keys.UsageKey) bool { return indexOf(b.Children(), k) >= 0 }

// Parent is the parent cached when the block was loaded.
func (b *Block) Parent() *keys.UsageKey { return b.fields.Parent() }

// Content and Settings return copies of the local values of each scope.
func (b *Block) Content() map[string]any  { return b.fields.Content() }
func (b *Block) Settings() map[string]any { return b.fields.Settings() }

// DisplayName falls back to the block id, the way course outlines label blocks.
func (b *Block) DisplayName() string {
	if s := b.Text("display_name"); s != "" {
		return s
	}
	return b.Key.BlockID
}

// SetFields applies a name to value map; nil values clear.
func (b *Block) SetFields(fields map[string]any) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.Set(name, fields[name]); err != nil {
			return err
		}
	}
	return nil
}

func indexOf(list []keys.UsageKey, k keys.UsageKey) int {
	for i, c := range list {
		if c.BlockType == k.BlockType && c.BlockID == k.BlockID {
			return i
		}
	}
	return -1
}

func removeKey(list []keys.UsageKey, k keys.UsageKey) ([]keys.UsageKey, bool) {
	i := indexOf(list, k)
	if i < 0 {
		return list, false
	}
	out := append([]keys.UsageKey(nil), list[:i]...)
	return append(out, list[i+1:]...), true
}

func insertKey(list []keys.UsageKey, k keys.UsageKey, at int) []keys.UsageKey {
	if at < 0 || at > len(list) {
		at = len(list)
	}
	out := make([]keys.UsageKey, 0, len(list)+1)
	out = append(out, list[:at]...)
	out = append(out, k)
	return append(out, list[at:]...)
}

// Package docstore defines the persisted block document layout and the storage
// contract the block store is written against. Backends live in subpackages.
package docstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

// Tag is the fixed _id.tag of every block document.
const Tag = "i4x"

// DocID is the branched usage key broken into its stored parts. The run is not part of
// the id: a store holds one run per (org, course) and the run is the course root's name.
type DocID struct {
	Tag      string `bson:"tag" json:"tag"`
	Org      string `bson:"org" json:"org"`
	Course   string `bson:"course" json:"course"`
	Category string `bson:"category" json:"category"`
	Name     string `bson:"name" json:"name"`
	Revision string `bson:"revision" json:"revision"`
}

func IDFor(u keys.UsageKey, b keys.Branch) DocID {
	return DocID{
		Tag:      Tag,
		Org:      u.Course.Org,
		Course:   u.Course.Course,
		Category: u.BlockType,
		Name:     u.BlockID,
		Revision: string(b),
	}
}

func (id DocID) String() string {
	return id.Org + "/" + id.Course + "/" + id.Category + "/" + id.Name + "@" + id.Revision
}

func (id DocID) UsageKey(course keys.CourseKey) keys.UsageKey {
	return keys.UsageKey{Course: course, BlockType: id.Category, BlockID: id.Name}
}

func (id DocID) Branch() keys.Branch { return keys.Branch(id.Revision) }

// Scope is the (org, course) partition the id belongs to.
func (id DocID) Scope() string { return id.Org + "/" + id.Course }

type Definition struct {
	Data     map[string]any `bson:"data" json:"data"`
	Children []string       `bson:"children" json:"children"`
}

type EditInfo struct {
	EditedOn        *time.Time `bson:"edited_on,omitempty" json:"edited_on,omitempty"`
	EditedBy        *string    `bson:"edited_by,omitempty" json:"edited_by,omitempty"`
	SubtreeEditedOn *time.Time `bson:"subtree_edited_on,omitempty" json:"subtree_edited_on,omitempty"`
	SubtreeEditedBy *string    `bson:"subtree_edited_by,omitempty" json:"subtree_edited_by,omitempty"`
	PublishedDate   *time.Time `bson:"published_date,omitempty" json:"published_date,omitempty"`
	PublishedBy     *string    `bson:"published_by,omitempty" json:"published_by,omitempty"`
}

// Document is one (usage key, branch) record.
type Document struct {
	ID         DocID          `bson:"_id" json:"_id"`
	Definition Definition     `bson:"definition" json:"definition"`
	Metadata   map[string]any `bson:"metadata" json:"metadata"`
	EditInfo   EditInfo       `bson:"edit_info" json:"edit_info"`
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		ID: d.ID,
		Definition: Definition{
			Data:     cloneMap(d.Definition.Data),
			Children: append([]string(nil), d.Definition.Children...),
		},
		Metadata: cloneMap(d.Metadata),
		EditInfo: EditInfo{
			EditedOn:        cloneTime(d.EditInfo.EditedOn),
			EditedBy:        cloneString(d.EditInfo.EditedBy),
			SubtreeEditedOn: cloneTime(d.EditInfo.SubtreeEditedOn),
			SubtreeEditedBy: cloneString(d.EditInfo.SubtreeEditedBy),
			PublishedDate:   cloneTime(d.EditInfo.PublishedDate),
			PublishedBy:     cloneString(d.EditInfo.PublishedBy),
		},
	}
	if out.Definition.Data == nil {
		out.Definition.Data = map[string]any{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if out.Definition.Children == nil {
		out.Definition.Children = []string{}
	}
	return out
}

// HasChild reports whether ref (a canonical usage key string) is listed as a child.
func (d *Document) HasChild(ref string) bool {
	for _, c := range d.Definition.Children {
		if c == ref {
			return true
		}
	}
	return false
}

// Filter selects documents inside one (org, course) partition. Empty slices and
// strings match everything.
type Filter struct {
	Org        string
	Course     string
	Categories []string
	Names      []string
	Revision   string
	// ChildRef selects documents whose definition.children lists this key.
	ChildRef string
}

func (f Filter) Matches(d *Document) bool {
	if d == nil || d.ID.Org != f.Org || d.ID.Course != f.Course {
		return false
	}
	if len(f.Categories) > 0 && !contains(f.Categories, d.ID.Category) {
		return false
	}
	if len(f.Names) > 0 && !contains(f.Names, d.ID.Name) {
		return false
	}
	if f.Revision != "" && d.ID.Revision != f.Revision {
		return false
	}
	if f.ChildRef != "" && !d.HasChild(f.ChildRef) {
		return false
	}
	return true
}

// SortDocuments orders draft before published, then by category and name.
func SortDocuments(docs []*Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].ID, docs[j].ID
		if a.Revision != b.Revision {
			return a.Revision < b.Revision
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Name < b.Name
	})
}

// AssetRecord is one asset's stored metadata.
type AssetRecord struct {
	Filename     string         `bson:"filename" json:"filename"`
	InternalName string         `bson:"internal_name,omitempty" json:"internal_name,omitempty"`
	Locked       bool           `bson:"locked" json:"locked"`
	ContentType  string         `bson:"contenttype,omitempty" json:"contenttype,omitempty"`
	Thumbnail    string         `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	Fields       map[string]any `bson:"fields,omitempty" json:"fields,omitempty"`
	CurrVersion  string         `bson:"curr_version,omitempty" json:"curr_version,omitempty"`
	PrevVersion  string         `bson:"prev_version,omitempty" json:"prev_version,omitempty"`
	EditedBy     *string        `bson:"edited_by,omitempty" json:"edited_by,omitempty"`
	EditedOn     *time.Time     `bson:"edited_on,omitempty" json:"edited_on,omitempty"`
	CreatedBy    *string        `bson:"created_by,omitempty" json:"created_by,omitempty"`
	CreatedOn    *time.Time     `bson:"created_on,omitempty" json:"created_on,omitempty"`
}

// CourseAssets is the single asset document of a course: asset type to records
// sorted by filename.
type CourseAssets struct {
	Org    string                   `bson:"org" json:"org"`
	Course string                   `bson:"course" json:"course"`
	Assets map[string][]AssetRecord `bson:"assets" json:"assets"`
}

type Reader interface {
	// Get returns ErrNotFound (as a *storeerr.Error) when the document is missing.
	Get(ctx context.Context, id DocID) (*Document, error)
	Find(ctx context.Context, f Filter) ([]*Document, error)
	// FindCourseRoots returns course root documents. With fold, org and course compare
	// case-insensitively; empty org and course list every root.
	FindCourseRoots(ctx context.Context, org, course string, fold bool) ([]*Document, error)
	// GetAssets returns nil, nil when the course has no asset document yet.
	GetAssets(ctx context.Context, org, course string) (*CourseAssets, error)
}

type Writer interface {
	Upsert(ctx context.Context, docs ...*Document) error
	Delete(ctx context.Context, ids ...DocID) error
	DeleteScope(ctx context.Context, org, course string) error
	SaveAssets(ctx context.Context, assets *CourseAssets) error
	DeleteAssets(ctx context.Context, org, course string) error
}

// Tx is a unit of work. Its reads observe its own writes; nothing is visible to
// other readers before Commit.
type Tx interface {
	Reader
	Writer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Store interface {
	Reader
	Writer
	Begin(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}

func NotFound(id DocID) error {
	return storeerr.New(storeerr.ErrNotFound, id.String(), "document %s not found", id)
}

// ChildRefs encodes child keys for definition.children.
func ChildRefs(children []keys.UsageKey) []string {
	out := make([]string, 0, len(children))
	for _, c := range children {
		out = append(out, c.String())
	}
	return out
}

// FoldEqual compares org/course ids the way duplicate course detection does.
func FoldEqual(a, b string) bool { return strings.EqualFold(a, b) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = blocktypes.Clone(v)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// BlockDocument is the relational rendering of docstore.Document. The primary key is
// the document _id; definition and metadata are kept as JSON.
type BlockDocument struct {
	Org      string `gorm:"column:org;primaryKey;size:255;index:idx_block_documents_scope,priority:1"`
	Course   string `gorm:"column:course;primaryKey;size:255;index:idx_block_documents_scope,priority:2"`
	Category string `gorm:"column:category;primaryKey;size:255;index:idx_block_documents_scope,priority:3"`
	Name     string `gorm:"column:name;primaryKey;size:255"`
	Revision string `gorm:"column:revision;primaryKey;size:32"`
	Tag      string `gorm:"column:tag;not null;default:'i4x'"`

	DefinitionData     datatypes.JSON `gorm:"column:definition_data"`
	DefinitionChildren datatypes.JSON `gorm:"column:definition_children"`
	Metadata           datatypes.JSON `gorm:"column:metadata"`

	EditedOn        *time.Time `gorm:"column:edited_on"`
	EditedBy        *string    `gorm:"column:edited_by"`
	SubtreeEditedOn *time.Time `gorm:"column:subtree_edited_on"`
	SubtreeEditedBy *string    `gorm:"column:subtree_edited_by"`
	PublishedDate   *time.Time `gorm:"column:published_date"`
	PublishedBy     *string    `gorm:"column:published_by"`

	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (BlockDocument) TableName() string { return "block_documents" }

// BlockChild indexes definition.children so parent lookups do not scan JSON.
type BlockChild struct {
	Org      string `gorm:"column:org;primaryKey;size:255"`
	Course   string `gorm:"column:course;primaryKey;size:255"`
	Category string `gorm:"column:category;primaryKey;size:255"`
	Name     string `gorm:"column:name;primaryKey;size:255"`
	Revision string `gorm:"column:revision;primaryKey;size:32"`
	Position int    `gorm:"column:position;primaryKey"`
	Child    string `gorm:"column:child;not null;index"`
}

func (BlockChild) TableName() string { return "block_children" }

type CourseAssetsRow struct {
	Org       string         `gorm:"column:org;primaryKey;size:255"`
	Course    string         `gorm:"column:course;primaryKey;size:255"`
	Assets    datatypes.JSON `gorm:"column:assets"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

func (CourseAssetsRow) TableName() string { return "course_assets" }

// Models lists every table this backend needs migrated.
func Models() []interface{} {
	return []interface{}{&BlockDocument{}, &BlockChild{}, &CourseAssetsRow{}}
}

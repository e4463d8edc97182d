// Package gormstore keeps block documents in Postgres (or SQLite) through gorm. A bulk
// operation maps to one database transaction.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type Store struct {
	db  *gorm.DB
	log *logger.Logger
	tx  bool
}

var _ docstore.Store = (*Store)(nil)

func New(db *gorm.DB, baseLog *logger.Logger) *Store {
	return &Store{db: db, log: baseLog.With("store", "GormDocStore")}
}

func (s *Store) Begin(ctx context.Context) (docstore.Tx, error) {
	if s.tx {
		return nil, fmt.Errorf("gormstore: nested transaction")
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("gormstore: begin: %w", tx.Error)
	}
	return &txStore{Store: Store{db: tx, log: s.log, tx: true}}, nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.tx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, id docstore.DocID) (*docstore.Document, error) {
	var row BlockDocument
	err := s.db.WithContext(ctx).
		Where("org = ? AND course = ? AND category = ? AND name = ? AND revision = ?",
			id.Org, id.Course, id.Category, id.Name, id.Revision).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, docstore.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return rowToDocument(&row)
}

func (s *Store) Find(ctx context.Context, f docstore.Filter) ([]*docstore.Document, error) {
	q := s.db.WithContext(ctx).Model(&BlockDocument{}).Where("org = ? AND course = ?", f.Org, f.Course)
	if len(f.Categories) > 0 {
		q = q.Where("category IN ?", f.Categories)
	}
	if len(f.Names) > 0 {
		q = q.Where("name IN ?", f.Names)
	}
	if f.Revision != "" {
		q = q.Where("revision = ?", f.Revision)
	}
	if f.ChildRef != "" {
		var links []BlockChild
		if err := s.db.WithContext(ctx).
			Where("org = ? AND course = ? AND child = ?", f.Org, f.Course, f.ChildRef).
			Find(&links).Error; err != nil {
			return nil, err
		}
		if len(links) == 0 {
			return []*docstore.Document{}, nil
		}
		// Row values are not portable across dialects; OR the parent ids together.
		parts := make([]string, 0, len(links))
		args := make([]interface{}, 0, len(links)*3)
		for _, l := range links {
			parts = append(parts, "(category = ? AND name = ? AND revision = ?)")
			args = append(args, l.Category, l.Name, l.Revision)
		}
		q = q.Where("("+strings.Join(parts, " OR ")+")", args...)
	}
	var rows []BlockDocument
	if err := q.Order("revision ASC").Order("category ASC").Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToDocuments(rows)
}

func (s *Store) FindCourseRoots(ctx context.Context, org, course string, fold bool) ([]*docstore.Document, error) {
	q := s.db.WithContext(ctx).Model(&BlockDocument{}).Where("category = ?", "course")
	switch {
	case org == "" && course == "":
	case fold:
		q = q.Where("LOWER(org) = ? AND LOWER(course) = ?", strings.ToLower(org), strings.ToLower(course))
	default:
		q = q.Where("org = ? AND course = ?", org, course)
	}
	var rows []BlockDocument
	if err := q.Order("org ASC").Order("course ASC").Order("revision ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToDocuments(rows)
}

func (s *Store) Upsert(ctx context.Context, docs ...*docstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, d := range docs {
			row, err := documentToRow(d, now)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "org"}, {Name: "course"}, {Name: "category"}, {Name: "name"}, {Name: "revision"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"tag",
					"definition_data",
					"definition_children",
					"metadata",
					"edited_on",
					"edited_by",
					"subtree_edited_on",
					"subtree_edited_by",
					"published_date",
					"published_by",
					"updated_at",
				}),
			}).Create(row).Error; err != nil {
				return fmt.Errorf("upsert %s: %w", d.ID, err)
			}
			if err := replaceChildren(tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, ids ...docstore.DocID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *gorm.DB) error {
		for _, id := range ids {
			where := "org = ? AND course = ? AND category = ? AND name = ? AND revision = ?"
			args := []interface{}{id.Org, id.Course, id.Category, id.Name, id.Revision}
			if err := tx.Where(where, args...).Delete(&BlockDocument{}).Error; err != nil {
				return err
			}
			if err := tx.Where(where, args...).Delete(&BlockChild{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteScope(ctx context.Context, org, course string) error {
	return s.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("org = ? AND course = ?", org, course).Delete(&BlockDocument{}).Error; err != nil {
			return err
		}
		return tx.Where("org = ? AND course = ?", org, course).Delete(&BlockChild{}).Error
	})
}

func (s *Store) GetAssets(ctx context.Context, org, course string) (*docstore.CourseAssets, error) {
	var row CourseAssetsRow
	err := s.db.WithContext(ctx).Where("org = ? AND course = ?", org, course).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := &docstore.CourseAssets{Org: row.Org, Course: row.Course, Assets: map[string][]docstore.AssetRecord{}}
	if len(row.Assets) > 0 {
		if err := json.Unmarshal(row.Assets, &out.Assets); err != nil {
			return nil, fmt.Errorf("decode assets %s/%s: %w", org, course, err)
		}
	}
	return out, nil
}

func (s *Store) SaveAssets(ctx context.Context, assets *docstore.CourseAssets) error {
	raw, err := json.Marshal(assets.Assets)
	if err != nil {
		return err
	}
	row := &CourseAssetsRow{Org: assets.Org, Course: assets.Course, Assets: raw, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org"}, {Name: "course"}},
		DoUpdates: clause.AssignmentColumns([]string{"assets", "updated_at"}),
	}).Create(row).Error
}

func (s *Store) DeleteAssets(ctx context.Context, org, course string) error {
	return s.db.WithContext(ctx).Where("org = ? AND course = ?", org, course).Delete(&CourseAssetsRow{}).Error
}

// inTx runs fn in the current transaction, or a short one when the store is not
// transactional.
func (s *Store) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.tx {
		return fn(s.db.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func replaceChildren(tx *gorm.DB, d *docstore.Document) error {
	id := d.ID
	if err := tx.Where("org = ? AND course = ? AND category = ? AND name = ? AND revision = ?",
		id.Org, id.Course, id.Category, id.Name, id.Revision).Delete(&BlockChild{}).Error; err != nil {
		return err
	}
	if len(d.Definition.Children) == 0 {
		return nil
	}
	links := make([]BlockChild, 0, len(d.Definition.Children))
	for i, c := range d.Definition.Children {
		links = append(links, BlockChild{
			Org: id.Org, Course: id.Course, Category: id.Category, Name: id.Name, Revision: id.Revision,
			Position: i, Child: c,
		})
	}
	return tx.Create(&links).Error
}

type txStore struct {
	Store
	done bool
}

func (t *txStore) Begin(ctx context.Context) (docstore.Tx, error) {
	return nil, fmt.Errorf("gormstore: nested transaction")
}

func (t *txStore) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("gormstore: transaction already finished")
	}
	t.done = true
	return t.db.Commit().Error
}

func (t *txStore) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}

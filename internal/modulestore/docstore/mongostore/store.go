// Package mongostore keeps block documents in MongoDB using the native _id
// subdocument layout. Without multi-document transactions, a bulk operation buffers
// its writes and flushes them in dependency order on commit.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

const (
	blocksCollection = "modulestore"
	assetsCollection = "assetstore"
)

type Store struct {
	blocks *mongo.Collection
	assets *mongo.Collection
	log    *logger.Logger
}

var _ docstore.Store = (*Store)(nil)

func New(db *mongo.Database, baseLog *logger.Logger) *Store {
	return &Store{
		blocks: db.Collection(blocksCollection),
		assets: db.Collection(assetsCollection),
		log:    baseLog.With("store", "MongoDocStore"),
	}
}

// EnsureIndexes creates the indexes parent lookups and course scans rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "_id.org", Value: 1}, {Key: "_id.course", Value: 1}, {Key: "_id.category", Value: 1}},
			Options: options.Index().SetName("idx_scope_category"),
		},
		{
			Keys:    bson.D{{Key: "definition.children", Value: 1}},
			Options: options.Index().SetName("idx_definition_children"),
		},
	}
	if _, err := s.blocks.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongostore: create block indexes: %w", err)
	}
	if _, err := s.assets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "org", Value: 1}, {Key: "course", Value: 1}},
		Options: options.Index().SetName("idx_assets_course").SetUnique(true),
	}); err != nil {
		return fmt.Errorf("mongostore: create asset index: %w", err)
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (docstore.Tx, error) {
	return newBufferedTx(s), nil
}

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close(ctx context.Context) error { return nil }

func (s *Store) Get(ctx context.Context, id docstore.DocID) (*docstore.Document, error) {
	var d docstore.Document
	err := s.blocks.FindOne(ctx, bson.M{"_id": idDoc(id)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	normalizeDocument(&d)
	return &d, nil
}

func (s *Store) Find(ctx context.Context, f docstore.Filter) ([]*docstore.Document, error) {
	q := bson.M{"_id.org": f.Org, "_id.course": f.Course}
	if len(f.Categories) > 0 {
		q["_id.category"] = bson.M{"$in": f.Categories}
	}
	if len(f.Names) > 0 {
		q["_id.name"] = bson.M{"$in": f.Names}
	}
	if f.Revision != "" {
		q["_id.revision"] = f.Revision
	}
	if f.ChildRef != "" {
		q["definition.children"] = f.ChildRef
	}
	return s.findMany(ctx, q)
}

func (s *Store) FindCourseRoots(ctx context.Context, org, course string, fold bool) ([]*docstore.Document, error) {
	q := bson.M{"_id.category": "course"}
	switch {
	case org == "" && course == "":
	case fold:
		q["_id.org"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(org) + "$", Options: "i"}
		q["_id.course"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(course) + "$", Options: "i"}
	default:
		q["_id.org"] = org
		q["_id.course"] = course
	}
	return s.findMany(ctx, q)
}

func (s *Store) findMany(ctx context.Context, q bson.M) ([]*docstore.Document, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "_id.revision", Value: 1},
		{Key: "_id.category", Value: 1},
		{Key: "_id.name", Value: 1},
	})
	cur, err := s.blocks.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*docstore.Document{}
	for cur.Next(ctx) {
		var d docstore.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		normalizeDocument(&d)
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (s *Store) Upsert(ctx context.Context, docs ...*docstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		models = append(models, upsertModel(d))
	}
	_, err := s.blocks.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (s *Store) Delete(ctx context.Context, ids ...docstore.DocID) error {
	if len(ids) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": idDoc(id)}))
	}
	_, err := s.blocks.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (s *Store) DeleteScope(ctx context.Context, org, course string) error {
	_, err := s.blocks.DeleteMany(ctx, bson.M{"_id.org": org, "_id.course": course})
	return err
}

func (s *Store) GetAssets(ctx context.Context, org, course string) (*docstore.CourseAssets, error) {
	var a docstore.CourseAssets
	err := s.assets.FindOne(ctx, bson.M{"org": org, "course": course}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Assets == nil {
		a.Assets = map[string][]docstore.AssetRecord{}
	}
	for typ := range a.Assets {
		for i := range a.Assets[typ] {
			a.Assets[typ][i].Fields = normalizeMap(a.Assets[typ][i].Fields)
		}
	}
	return &a, nil
}

func (s *Store) SaveAssets(ctx context.Context, assets *docstore.CourseAssets) error {
	_, err := s.assets.ReplaceOne(ctx,
		bson.M{"org": assets.Org, "course": assets.Course},
		assets,
		options.Replace().SetUpsert(true))
	return err
}

func (s *Store) DeleteAssets(ctx context.Context, org, course string) error {
	_, err := s.assets.DeleteOne(ctx, bson.M{"org": org, "course": course})
	return err
}

func upsertModel(d *docstore.Document) mongo.WriteModel {
	doc := d.Clone()
	if doc.ID.Tag == "" {
		doc.ID.Tag = docstore.Tag
	}
	return mongo.NewReplaceOneModel().
		SetFilter(bson.M{"_id": idDoc(doc.ID)}).
		SetReplacement(doc).
		SetUpsert(true)
}

// idDoc pins field order so _id equality matches what was written.
func idDoc(id docstore.DocID) bson.D {
	tag := id.Tag
	if tag == "" {
		tag = docstore.Tag
	}
	return bson.D{
		{Key: "tag", Value: tag},
		{Key: "org", Value: id.Org},
		{Key: "course", Value: id.Course},
		{Key: "category", Value: id.Category},
		{Key: "name", Value: id.Name},
		{Key: "revision", Value: id.Revision},
	}
}

func normalizeDocument(d *docstore.Document) {
	d.Definition.Data = normalizeMap(d.Definition.Data)
	d.Metadata = normalizeMap(d.Metadata)
	if d.Definition.Data == nil {
		d.Definition.Data = map[string]any{}
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	if d.Definition.Children == nil {
		d.Definition.Children = []string{}
	}
	for _, t := range []*time.Time{d.EditInfo.EditedOn, d.EditInfo.SubtreeEditedOn, d.EditInfo.PublishedDate} {
		if t != nil {
			*t = t.UTC()
		}
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

// normalizeValue maps driver types onto the plain Go shapes the JSON backend yields.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case primitive.A:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalizeValue(inner)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v
}

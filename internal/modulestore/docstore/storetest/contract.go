// Package storetest is a behavioural suite every docstore backend must pass.
package storetest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

// Open returns an empty store; the suite owns its lifecycle from there.
type Open func(t *testing.T) docstore.Store

func Run(t *testing.T, open Open) {
	t.Run("UpsertGetRoundTrip", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("FindOrdersDraftFirst", func(t *testing.T) { testFindOrder(t, open(t)) })
	t.Run("FindByChildRef", func(t *testing.T) { testChildRef(t, open(t)) })
	t.Run("CourseRootsFold", func(t *testing.T) { testCourseRoots(t, open(t)) })
	t.Run("TxReadsOwnWritesAndRollsBack", func(t *testing.T) { testTx(t, open(t)) })
	t.Run("DeleteScope", func(t *testing.T) { testDeleteScope(t, open(t)) })
	t.Run("Assets", func(t *testing.T) { testAssets(t, open(t)) })
}

func doc(category, name, revision string, children ...string) *docstore.Document {
	now := time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	by := "author"
	if children == nil {
		children = []string{}
	}
	return &docstore.Document{
		ID: docstore.DocID{
			Tag: docstore.Tag, Org: "edX", Course: "Demo",
			Category: category, Name: name, Revision: revision,
		},
		Definition: docstore.Definition{
			Data:     map[string]any{"data": "<p>" + name + "</p>"},
			Children: children,
		},
		Metadata: map[string]any{"display_name": name, "max_attempts": float64(3), "tags": []any{"a", "b"}},
		EditInfo: docstore.EditInfo{EditedOn: &now, EditedBy: &by, SubtreeEditedOn: &now, SubtreeEditedBy: &by},
	}
}

func testRoundTrip(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	in := doc("html", "h1", "draft")
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got.Definition, in.Definition) {
		t.Fatalf("definition: want=%#v got=%#v", in.Definition, got.Definition)
	}
	if !reflect.DeepEqual(got.Metadata, in.Metadata) {
		t.Fatalf("metadata: want=%#v got=%#v", in.Metadata, got.Metadata)
	}
	if got.EditInfo.EditedOn == nil || !got.EditInfo.EditedOn.Equal(*in.EditInfo.EditedOn) {
		t.Fatalf("edited_on: want=%v got=%v", in.EditInfo.EditedOn, got.EditInfo.EditedOn)
	}
	if got.EditInfo.PublishedDate != nil {
		t.Fatalf("published_date: want=nil got=%v", got.EditInfo.PublishedDate)
	}

	in.Metadata["display_name"] = "renamed"
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	got, _ = s.Get(ctx, in.ID)
	if got.Metadata["display_name"] != "renamed" {
		t.Fatalf("upsert overwrite: got=%v", got.Metadata["display_name"])
	}

	missing := in.ID
	missing.Name = "nope"
	if _, err := s.Get(ctx, missing); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("Get missing: want=ErrNotFound got=%v", err)
	}
}

func testFindOrder(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	if err := s.Upsert(ctx, doc("vertical", "v1", "published"), doc("vertical", "v1", "draft"), doc("html", "h1", "published")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Find(ctx, docstore.Filter{Org: "edX", Course: "Demo"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 3 || got[0].ID.Revision != "draft" {
		t.Fatalf("Find order: want draft first of 3 got=%v", ids(got))
	}
	only, err := s.Find(ctx, docstore.Filter{Org: "edX", Course: "Demo", Categories: []string{"vertical"}, Revision: "published"})
	if err != nil || len(only) != 1 || only[0].ID.Name != "v1" {
		t.Fatalf("Find filtered: got=%v err=%v", ids(only), err)
	}
	other, err := s.Find(ctx, docstore.Filter{Org: "edX", Course: "Other"})
	if err != nil || len(other) != 0 {
		t.Fatalf("Find other scope: got=%v err=%v", ids(other), err)
	}
}

func testChildRef(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	k := "block-v1:edX+Demo+2025+type@html+block@h1"
	if err := s.Upsert(ctx,
		doc("vertical", "v1", "published", k),
		doc("vertical", "v2", "draft", k),
		doc("vertical", "v3", "published"),
	); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Find(ctx, docstore.Filter{Org: "edX", Course: "Demo", ChildRef: k})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 2 || got[0].ID.Name != "v2" || got[1].ID.Name != "v1" {
		t.Fatalf("ChildRef: want [v2@draft v1@published] got=%v", ids(got))
	}

	v1 := doc("vertical", "v1", "published")
	if err := s.Upsert(ctx, v1); err != nil {
		t.Fatalf("Upsert strip: %v", err)
	}
	got, _ = s.Find(ctx, docstore.Filter{Org: "edX", Course: "Demo", ChildRef: k})
	if len(got) != 1 || got[0].ID.Name != "v2" {
		t.Fatalf("ChildRef after strip: got=%v", ids(got))
	}
}

func testCourseRoots(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	if err := s.Upsert(ctx, doc("course", "2025", "published")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.FindCourseRoots(ctx, "EDX", "demo", true)
	if err != nil || len(got) != 1 {
		t.Fatalf("FindCourseRoots fold: got=%v err=%v", ids(got), err)
	}
	got, err = s.FindCourseRoots(ctx, "EDX", "demo", false)
	if err != nil || len(got) != 0 {
		t.Fatalf("FindCourseRoots exact: got=%v err=%v", ids(got), err)
	}
	all, err := s.FindCourseRoots(ctx, "", "", false)
	if err != nil || len(all) != 1 {
		t.Fatalf("FindCourseRoots all: got=%v err=%v", ids(all), err)
	}
}

func testTx(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	d := doc("html", "h1", "draft")
	if err := tx.Upsert(ctx, d); err != nil {
		t.Fatalf("tx Upsert: %v", err)
	}
	if _, err := tx.Get(ctx, d.ID); err != nil {
		t.Fatalf("tx Get own write: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := s.Get(ctx, d.ID); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("after rollback: want=ErrNotFound got=%v", err)
	}

	tx, err = s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin 2: %v", err)
	}
	parent := doc("vertical", "v1", "draft", "block-v1:edX+Demo+2025+type@html+block@h1")
	if err := tx.Upsert(ctx, parent, d); err != nil {
		t.Fatalf("tx Upsert 2: %v", err)
	}
	if err := tx.Delete(ctx, d.ID); err != nil {
		t.Fatalf("tx Delete: %v", err)
	}
	if _, err := tx.Get(ctx, d.ID); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("tx Get deleted: want=ErrNotFound got=%v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := s.Get(ctx, parent.ID); err != nil {
		t.Fatalf("after commit: %v", err)
	}
	if _, err := s.Get(ctx, d.ID); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("deleted after commit: want=ErrNotFound got=%v", err)
	}
}

func testDeleteScope(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	other := doc("html", "x", "draft")
	other.ID.Course = "Other"
	if err := s.Upsert(ctx, doc("html", "h1", "draft"), doc("course", "2025", "published"), other); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.DeleteScope(ctx, "edX", "Demo"); err != nil {
		t.Fatalf("DeleteScope: %v", err)
	}
	left, _ := s.Find(ctx, docstore.Filter{Org: "edX", Course: "Demo"})
	if len(left) != 0 {
		t.Fatalf("DeleteScope left=%v", ids(left))
	}
	if _, err := s.Get(ctx, other.ID); err != nil {
		t.Fatalf("other scope touched: %v", err)
	}
}

func testAssets(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	got, err := s.GetAssets(ctx, "edX", "Demo")
	if err != nil || got != nil {
		t.Fatalf("GetAssets empty: got=%v err=%v", got, err)
	}
	in := &docstore.CourseAssets{Org: "edX", Course: "Demo", Assets: map[string][]docstore.AssetRecord{
		"asset": {{Filename: "a.png", ContentType: "image/png"}, {Filename: "b.png", Locked: true}},
	}}
	if err := s.SaveAssets(ctx, in); err != nil {
		t.Fatalf("SaveAssets: %v", err)
	}
	got, err = s.GetAssets(ctx, "edX", "Demo")
	if err != nil || got == nil || len(got.Assets["asset"]) != 2 || !got.Assets["asset"][1].Locked {
		t.Fatalf("GetAssets: got=%+v err=%v", got, err)
	}
	if err := s.DeleteAssets(ctx, "edX", "Demo"); err != nil {
		t.Fatalf("DeleteAssets: %v", err)
	}
	if got, _ := s.GetAssets(ctx, "edX", "Demo"); got != nil {
		t.Fatalf("GetAssets after delete: got=%+v", got)
	}
}

func ids(docs []*docstore.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID.String())
	}
	return out
}

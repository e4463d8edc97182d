package modulestore

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

func TestAssetMetadataLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	logo := course.MakeAssetKey("asset", "logo.png")
	notes := course.MakeAssetKey("asset", "notes.pdf")
	thumb := course.MakeAssetKey("thumbnail", "logo-thumb.png")

	for _, md := range []*AssetMetadata{
		{Key: notes, ContentType: "application/pdf"},
		{Key: logo, ContentType: "image/png", Locked: true},
		{Key: thumb, ContentType: "image/png"},
	} {
		if err := h.store.SaveAssetMetadata(ctx, md, "author"); err != nil {
			t.Fatalf("SaveAssetMetadata(%s): %v", md.Key, err)
		}
	}

	got, err := h.store.FindAssetMetadata(ctx, logo)
	if err != nil {
		t.Fatalf("FindAssetMetadata: %v", err)
	}
	if !got.Locked || got.ContentType != "image/png" || got.CreatedOn == nil || got.EditedBy == nil || *got.EditedBy != "author" {
		t.Fatalf("logo: got=%+v", got)
	}
	created := *got.CreatedOn

	page, err := h.store.GetAllAssetMetadata(ctx, course, "asset", 0, -1, nil)
	if err != nil {
		t.Fatalf("GetAllAssetMetadata: %v", err)
	}
	if len(page) != 2 || page[0].Key != logo || page[1].Key != notes {
		t.Fatalf("asset page: got=%v", assetKeys(page))
	}
	page, err = h.store.GetAllAssetMetadata(ctx, course, "", 1, 1, &AssetSort{Field: "displayname", Descending: true})
	if err != nil {
		t.Fatalf("GetAllAssetMetadata(all): %v", err)
	}
	if len(page) != 1 || page[0].Key != logo {
		t.Fatalf("sorted page: want=[%s] got=%v", logo, assetKeys(page))
	}

	if err := h.store.SetAssetMetadataAttrs(ctx, logo, map[string]any{"locked": false, "alt": "Logo"}, "editor"); err != nil {
		t.Fatalf("SetAssetMetadataAttrs: %v", err)
	}
	got, _ = h.store.FindAssetMetadata(ctx, logo)
	if got.Locked || got.Fields["alt"] != "Logo" || *got.EditedBy != "editor" || !got.CreatedOn.Equal(created) {
		t.Fatalf("after attrs: got=%+v", got)
	}
	if err := h.store.SetAssetMetadataAttrs(ctx, logo, map[string]any{"locked": "yes"}, "editor"); !errors.Is(err, storeerr.ErrInvalidArgument) {
		t.Fatalf("bad locked: want=%v got=%v", storeerr.ErrInvalidArgument, err)
	}

	other := keys.CourseKey{Org: "edX", Course: "Copy", Run: "2026"}
	if err := h.store.CopyAllAssetMetadata(ctx, course, other, "staff"); err != nil {
		t.Fatalf("CopyAllAssetMetadata: %v", err)
	}
	copied, err := h.store.GetAllAssetMetadata(ctx, other, "", 0, -1, nil)
	if err != nil || len(copied) != 3 {
		t.Fatalf("copied: want=3 got=%d err=%v", len(copied), err)
	}

	n, err := h.store.DeleteAssetMetadata(ctx, notes, "author")
	if err != nil || n != 1 {
		t.Fatalf("DeleteAssetMetadata: want=1 got=%d err=%v", n, err)
	}
	if n, _ := h.store.DeleteAssetMetadata(ctx, notes, "author"); n != 0 {
		t.Fatalf("second delete: want=0 got=%d", n)
	}
	if _, err := h.store.FindAssetMetadata(ctx, notes); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("deleted: want=%v got=%v", storeerr.ErrNotFound, err)
	}

	if err := h.store.DeleteAllAssetMetadata(ctx, course, "staff"); err != nil {
		t.Fatalf("DeleteAllAssetMetadata: %v", err)
	}
	if rest, _ := h.store.GetAllAssetMetadata(ctx, course, "", 0, -1, nil); len(rest) != 0 {
		t.Fatalf("after delete all: got=%v", assetKeys(rest))
	}
	if rest, _ := h.store.GetAllAssetMetadata(ctx, other, "", 0, -1, nil); len(rest) != 3 {
		t.Fatalf("copy survives: want=3 got=%d", len(rest))
	}
}

func TestSaveAssetRejectsForeignCourse(t *testing.T) {
	h := newHarness(t)
	foreign := keys.CourseKey{Org: "MITx", Course: "Other", Run: "1"}.MakeAssetKey("asset", "a.png")
	list := []*AssetMetadata{
		{Key: course.MakeAssetKey("asset", "b.png")},
		{Key: foreign},
	}
	if err := h.store.SaveAssetMetadataList(context.Background(), list, "author"); !errors.Is(err, storeerr.ErrInvalidKey) {
		t.Fatalf("foreign asset: want=%v got=%v", storeerr.ErrInvalidKey, err)
	}
	if _, err := h.store.FindAssetMetadata(context.Background(), list[0].Key); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("rolled back: want=%v got=%v", storeerr.ErrNotFound, err)
	}
}

func assetKeys(list []*AssetMetadata) []string {
	out := make([]string, 0, len(list))
	for _, md := range list {
		out = append(out, md.Key.String())
	}
	return out
}

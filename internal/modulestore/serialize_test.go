package modulestore

import (
	"reflect"
	"testing"
	"time"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
)

func TestDocumentRoundTrip(t *testing.T) {
	reg := blocktypes.Default()
	edited := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	by := "author"
	p1 := course.MakeUsageKey("problem", "p1").String()
	docs := []*docstore.Document{
		{
			ID: docstore.IDFor(course.MakeUsageKey("problem", "p1"), keys.BranchDraft),
			Definition: docstore.Definition{
				Data:     map[string]any{"data": "<problem/>"},
				Children: []string{},
			},
			Metadata: map[string]any{
				"display_name": "Problem 1",
				"max_attempts": int64(3),
				"due":          "2025-01-02T03:04:05Z",
				"weight":       0.5,
				"group_access": map[string]any{"50": []any{float64(1), float64(2)}},
				"unknown":      "kept as is",
			},
			EditInfo: docstore.EditInfo{EditedOn: &edited, EditedBy: &by, SubtreeEditedOn: &edited, SubtreeEditedBy: &by},
		},
		{
			ID: docstore.IDFor(course.MakeUsageKey("conditional", "c1"), keys.BranchDraft),
			Definition: docstore.Definition{
				Data:     map[string]any{"sources_list": []any{p1}},
				Children: []string{p1},
			},
			Metadata: map[string]any{},
		},
		{
			ID: docstore.IDFor(course.MakeUsageKey("split_test", "s1"), keys.BranchDraft),
			Definition: docstore.Definition{
				Data:     map[string]any{},
				Children: []string{p1},
			},
			Metadata: map[string]any{"group_id_to_child": map[string]any{"0": p1}},
		},
	}
	for _, d := range docs {
		b := decodeDocument(reg, course, d, nil, nil)
		got := encodeBlock(b, d.ID.Branch())
		if !reflect.DeepEqual(got, d) {
			t.Fatalf("%s round trip:\nwant=%#v\ngot =%#v", d.ID, d, got)
		}
	}
}

func TestReferencesAreBoundAndCanonical(t *testing.T) {
	reg := blocktypes.Default()
	d := &docstore.Document{
		ID: docstore.IDFor(course.MakeUsageKey("conditional", "c1"), keys.BranchDraft),
		Definition: docstore.Definition{
			Data:     map[string]any{"sources_list": []any{"i4x://edX/Demo/problem/p2"}},
			Children: []string{"i4x://edX/Demo/html/h1"},
		},
		Metadata: map[string]any{},
	}
	b := decodeDocument(reg, course, d, nil, nil)

	h1 := course.MakeUsageKey("html", "h1")
	if got := b.Children(); len(got) != 1 || got[0] != h1 {
		t.Fatalf("children: want=[%s] got=%v", h1, got)
	}
	sources, ok := b.Field("sources_list").([]keys.UsageKey)
	if !ok || len(sources) != 1 || sources[0] != course.MakeUsageKey("problem", "p2") {
		t.Fatalf("sources_list: got=%#v", b.Field("sources_list"))
	}

	out := encodeBlock(b, keys.BranchDraft)
	if out.Definition.Children[0] != h1.String() {
		t.Fatalf("stored child: want=%s got=%s", h1, out.Definition.Children[0])
	}
	if got := out.Definition.Data["sources_list"].([]any)[0]; got != "block-v1:edX+Demo+2025+type@problem+block@p2" {
		t.Fatalf("stored reference: want canonical form got=%v", got)
	}
}

func TestSetRejectsBadValues(t *testing.T) {
	reg := blocktypes.Default()
	d := &docstore.Document{
		ID:       docstore.IDFor(course.MakeUsageKey("problem", "p1"), keys.BranchDraft),
		Metadata: map[string]any{},
	}
	b := decodeDocument(reg, course, d, nil, nil)
	if err := b.Set("max_attempts", "many"); err == nil {
		t.Fatalf("Set max_attempts=many: want error")
	}
	if err := b.Set("due", "not a date"); err == nil {
		t.Fatalf("Set due=not a date: want error")
	}
	if err := b.Set("display_name", nil); err != nil {
		t.Fatalf("clearing display_name: %v", err)
	}
}

func TestDecodedChildrenPresence(t *testing.T) {
	reg := blocktypes.Default()
	leaf := &docstore.Document{
		ID:         docstore.IDFor(course.MakeUsageKey("problem", "p1"), keys.BranchDraft),
		Definition: docstore.Definition{Data: map[string]any{}, Children: []string{}},
		Metadata:   map[string]any{},
	}
	empty := &docstore.Document{
		ID:         docstore.IDFor(course.MakeUsageKey("vertical", "v1"), keys.BranchDraft),
		Definition: docstore.Definition{Data: map[string]any{}, Children: []string{}},
		Metadata:   map[string]any{},
	}
	if b := decodeDocument(reg, course, leaf, nil, nil); b.IsSet("children") {
		t.Fatalf("leaf without children: IsSet(children) want=false")
	}
	b := decodeDocument(reg, course, empty, nil, nil)
	if !b.IsSet("children") {
		t.Fatalf("empty container: IsSet(children) want=true")
	}
	if got := b.Children(); got == nil || len(got) != 0 {
		t.Fatalf("empty container children: want empty list got=%v", got)
	}
}

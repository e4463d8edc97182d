package modulestore

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore/bulkops"
	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/inheritance"
	"github.com/yungbote/coursestore-backend/internal/modulestore/testutil"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

var course = keys.CourseKey{Org: "edX", Course: "Demo", Run: "2025"}

type harness struct {
	store  *Store
	docs   docstore.Store
	events *signals.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := testutil.Logger(t)
	docs := testutil.SQLiteStore(t)
	rec := &signals.Recorder{}
	reg := blocktypes.Default()
	bulk := bulkops.NewManager(docs, rec, log)
	engine := inheritance.NewEngine(reg, nil, log)
	return &harness{store: New(docs, bulk, engine, rec, reg, log), docs: docs, events: rec}
}

func (h *harness) course(t *testing.T, fields map[string]any) {
	t.Helper()
	if _, err := h.store.CreateCourse(context.Background(), "staff", course.Org, course.Course, course.Run, fields); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
}

func (h *harness) child(t *testing.T, parent keys.UsageKey, blockType, blockID string, fields map[string]any) keys.UsageKey {
	t.Helper()
	b, err := h.store.CreateChild(context.Background(), "author", parent, blockType, blockID, fields, nil)
	if err != nil {
		t.Fatalf("CreateChild(%s/%s): %v", blockType, blockID, err)
	}
	return b.Key
}

func (h *harness) get(t *testing.T, key keys.UsageKey, branch keys.Branch) *Block {
	t.Helper()
	b, err := h.store.GetItem(context.Background(), key, branch, 0)
	if err != nil {
		t.Fatalf("GetItem(%s, %s): %v", key, branch, err)
	}
	return b
}

// outline builds course > ch1 > seq1 > v1 > p1.
func (h *harness) outline(t *testing.T) (ch1, seq1, v1, p1 keys.UsageKey) {
	t.Helper()
	h.course(t, map[string]any{"display_name": "Demo Course"})
	ch1 = h.child(t, course.Root(), "chapter", "ch1", map[string]any{"display_name": "Week 1"})
	seq1 = h.child(t, ch1, "sequential", "seq1", nil)
	v1 = h.child(t, seq1, "vertical", "v1", map[string]any{"display_name": "Unit 1"})
	p1 = h.child(t, v1, "problem", "p1", map[string]any{"display_name": "Problem 1", "data": "<problem/>"})
	return
}

func keysEqual(a, b []keys.UsageKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAndPublishUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.course(t, nil)
	ch1 := h.child(t, course.Root(), "chapter", "ch1", nil)
	seq1 := h.child(t, ch1, "sequential", "seq1", nil)
	v1 := h.child(t, seq1, "vertical", "v1", nil)

	if ok, _ := h.store.HasPublishedVersion(ctx, v1); ok {
		t.Fatalf("HasPublishedVersion before publish: want=false got=true")
	}
	pub, err := h.store.Publish(ctx, v1, "author")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ok, err := h.store.HasPublishedVersion(ctx, v1)
	if err != nil || !ok {
		t.Fatalf("HasPublishedVersion: want=true got=%v err=%v", ok, err)
	}
	changed, err := h.store.HasChanges(ctx, v1)
	if err != nil || changed {
		t.Fatalf("HasChanges: want=false got=%v err=%v", changed, err)
	}
	if pub.Edit.PublishedOn == nil {
		t.Fatalf("published_on not set")
	}
	now := *pub.Edit.PublishedOn
	for _, k := range []keys.UsageKey{seq1, ch1, course.Root()} {
		b := h.get(t, k, keys.BranchDraft)
		if b.Edit.SubtreeEditedOn == nil || !b.Edit.SubtreeEditedOn.Equal(now) {
			t.Fatalf("%s subtree_edited_on: want=%v got=%v", k, now, b.Edit.SubtreeEditedOn)
		}
	}
	if n := len(h.events.Named(signals.CoursePublished)); n != 1 {
		t.Fatalf("course_published events: want=1 got=%d", n)
	}
	if n := len(h.events.Named(signals.PrePublish)); n != 1 {
		t.Fatalf("pre_publish events: want=1 got=%d", n)
	}
}

func TestDirectOnlyWritesResolveToPublished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.course(t, nil)
	ch1 := h.child(t, course.Root(), "chapter", "ch1", nil)

	if _, err := h.docs.Get(ctx, docstore.IDFor(ch1, keys.BranchDraft)); !storeerr.IsNotFound(err) {
		t.Fatalf("chapter draft document: want=not found got=%v", err)
	}
	b := h.get(t, ch1, keys.BranchDraft)
	if b.Branch != keys.BranchPublished {
		t.Fatalf("chapter branch: want=published got=%s", b.Branch)
	}
	if _, err := h.store.Unpublish(ctx, ch1, "author"); !errors.Is(err, storeerr.ErrInvalidBranch) {
		t.Fatalf("Unpublish chapter: want=InvalidBranch got=%v", err)
	}
	if _, err := h.store.RevertToPublished(ctx, ch1, "author"); !errors.Is(err, storeerr.ErrInvalidBranch) {
		t.Fatalf("RevertToPublished chapter: want=InvalidBranch got=%v", err)
	}
}

func TestGetItemMissing(t *testing.T) {
	h := newHarness(t)
	h.course(t, nil)
	_, err := h.store.GetItem(context.Background(), course.MakeUsageKey("html", "nope"), keys.BranchDraft, 0)
	if !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("GetItem: want=NotFound got=%v", err)
	}
}

func TestGetItemDepth(t *testing.T) {
	h := newHarness(t)
	_, _, _, p1 := h.outline(t)
	root, err := h.store.GetItem(context.Background(), course.Root(), keys.BranchDraft, -1)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	cur := root
	for depth := 0; depth < 4; depth++ {
		if len(cur.Loaded) != 1 {
			t.Fatalf("depth %d: want=1 loaded child got=%d", depth, len(cur.Loaded))
		}
		cur = cur.Loaded[0]
	}
	if cur.Key != p1 {
		t.Fatalf("leaf: want=%s got=%s", p1, cur.Key)
	}
	if p := cur.Parent(); p == nil || p.BlockID != "v1" {
		t.Fatalf("leaf parent: want=v1 got=%v", p)
	}
}

func TestGetItemsFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, seq1, v1, _ := h.outline(t)
	h.child(t, seq1, "vertical", "v2", map[string]any{"display_name": "Unit 2"})

	got, err := h.store.GetItems(ctx, course, keys.BranchDraft, ItemQuery{BlockType: "vertical"})
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("verticals: want=2 got=%d", len(got))
	}
	got, err = h.store.GetItems(ctx, course, keys.BranchDraft, ItemQuery{Settings: map[string]any{"display_name": "Unit 1"}})
	if err != nil || len(got) != 1 || got[0].Key != v1 {
		t.Fatalf("by display_name: want=[v1] got=%v err=%v", got, err)
	}
	p1 := course.MakeUsageKey("problem", "p1")
	got, err = h.store.GetItems(ctx, course, "", ItemQuery{Child: &p1})
	if err != nil || len(got) != 1 || got[0].Key != v1 {
		t.Fatalf("by child: want=[v1] got=%v err=%v", got, err)
	}
	got, err = h.store.GetItems(ctx, course, keys.BranchPublished, ItemQuery{BlockType: "vertical"})
	if err != nil || len(got) != 0 {
		t.Fatalf("published verticals before publish: want=0 got=%d err=%v", len(got), err)
	}
}

func TestIllegalMoveLeavesTreeUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch1, seq1, v1, _ := h.outline(t)
	h.events.Reset()

	_, err := h.store.MoveItem(ctx, "author", v1, ch1, nil)
	if !errors.Is(err, storeerr.ErrInvalidMove) {
		t.Fatalf("MoveItem: want=InvalidMove got=%v", err)
	}
	if err.Error() != "You can not move vertical into chapter." {
		t.Fatalf("message: want=%q got=%q", "You can not move vertical into chapter.", err.Error())
	}
	if p, err := h.store.GetParentLocation(ctx, v1, keys.BranchDraft); err != nil || p == nil || *p != seq1 {
		t.Fatalf("parent after refused move: want=%s got=%v err=%v", seq1, p, err)
	}
	if got := h.get(t, ch1, keys.BranchDraft).Children(); !keysEqual(got, []keys.UsageKey{seq1}) {
		t.Fatalf("chapter children: want=[seq1] got=%v", got)
	}
	if n := len(h.events.Events()); n != 0 {
		t.Fatalf("events after refused move: want=0 got=%d", n)
	}
}

func TestMoveRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch1, seq1, v1, p1 := h.outline(t)
	split := h.child(t, v1, "split_test", "exp", nil)
	three := 3

	cases := []struct {
		name   string
		source keys.UsageKey
		target keys.UsageKey
		index  *int
		want   string
	}{
		{"already present", p1, v1, nil, "Item is already present in target location."},
		{"itself", v1, v1, nil, "You can not move an item into itself."},
		{"into child", ch1, v1, nil, "You can not move an item into it's child."},
		{"content experiment", p1, split, nil, "You can not move an item directly into content experiment."},
		{"sequential into sequential", seq1, seq1, nil, "You can not move sequential into sequential."},
	}
	for _, tc := range cases {
		_, err := h.store.MoveItem(ctx, "author", tc.source, tc.target, tc.index)
		if !errors.Is(err, storeerr.ErrInvalidMove) || err.Error() != tc.want {
			t.Fatalf("%s: want=%q got=%v", tc.name, tc.want, err)
		}
	}

	v2 := h.child(t, seq1, "vertical", "v2", nil)
	if _, err := h.store.MoveItem(ctx, "author", p1, v2, &three); err == nil ||
		err.Error() != "You can not move "+p1.String()+" at an invalid index (3)." {
		t.Fatalf("index out of range: got=%v", err)
	}
}

func TestMoveIsReversible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch1, seq1, v1, _ := h.outline(t)
	v2 := h.child(t, seq1, "vertical", "v2", nil)
	seq2 := h.child(t, ch1, "sequential", "seq2", nil)

	res, err := h.store.MoveItem(ctx, "author", v1, seq2, nil)
	if err != nil {
		t.Fatalf("MoveItem: %v", err)
	}
	if res.OldParent != seq1 || res.OldIndex != 0 || res.InsertedAt != 0 {
		t.Fatalf("move result: got=%+v", res)
	}
	if got := h.get(t, seq1, keys.BranchDraft).Children(); !keysEqual(got, []keys.UsageKey{v2}) {
		t.Fatalf("seq1 after move: want=[v2] got=%v", got)
	}
	if p, _ := h.store.GetParentLocation(ctx, v1, keys.BranchDraft); p == nil || *p != seq2 {
		t.Fatalf("parent after move: want=%s got=%v", seq2, p)
	}

	back := res.OldIndex
	if _, err := h.store.MoveItem(ctx, "author", v1, seq1, &back); err != nil {
		t.Fatalf("MoveItem back: %v", err)
	}
	if got := h.get(t, seq1, keys.BranchDraft).Children(); !keysEqual(got, []keys.UsageKey{v1, v2}) {
		t.Fatalf("seq1 after move back: want=[v1 v2] got=%v", got)
	}
	if got := h.get(t, seq2, keys.BranchDraft).Children(); len(got) != 0 {
		t.Fatalf("seq2 after move back: want=[] got=%v", got)
	}
}

func TestOrphanParentRepair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pub := keys.BranchPublished
	ch1 := course.MakeUsageKey("chapter", "ch1")
	stray := course.MakeUsageKey("chapter", "stray")
	seq1 := course.MakeUsageKey("sequential", "seq1")
	doc := func(k keys.UsageKey, children ...keys.UsageKey) *docstore.Document {
		return &docstore.Document{
			ID:         docstore.IDFor(k, pub),
			Definition: docstore.Definition{Data: map[string]any{}, Children: docstore.ChildRefs(children)},
			Metadata:   map[string]any{},
		}
	}
	if err := h.docs.Upsert(ctx,
		doc(course.Root(), ch1),
		doc(ch1, seq1),
		doc(stray, seq1),
		doc(seq1),
	); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	p, err := h.store.GetParentLocation(ctx, seq1, pub)
	if err != nil {
		t.Fatalf("GetParentLocation: %v", err)
	}
	if p == nil || *p != ch1 {
		t.Fatalf("parent: want=%s got=%v", ch1, p)
	}
	repaired, err := h.docs.Get(ctx, docstore.IDFor(stray, pub))
	if err != nil {
		t.Fatalf("Get stray: %v", err)
	}
	if len(repaired.Definition.Children) != 0 {
		t.Fatalf("stray children: want=[] got=%v", repaired.Definition.Children)
	}
}

func TestTwoReachableParentsIsIntegrityError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, seq1, _, p1 := h.outline(t)
	v2 := h.child(t, seq1, "vertical", "v2", nil)

	d, err := h.docs.Get(ctx, docstore.IDFor(v2, keys.BranchDraft))
	if err != nil {
		t.Fatalf("Get v2: %v", err)
	}
	d.Definition.Children = append(d.Definition.Children, p1.String())
	if err := h.docs.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := h.store.GetParentLocation(ctx, p1, keys.BranchDraft); !errors.Is(err, storeerr.ErrReferentialIntegrity) {
		t.Fatalf("GetParentLocation: want=ReferentialIntegrity got=%v", err)
	}
}

func TestUpdateRejectsChildOwnedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, seq1, _, p1 := h.outline(t)
	v2 := h.child(t, seq1, "vertical", "v2", nil)

	b := h.get(t, v2, keys.BranchDraft)
	b.SetChildren([]keys.UsageKey{p1})
	if _, err := h.store.UpdateItem(ctx, b, "author"); !errors.Is(err, storeerr.ErrReferentialIntegrity) {
		t.Fatalf("UpdateItem: want=ReferentialIntegrity got=%v", err)
	}

	other := keys.CourseKey{Org: "edX", Course: "Other", Run: "2025"}
	b.SetChildren([]keys.UsageKey{other.MakeUsageKey("html", "h1")})
	if _, err := h.store.UpdateItem(ctx, b, "author"); !errors.Is(err, storeerr.ErrInvalidKey) {
		t.Fatalf("UpdateItem cross course: want=InvalidKey got=%v", err)
	}
}

func TestInheritanceThroughGap(t *testing.T) {
	h := newHarness(t)
	h.course(t, map[string]any{"showanswer": "past_due"})
	ch1 := h.child(t, course.Root(), "chapter", "ch1", nil)
	seq1 := h.child(t, ch1, "sequential", "seq1", nil)
	v1 := h.child(t, seq1, "vertical", "v1", nil)
	p1 := h.child(t, v1, "problem", "p1", nil)

	b := h.get(t, p1, keys.BranchDraft)
	if got := b.Text("showanswer"); got != "past_due" {
		t.Fatalf("showanswer: want=past_due got=%q", got)
	}
	if got, ok := b.Inherited("showanswer"); !ok || got != "past_due" {
		t.Fatalf("inherited showanswer: want=past_due got=%v", got)
	}
	if b.IsSet("showanswer") {
		t.Fatalf("showanswer must not be local on the problem")
	}

	// a local value wins and the next read sees the recomputed tree
	c := h.get(t, ch1, keys.BranchDraft)
	if err := c.Set("showanswer", "never"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := h.store.UpdateItem(context.Background(), c, "author"); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if got := h.get(t, p1, keys.BranchDraft).Text("showanswer"); got != "never" {
		t.Fatalf("showanswer after chapter edit: want=never got=%q", got)
	}
}

func TestSubtreeEditedCoversDescendants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ch1, seq1, v1, p1 := h.outline(t)

	b := h.get(t, p1, keys.BranchDraft)
	if err := b.Set("max_attempts", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	updated, err := h.store.UpdateItem(ctx, b, "editor")
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	edited := *updated.Edit.EditedOn
	for _, k := range []keys.UsageKey{v1, seq1, ch1, course.Root()} {
		a := h.get(t, k, keys.BranchDraft)
		if a.Edit.SubtreeEditedOn == nil || a.Edit.SubtreeEditedOn.Before(edited) {
			t.Fatalf("%s subtree_edited_on: want>=%v got=%v", k, edited, a.Edit.SubtreeEditedOn)
		}
		if a.Edit.SubtreeEditedBy == nil || *a.Edit.SubtreeEditedBy != "editor" {
			t.Fatalf("%s subtree_edited_by: want=editor got=%v", k, a.Edit.SubtreeEditedBy)
		}
	}
	if got, _ := h.get(t, p1, keys.BranchDraft).Int("max_attempts"); got != 3 {
		t.Fatalf("max_attempts: want=3 got=%d", got)
	}
	if n := len(h.events.Named(signals.CourseStructureChanged)); n == 0 {
		t.Fatalf("course_structure_changed not emitted")
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, v1, p1 := h.outline(t)

	first, err := h.store.Publish(ctx, v1, "author")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h.events.Reset()
	second, err := h.store.Publish(ctx, v1, "someone-else")
	if err != nil {
		t.Fatalf("Publish again: %v", err)
	}
	if !first.Edit.PublishedOn.Equal(*second.Edit.PublishedOn) || *second.Edit.PublishedBy != "author" {
		t.Fatalf("second publish rewrote publish info: first=%v second=%v by=%v", first.Edit.PublishedOn, second.Edit.PublishedOn, *second.Edit.PublishedBy)
	}
	if n := len(h.events.Named(signals.CoursePublished)); n != 0 {
		t.Fatalf("course_published on no-op publish: want=0 got=%d", n)
	}
	if n := len(h.events.Named(signals.CourseStructureChanged)); n != 0 {
		t.Fatalf("course_structure_changed on no-op publish: want=0 got=%d", n)
	}
	if ok, _ := h.store.HasPublishedVersion(ctx, p1); !ok {
		t.Fatalf("child not published with its unit")
	}
}

func TestHasChangesAndRevert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, v1, p1 := h.outline(t)
	if _, err := h.store.Publish(ctx, v1, "author"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	b := h.get(t, p1, keys.BranchDraft)
	if err := b.Set("display_name", "Edited"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := h.store.UpdateItem(ctx, b, "author"); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if changed, _ := h.store.HasChanges(ctx, v1); !changed {
		t.Fatalf("HasChanges on unit after child edit: want=true got=false")
	}
	if got := h.get(t, p1, keys.BranchPublished).Text("display_name"); got != "Problem 1" {
		t.Fatalf("published display_name: want=%q got=%q", "Problem 1", got)
	}

	if _, err := h.store.RevertToPublished(ctx, v1, "author"); err != nil {
		t.Fatalf("RevertToPublished: %v", err)
	}
	if got := h.get(t, p1, keys.BranchDraft).Text("display_name"); got != "Problem 1" {
		t.Fatalf("display_name after revert: want=%q got=%q", "Problem 1", got)
	}
	if changed, _ := h.store.HasChanges(ctx, v1); changed {
		t.Fatalf("HasChanges after revert: want=false got=true")
	}

	fresh := h.child(t, v1, "html", "h1", nil)
	if _, err := h.store.RevertToPublished(ctx, fresh, "author"); !errors.Is(err, storeerr.ErrInvalidBranch) {
		t.Fatalf("RevertToPublished never published: want=InvalidBranch got=%v", err)
	}
}

func TestUnpublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, v1, p1 := h.outline(t)
	if _, err := h.store.Publish(ctx, v1, "author"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := h.store.Unpublish(ctx, v1, "author"); err != nil {
		t.Fatalf("Unpublish: %v", err)
	}
	for _, k := range []keys.UsageKey{v1, p1} {
		if ok, _ := h.store.HasPublishedVersion(ctx, k); ok {
			t.Fatalf("%s still published", k)
		}
		if b := h.get(t, k, keys.BranchDraft); b.Branch != keys.BranchDraft {
			t.Fatalf("%s draft branch: got=%s", k, b.Branch)
		}
	}
}

func TestDeleteDraftLeavesPublishedUntilParentPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, v1, p1 := h.outline(t)
	if _, err := h.store.Publish(ctx, v1, "author"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := h.store.DeleteItem(ctx, p1, "author", DeleteDraft); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if got := h.get(t, v1, keys.BranchDraft).Children(); len(got) != 0 {
		t.Fatalf("draft unit children: want=[] got=%v", got)
	}
	if got := h.get(t, v1, keys.BranchPublished).Children(); !keysEqual(got, []keys.UsageKey{p1}) {
		t.Fatalf("published unit children: want=[p1] got=%v", got)
	}
	if ok, _ := h.store.HasPublishedVersion(ctx, p1); !ok {
		t.Fatalf("published problem removed by draft delete")
	}

	if _, err := h.store.Publish(ctx, v1, "author"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ok, _ := h.store.HasPublishedVersion(ctx, p1); ok {
		t.Fatalf("published problem kept after parent publish")
	}
	if n := len(h.events.Named(signals.ItemDeleted)); n != 1 {
		t.Fatalf("item_deleted events: want=1 got=%d", n)
	}
}

func TestDeleteUnderDirectOnlyParentRemovesAllBranches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, seq1, v1, p1 := h.outline(t)
	if _, err := h.store.Publish(ctx, v1, "author"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := h.store.DeleteItem(ctx, v1, "author", DeleteDraft); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	for _, k := range []keys.UsageKey{v1, p1} {
		if _, err := h.store.GetItem(ctx, k, keys.BranchDraft, 0); !errors.Is(err, storeerr.ErrNotFound) {
			t.Fatalf("%s after delete: want=NotFound got=%v", k, err)
		}
	}
	if got := h.get(t, seq1, keys.BranchPublished).Children(); len(got) != 0 {
		t.Fatalf("sequential children: want=[] got=%v", got)
	}
	if err := h.store.DeleteItem(ctx, v1, "author", DeleteAll); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("second delete: want=NotFound got=%v", err)
	}
}

func TestDeleteStaticTabDropsCourseTab(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.course(t, map[string]any{"tabs": []any{
		map[string]any{"type": "courseware"},
		map[string]any{"type": "static_tab", "url_slug": "syllabus", "name": "Syllabus"},
	}})
	tab, err := h.store.CreateItem(ctx, "author", course, "static_tab", "syllabus", map[string]any{"display_name": "Syllabus"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := h.store.DeleteItem(ctx, tab.Key, "author", DeleteAll); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	tabs, _ := h.get(t, course.Root(), keys.BranchDraft).Field("tabs").([]any)
	if len(tabs) != 1 {
		t.Fatalf("tabs: want=1 got=%v", tabs)
	}
	if m, _ := tabs[0].(map[string]any); m["type"] != "courseware" {
		t.Fatalf("remaining tab: want=courseware got=%v", tabs[0])
	}
}

func TestOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.outline(t)
	loose, err := h.store.CreateItem(ctx, "author", course, "html", "loose", nil)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := h.store.CreateItem(ctx, "author", course, "about", "overview", nil); err != nil {
		t.Fatalf("CreateItem about: %v", err)
	}

	orphans, err := h.store.DeleteOrphans(ctx, course, "author", false)
	if err != nil {
		t.Fatalf("DeleteOrphans dry run: %v", err)
	}
	if !keysEqual(orphans, []keys.UsageKey{loose.Key}) {
		t.Fatalf("orphans: want=[%s] got=%v", loose.Key, orphans)
	}
	if _, err := h.store.DeleteOrphans(ctx, course, "author", true); err != nil {
		t.Fatalf("DeleteOrphans: %v", err)
	}
	orphans, err = h.store.GetOrphans(ctx, course)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphans after delete: want=[] got=%v err=%v", orphans, err)
	}
}

func TestDuplicateBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, seq1, v1, _ := h.outline(t)
	v2 := h.child(t, seq1, "vertical", "v2", nil)
	h.events.Reset()

	dup, err := h.store.DuplicateBlock(ctx, "author", v1, nil, nil)
	if err != nil {
		t.Fatalf("DuplicateBlock: %v", err)
	}
	if got := dup.DisplayName(); got != "Duplicate of 'Unit 1'" {
		t.Fatalf("display_name: want=%q got=%q", "Duplicate of 'Unit 1'", got)
	}
	if got := h.get(t, seq1, keys.BranchDraft).Children(); !keysEqual(got, []keys.UsageKey{v1, dup.Key, v2}) {
		t.Fatalf("sequential children: want=[v1 dup v2] got=%v", got)
	}
	kids := dup.Children()
	if len(kids) != 1 || kids[0].BlockID == "p1" || kids[0].BlockType != "problem" {
		t.Fatalf("duplicated children: got=%v", kids)
	}
	if got := h.get(t, kids[0], keys.BranchDraft).Text("data"); got != "<problem/>" {
		t.Fatalf("duplicated problem data: want=<problem/> got=%q", got)
	}
	events := h.events.Named(signals.BlockDuplicated)
	if len(events) != 1 || events[0].Payload["source_usage_key"] != v1.String() || events[0].Payload["usage_key"] != dup.Key.String() {
		t.Fatalf("block_duplicated: got=%v", events)
	}

	blank, err := h.store.DuplicateBlock(ctx, "author", v2, nil, nil)
	if err != nil {
		t.Fatalf("DuplicateBlock unnamed: %v", err)
	}
	if got := blank.Text("display_name"); got != "Duplicate of vertical" {
		t.Fatalf("unnamed display_name: want=%q got=%q", "Duplicate of vertical", got)
	}
}

func TestCourses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.course(t, map[string]any{"display_name": "Demo Course"})

	_, err := h.store.CreateCourse(ctx, "staff", "EDX", "demo", "2026", nil)
	if !errors.Is(err, storeerr.ErrDuplicateCourse) {
		t.Fatalf("CreateCourse case-folded duplicate: want=DuplicateCourse got=%v", err)
	}
	if _, err := h.store.CreateCourse(ctx, "staff", "edX", "Other", "2025", nil); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	all, err := h.store.GetCourses(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("GetCourses: want=2 got=%d err=%v", len(all), err)
	}
	root, err := h.store.GetCourse(ctx, course, 0)
	if err != nil || root.DisplayName() != "Demo Course" {
		t.Fatalf("GetCourse: got=%v err=%v", root, err)
	}

	h.events.Reset()
	if err := h.store.DeleteCourse(ctx, course, "staff"); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	if _, err := h.store.GetCourse(ctx, course, 0); !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("GetCourse after delete: want=NotFound got=%v", err)
	}
	if n := len(h.events.Named(signals.CourseDeleted)); n != 1 {
		t.Fatalf("course_deleted events: want=1 got=%d", n)
	}
}

func TestBulkOperationBatchesSignals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.course(t, nil)
	h.events.Reset()

	err := h.store.RunBulk(ctx, course, func(ctx context.Context) error {
		if !h.store.IsInBulkOperation(ctx, course) {
			t.Fatalf("IsInBulkOperation: want=true got=false")
		}
		ch, err := h.store.CreateChild(ctx, "author", course.Root(), "chapter", "", nil, nil)
		if err != nil {
			return err
		}
		if len(ch.Key.BlockID) != 12 {
			t.Fatalf("generated block id: want 12 hex got=%q", ch.Key.BlockID)
		}
		_, err = h.store.CreateChild(ctx, "author", ch.Key, "sequential", "", nil, nil)
		return err
	})
	if err != nil {
		t.Fatalf("RunBulk: %v", err)
	}
	if n := len(h.events.Named(signals.CourseStructureChanged)); n != 1 {
		t.Fatalf("course_structure_changed: want=1 got=%d", n)
	}
}

func TestFailedBulkOperationWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.course(t, nil)
	boom := errors.New("boom")

	err := h.store.RunBulk(ctx, course, func(ctx context.Context) error {
		if _, err := h.store.CreateChild(ctx, "author", course.Root(), "chapter", "ch1", nil, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunBulk: want=boom got=%v", err)
	}
	if got := h.get(t, course.Root(), keys.BranchDraft).Children(); len(got) != 0 {
		t.Fatalf("root children after rollback: want=[] got=%v", got)
	}
}

func TestPrePublishPrecedesBatchedEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, v1, _ := h.outline(t)
	h.events.Reset()

	err := h.store.RunBulk(ctx, course, func(ctx context.Context) error {
		if _, err := h.store.Publish(ctx, v1, "author"); err != nil {
			return err
		}
		if n := len(h.events.Named(signals.PrePublish)); n != 1 {
			t.Fatalf("pre_publish inside bulk: want=1 got=%d", n)
		}
		if n := len(h.events.Named(signals.CoursePublished)); n != 0 {
			t.Fatalf("course_published inside bulk: want=0 got=%d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunBulk: %v", err)
	}
	pre, published := -1, -1
	for i, e := range h.events.Events() {
		switch e.Name {
		case signals.PrePublish:
			pre = i
		case signals.CoursePublished:
			published = i
		}
	}
	if pre < 0 || published < 0 || pre > published {
		t.Fatalf("event order: pre_publish at %d, course_published at %d", pre, published)
	}
}

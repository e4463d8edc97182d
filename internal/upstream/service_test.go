package upstream

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/bulkops"
	"github.com/yungbote/coursestore-backend/internal/modulestore/inheritance"
	"github.com/yungbote/coursestore-backend/internal/modulestore/testutil"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

var course = keys.CourseKey{Org: "edX", Course: "Demo", Run: "2025"}

type fakeLibrary struct {
	blocks     map[string]*LibraryBlock
	containers map[string]*LibraryContainer
	children   map[string][]ContainerChild
	denied     map[string]bool
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{
		blocks:     map[string]*LibraryBlock{},
		containers: map[string]*LibraryContainer{},
		children:   map[string][]ContainerChild{},
		denied:     map[string]bool{},
	}
}

func (f *fakeLibrary) GetBlock(ctx context.Context, user string, key keys.LibraryUsageKey) (*LibraryBlock, error) {
	if f.denied[key.Lib.String()] {
		return nil, storeerr.New(storeerr.ErrPermissionDenied, key.String(), "no read access to %s", key.Lib)
	}
	b, ok := f.blocks[key.String()]
	if !ok {
		return nil, storeerr.NotFound(key.String())
	}
	return b, nil
}

func (f *fakeLibrary) GetContainer(ctx context.Context, user string, key keys.LibraryContainerKey) (*LibraryContainer, error) {
	c, ok := f.containers[key.String()]
	if !ok {
		return nil, storeerr.NotFound(key.String())
	}
	return c, nil
}

func (f *fakeLibrary) GetContainerChildren(ctx context.Context, user string, key keys.LibraryContainerKey, published bool) ([]ContainerChild, error) {
	if _, ok := f.containers[key.String()]; !ok {
		return nil, storeerr.NotFound(key.String())
	}
	return f.children[key.String()], nil
}

func version(v int) *int { return &v }

type harness struct {
	store *modulestore.Store
	libs  *fakeLibrary
	svc   LinkService
	unit  keys.UsageKey
}

// newHarness builds course > chapter > sequential > vertical "unit".
func newHarness(t *testing.T) *harness {
	t.Helper()
	log := testutil.Logger(t)
	docs := testutil.SQLiteStore(t)
	rec := &signals.Recorder{}
	reg := blocktypes.Default()
	store := modulestore.New(docs, bulkops.NewManager(docs, rec, log), inheritance.NewEngine(reg, nil, log), rec, reg, log)
	libs := newFakeLibrary()
	h := &harness{store: store, libs: libs, svc: NewLinkService(store, libs, log)}

	ctx := context.Background()
	if _, err := store.CreateCourse(ctx, "staff", course.Org, course.Course, course.Run, nil); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	parent := course.Root()
	for _, blockType := range []string{"chapter", "sequential", "vertical"} {
		b, err := store.CreateChild(ctx, "staff", parent, blockType, "", nil, nil)
		if err != nil {
			t.Fatalf("CreateChild(%s): %v", blockType, err)
		}
		parent = b.Key
	}
	h.unit = parent
	return h
}

func (h *harness) linked(t *testing.T, blockType string, fields map[string]any) keys.UsageKey {
	t.Helper()
	b, err := h.store.CreateChild(context.Background(), "author", h.unit, blockType, "", fields, nil)
	if err != nil {
		t.Fatalf("CreateChild(%s): %v", blockType, err)
	}
	return b.Key
}

func (h *harness) get(t *testing.T, key keys.UsageKey) *modulestore.Block {
	t.Helper()
	b, err := h.store.GetItem(context.Background(), key, keys.BranchDraft, 0)
	if err != nil {
		t.Fatalf("GetItem(%s): %v", key, err)
	}
	return b
}

func (h *harness) link(t *testing.T, key keys.UsageKey) *Link {
	t.Helper()
	l, err := h.svc.GetForBlock(context.Background(), "author", h.get(t, key))
	if err != nil {
		t.Fatalf("GetForBlock(%s): %v", key, err)
	}
	return l
}

const videoRef = "lb:org:mylib:video:abc"

func TestReadyToSync(t *testing.T) {
	cases := []struct {
		name string
		link *Link
		want bool
	}{
		{"nil", nil, false},
		{"no ref", &Link{VersionAvailable: version(2)}, false},
		{"no available", &Link{UpstreamRef: videoRef}, false},
		{"never synced", &Link{UpstreamRef: videoRef, VersionAvailable: version(1)}, true},
		{"behind", &Link{UpstreamRef: videoRef, VersionSynced: version(1), VersionAvailable: version(2)}, true},
		{"current", &Link{UpstreamRef: videoRef, VersionSynced: version(2), VersionAvailable: version(2)}, false},
		{"declined", &Link{UpstreamRef: videoRef, VersionSynced: version(1), VersionDeclined: version(2), VersionAvailable: version(2)}, false},
		{"past declined", &Link{UpstreamRef: videoRef, VersionSynced: version(1), VersionDeclined: version(2), VersionAvailable: version(3)}, true},
	}
	for _, tc := range cases {
		if got := tc.link.ReadyToSync(); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

func TestSyncKeepsCustomizedDisplayName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.libs.blocks[videoRef] = &LibraryBlock{
		BlockType:        "video",
		PublishedVersion: version(2),
		Fields: map[string]any{
			"display_name":   "Library Video v2",
			"youtube_id_1_0": "new-id",
		},
	}
	v := h.linked(t, "video", map[string]any{
		"upstream":              videoRef,
		"upstream_version":      1,
		"upstream_display_name": "Library Video v1",
		"display_name":          "My Video",
		"youtube_id_1_0":        "old-id",
		"max_attempts":          5,
	})

	if !h.link(t, v).ReadyToSync() {
		t.Fatalf("ReadyToSync before sync: want=true")
	}
	if _, err := h.svc.SyncFromUpstream(ctx, "author", v, SyncOptions{}); err != nil {
		t.Fatalf("SyncFromUpstream: %v", err)
	}

	b := h.get(t, v)
	if got := b.Text("display_name"); got != "My Video" {
		t.Fatalf("display_name: want=%q got=%q", "My Video", got)
	}
	if got := b.Text("upstream_display_name"); got != "Library Video v2" {
		t.Fatalf("upstream_display_name: want=%q got=%q", "Library Video v2", got)
	}
	if got := b.Text("youtube_id_1_0"); got != "new-id" {
		t.Fatalf("youtube_id_1_0: want=%q got=%q", "new-id", got)
	}
	if got, _ := b.Int("max_attempts"); got != 5 {
		t.Fatalf("max_attempts: want=5 got=%d", got)
	}
	if got, _ := b.Int("upstream_version"); got != 2 {
		t.Fatalf("upstream_version: want=2 got=%d", got)
	}
	if h.link(t, v).ReadyToSync() {
		t.Fatalf("ReadyToSync after sync: want=false")
	}
}

func TestSyncTakesUncustomizedDisplayName(t *testing.T) {
	h := newHarness(t)
	h.libs.blocks[videoRef] = &LibraryBlock{
		BlockType:        "video",
		PublishedVersion: version(2),
		Fields:           map[string]any{"display_name": "Library Video v2"},
	}
	v := h.linked(t, "video", map[string]any{
		"upstream":              videoRef,
		"upstream_version":      1,
		"upstream_display_name": "Library Video v1",
		"display_name":          "Library Video v1",
	})
	if _, err := h.svc.SyncFromUpstream(context.Background(), "author", v, SyncOptions{}); err != nil {
		t.Fatalf("SyncFromUpstream: %v", err)
	}
	if got := h.get(t, v).Text("display_name"); got != "Library Video v2" {
		t.Fatalf("display_name: want=%q got=%q", "Library Video v2", got)
	}
}

func TestDeclineThenNewVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.libs.blocks[videoRef] = &LibraryBlock{BlockType: "video", PublishedVersion: version(2), Fields: map[string]any{}}
	d := h.linked(t, "video", map[string]any{"upstream": videoRef, "upstream_version": 1, "display_name": "Mine"})

	b, err := h.svc.DeclineSync(ctx, "author", d)
	if err != nil {
		t.Fatalf("DeclineSync: %v", err)
	}
	if got, _ := b.Int("upstream_version_declined"); got != 2 {
		t.Fatalf("upstream_version_declined: want=2 got=%d", got)
	}
	if got := h.get(t, d).Text("display_name"); got != "Mine" {
		t.Fatalf("display_name touched by decline: got=%q", got)
	}
	if h.link(t, d).ReadyToSync() {
		t.Fatalf("ReadyToSync after decline: want=false")
	}

	h.libs.blocks[videoRef].PublishedVersion = version(3)
	if !h.link(t, d).ReadyToSync() {
		t.Fatalf("ReadyToSync after library advanced: want=true")
	}
}

func TestSeverIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.linked(t, "video", map[string]any{
		"upstream":                  videoRef,
		"upstream_version":          2,
		"upstream_version_declined": 3,
		"upstream_display_name":     "Library Video",
		"display_name":              "Mine",
	})

	if _, err := h.svc.SeverUpstreamLink(ctx, "author", d); err != nil {
		t.Fatalf("SeverUpstreamLink: %v", err)
	}
	first := h.get(t, d)
	for _, name := range []string{"upstream", "upstream_version", "upstream_version_declined", "upstream_display_name"} {
		if first.IsSet(name) {
			t.Fatalf("%s still set after sever: %v", name, first.Field(name))
		}
	}
	if got := first.Text("copied_from_block"); got != videoRef {
		t.Fatalf("copied_from_block: want=%q got=%q", videoRef, got)
	}
	if got := first.Text("display_name"); got != "Mine" {
		t.Fatalf("display_name: want=%q got=%q", "Mine", got)
	}

	if _, err := h.svc.SeverUpstreamLink(ctx, "author", d); err != nil {
		t.Fatalf("second SeverUpstreamLink: %v", err)
	}
	second := h.get(t, d)
	if second.Text("copied_from_block") != videoRef || second.IsSet("upstream") {
		t.Fatalf("second sever changed the block: copied_from_block=%q upstream=%q", second.Text("copied_from_block"), second.Text("upstream"))
	}
	if !second.Edit.EditedOn.Equal(*first.Edit.EditedOn) {
		t.Fatalf("second sever wrote the block: edited_on %v -> %v", first.Edit.EditedOn, second.Edit.EditedOn)
	}
	if _, err := h.svc.GetForBlock(ctx, "author", second); !errors.Is(err, ErrNoUpstream) {
		t.Fatalf("GetForBlock after sever: want=%v got=%v", ErrNoUpstream, err)
	}
}

func TestFetchCustomizableFieldsOnlyTouchesMirrors(t *testing.T) {
	h := newHarness(t)
	h.libs.blocks[videoRef] = &LibraryBlock{
		BlockType:        "video",
		PublishedVersion: version(1),
		Fields:           map[string]any{"display_name": "Library Video", "youtube_id_1_0": "lib-id"},
	}
	d := h.linked(t, "video", map[string]any{"upstream": videoRef, "display_name": "Pasted", "youtube_id_1_0": "mine"})
	b, err := h.svc.FetchCustomizableFields(context.Background(), "author", d)
	if err != nil {
		t.Fatalf("FetchCustomizableFields: %v", err)
	}
	if got := b.Text("upstream_display_name"); got != "Library Video" {
		t.Fatalf("upstream_display_name: want=%q got=%q", "Library Video", got)
	}
	if b.Text("display_name") != "Pasted" || b.Text("youtube_id_1_0") != "mine" {
		t.Fatalf("non-mirror fields changed: display_name=%q youtube_id_1_0=%q", b.Text("display_name"), b.Text("youtube_id_1_0"))
	}
	if b.IsSet("upstream_version") {
		t.Fatalf("upstream_version set by fetch: %v", b.Field("upstream_version"))
	}
}

func TestLinkFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.libs.blocks[videoRef] = &LibraryBlock{BlockType: "video", PublishedVersion: version(1)}
	h.libs.denied["lib:org:secret"] = true

	plain := h.linked(t, "html", nil)
	malformed := h.linked(t, "html", map[string]any{"upstream": "not-a-key"})
	missing := h.linked(t, "html", map[string]any{"upstream": "lb:org:mylib:html:gone"})
	denied := h.linked(t, "html", map[string]any{"upstream": "lb:org:secret:html:x"})
	mismatch := h.linked(t, "html", map[string]any{"upstream": videoRef})

	cases := []struct {
		key  keys.UsageKey
		want error
	}{
		{plain, ErrNoUpstream},
		{malformed, ErrBadUpstream},
		{missing, ErrBadUpstream},
		{denied, ErrBadUpstream},
		{mismatch, ErrBadUpstream},
	}
	for _, tc := range cases {
		_, err := h.svc.GetForBlock(ctx, "author", h.get(t, tc.key))
		if !errors.Is(err, tc.want) {
			t.Fatalf("GetForBlock(%s): want=%v got=%v", tc.key, tc.want, err)
		}
	}
	if _, err := h.svc.GetForBlock(ctx, "author", h.get(t, denied)); !errors.Is(err, storeerr.ErrPermissionDenied) {
		t.Fatalf("denied read should carry PermissionDenied: got=%v", err)
	}

	if l := h.svc.TryGetForBlock(ctx, "author", h.get(t, plain)); l != nil {
		t.Fatalf("TryGetForBlock without upstream: want=nil got=%+v", l)
	}
	l := h.svc.TryGetForBlock(ctx, "author", h.get(t, missing))
	if l == nil || l.ErrorMessage == "" || l.ReadyToSync() {
		t.Fatalf("TryGetForBlock on missing upstream: got=%+v", l)
	}

	// Components can not be linked from blocks that hold children.
	unit := h.get(t, h.unit)
	if err := unit.Set("upstream", videoRef); err != nil {
		t.Fatalf("Set upstream: %v", err)
	}
	if _, err := h.svc.GetForBlock(ctx, "author", unit); !errors.Is(err, ErrBadDownstream) {
		t.Fatalf("component link on vertical: want=%v got=%v", ErrBadDownstream, err)
	}
}

func TestBadUpstreamSyncWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.linked(t, "video", map[string]any{"upstream": "lb:org:mylib:video:gone", "display_name": "Mine"})
	before := h.get(t, d)

	if _, err := h.svc.SyncFromUpstream(ctx, "author", d, SyncOptions{}); !errors.Is(err, ErrBadUpstream) {
		t.Fatalf("SyncFromUpstream: want=%v got=%v", ErrBadUpstream, err)
	}
	after := h.get(t, d)
	if after.Text("display_name") != "Mine" || after.IsSet("upstream_version") {
		t.Fatalf("failed sync changed the block: %v", after.Settings())
	}
	if !after.Edit.EditedOn.Equal(*before.Edit.EditedOn) {
		t.Fatalf("failed sync wrote edit info: %v -> %v", before.Edit.EditedOn, after.Edit.EditedOn)
	}
}

func TestContainerSyncCreatesChildren(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	unitRef := "lct:org:mylib:unit:u1"
	h.libs.containers[unitRef] = &LibraryContainer{ContainerType: "unit", PublishedVersion: version(4), DisplayName: "Library Unit"}
	h.libs.children[unitRef] = []ContainerChild{
		{Ref: "lb:org:mylib:html:intro", DisplayName: "Intro"},
		{Ref: videoRef, DisplayName: "Lecture"},
	}
	h.libs.blocks["lb:org:mylib:html:intro"] = &LibraryBlock{BlockType: "html", PublishedVersion: version(1), Fields: map[string]any{"display_name": "Intro", "data": "<p>hi</p>"}}
	h.libs.blocks[videoRef] = &LibraryBlock{BlockType: "video", PublishedVersion: version(2), Fields: map[string]any{"display_name": "Lecture"}}

	seq, err := h.store.GetParentLocation(ctx, h.unit, keys.BranchDraft)
	if err != nil || seq == nil {
		t.Fatalf("GetParentLocation(unit): %v %v", seq, err)
	}
	linked, err := h.store.CreateChild(ctx, "author", *seq, "vertical", "", map[string]any{"upstream": unitRef}, nil)
	if err != nil {
		t.Fatalf("CreateChild(vertical): %v", err)
	}

	got, err := h.svc.SyncFromUpstream(ctx, "author", linked.Key, SyncOptions{})
	if err != nil {
		t.Fatalf("SyncFromUpstream: %v", err)
	}
	if got.Text("display_name") != "Library Unit" {
		t.Fatalf("display_name: want=%q got=%q", "Library Unit", got.Text("display_name"))
	}
	children := h.get(t, linked.Key).Children()
	if len(children) != 2 {
		t.Fatalf("children: want=2 got=%v", children)
	}
	intro := h.get(t, children[0])
	if intro.Key.BlockType != "html" || intro.Text("upstream") != "lb:org:mylib:html:intro" || intro.Text("data") != "<p>hi</p>" {
		t.Fatalf("first child: type=%s upstream=%q data=%q", intro.Key.BlockType, intro.Text("upstream"), intro.Text("data"))
	}
	if v, _ := intro.Int("upstream_version"); v != 1 {
		t.Fatalf("first child upstream_version: want=1 got=%d", v)
	}
	if lecture := h.get(t, children[1]); lecture.Key.BlockType != "video" || lecture.Text("upstream") != videoRef {
		t.Fatalf("second child: type=%s upstream=%q", lecture.Key.BlockType, lecture.Text("upstream"))
	}

	// A second sync creates nothing; dropping a library child only removes it when asked.
	if _, err := h.svc.SyncFromUpstream(ctx, "author", linked.Key, SyncOptions{}); err != nil {
		t.Fatalf("second SyncFromUpstream: %v", err)
	}
	if n := len(h.get(t, linked.Key).Children()); n != 2 {
		t.Fatalf("children after resync: want=2 got=%d", n)
	}
	h.libs.children[unitRef] = h.libs.children[unitRef][:1]
	if _, err := h.svc.SyncFromUpstream(ctx, "author", linked.Key, SyncOptions{}); err != nil {
		t.Fatalf("SyncFromUpstream without deletion: %v", err)
	}
	if n := len(h.get(t, linked.Key).Children()); n != 2 {
		t.Fatalf("children kept without DeleteRemovedChildren: want=2 got=%d", n)
	}
	if _, err := h.svc.SyncFromUpstream(ctx, "author", linked.Key, SyncOptions{DeleteRemovedChildren: true}); err != nil {
		t.Fatalf("SyncFromUpstream with deletion: %v", err)
	}
	if after := h.get(t, linked.Key).Children(); len(after) != 1 || after[0] != children[0] {
		t.Fatalf("children after deletion: want=[%s] got=%v", children[0], after)
	}
}

func TestContainerTypeMismatch(t *testing.T) {
	h := newHarness(t)
	ref := "lct:org:mylib:section:s1"
	h.libs.containers[ref] = &LibraryContainer{ContainerType: "section", PublishedVersion: version(1)}
	v := h.linked(t, "html", nil)
	b := h.get(t, v)
	_ = b.Set("upstream", ref)
	if _, err := h.svc.GetForBlock(context.Background(), "author", b); !errors.Is(err, ErrBadUpstream) {
		t.Fatalf("section linked to html: want=%v got=%v", ErrBadUpstream, err)
	}
}

func TestContainerSyncRollsBackOnBadChild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	unitRef := "lct:org:mylib:unit:u2"
	h.libs.containers[unitRef] = &LibraryContainer{ContainerType: "unit", PublishedVersion: version(1), DisplayName: "Library Unit"}
	h.libs.children[unitRef] = []ContainerChild{
		{Ref: "lb:org:mylib:html:intro"},
		{Ref: "lb:org:mylib:html:gone"},
	}
	h.libs.blocks["lb:org:mylib:html:intro"] = &LibraryBlock{BlockType: "html", PublishedVersion: version(1), Fields: map[string]any{"data": "<p>hi</p>"}}

	seq, err := h.store.GetParentLocation(ctx, h.unit, keys.BranchDraft)
	if err != nil || seq == nil {
		t.Fatalf("GetParentLocation(unit): %v %v", seq, err)
	}
	linked, err := h.store.CreateChild(ctx, "author", *seq, "vertical", "", map[string]any{"upstream": unitRef}, nil)
	if err != nil {
		t.Fatalf("CreateChild(vertical): %v", err)
	}
	if _, err := h.svc.SyncFromUpstream(ctx, "author", linked.Key, SyncOptions{}); !errors.Is(err, ErrBadUpstream) {
		t.Fatalf("SyncFromUpstream: want=%v got=%v", ErrBadUpstream, err)
	}
	after := h.get(t, linked.Key)
	if len(after.Children()) != 0 || after.IsSet("display_name") || after.IsSet("upstream_version") {
		t.Fatalf("failed sync left writes: children=%v settings=%v", after.Children(), after.Settings())
	}
	orphans, err := h.store.GetOrphans(ctx, course)
	if err != nil {
		t.Fatalf("GetOrphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("failed sync left blocks behind: %v", orphans)
	}
}

func TestContainerSyncSkipsDanglingChild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	unitRef := "lct:org:mylib:unit:u3"
	h.libs.containers[unitRef] = &LibraryContainer{ContainerType: "unit", PublishedVersion: version(2), DisplayName: "Library Unit"}
	h.libs.children[unitRef] = []ContainerChild{{Ref: "lb:org:mylib:html:intro"}}
	h.libs.blocks["lb:org:mylib:html:intro"] = &LibraryBlock{BlockType: "html", PublishedVersion: version(1), Fields: map[string]any{"data": "<p>hi</p>"}}

	seq, err := h.store.GetParentLocation(ctx, h.unit, keys.BranchDraft)
	if err != nil || seq == nil {
		t.Fatalf("GetParentLocation(unit): %v %v", seq, err)
	}
	linked, err := h.store.CreateChild(ctx, "author", *seq, "vertical", "", map[string]any{"upstream": unitRef}, nil)
	if err != nil {
		t.Fatalf("CreateChild(vertical): %v", err)
	}
	dangling := course.MakeUsageKey("html", "missing0000")
	b := h.get(t, linked.Key)
	b.SetChildren(append(b.Children(), dangling))
	if _, err := h.store.UpdateItem(ctx, b, "author"); err != nil {
		t.Fatalf("UpdateItem(dangling child): %v", err)
	}

	if _, err := h.svc.SyncFromUpstream(ctx, "author", linked.Key, SyncOptions{}); err != nil {
		t.Fatalf("SyncFromUpstream: %v", err)
	}
	after := h.get(t, linked.Key)
	if after.Text("display_name") != "Library Unit" {
		t.Fatalf("display_name: want=%q got=%q", "Library Unit", after.Text("display_name"))
	}
	if v, _ := after.Int("upstream_version"); v != 2 {
		t.Fatalf("upstream_version: want=2 got=%d", v)
	}
	children := after.Children()
	if len(children) != 2 || children[0] != dangling {
		t.Fatalf("children: want=[%s, <created>] got=%v", dangling, children)
	}
	if intro := h.get(t, children[1]); intro.Text("upstream") != "lb:org:mylib:html:intro" || intro.Text("data") != "<p>hi</p>" {
		t.Fatalf("created child: upstream=%q data=%q", intro.Text("upstream"), intro.Text("data"))
	}
}

func TestLinkOperationsAreTraced(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := newHarness(t)
	ctx := context.Background()
	h.libs.blocks[videoRef] = &LibraryBlock{BlockType: "video", PublishedVersion: version(2), Fields: map[string]any{}}
	d := h.linked(t, "video", map[string]any{"upstream": videoRef, "upstream_version": 1})

	if _, err := h.svc.DeclineSync(ctx, "author", d); err != nil {
		t.Fatalf("DeclineSync: %v", err)
	}
	if _, err := h.svc.SyncFromUpstream(ctx, "author", d, SyncOptions{}); err != nil {
		t.Fatalf("SyncFromUpstream: %v", err)
	}
	if _, err := h.svc.SeverUpstreamLink(ctx, "author", d); err != nil {
		t.Fatalf("SeverUpstreamLink: %v", err)
	}
	missing := course.MakeUsageKey("video", "nope")
	if _, err := h.svc.SyncFromUpstream(ctx, "author", missing, SyncOptions{}); err == nil {
		t.Fatalf("SyncFromUpstream(missing): want error")
	}

	var names []string
	failed := 0
	for _, s := range spans.Ended() {
		if s.Name() == "upstream.SyncFromUpstream" && s.Status().Code == codes.Error {
			failed++
		}
		names = append(names, s.Name())
	}
	for _, want := range []string{"upstream.DeclineSync", "upstream.SyncFromUpstream", "upstream.SeverUpstreamLink"} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Fatalf("span %s: not recorded in %v", want, names)
		}
	}
	if failed != 1 {
		t.Fatalf("failed SyncFromUpstream spans: want=1 got=%d", failed)
	}
}

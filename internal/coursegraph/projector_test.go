package coursegraph

import (
	"context"
	"testing"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/bulkops"
	"github.com/yungbote/coursestore-backend/internal/modulestore/inheritance"
	"github.com/yungbote/coursestore-backend/internal/modulestore/testutil"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

var course = keys.CourseKey{Org: "edX", Course: "Graph", Run: "2025"}

func newStore(t *testing.T) *modulestore.Store {
	t.Helper()
	log := testutil.Logger(t)
	docs := testutil.SQLiteStore(t)
	rec := &signals.Recorder{}
	reg := blocktypes.Default()
	return modulestore.New(docs, bulkops.NewManager(docs, rec, log), inheritance.NewEngine(reg, nil, log), rec, reg, log)
}

func mustChild(t *testing.T, s *modulestore.Store, parent keys.UsageKey, blockType, id string, fields map[string]any) keys.UsageKey {
	t.Helper()
	b, err := s.CreateChild(context.Background(), "author", parent, blockType, id, fields, nil)
	if err != nil {
		t.Fatalf("CreateChild(%s/%s): %v", blockType, id, err)
	}
	return b.Key
}

func TestOutlineFlagsChaptersWithDrafts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if _, err := s.CreateCourse(ctx, "staff", course.Org, course.Course, course.Run, nil); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	ch1 := mustChild(t, s, course.Root(), "chapter", "ch1", map[string]any{"display_name": "Week 1"})
	s1 := mustChild(t, s, ch1, "sequential", "s1", map[string]any{"graded": true, "format": "Homework"})
	v1 := mustChild(t, s, s1, "vertical", "v1", nil)
	h1 := mustChild(t, s, v1, "html", "h1", map[string]any{"data": "<p>one</p>"})
	ch2 := mustChild(t, s, course.Root(), "chapter", "ch2", nil)
	s2 := mustChild(t, s, ch2, "sequential", "s2", nil)
	v2 := mustChild(t, s, s2, "vertical", "v2", nil)
	for _, k := range []keys.UsageKey{v1, v2} {
		if _, err := s.Publish(ctx, k, "author"); err != nil {
			t.Fatalf("Publish(%s): %v", k, err)
		}
	}

	draft, err := s.GetItem(ctx, h1, keys.BranchDraft, 0)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if err := draft.Set("data", "<p>edited</p>"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.UpdateItem(ctx, draft, "author"); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	p := NewProjector(s, nil, testutil.Logger(t))
	nodes, err := p.Outline(ctx, course)
	if err != nil {
		t.Fatalf("Outline: %v", err)
	}
	byKey := map[string]int{}
	for i, n := range nodes {
		byKey[n.UsageKey] = i
	}
	if len(nodes) != 8 {
		t.Fatalf("nodes: want=8 got=%d (%v)", len(nodes), byKey)
	}
	if nodes[0].UsageKey != course.Root().String() || nodes[0].Parent != "" {
		t.Fatalf("root: got=%+v", nodes[0])
	}
	n := nodes[byKey[s1.String()]]
	if n.Parent != ch1.String() || !n.Graded || n.Format != "Homework" {
		t.Fatalf("sequential: got=%+v", n)
	}
	if got := nodes[byKey[ch1.String()]].DisplayName; got != "Week 1" {
		t.Fatalf("chapter name: want=Week 1 got=%q", got)
	}
	if !nodes[byKey[h1.String()]].HasChanges {
		t.Fatalf("h1 HasChanges: want=true")
	}
	if nodes[byKey[v2.String()]].HasChanges {
		t.Fatalf("v2 HasChanges: want=false")
	}
	if nodes[byKey[ch2.String()]].Position != 1 {
		t.Fatalf("ch2 position: want=1 got=%d", nodes[byKey[ch2.String()]].Position)
	}
}

func TestApplyWithoutGraphIsNoop(t *testing.T) {
	p := NewProjector(newStore(t), nil, testutil.Logger(t))
	if p.Enabled() {
		t.Fatalf("Enabled: want=false")
	}
	if err := p.Apply(context.Background(), signals.Published(course)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

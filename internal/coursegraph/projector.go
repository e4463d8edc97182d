// Package coursegraph keeps a Neo4j projection of each course's published outline.
package coursegraph

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/coursestore-backend/internal/data/graph"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/platform/neo4jdb"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

// OutlineReader is what the projector reads from the module store.
type OutlineReader interface {
	GetItem(ctx context.Context, key keys.UsageKey, branch keys.Branch, depth int) (*modulestore.Block, error)
	HasChanges(ctx context.Context, key keys.UsageKey) (bool, error)
}

type Projector struct {
	log    *logger.Logger
	store  OutlineReader
	client *neo4jdb.Client
	// parallel bounds concurrent HasChanges checks.
	parallel int
}

func NewProjector(store OutlineReader, client *neo4jdb.Client, baseLog *logger.Logger) *Projector {
	return &Projector{
		log:      baseLog.With("component", "CourseGraphProjector"),
		store:    store,
		client:   client,
		parallel: 4,
	}
}

// Enabled reports whether a graph database is configured.
func (p *Projector) Enabled() bool { return p != nil && p.client != nil }

// Outline flattens the published tree of course in depth-first order. Blocks under a
// chapter carry that chapter's HasChanges flag.
func (p *Projector) Outline(ctx context.Context, course keys.CourseKey) ([]graph.OutlineNode, error) {
	root, err := p.store.GetItem(ctx, course.Root(), keys.BranchPublished, -1)
	if err != nil {
		return nil, err
	}
	nodes := []graph.OutlineNode{}
	var walk func(b *modulestore.Block, parent string, pos int)
	walk = func(b *modulestore.Block, parent string, pos int) {
		graded, _ := b.Field("graded").(bool)
		nodes = append(nodes, graph.OutlineNode{
			UsageKey:    b.Key.String(),
			BlockType:   b.Key.BlockType,
			DisplayName: b.DisplayName(),
			Parent:      parent,
			Position:    pos,
			Graded:      graded,
			Format:      b.Text("format"),
			PublishedOn: b.Edit.PublishedOn,
			Upstream:    b.Text("upstream"),
		})
		for i, c := range b.Loaded {
			walk(c, b.Key.String(), i)
		}
	}
	walk(root, "", 0)

	changed, err := p.changedChapters(ctx, root)
	if err != nil {
		return nil, err
	}
	chapter := ""
	for i := range nodes {
		if nodes[i].BlockType == "chapter" {
			chapter = nodes[i].UsageKey
		}
		if nodes[i].BlockType != "course" {
			nodes[i].HasChanges = changed[chapter]
		}
	}
	return nodes, nil
}

func (p *Projector) changedChapters(ctx context.Context, root *modulestore.Block) (map[string]bool, error) {
	var mu sync.Mutex
	out := map[string]bool{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for _, ch := range root.Loaded {
		key := ch.Key
		g.Go(func() error {
			changed, err := p.store.HasChanges(gctx, key)
			if storeerr.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out[key.String()] = changed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Project rewrites the graph copy of course from its published tree.
func (p *Projector) Project(ctx context.Context, course keys.CourseKey) (int, error) {
	nodes, err := p.Outline(ctx, course)
	if err != nil {
		return 0, err
	}
	if err := graph.UpsertCourseOutline(ctx, p.client, p.log, course.String(), nodes); err != nil {
		return 0, err
	}
	p.log.Info("projected course outline", "course_key", course.String(), "blocks", len(nodes))
	return len(nodes), nil
}

func (p *Projector) Remove(ctx context.Context, course keys.CourseKey) error {
	return graph.DeleteCourseOutline(ctx, p.client, course.String())
}

// Apply projects on course_published and drops the projection on course_deleted.
// Other events are ignored.
func (p *Projector) Apply(ctx context.Context, e signals.Event) error {
	if !p.Enabled() {
		return nil
	}
	course, err := keys.ParseCourseKey(e.CourseKey)
	if err != nil {
		return nil
	}
	switch e.Name {
	case signals.CoursePublished:
		_, err = p.Project(ctx, course)
		return err
	case signals.CourseDeleted:
		return p.Remove(ctx, course)
	}
	return nil
}

// HandleSignal is Apply for the in-process dispatcher. Failures are logged; the graph
// is a derived view.
func (p *Projector) HandleSignal(ctx context.Context, e signals.Event) {
	if err := p.Apply(ctx, e); err != nil {
		p.log.Warn("course graph projection failed", "signal", e.Name, "course_key", e.CourseKey, "error", err)
	}
}

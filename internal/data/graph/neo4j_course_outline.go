package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/platform/neo4jdb"
)

// OutlineNode is one published block of a course outline.
type OutlineNode struct {
	UsageKey    string
	BlockType   string
	DisplayName string
	Parent      string
	Position    int
	Graded      bool
	Format      string
	// HasChanges marks blocks whose draft differs from what was projected.
	HasChanges  bool
	PublishedOn *time.Time
	Upstream    string
}

// UpsertCourseOutline replaces the projected outline of courseKey with nodes.
func UpsertCourseOutline(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, courseKey string, nodes []OutlineNode) error {
	if client == nil || client.Driver == nil || courseKey == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		if n.UsageKey == "" {
			continue
		}
		publishedOn := ""
		if n.PublishedOn != nil && !n.PublishedOn.IsZero() {
			publishedOn = n.PublishedOn.UTC().Format(time.RFC3339Nano)
		}
		rows = append(rows, map[string]any{
			"usage_key":    n.UsageKey,
			"block_type":   n.BlockType,
			"display_name": n.DisplayName,
			"parent":       n.Parent,
			"position":     int64(n.Position),
			"graded":       n.Graded,
			"format":       n.Format,
			"has_changes":  n.HasChanges,
			"published_on": publishedOn,
			"upstream":     n.Upstream,
		})
	}

	session := client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	if res, err := session.Run(ctx, `CREATE CONSTRAINT block_usage_key_unique IF NOT EXISTS FOR (b:Block) REQUIRE b.usage_key IS UNIQUE`, nil); err != nil {
		if log != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
MERGE (c:Course {course_key: $course_key})
SET c.synced_at = $synced_at
WITH c
OPTIONAL MATCH (c)-[:CONTAINS]->(b:Block)
DETACH DELETE b
`, map[string]any{"course_key": courseKey, "synced_at": now}); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		if err := run(ctx, tx, `
MATCH (c:Course {course_key: $course_key})
UNWIND $rows AS r
MERGE (b:Block {usage_key: r.usage_key})
SET b.block_type = r.block_type,
    b.display_name = r.display_name,
    b.graded = r.graded,
    b.format = r.format,
    b.has_changes = r.has_changes,
    b.published_on = r.published_on,
    b.upstream = r.upstream,
    b.synced_at = $synced_at
MERGE (c)-[:CONTAINS]->(b)
`, map[string]any{"course_key": courseKey, "rows": rows, "synced_at": now}); err != nil {
			return nil, err
		}
		return nil, run(ctx, tx, `
UNWIND $rows AS r
WITH r WHERE r.parent <> ""
MATCH (p:Block {usage_key: r.parent})
MATCH (b:Block {usage_key: r.usage_key})
MERGE (p)-[e:CHILD]->(b)
SET e.position = r.position
`, map[string]any{"rows": rows})
	})
	return err
}

// DeleteCourseOutline drops the course node and its blocks.
func DeleteCourseOutline(ctx context.Context, client *neo4jdb.Client, courseKey string) error {
	if client == nil || client.Driver == nil || courseKey == "" {
		return nil
	}
	session := client.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
MATCH (c:Course {course_key: $course_key})
OPTIONAL MATCH (c)-[:CONTAINS]->(b:Block)
DETACH DELETE b, c
`, map[string]any{"course_key": courseKey})
	})
	return err
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/coursestore-backend/internal/clients/libraries"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/platform/neo4jdb"
	"github.com/yungbote/coursestore-backend/internal/platform/redisdb"
	"github.com/yungbote/coursestore-backend/internal/temporalx"
	"github.com/yungbote/coursestore-backend/internal/upstream"
)

// Clients are the optional external systems. Redis, Neo4j and Temporal are nil when
// their address is not configured.
type Clients struct {
	Redis       *goredis.Client
	Neo4j       *neo4jdb.Client
	Temporal    temporalsdkclient.Client
	TemporalCfg temporalx.Config
	Library     upstream.LibraryService
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	rdb, err := redisdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}
	out.Redis = rdb

	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}
	out.Neo4j = graph

	out.TemporalCfg = temporalx.LoadConfig(log)
	tc, err := temporalx.NewClient(out.TemporalCfg, log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init temporal: %w", err)
	}
	out.Temporal = tc

	libCfg := libraries.ConfigFromEnv(log)
	if libCfg.BaseURL == "" {
		log.Warn("LIBRARY_SERVICE_URL not set; upstream sync disabled")
		out.Library = libraries.Disabled{}
		return out, nil
	}
	lib, err := libraries.New(libCfg, log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init library client: %w", err)
	}
	out.Library = lib
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(context.Background())
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

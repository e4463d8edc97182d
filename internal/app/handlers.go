package app

import (
	"context"

	httpH "github.com/yungbote/coursestore-backend/internal/http/handlers"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type Handlers struct {
	Course   *httpH.CourseHandler
	XBlock   *httpH.XBlockHandler
	Upstream *httpH.UpstreamHandler
	Asset    *httpH.AssetHandler
	Realtime *httpH.RealtimeHandler
	Health   *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, services Services, storage *Storage, clients Clients) Handlers {
	log.Info("Wiring handlers...")
	deps := map[string]httpH.Pinger{"store": httpH.PingFunc(storage.Ping)}
	if clients.Redis != nil {
		deps["redis"] = httpH.PingFunc(func(ctx context.Context) error { return clients.Redis.Ping(ctx).Err() })
	}
	if clients.Neo4j != nil {
		deps["neo4j"] = httpH.PingFunc(clients.Neo4j.Driver.VerifyConnectivity)
	}
	return Handlers{
		Course:   httpH.NewCourseHandler(log, services.Store, services.Auth),
		XBlock:   httpH.NewXBlockHandler(log, services.Store, services.Auth),
		Upstream: httpH.NewUpstreamHandler(log, services.Store, services.Links, services.Auth, services.Signals),
		Asset:    httpH.NewAssetHandler(log, services.Store, services.Auth),
		Realtime: httpH.NewRealtimeHandler(log, services.Hub, services.Auth),
		Health:   httpH.NewHealthHandler(deps),
	}
}

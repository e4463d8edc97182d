package app

import (
	"context"

	"github.com/yungbote/coursestore-backend/internal/auth"
	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/coursegraph"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/modulestore/bulkops"
	"github.com/yungbote/coursestore-backend/internal/modulestore/inheritance"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/realtime"
	"github.com/yungbote/coursestore-backend/internal/signals"
	"github.com/yungbote/coursestore-backend/internal/temporalx/signalrun"
	"github.com/yungbote/coursestore-backend/internal/upstream"
)

type Services struct {
	Signals   *signals.Dispatcher
	Store     *modulestore.Store
	Links     upstream.LinkService
	Auth      auth.AuthService
	Projector *coursegraph.Projector
	Hub       *realtime.SSEHub
	Bus       *signals.RedisBus
}

func wireServices(log *logger.Logger, cfg Config, storage *Storage, clients Clients) (Services, error) {
	log.Info("Wiring services...")
	reg := blocktypes.Default()

	dispatcher := signals.NewDispatcher(log)
	hub := realtime.NewSSEHub(log)
	dispatcher.SubscribeAll(hub.HandleSignal)

	var cache inheritance.Cache = inheritance.NewMemoryCache()
	var bus *signals.RedisBus
	if clients.Redis != nil {
		cache = inheritance.NewRedisCache(clients.Redis, "coursestore:inherit", cfg.InheritanceCacheTTL)
		b, err := signals.NewRedisBus(clients.Redis, cfg.RedisChannel, log)
		if err != nil {
			return Services{}, err
		}
		bus = b
		dispatcher.AddSink(bus)
	}

	engine := inheritance.NewEngine(reg, cache, log)
	bulk := bulkops.NewManager(storage.Docs, dispatcher, log)
	store := modulestore.New(storage.Docs, bulk, engine, dispatcher, reg, log)

	projector := coursegraph.NewProjector(store, clients.Neo4j, log)
	if projector.Enabled() {
		if clients.Temporal != nil {
			dispatcher.AddSink(signalrun.NewSink(clients.Temporal, clients.TemporalCfg.TaskQueue, log))
		} else {
			dispatcher.Subscribe(signals.CoursePublished, projector.HandleSignal)
			dispatcher.Subscribe(signals.CourseDeleted, projector.HandleSignal)
		}
	}

	return Services{
		Signals:   dispatcher,
		Store:     store,
		Links:     upstream.NewLinkService(store, clients.Library, log),
		Auth:      auth.NewAuthService(log, cfg.JWTSecretKey, cfg.JWTIssuer, cfg.AccessTokenTTL),
		Projector: projector,
		Hub:       hub,
		Bus:       bus,
	}, nil
}

// startForwarding pushes signals emitted by other processes to this process's SSE
// clients. Projection is not repeated; the emitting process owns it.
func (s Services) startForwarding(ctx context.Context) error {
	if s.Bus == nil {
		return nil
	}
	return s.Bus.StartForwarder(ctx, s.Signals.Origin(), s.Hub.HandleSignal)
}

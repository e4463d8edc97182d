package app

import (
	"context"
	"fmt"
	"os"

	server "github.com/yungbote/coursestore-backend/internal/http"
	"github.com/yungbote/coursestore-backend/internal/observability"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Storage  *Storage
	Services Services
	Server   *server.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Environment,
		StoreBackend: cfg.StoreBackend,
	})

	storage, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	clients, err := wireClients(log)
	if err != nil {
		storage.Close(ctx)
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(log, cfg, storage, clients)
	if err != nil {
		clients.Close()
		storage.Close(ctx)
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, storage, clients)
	middleware := wireMiddleware(log, serviceset)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Storage:      storage,
		Services:     serviceset,
		Server:       &server.Server{Engine: wireRouter(log, cfg, handlerset, middleware)},
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background consumers: the cross-process signal forwarder and,
// when Temporal is configured, the projection worker.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Services.startForwarding(ctx); err != nil {
		return fmt.Errorf("start signal forwarder: %w", err)
	}

	if a.Clients.Temporal != nil && a.Cfg.TemporalWorker && a.Services.Projector.Enabled() {
		runner, err := temporalworker.NewRunner(a.Log, a.Clients.TemporalCfg, a.Clients.Temporal, a.Services.Projector)
		if err != nil {
			return err
		}
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("Serving", "address", addr, "store", a.Cfg.StoreBackend)
	return a.Server.Run(ctx, addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	ctx := context.Background()
	a.Clients.Close()
	a.Storage.Close(ctx)
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

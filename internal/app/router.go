package app

import (
	"github.com/gin-gonic/gin"

	server "github.com/yungbote/coursestore-backend/internal/http"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Log:             log,
		ServiceName:     cfg.ServiceName,
		AllowedOrigins:  cfg.AllowedOrigins,
		AuthMiddleware:  middleware.Auth,
		CourseHandler:   handlers.Course,
		XBlockHandler:   handlers.XBlock,
		UpstreamHandler: handlers.Upstream,
		AssetHandler:    handlers.Asset,
		RealtimeHandler: handlers.Realtime,
		HealthHandler:   handlers.Health,
	})
}

package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/coursestore-backend/internal/http/handlers"
	httpMW "github.com/yungbote/coursestore-backend/internal/http/middleware"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string

	AuthMiddleware  *httpMW.AuthMiddleware
	CourseHandler   *httpH.CourseHandler
	XBlockHandler   *httpH.XBlockHandler
	UpstreamHandler *httpH.UpstreamHandler
	AssetHandler    *httpH.AssetHandler
	RealtimeHandler *httpH.RealtimeHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	api := r.Group("/api/v1")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Courses
	if cfg.CourseHandler != nil {
		api.GET("/courses", cfg.CourseHandler.ListCourses)
		api.POST("/courses", cfg.CourseHandler.CreateCourse)
		api.GET("/courses/:course_key", cfg.CourseHandler.GetCourse)
		api.DELETE("/courses/:course_key", cfg.CourseHandler.DeleteCourse)
		api.GET("/courses/:course_key/orphans", cfg.CourseHandler.GetOrphans)
		api.DELETE("/courses/:course_key/orphans", cfg.CourseHandler.DeleteOrphans)
	}

	// Blocks
	if cfg.XBlockHandler != nil {
		api.POST("/xblock", cfg.XBlockHandler.CreateItem)
		api.POST("/xblock/move", cfg.XBlockHandler.Move)
		api.POST("/xblock/duplicate", cfg.XBlockHandler.Duplicate)
		api.GET("/xblock/:usage_key", cfg.XBlockHandler.GetItem)
		api.PATCH("/xblock/:usage_key", cfg.XBlockHandler.UpdateItem)
		api.DELETE("/xblock/:usage_key", cfg.XBlockHandler.DeleteItem)
		api.GET("/xblock/:usage_key/parent", cfg.XBlockHandler.GetParent)
		api.GET("/xblock/:usage_key/publish", cfg.XBlockHandler.PublishState)
		api.POST("/xblock/:usage_key/publish", cfg.XBlockHandler.Publish)
		api.POST("/xblock/:usage_key/revert", cfg.XBlockHandler.RevertToPublished)
		api.POST("/xblock/:usage_key/unpublish", cfg.XBlockHandler.Unpublish)
	}

	// Upstream links
	if cfg.UpstreamHandler != nil {
		api.GET("/xblock/:usage_key/upstream", cfg.UpstreamHandler.GetLink)
		api.PUT("/xblock/:usage_key/upstream", cfg.UpstreamHandler.SetLink)
		api.DELETE("/xblock/:usage_key/upstream", cfg.UpstreamHandler.Sever)
		api.POST("/xblock/:usage_key/upstream/sync", cfg.UpstreamHandler.Sync)
		api.POST("/xblock/:usage_key/upstream/decline", cfg.UpstreamHandler.Decline)
		api.POST("/xblock/:usage_key/upstream/fetch_customizable", cfg.UpstreamHandler.FetchCustomizable)

		hooks := api.Group("/webhooks")
		if cfg.AuthMiddleware != nil {
			hooks.Use(cfg.AuthMiddleware.RequireStaff())
		}
		hooks.POST("/library_updated", cfg.UpstreamHandler.LibraryUpdated)
	}

	// Assets
	if cfg.AssetHandler != nil {
		api.GET("/courses/:course_key/assets", cfg.AssetHandler.ListAssets)
		api.DELETE("/courses/:course_key/assets", cfg.AssetHandler.DeleteAllAssets)
		api.POST("/courses/:course_key/assets/copy", cfg.AssetHandler.CopyAssets)
		api.GET("/assets/:asset_key", cfg.AssetHandler.GetAsset)
		api.PUT("/assets/:asset_key", cfg.AssetHandler.PutAsset)
		api.PATCH("/assets/:asset_key", cfg.AssetHandler.PatchAsset)
		api.DELETE("/assets/:asset_key", cfg.AssetHandler.DeleteAsset)
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		api.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
		api.POST("/sse/subscribe", cfg.RealtimeHandler.SSESubscribe)
		api.POST("/sse/unsubscribe", cfg.RealtimeHandler.SSEUnsubscribe)
	}

	return r
}

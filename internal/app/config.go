package app

import (
	"strings"
	"time"

	"github.com/yungbote/coursestore-backend/internal/platform/envutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

type Config struct {
	Port        string
	Environment string
	ServiceName string

	StoreBackend string
	SQLitePath   string

	JWTSecretKey   string
	JWTIssuer      string
	AccessTokenTTL time.Duration

	RedisChannel        string
	InheritanceCacheTTL time.Duration

	TemporalWorker bool
	AllowedOrigins []string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port:        envutil.String("PORT", "8080", log),
		Environment: envutil.String("ENVIRONMENT", "development", log),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "coursestore", log),

		StoreBackend: strings.ToLower(envutil.String("STORE_BACKEND", BackendPostgres, log)),
		SQLitePath:   envutil.String("SQLITE_PATH", "file:coursestore.db?cache=shared", log),

		JWTSecretKey:   envutil.String("JWT_SECRET", "defaultsecret", log),
		JWTIssuer:      envutil.String("JWT_ISSUER", "", log),
		AccessTokenTTL: envutil.Duration("ACCESS_TOKEN_TTL", time.Hour, log),

		RedisChannel:        envutil.String("REDIS_CHANNEL", "coursestore.signals", log),
		InheritanceCacheTTL: envutil.Duration("INHERITANCE_CACHE_TTL", 10*time.Minute, log),

		TemporalWorker: envutil.Bool("TEMPORAL_WORKER_ENABLED", true, log),
		AllowedOrigins: splitList(envutil.String("CORS_ALLOWED_ORIGINS", "", log)),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/yungbote/coursestore-backend/internal/platform/envutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type OtelConfig struct {
	ServiceName  string
	Environment  string
	Version      string
	StoreBackend string
}

// exportConfig is the OTEL_* environment as read at init.
type exportConfig struct {
	enabled     bool
	endpoint    string
	headers     map[string]string
	insecure    bool
	sampleRatio float64
}

func loadExportConfig(log *logger.Logger) exportConfig {
	return exportConfig{
		enabled:     envutil.Bool("OTEL_ENABLED", false, log),
		endpoint:    strings.TrimSpace(envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "", log)),
		headers:     parseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "", nil)),
		insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false, log),
		sampleRatio: parseRatio(envutil.String("OTEL_SAMPLER_RATIO", "", log), 0.1),
	}
}

var (
	otelOnce     sync.Once
	otelShutdown = func(context.Context) error { return nil }
)

// InitOTel installs the global tracer provider once per process and returns its
// shutdown. With OTEL_ENABLED unset the global no-op provider stays in place and the
// store spans cost nothing.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		ec := loadExportConfig(log)
		if !ec.enabled {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "coursestore"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
			attribute.String("coursestore.backend", cfg.StoreBackend),
		))
		if err != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ec.sampleRatio))),
			sdktrace.WithResource(res),
		}
		if exporter, err := buildTraceExporter(ctx, log, ec); err != nil {
			log.Warn("otel exporter init failed (continuing)", "error", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		log.Info("otel tracing initialized", "service", serviceName, "endpoint", ec.endpoint, "ratio", ec.sampleRatio)
	})
	return otelShutdown
}

func buildTraceExporter(ctx context.Context, log *logger.Logger, ec exportConfig) (sdktrace.SpanExporter, error) {
	if ec.endpoint == "" {
		log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ec.endpoint)}
	if ec.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(ec.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(ec.headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

// parseRatio clamps raw to [0, 1]; unparsable input yields def.
func parseRatio(raw string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return def
	}
	return min(max(f, 0), 1)
}

// parseHeaders reads "k1=v1,k2=v2". Pairs with an empty key or value are dropped.
func parseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			headers[k] = v
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

package ctxutil

import "context"

type traceDataKey struct{}

// TraceData correlates one HTTP request across log lines, spans and emitted signals.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) (TraceData, bool) {
	td, ok := ctx.Value(traceDataKey{}).(TraceData)
	return td, ok
}

// LogFields returns the trace and caller identifiers carried by ctx as logger
// key/value pairs. Empty values are omitted.
func LogFields(ctx context.Context) []any {
	var out []any
	add := func(k, v string) {
		if v != "" {
			out = append(out, k, v)
		}
	}
	if td, ok := GetTraceData(ctx); ok {
		add("trace_id", td.TraceID)
		add("request_id", td.RequestID)
	}
	if rd := GetRequestData(ctx); rd != nil {
		add("user_id", rd.UserID)
		add("session_id", rd.SessionID)
	}
	return out
}

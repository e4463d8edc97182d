package ctxutil

import "context"

type requestDataKey struct{}

// RequestData is the authenticated caller of an HTTP request.
type RequestData struct {
	TokenString string
	UserID      string
	SessionID   string
	// Staff grants studio access to every course.
	Staff bool
	// Roles maps a course key, or "org:{org}", to a course role.
	Roles map[string]string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

package upstream

import "context"

type requestIDKeyType struct{}

// RequestIDKey is the context key under which the inbound request ID travels.
var RequestIDKey = requestIDKeyType{}

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID reads the request ID previously attached with WithRequestID.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

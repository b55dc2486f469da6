package context

import "context"

type ContextKey string

var (
	RequestIDKey    = ContextKey("X-Request-Id")
	MethodKey       = ContextKey("X-Method")
	RouteKey        = ContextKey("X-Route")
	RemoteIPKey     = ContextKey("X-Remote-Ip")
	JobIDKey        = ContextKey("X-Job-Id")
	ProviderKey     = ContextKey("X-Provider")
	ConnectionIDKey = ContextKey("X-Connection-Id")
)

func set(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func get(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return set(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return get(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return set(ctx, MethodKey, method)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return set(ctx, RouteKey, route)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return set(ctx, RemoteIPKey, remoteIP)
}

// SetJobID tags work running on behalf of a queued job.
func SetJobID(ctx context.Context, jobID string) context.Context {
	return set(ctx, JobIDKey, jobID)
}

// SetSyncScope tags ctx with the provider and connection a sync pass is working on.
func SetSyncScope(ctx context.Context, provider, connectionID string) context.Context {
	ctx = set(ctx, ProviderKey, provider)
	return set(ctx, ConnectionIDKey, connectionID)
}

var logFields = map[ContextKey]string{
	RequestIDKey:    "request_id",
	MethodKey:       "method",
	RouteKey:        "route",
	RemoteIPKey:     "remote_ip",
	JobIDKey:        "job_id",
	ProviderKey:     "provider",
	ConnectionIDKey: "connection_id",
}

// Fields returns the request, job and sync scope values set on ctx, keyed for logging.
func Fields(ctx context.Context) map[string]any {
	fields := make(map[string]any, len(logFields))
	for key, name := range logFields {
		if value := get(ctx, key); value != "" {
			fields[name] = value
		}
	}
	return fields
}

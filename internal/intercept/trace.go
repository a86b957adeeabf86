package intercept

import "context"

type traceKey struct{}

// Trace records the decision the engine took for one request. The request
// logger installs one per request and prints it after the response.
type Trace struct {
	Strategy Strategy
	CacheHit bool
	Stored   bool
}

func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the request's Trace, or nil when none was installed.
func TraceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

func record(ctx context.Context, fn func(*Trace)) {
	if t := TraceFrom(ctx); t != nil {
		fn(t)
	}
}

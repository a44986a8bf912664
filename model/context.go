package model

import "context"

// RequestContext carries per-request metadata for the lifetime of a request.
// Onboarding endpoints are pre-authentication, so unlike an authenticated
// service there is no subject identity here — only transport metadata. It is
// immutable after construction and safe for concurrent reads.
type RequestContext struct {
	CorrelationID string
	RemoteAddr    string
	Locale        string
	TraceID       string
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

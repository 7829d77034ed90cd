// Package requestctx carries per-request values (logger, trace ids, portal session id) on the
// request context. All values live in one immutable scope so each With call adds one layer.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

var noopLogger = zap.NewNop()

type scopeKey struct{}

type scope struct {
	logger    *zap.Logger
	trace     *TraceInfo
	sessionID string
}

// TraceInfo is the Cloud Trace span a request runs under.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func current(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func with(ctx context.Context, update func(*scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := current(ctx)
	update(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithLogger attaches logger; nil stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, func(s *scope) { s.logger = logger })
}

// Logger returns the request logger, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger := current(ctx).logger; logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, func(s *scope) { s.trace = &info })
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if t := current(ctx).trace; t != nil {
		return *t, true
	}
	return TraceInfo{}, false
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionID records the portal session id once the session middleware resolved it.
func WithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, func(s *scope) { s.sessionID = id })
}

// SessionID is "" until the session middleware ran.
func SessionID(ctx context.Context) string {
	return current(ctx).sessionID
}

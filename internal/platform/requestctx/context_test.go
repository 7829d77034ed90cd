package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestScopeLayersKeepEarlierValues(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	ctx = WithTrace(ctx, TraceInfo{TraceID: "t1", SpanID: "s1", Sampled: true})
	child := WithSessionID(ctx, "session-1")

	if Logger(child) != logger {
		t.Fatal("logger lost after adding session id")
	}
	if TraceID(child) != "t1" {
		t.Fatalf("trace id = %q", TraceID(child))
	}
	if SessionID(child) != "session-1" {
		t.Fatalf("session id = %q", SessionID(child))
	}
	if SessionID(ctx) != "" {
		t.Fatal("parent context must not see the child's session id")
	}
}

func TestDefaults(t *testing.T) {
	var nilCtx context.Context
	if Logger(nilCtx) != NoopLogger() || Logger(context.Background()) != NoopLogger() {
		t.Fatal("expected no-op logger")
	}
	if _, ok := Trace(context.Background()); ok {
		t.Fatal("no trace expected")
	}
	if Logger(WithLogger(context.Background(), nil)) != NoopLogger() {
		t.Fatal("nil logger should store the no-op logger")
	}
	if SessionID(WithSessionID(nilCtx, "x")) != "x" {
		t.Fatal("nil parent context should be replaced")
	}
}

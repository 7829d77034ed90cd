package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ebadeco/rainbow-form-app/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("no_credits", "You are out of credits!\n", http.StatusPaymentRequired).
		WithDetails(map[string]any{"creditPackUrl": "https://rainbowform.com/cart/46397098262776:1", "status": 200}))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("errors must not be cached")
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "no_credits" {
		t.Errorf("error code = %v", payload["error"])
	}
	if payload["message"] != "You are out of credits!" {
		t.Errorf("message not cleaned: %q", payload["message"])
	}
	if payload["status"] != float64(http.StatusPaymentRequired) {
		t.Errorf("details must not override status: %v", payload["status"])
	}
	if payload["trace_id"] != "abc123" {
		t.Errorf("trace_id = %v", payload["trace_id"])
	}
	if payload["creditPackUrl"] == nil {
		t.Errorf("details not merged: %v", payload)
	}
	if _, ok := payload["request_id"]; ok {
		t.Errorf("request_id should be omitted without middleware")
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	p := NewError("x", "y", 0)
	if p.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", p.Status)
	}
	if p.Error() != "x: y" {
		t.Fatalf("Error() = %q", p.Error())
	}
}

func TestWithDetailsDoesNotAliasCaller(t *testing.T) {
	details := map[string]any{"field": "email"}
	p := NewError("invalid_email", "bad", http.StatusUnprocessableEntity).WithDetails(details)
	details["field"] = "changed"
	if p.Extra["field"] != "email" {
		t.Fatalf("details aliased: %v", p.Extra)
	}
}

func TestClip(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"  plain  ", 10, "plain"},
		{"line\r\nbreak", 20, "line  break"},
		{"abcdef", 3, "abc"},
		{"ééé", 3, "é"},
	}
	for _, tc := range cases {
		if got := clip(tc.in, tc.limit); got != tc.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

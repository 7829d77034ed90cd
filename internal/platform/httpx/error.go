// Package httpx writes JSON bodies for the portal API, including the error envelope
// {error, message, status, request_id, trace_id} shared by every /api route and the router
// fallbacks.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ebadeco/rainbow-form-app/internal/platform/requestctx"
)

const (
	codeLimit    = 64
	messageLimit = 512
	idLimit      = 80
)

// Problem is an API failure: a stable machine code, a message safe to show a visitor and the
// HTTP status. Extra keys are merged into the top level of the body.
type Problem struct {
	Code    string
	Message string
	Status  int
	Extra   map[string]any
}

// NewError builds a Problem. A zero status means 500.
func NewError(code, message string, status int) Problem {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Problem{Code: clip(code, codeLimit), Message: clip(message, messageLimit), Status: status}
}

func (p Problem) Error() string { return p.Code + ": " + p.Message }

// WithDetails returns a copy of p carrying extra top-level keys. Envelope keys cannot be
// overridden.
func (p Problem) WithDetails(details map[string]any) Problem {
	if len(details) == 0 {
		return p
	}
	extra := make(map[string]any, len(p.Extra)+len(details))
	for k, v := range p.Extra {
		extra[k] = v
	}
	for k, v := range details {
		extra[k] = v
	}
	p.Extra = extra
	return p
}

// WriteError writes p with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, p Problem) {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(p.Extra)+5)
	for k, v := range p.Extra {
		body[k] = v
	}
	body["error"] = p.Code
	body["message"] = p.Message
	body["status"] = p.Status
	if id := clip(middleware.GetReqID(ctx), idLimit); id != "" {
		body["request_id"] = id
	}
	if id := clip(requestctx.TraceID(ctx), idLimit); id != "" {
		body["trace_id"] = id
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, p.Status, body)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clip folds control characters to spaces, trims and truncates to limit bytes on a rune
// boundary.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

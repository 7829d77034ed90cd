package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/platform/httpx"
	"github.com/ebadeco/rainbow-form-app/internal/platform/requestctx"
	"github.com/ebadeco/rainbow-form-app/internal/platform/session"
	"github.com/ebadeco/rainbow-form-app/internal/services"
)

const multipartOverhead = 1 << 20

type visitorContextKey struct{}

type visitor struct {
	ticket session.Ticket
	state  domain.SessionState
}

func visitorFrom(ctx context.Context) (visitor, bool) {
	v, ok := ctx.Value(visitorContextKey{}).(visitor)
	return v, ok
}

func withVisitorState(ctx context.Context, state domain.SessionState) context.Context {
	v, _ := visitorFrom(ctx)
	v.state = state
	return context.WithValue(ctx, visitorContextKey{}, v)
}

// LoadSession resolves the visitor's session from the cookie, creating one on first visit, and
// enforces the CSRF token on unsafe methods.
func (h *PortalHandlers) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := requestctx.Logger(ctx)

		ticket, ok := h.sessions.Load(r)
		var state domain.SessionState
		if ok {
			loaded, err := h.identity.Load(ctx, ticket.ID)
			switch {
			case err == nil:
				state = loaded
			case errors.Is(err, services.ErrSessionNotFound):
				ok = false
			default:
				logger.Error("session load failed", zap.Error(err))
				h.fail(w, r, http.StatusServiceUnavailable, "session_unavailable", "Your session could not be loaded. Please try again.")
				return
			}
		}
		if !ok {
			created, err := h.identity.Begin(ctx)
			if err != nil {
				logger.Error("session create failed", zap.Error(err))
				h.fail(w, r, http.StatusServiceUnavailable, "session_unavailable", "Your session could not be started. Please try again.")
				return
			}
			state = created
			if ticket, err = h.sessions.Issue(created.ID); err == nil {
				err = h.sessions.Save(w, ticket)
			}
			if err != nil {
				logger.Error("session cookie failed", zap.Error(err))
				h.fail(w, r, http.StatusInternalServerError, "session_unavailable", "Your session could not be started. Please try again.")
				return
			}
		}

		if session.IsUnsafeMethod(r.Method) {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
			if err := parseForm(r); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					h.fail(w, r, http.StatusRequestEntityTooLarge, "upload_too_large", "That picture is too large. Please upload a smaller photo.")
					return
				}
			}
			if !session.ValidCSRF(r, ticket) {
				logger.Warn("csrf token rejected", zap.String("path", r.URL.Path))
				h.fail(w, r, http.StatusForbidden, "csrf_invalid", "Your form expired. Please reload the page and try again.")
				return
			}
		}

		ctx = requestctx.WithSessionID(ctx, state.ID)
		ctx = context.WithValue(ctx, visitorContextKey{}, visitor{ticket: ticket, state: state})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return r.ParseMultipartForm(32 << 20)
	case "application/x-www-form-urlencoded":
		return r.ParseForm()
	}
	return nil
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func (h *PortalHandlers) fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if isAPIRequest(r) {
		httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
		return
	}
	h.renderError(w, r, status, message)
}

package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ebadeco/rainbow-form-app/internal/platform/httpx"
)

const (
	defaultTimeout   = 60 * time.Second
	compressionLevel = 5
)

// Option customises the router before construction.
type Option func(*routes)

type routes struct {
	chain   chi.Middlewares
	health  *HealthHandlers
	portal  *PortalHandlers
	timeout time.Duration
}

// NewRouter assembles the portal HTTP surface: request ids and real client addresses first, then
// caller middleware, compressed responses, probes, and the portal when one is configured. Unknown
// routes and methods answer with the JSON error envelope.
func NewRouter(opts ...Option) chi.Router {
	rt := routes{
		chain:   chi.Middlewares{middleware.RequestID, middleware.RealIP},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&rt)
	}

	r := chi.NewRouter()
	for _, mw := range rt.chain {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Use(middleware.Compress(compressionLevel))

	r.NotFound(fallback("route_not_found", http.StatusNotFound, func(req *http.Request) string {
		return fmt.Sprintf("no route for %s", req.URL.Path)
	}))
	r.MethodNotAllowed(fallback("method_not_allowed", http.StatusMethodNotAllowed, func(req *http.Request) string {
		return fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)
	}))

	rt.mountProbes(r)
	if rt.portal != nil {
		rt.portal.Register(r, rt.timeout)
	}
	return r
}

func (rt routes) mountProbes(r chi.Router) {
	health := rt.health
	if health == nil {
		health = NewHealthHandlers(nil)
	}
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
}

func fallback(code string, status int, describe func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(code, describe(req), status))
	}
}

// WithMiddlewares appends global middleware after the request id and real-ip handlers.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(rt *routes) { rt.chain = append(rt.chain, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(rt *routes) { rt.health = h }
}

// WithPortal mounts the portal pages and its JSON API.
func WithPortal(p *PortalHandlers) Option {
	return func(rt *routes) { rt.portal = p }
}

// WithRequestTimeout bounds every portal route except generation. Non-positive values keep the
// default.
func WithRequestTimeout(d time.Duration) Option {
	return func(rt *routes) {
		if d > 0 {
			rt.timeout = d
		}
	}
}

package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebadeco/rainbow-form-app/internal/platform/requestctx"
	"github.com/ebadeco/rainbow-form-app/internal/platform/session"
	"github.com/ebadeco/rainbow-form-app/internal/services"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/portal.css
var stylesheet []byte

type flashKind string

const (
	flashSuccess flashKind = "success"
	flashWarning flashKind = "warning"
	flashError   flashKind = "error"
)

type flash struct {
	Kind    flashKind
	Message string
}

type pageData struct {
	Title       string
	CSRFToken   string
	CSRFField   string
	HasLogo     bool
	Flashes     []flash
	Email       string
	View        services.StorefrontView
	MaxUploadMB int64
}

func parseTemplates() (*template.Template, error) {
	return template.New("pages").ParseFS(templateFS, "templates/*.html")
}

func (h *PortalHandlers) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.HasLogo = len(h.logo) > 0
	data.CSRFField = session.CSRFField
	data.MaxUploadMB = h.maxUpload >> 20
	if v, ok := visitorFrom(r.Context()); ok {
		data.CSRFToken = v.ticket.CSRFToken
	}

	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		requestctx.Logger(r.Context()).Error("render template failed", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *PortalHandlers) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.render(w, r, status, "error", pageData{
		Title:   "Rainbow Form",
		Flashes: []flash{{Kind: flashError, Message: message}},
	})
}

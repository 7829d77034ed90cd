package handlers

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/platform/requestctx"
	"github.com/ebadeco/rainbow-form-app/internal/platform/session"
	"github.com/ebadeco/rainbow-form-app/internal/services"
)

const (
	sketchField       = "sketch"
	pageTitle         = "Rainbow Form"
	outOfCreditsText  = "You are out of credits!"
	incompleteText    = "The toy factory came back empty-handed this time. Try another drawing or a clearer photo."
	invalidUploadText = "Please upload a JPG or PNG photo of the drawing (up to %d MB)."
	readyText         = "Your toys are ready! Choose your version below."
)

// PortalDeps wires the services behind the portal pages.
type PortalDeps struct {
	Identity       services.IdentityService
	Generation     services.GenerationService
	Storefront     services.StorefrontService
	Sessions       *session.Manager
	Logo           []byte
	MaxUploadBytes int64
}

// PortalHandlers serves the gate, the upload form, the result gallery and the cart redirects.
type PortalHandlers struct {
	identity   services.IdentityService
	generation services.GenerationService
	storefront services.StorefrontService
	sessions   *session.Manager
	logo       []byte
	logoType   string
	maxUpload  int64
	templates  *template.Template
}

// NewPortalHandlers validates deps and parses the embedded templates.
func NewPortalHandlers(deps PortalDeps) (*PortalHandlers, error) {
	if deps.Identity == nil || deps.Generation == nil || deps.Storefront == nil {
		return nil, errors.New("portal handlers: identity, generation and storefront services are required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("portal handlers: session manager is required")
	}
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = services.DefaultMaxUploadBytes
	}
	logoType := ""
	if len(deps.Logo) > 0 {
		logoType = http.DetectContentType(deps.Logo)
	}
	return &PortalHandlers{
		identity:   deps.Identity,
		generation: deps.Generation,
		storefront: deps.Storefront,
		sessions:   deps.Sessions,
		logo:       deps.Logo,
		logoType:   logoType,
		maxUpload:  maxUpload,
		templates:  tmpl,
	}, nil
}

// Register mounts the portal routes. Generation routes are exempt from the request timeout.
func (h *PortalHandlers) Register(r chi.Router, timeout time.Duration) {
	r.Get("/assets/logo.png", h.Logo)
	r.Get("/assets/portal.css", h.Stylesheet)

	r.Group(func(r chi.Router) {
		r.Use(h.LoadSession)

		r.Post("/generate", h.Generate)
		r.Post("/api/v1/generations", h.APIGenerate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Get("/", h.Home)
			r.Post("/unlock", h.Unlock)
			r.Get("/images/{variant}", h.Image)
			r.Get("/order/{variant}", h.Order)
			r.Get("/credits/buy", h.BuyCredits)
			r.Get("/api/v1/session", h.APISession)
			r.Post("/api/v1/session:unlock", h.APIUnlock)
		})
	})
}

// Home renders the gate for anonymous visitors and the portal otherwise.
func (h *PortalHandlers) Home(w http.ResponseWriter, r *http.Request) {
	v, _ := visitorFrom(r.Context())
	if !v.state.Authenticated() {
		h.renderGate(w, r, http.StatusOK, nil)
		return
	}
	h.renderPortal(w, r, http.StatusOK, v.state, nil)
}

func (h *PortalHandlers) renderGate(w http.ResponseWriter, r *http.Request, status int, flashes []flash) {
	h.render(w, r, status, "gate", pageData{Title: pageTitle, Flashes: flashes})
}

func (h *PortalHandlers) renderPortal(w http.ResponseWriter, r *http.Request, status int, state domain.SessionState, flashes []flash) {
	view := h.storefront.Present(state)
	if view.OutOfCredits {
		flashes = append(flashes, flash{Kind: flashError, Message: outOfCreditsText})
	}
	if view.Incomplete {
		flashes = append(flashes, flash{Kind: flashWarning, Message: incompleteText})
	}
	h.render(w, r, status, "portal", pageData{
		Title:   pageTitle,
		Flashes: flashes,
		Email:   state.Email,
		View:    view,
	})
}

// Unlock captures the visitor's email.
func (h *PortalHandlers) Unlock(w http.ResponseWriter, r *http.Request) {
	v, _ := visitorFrom(r.Context())
	_, err := h.identity.Unlock(r.Context(), v.state.ID, r.PostFormValue("email"))
	switch {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, services.ErrInvalidEmail):
		var verr *services.ValidationError
		message := "Please enter a valid email address."
		if errors.As(err, &verr) {
			message = capitalize(verr.Reason) + "."
		}
		h.renderGate(w, r, http.StatusUnprocessableEntity, []flash{{Kind: flashError, Message: message}})
	default:
		requestctx.Logger(r.Context()).Error("unlock failed", zap.Error(err))
		h.renderError(w, r, http.StatusServiceUnavailable, "We could not save your email. Please try again.")
	}
}

// Generate runs one generation from the uploaded sketch and renders the result.
func (h *PortalHandlers) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, _ := visitorFrom(ctx)
	if !v.state.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cmd, err := h.readSketch(r, v.state.ID)
	var result services.GenerateResult
	if err == nil {
		result, err = h.generation.Generate(ctx, cmd)
	}
	status, flashes := h.generationFeedback(r, err)
	if err == nil && !result.Incomplete {
		flashes = append(flashes, flash{Kind: flashSuccess, Message: readyText})
	}

	state, loadErr := h.identity.Load(ctx, v.state.ID)
	if loadErr != nil {
		requestctx.Logger(ctx).Error("reload session failed", zap.Error(loadErr))
		h.renderError(w, r, http.StatusServiceUnavailable, "Your session could not be loaded. Please try again.")
		return
	}
	r = r.WithContext(withVisitorState(ctx, state))
	h.renderPortal(w, r, status, state, flashes)
}

func (h *PortalHandlers) generationFeedback(r *http.Request, err error) (int, []flash) {
	var genErr *services.GenerationError
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.Is(err, services.ErrInvalidUpload):
		return http.StatusBadRequest, []flash{{Kind: flashError, Message: h.invalidUploadMessage()}}
	case errors.Is(err, services.ErrNoCredits):
		return http.StatusPaymentRequired, nil
	case errors.As(err, &genErr):
		requestctx.Logger(r.Context()).Error("generation failed",
			zap.String("designRef", genErr.DesignRef),
			zap.String("variant", string(genErr.Variant)),
			zap.Error(genErr.Err))
		return http.StatusBadGateway, []flash{{Kind: flashError, Message: services.GenerationMessage}}
	default:
		requestctx.Logger(r.Context()).Error("generation failed", zap.Error(err))
		return http.StatusInternalServerError, []flash{{Kind: flashError, Message: services.GenerationMessage}}
	}
}

func (h *PortalHandlers) invalidUploadMessage() string {
	return fmt.Sprintf(invalidUploadText, h.maxUpload>>20)
}

func (h *PortalHandlers) readSketch(r *http.Request, sessionID string) (services.GenerateCommand, error) {
	file, header, err := r.FormFile(sketchField)
	if err != nil {
		return services.GenerateCommand{}, services.ErrInvalidUpload
	}
	defer file.Close()
	if !allowedSketchName(header.Filename) {
		return services.GenerateCommand{}, services.ErrInvalidUpload
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil || int64(len(data)) > h.maxUpload {
		return services.GenerateCommand{}, services.ErrInvalidUpload
	}
	return services.GenerateCommand{
		SessionID: sessionID,
		FileName:  header.Filename,
		Sketch:    domain.Image{Data: data, MIMEType: header.Header.Get("Content-Type")},
	}, nil
}

func allowedSketchName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return true
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Image streams one rendered variant from the session.
func (h *PortalHandlers) Image(w http.ResponseWriter, r *http.Request) {
	v, _ := visitorFrom(r.Context())
	variant := domain.Variant(chi.URLParam(r, "variant"))
	artifact := v.state.Pair.Slot(variant)
	if !v.state.Authenticated() || !variant.Valid() || artifact == nil || artifact.Empty() {
		http.NotFound(w, r)
		return
	}
	contentType := artifact.MIMEType
	if contentType == "" {
		contentType = http.DetectContentType(artifact.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	_, _ = w.Write(artifact.Data)
}

// Order redirects to the external cart for the chosen option.
func (h *PortalHandlers) Order(w http.ResponseWriter, r *http.Request) {
	v, _ := visitorFrom(r.Context())
	target, err := h.storefront.ResolveCartURL(v.state, chi.URLParam(r, "variant"), r.URL.Query().Get("option"))
	switch {
	case err == nil:
		http.Redirect(w, r, target, http.StatusFound)
	case errors.Is(err, services.ErrUnauthenticated):
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		h.renderPortal(w, r, http.StatusNotFound, v.state, []flash{{Kind: flashError, Message: "That option is not available. Please pick one from the list."}})
	}
}

// BuyCredits redirects to the credit pack in the external cart.
func (h *PortalHandlers) BuyCredits(w http.ResponseWriter, r *http.Request) {
	v, _ := visitorFrom(r.Context())
	if !v.state.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.storefront.CreditPackURL(v.state), http.StatusFound)
}

// Logo serves the branding image loaded at startup.
func (h *PortalHandlers) Logo(w http.ResponseWriter, r *http.Request) {
	if len(h.logo) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", h.logoType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(h.logo)
}

// Stylesheet serves the embedded page styles.
func (h *PortalHandlers) Stylesheet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(stylesheet)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/platform/httpx"
	"github.com/ebadeco/rainbow-form-app/internal/platform/requestctx"
	"github.com/ebadeco/rainbow-form-app/internal/services"
)

type artifactPayload struct {
	Available   bool   `json:"available"`
	ImageURL    string `json:"imageUrl,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

type sessionPayload struct {
	Authenticated bool                       `json:"authenticated"`
	Email         string                     `json:"email,omitempty"`
	Credits       int                        `json:"credits"`
	DesignRef     string                     `json:"designRef,omitempty"`
	CSRFToken     string                     `json:"csrfToken"`
	Results       map[string]artifactPayload `json:"results,omitempty"`
	CreditPackURL string                     `json:"creditPackUrl,omitempty"`
}

type generationPayload struct {
	DesignRef   string                     `json:"designRef"`
	CreditsLeft int                        `json:"creditsLeft"`
	Incomplete  bool                       `json:"incomplete"`
	Results     map[string]artifactPayload `json:"results"`
}

func resultsPayload(pair *domain.GeneratedPair) map[string]artifactPayload {
	if pair == nil {
		return nil
	}
	out := make(map[string]artifactPayload, len(domain.Variants))
	for _, v := range domain.Variants {
		artifact := pair.Slot(v)
		if artifact == nil || artifact.Empty() {
			out[string(v)] = artifactPayload{}
			continue
		}
		out[string(v)] = artifactPayload{
			Available:   true,
			ImageURL:    "/images/" + string(v),
			DownloadURL: artifact.DownloadURL,
		}
	}
	return out
}

func (h *PortalHandlers) sessionPayload(v visitor) sessionPayload {
	payload := sessionPayload{
		Authenticated: v.state.Authenticated(),
		Email:         v.state.Email,
		Credits:       v.state.Credits,
		DesignRef:     v.state.DesignRef,
		CSRFToken:     v.ticket.CSRFToken,
		Results:       resultsPayload(v.state.Pair),
	}
	if payload.Authenticated && v.state.Credits <= 0 {
		payload.CreditPackURL = h.storefront.CreditPackURL(v.state)
	}
	return payload
}

// APISession reports the visitor's session.
func (h *PortalHandlers) APISession(w http.ResponseWriter, r *http.Request) {
	v, _ := visitorFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, h.sessionPayload(v))
}

// APIUnlock accepts {"email": "..."}.
func (h *PortalHandlers) APIUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, _ := visitorFrom(ctx)

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a JSON object with an email", http.StatusBadRequest))
		return
	}
	state, err := h.identity.Unlock(ctx, v.state.ID, body.Email)
	switch {
	case err == nil:
		v.state = state
		httpx.WriteJSON(w, http.StatusOK, h.sessionPayload(v))
	case errors.Is(err, services.ErrInvalidEmail):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_email", "please enter a valid email address", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"field": "email"}))
	default:
		requestctx.Logger(ctx).Error("unlock failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "could not save the email", http.StatusServiceUnavailable))
	}
}

// APIGenerate accepts a multipart "sketch" upload and runs one generation.
func (h *PortalHandlers) APIGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, _ := visitorFrom(ctx)
	if !v.state.Authenticated() {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "unlock the session with an email first", http.StatusUnauthorized))
		return
	}

	cmd, err := h.readSketch(r, v.state.ID)
	var result services.GenerateResult
	if err == nil {
		result, err = h.generation.Generate(ctx, cmd)
	}

	var genErr *services.GenerationError
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusCreated, generationPayload{
			DesignRef:   result.DesignRef,
			CreditsLeft: result.CreditsLeft,
			Incomplete:  result.Incomplete,
			Results:     resultsPayload(&result.Pair),
		})
	case errors.Is(err, services.ErrInvalidUpload):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_upload", h.invalidUploadMessage(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNoCredits):
		httpx.WriteError(ctx, w, httpx.NewError("no_credits", "no credits remaining", http.StatusPaymentRequired).
			WithDetails(map[string]any{"creditPackUrl": h.storefront.CreditPackURL(v.state)}))
	case errors.Is(err, services.ErrUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "unlock the session with an email first", http.StatusUnauthorized))
	case errors.As(err, &genErr):
		requestctx.Logger(ctx).Error("generation failed",
			zap.String("designRef", genErr.DesignRef),
			zap.String("variant", string(genErr.Variant)),
			zap.Error(genErr.Err))
		httpx.WriteError(ctx, w, httpx.NewError("generation_failed", services.GenerationMessage, http.StatusBadGateway).
			WithDetails(map[string]any{"creditsLeft": genErr.CreditsLeft}))
	default:
		requestctx.Logger(ctx).Error("generation failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", services.GenerationMessage, http.StatusInternalServerError))
	}
}

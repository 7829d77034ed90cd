package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/platform/observability"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

const (
	identityEventBegin    = "identity.session.begin"
	identityEventUnlock   = "identity.unlock"
	identityEventRejected = "identity.unlock.rejected"
)

// IdentityServiceDeps wires dependencies for the identity gate.
type IdentityServiceDeps struct {
	Sessions       repositories.SessionRepository
	InitialCredits int
	IDGenerator    func() (string, error)
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type identityService struct {
	sessions       repositories.SessionRepository
	initialCredits int
	newID          func() (string, error)
	clock          func() time.Time
	logger         func(context.Context, string, map[string]any)
}

// NewIdentityService constructs the identity gate.
func NewIdentityService(deps IdentityServiceDeps) (IdentityService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("identity service: session repository is required")
	}
	if deps.InitialCredits < 0 {
		return nil, errors.New("identity service: initial credits must not be negative")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = randomSessionID
	}
	return &identityService{
		sessions:       deps.Sessions,
		initialCredits: deps.InitialCredits,
		newID:          newID,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func randomSessionID() (string, error) {
	key := securecookie.GenerateRandomKey(32)
	if key == nil {
		return "", errors.New("identity service: random source unavailable")
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

func (s *identityService) Begin(ctx context.Context) (domain.SessionState, error) {
	now := s.clock()
	for attempt := 0; attempt < 3; attempt++ {
		id, err := s.newID()
		if err != nil {
			return domain.SessionState{}, err
		}
		state := domain.SessionState{
			ID:        id,
			Credits:   s.initialCredits,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.sessions.Create(ctx, state)
		if errors.Is(err, repositories.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.SessionState{}, fmt.Errorf("identity service: create session: %w", err)
		}
		s.logger(ctx, identityEventBegin, map[string]any{
			"sessionId": observability.SanitizeSessionID(id),
			"credits":   state.Credits,
		})
		return state, nil
	}
	return domain.SessionState{}, fmt.Errorf("identity service: create session: %w", repositories.ErrConflict)
}

func (s *identityService) Load(ctx context.Context, sessionID string) (domain.SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.SessionState{}, ErrSessionNotFound
	}
	state, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return domain.SessionState{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("identity service: load session: %w", err)
	}
	return state, nil
}

// Unlock records the email for an anonymous session. Once unlocked a session stays unlocked
// and later calls leave it unchanged. The trimmed text is checked and stored as typed; pages
// escape it on output and logs only see it masked.
func (s *identityService) Unlock(ctx context.Context, sessionID, rawEmail string) (domain.SessionState, error) {
	email := strings.TrimSpace(rawEmail)
	if !ValidEmail(email) {
		s.logger(ctx, identityEventRejected, map[string]any{
			"sessionId": observability.SanitizeSessionID(sessionID),
		})
		return domain.SessionState{}, ErrInvalidEmail
	}

	state, err := s.sessions.Update(ctx, sessionID, func(state *domain.SessionState) error {
		if state.Authenticated() {
			return nil
		}
		state.Email = email
		return nil
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return domain.SessionState{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("identity service: unlock: %w", err)
	}
	s.logger(ctx, identityEventUnlock, map[string]any{
		"sessionId": observability.SanitizeSessionID(sessionID),
		"email":     observability.MaskEmail(state.Email),
	})
	return state, nil
}

// ValidEmail is the gate's acceptance rule: the text contains both "@" and ".".
func ValidEmail(email string) bool {
	return strings.Contains(email, "@") && strings.Contains(email, ".")
}

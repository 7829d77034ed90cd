package repositories

import (
	"context"
	"errors"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

var (
	// ErrNotFound indicates the session does not exist or has expired.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates the record already exists or an optimistic update kept losing.
	ErrConflict = errors.New("repository: conflict")
)

// SessionRepository stores portal session state. Update is the only mutation path for an
// existing session: fn runs against the current state and its result is written atomically.
// When fn returns an error nothing is written and that error is returned unchanged.
type SessionRepository interface {
	Get(ctx context.Context, id string) (domain.SessionState, error)
	Create(ctx context.Context, state domain.SessionState) error
	Update(ctx context.Context, id string, fn func(*domain.SessionState) error) (domain.SessionState, error)
	Ping(ctx context.Context) error
}

// GenerationLedger records one row per credit-consuming generation attempt.
type GenerationLedger interface {
	Record(ctx context.Context, record domain.GenerationRecord) error
}

// NopLedger discards records.
type NopLedger struct{}

func (NopLedger) Record(context.Context, domain.GenerationRecord) error { return nil }

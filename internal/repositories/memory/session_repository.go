// Package memory keeps portal sessions in process memory. Sessions are lost on restart.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

type entry struct {
	state     domain.SessionState
	expiresAt time.Time
}

// SessionRepository is a mutex-guarded map with sliding TTL expiry. Expired entries are dropped
// when their id is read and swept in bulk by Create at most once per TTL.
type SessionRepository struct {
	mu        sync.Mutex
	entries   map[string]entry
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// Option customises the repository.
type Option func(*SessionRepository)

// WithClock injects a custom clock.
func WithClock(now func() time.Time) Option {
	return func(r *SessionRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewSessionRepository builds an in-memory store. ttl <= 0 disables expiry.
func NewSessionRepository(ttl time.Duration, opts ...Option) *SessionRepository {
	repo := &SessionRepository{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (r *SessionRepository) Get(_ context.Context, id string) (domain.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(id)
	if !ok {
		return domain.SessionState{}, repositories.ErrNotFound
	}
	return e.state.Clone(), nil
}

func (r *SessionRepository) Create(_ context.Context, state domain.SessionState) error {
	id := strings.TrimSpace(state.ID)
	if id == "" {
		return errors.New("memory: session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	if _, ok := r.live(id); ok {
		return repositories.ErrConflict
	}
	r.entries[id] = entry{state: state.Clone(), expiresAt: r.expiry()}
	return nil
}

// Update holds the lock for the duration of fn, so concurrent updates of one session serialise.
func (r *SessionRepository) Update(_ context.Context, id string, fn func(*domain.SessionState) error) (domain.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(id)
	if !ok {
		return domain.SessionState{}, repositories.ErrNotFound
	}
	next := e.state.Clone()
	if err := fn(&next); err != nil {
		return domain.SessionState{}, err
	}
	next.ID = e.state.ID
	next.UpdatedAt = r.now().UTC()
	r.entries[id] = entry{state: next.Clone(), expiresAt: r.expiry()}
	return next, nil
}

func (r *SessionRepository) Ping(context.Context) error { return nil }

// Len returns the number of unexpired sessions.
func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id := range r.entries {
		if _, ok := r.live(id); ok {
			n++
		}
	}
	return n
}

// live returns the entry for id, evicting it when expired. Callers hold mu.
func (r *SessionRepository) live(id string) (entry, bool) {
	e, ok := r.entries[id]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt) {
		delete(r.entries, id)
		return entry{}, false
	}
	return e, true
}

// sweep deletes every expired entry once the sweep deadline has passed. Callers hold mu.
func (r *SessionRepository) sweep() {
	if r.ttl <= 0 {
		return
	}
	now := r.now()
	if now.Before(r.nextSweep) {
		return
	}
	for id, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, id)
		}
	}
	r.nextSweep = now.Add(r.ttl)
}

func (r *SessionRepository) expiry() time.Time {
	if r.ttl <= 0 {
		return time.Time{}
	}
	return r.now().Add(r.ttl)
}

// Package redis stores portal sessions in Redis so several portal instances can share them.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

const (
	defaultKeyPrefix  = "portal:session:"
	defaultMaxRetries = 8
)

// Connect parses a redis:// URL and verifies the server answers PING.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	return client, nil
}

// SessionRepository stores each session as a JSON string with a sliding TTL.
// Update uses WATCH/MULTI so concurrent credit decrements cannot overdraw a session.
type SessionRepository struct {
	client     redis.UniversalClient
	ttl        time.Duration
	prefix     string
	maxRetries int
	now        func() time.Time
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// Option customises the repository.
type Option func(*SessionRepository)

// WithKeyPrefix overrides the "portal:session:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(r *SessionRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithMaxRetries bounds optimistic-lock retries in Update.
func WithMaxRetries(n int) Option {
	return func(r *SessionRepository) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// NewSessionRepository wraps client. ttl <= 0 stores keys without expiry.
func NewSessionRepository(client redis.UniversalClient, ttl time.Duration, opts ...Option) (*SessionRepository, error) {
	if client == nil {
		return nil, errors.New("redis: client is required")
	}
	repo := &SessionRepository{
		client:     client,
		ttl:        ttl,
		prefix:     defaultKeyPrefix,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *SessionRepository) key(id string) string { return r.prefix + id }

func (r *SessionRepository) Get(ctx context.Context, id string) (domain.SessionState, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionState{}, repositories.ErrNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("redis: get session: %w", err)
	}
	return decode(data)
}

func (r *SessionRepository) Create(ctx context.Context, state domain.SessionState) error {
	if strings.TrimSpace(state.ID) == "" {
		return errors.New("redis: session id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: encode session: %w", err)
	}
	created, err := r.client.SetNX(ctx, r.key(state.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: create session: %w", err)
	}
	if !created {
		return repositories.ErrConflict
	}
	return nil
}

func (r *SessionRepository) Update(ctx context.Context, id string, fn func(*domain.SessionState) error) (domain.SessionState, error) {
	key := r.key(id)
	var result domain.SessionState

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repositories.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis: get session: %w", err)
		}
		state, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(&state); err != nil {
			return err
		}
		state.ID = id
		state.UpdatedAt = r.now().UTC()
		encoded, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("redis: encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = state
		return nil
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.SessionState{}, err
	}
	return domain.SessionState{}, fmt.Errorf("redis: update session %s: %w", id, repositories.ErrConflict)
}

func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decode(data []byte) (domain.SessionState, error) {
	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("redis: decode session: %w", err)
	}
	return state, nil
}

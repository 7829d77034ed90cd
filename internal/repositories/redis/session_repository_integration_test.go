package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

func newIntegrationRepo(t *testing.T) *SessionRepository {
	t.Helper()
	url := os.Getenv("PORTAL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PORTAL_TEST_REDIS_URL not set; skipping redis integration test")
	}
	ctx := context.Background()
	client, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	prefix := fmt.Sprintf("portal:test:%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
		_ = client.Close()
	})
	repo, err := NewSessionRepository(client, time.Minute, WithKeyPrefix(prefix))
	if err != nil {
		t.Fatalf("NewSessionRepository: %v", err)
	}
	return repo
}

func TestRedisSessionLifecycle(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()

	state := domain.SessionState{
		ID:      "s1",
		Credits: 3,
		Pair:    &domain.GeneratedPair{Color: &domain.Artifact{Image: domain.Image{Data: []byte{1, 2}, MIMEType: "image/jpeg"}}},
	}
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, state); !errors.Is(err, repositories.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Credits != 3 || got.Pair.Color == nil || string(got.Pair.Color.Data) != "\x01\x02" {
		t.Fatalf("round trip lost data: %+v", got)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRedisConcurrentDecrements(t *testing.T) {
	repo := newIntegrationRepo(t)
	ctx := context.Background()
	if err := repo.Create(ctx, domain.SessionState{ID: "s1", Credits: 3}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	errEmpty := errors.New("empty")
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "s1", func(s *domain.SessionState) error {
				if s.Credits <= 0 {
					return errEmpty
				}
				s.Credits--
				return nil
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Credits < 0 || ok != 3-got.Credits {
		t.Fatalf("ok=%d credits=%d", ok, got.Credits)
	}
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

var errNoCredits = errors.New("no credits")

func decrement(state *domain.SessionState) error {
	if state.Credits <= 0 {
		return errNoCredits
	}
	state.Credits--
	return nil
}

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(time.Hour)

	if err := repo.Create(ctx, domain.SessionState{ID: "s1", Credits: 3}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, domain.SessionState{ID: "s1"}); !errors.Is(err, repositories.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	updated, err := repo.Update(ctx, "s1", func(s *domain.SessionState) error {
		s.Email = "a@b.c"
		s.ID = "hijack"
		return decrement(s)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != "s1" || updated.Credits != 2 || updated.Email != "a@b.c" {
		t.Fatalf("unexpected state %+v", updated)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil || got.Credits != 2 {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(0)
	_ = repo.Create(ctx, domain.SessionState{ID: "s1", Credits: 0, Pair: &domain.GeneratedPair{Color: &domain.Artifact{ObjectID: "old"}}})

	_, err := repo.Update(ctx, "s1", func(s *domain.SessionState) error {
		s.Pair.Color.ObjectID = "mutated"
		return decrement(s)
	})
	if !errors.Is(err, errNoCredits) {
		t.Fatalf("expected fn error, got %v", err)
	}
	got, _ := repo.Get(ctx, "s1")
	if got.Credits != 0 || got.Pair.Color.ObjectID != "old" {
		t.Fatalf("state changed after failed update: %+v", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(0)
	_ = repo.Create(ctx, domain.SessionState{ID: "s1", Pair: &domain.GeneratedPair{White: &domain.Artifact{ObjectID: "w"}}})

	got, _ := repo.Get(ctx, "s1")
	got.Pair.White.ObjectID = "changed"

	again, _ := repo.Get(ctx, "s1")
	if again.Pair.White.ObjectID != "w" {
		t.Fatal("Get must not expose stored pointers")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(time.Minute, WithClock(func() time.Time { return now }))
	_ = repo.Create(ctx, domain.SessionState{ID: "s1"})

	now = now.Add(59 * time.Second)
	if _, err := repo.Update(ctx, "s1", func(*domain.SessionState) error { return nil }); err != nil {
		t.Fatalf("update before expiry: %v", err)
	}
	now = now.Add(59 * time.Second)
	if _, err := repo.Get(ctx, "s1"); err != nil {
		t.Fatalf("update should have refreshed ttl: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := repo.Get(ctx, "s1"); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if repo.Len() != 0 {
		t.Fatalf("expired entry should be evicted")
	}
}

func TestCreateSweepsAbandonedSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(time.Minute, WithClock(func() time.Time { return now }))
	for i := 0; i < 1000; i++ {
		if err := repo.Create(ctx, domain.SessionState{ID: fmt.Sprintf("visitor-%d", i)}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	now = now.Add(time.Hour)
	if err := repo.Create(ctx, domain.SessionState{ID: "fresh"}); err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	if _, err := repo.Get(ctx, "fresh"); err != nil {
		t.Fatalf("get fresh: %v", err)
	}

	repo.mu.Lock()
	held := len(repo.entries)
	repo.mu.Unlock()
	if held != 1 {
		t.Fatalf("expected only the fresh session to be held, got %d", held)
	}
}

func TestSweepKeepsLiveSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewSessionRepository(time.Minute, WithClock(func() time.Time { return now }))
	_ = repo.Create(ctx, domain.SessionState{ID: "old"})
	now = now.Add(30 * time.Second)
	_ = repo.Create(ctx, domain.SessionState{ID: "recent"})

	now = now.Add(45 * time.Second)
	_ = repo.Create(ctx, domain.SessionState{ID: "new"})

	repo.mu.Lock()
	_, oldHeld := repo.entries["old"]
	_, recentHeld := repo.entries["recent"]
	repo.mu.Unlock()
	if oldHeld || !recentHeld {
		t.Fatalf("sweep removed the wrong entries: old=%v recent=%v", oldHeld, recentHeld)
	}
}

func TestConcurrentDecrementsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(time.Hour)
	_ = repo.Create(ctx, domain.SessionState{ID: "s1", Credits: 3})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Update(ctx, "s1", decrement); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := repo.Get(ctx, "s1")
	if succeeded != 3 || got.Credits != 0 {
		t.Fatalf("succeeded=%d credits=%d", succeeded, got.Credits)
	}
}

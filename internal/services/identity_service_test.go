package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ebadeco/rainbow-form-app/internal/repositories/memory"
)

func newIdentityForTest(t *testing.T) (IdentityService, *memory.SessionRepository) {
	t.Helper()
	repo := memory.NewSessionRepository(time.Hour)
	n := 0
	svc, err := NewIdentityService(IdentityServiceDeps{
		Sessions:       repo,
		InitialCredits: 3,
		IDGenerator: func() (string, error) {
			n++
			return "session-" + string(rune('a'+n)), nil
		},
		Clock: func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("JST", 9*3600)) },
	})
	if err != nil {
		t.Fatalf("NewIdentityService: %v", err)
	}
	return svc, repo
}

func TestIdentityBeginStartsAnonymousWithCredits(t *testing.T) {
	svc, _ := newIdentityForTest(t)
	state, err := svc.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if state.Authenticated() || state.Credits != 3 {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps, got %v", state.CreatedAt.Location())
	}
}

func TestIdentityBeginRetriesOnCollision(t *testing.T) {
	repo := memory.NewSessionRepository(time.Hour)
	ids := []string{"dup", "dup", "fresh"}
	svc, err := NewIdentityService(IdentityServiceDeps{
		Sessions:       repo,
		InitialCredits: 3,
		IDGenerator: func() (string, error) {
			id := ids[0]
			ids = ids[1:]
			return id, nil
		},
	})
	if err != nil {
		t.Fatalf("NewIdentityService: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.Begin(ctx); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	state, err := svc.Begin(ctx)
	if err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	if state.ID != "fresh" {
		t.Fatalf("expected retry to pick a fresh id, got %q", state.ID)
	}
}

func TestIdentityUnlock(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "a@b.c", want: "a@b.c"},
		{name: "trimmed", input: "  parent@example.com \n", want: "parent@example.com"},
		{name: "angle brackets kept", input: "<kid@family.org>", want: "<kid@family.org>"},
		{name: "long address", input: "parent@" + strings.Repeat("x", 260) + ".com", want: "parent@" + strings.Repeat("x", 260) + ".com"},
		{name: "no domain", input: "nodomain", wantErr: true},
		{name: "no dot", input: "a@b", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
		{name: "only markup", input: "<script>alert(1)</script>", wantErr: true},
		{name: "entity at sign", input: "a&#64;b.c", wantErr: true},
		{name: "entity dot", input: "a@b&#46;c", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newIdentityForTest(t)
			ctx := context.Background()
			state, err := svc.Begin(ctx)
			if err != nil {
				t.Fatalf("Begin: %v", err)
			}

			got, err := svc.Unlock(ctx, state.ID, tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidEmail) {
					t.Fatalf("expected ErrInvalidEmail, got %v", err)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) || verr.Field != "email" {
					t.Fatalf("expected validation error, got %T", err)
				}
				stored, _ := repo.Get(ctx, state.ID)
				if stored.Authenticated() || stored.Credits != 3 {
					t.Fatalf("rejected unlock changed state: %+v", stored)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unlock: %v", err)
			}
			if got.Email != tc.want || !got.Authenticated() {
				t.Fatalf("unexpected state %+v", got)
			}
		})
	}
}

func TestIdentityUnlockIsTerminal(t *testing.T) {
	svc, _ := newIdentityForTest(t)
	ctx := context.Background()
	state, _ := svc.Begin(ctx)
	if _, err := svc.Unlock(ctx, state.ID, "first@example.com"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	again, err := svc.Unlock(ctx, state.ID, "second@example.com")
	if err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
	if again.Email != "first@example.com" {
		t.Fatalf("email changed after unlock: %q", again.Email)
	}
}

func TestIdentityUnknownSession(t *testing.T) {
	svc, _ := newIdentityForTest(t)
	ctx := context.Background()
	if _, err := svc.Unlock(ctx, "missing", "a@b.c"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Load(ctx, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestNewIdentityServiceValidation(t *testing.T) {
	if _, err := NewIdentityService(IdentityServiceDeps{}); err == nil {
		t.Fatal("expected error without repository")
	}
	if _, err := NewIdentityService(IdentityServiceDeps{Sessions: memory.NewSessionRepository(0), InitialCredits: -1}); err == nil {
		t.Fatal("expected error for negative credits")
	}
}

func TestRandomSessionIDsDiffer(t *testing.T) {
	a, err := randomSessionID()
	if err != nil {
		t.Fatalf("randomSessionID: %v", err)
	}
	b, _ := randomSessionID()
	if a == b || len(a) != 43 {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}

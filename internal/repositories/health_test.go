package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

func TestHealthCheckerCollect(t *testing.T) {
	checker, err := NewHealthChecker(
		DependencyCheck{Name: "sessions", Check: func(context.Context) error { return nil }},
		DependencyCheck{Name: "ledger", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)
	if err != nil {
		t.Fatalf("NewHealthChecker: %v", err)
	}

	report := checker.Collect(context.Background())
	if report.Healthy() {
		t.Fatal("expected unhealthy report")
	}
	if report.Checks["sessions"].Status != HealthOK {
		t.Errorf("sessions should be ok: %+v", report.Checks["sessions"])
	}
	ledger := report.Checks["ledger"]
	if ledger.Status != HealthError || ledger.Error != context.DeadlineExceeded.Error() {
		t.Errorf("ledger should time out: %+v", ledger)
	}
}

func TestHealthCheckerValidation(t *testing.T) {
	if _, err := NewHealthChecker(DependencyCheck{Check: func(context.Context) error { return nil }}); err == nil {
		t.Error("expected missing name error")
	}
	if _, err := NewHealthChecker(DependencyCheck{Name: "x"}); err == nil {
		t.Error("expected missing func error")
	}

	checker, err := NewHealthChecker()
	if err != nil {
		t.Fatalf("empty checker: %v", err)
	}
	if !checker.Collect(context.Background()).Healthy() {
		t.Error("no checks should be healthy")
	}
}

func TestNopLedger(t *testing.T) {
	if err := (NopLedger{}).Record(context.Background(), domain.GenerationRecord{DesignRef: "ref"}); err != nil {
		t.Fatalf("NopLedger returned %v", err)
	}
	if errors.Is(ErrNotFound, ErrConflict) {
		t.Fatal("sentinels must be distinct")
	}
}

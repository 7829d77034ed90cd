package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthStatus is ok or error.
type HealthStatus string

const (
	HealthOK    HealthStatus = "ok"
	HealthError HealthStatus = "error"
)

// HealthCheckResult is the outcome of one probe.
type HealthCheckResult struct {
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latencyMs"`
	Error   string        `json:"error,omitempty"`
}

// HealthReport aggregates all probes.
type HealthReport struct {
	Status    HealthStatus                 `json:"status"`
	Checks    map[string]HealthCheckResult `json:"checks"`
	CheckedAt time.Time                    `json:"checkedAt"`
}

// Healthy reports whether every probe succeeded.
func (r HealthReport) Healthy() bool { return r.Status == HealthOK }

// HealthChecker runs dependency probes concurrently.
type HealthChecker struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

// NewHealthChecker validates checks and returns a checker. Zero checks is allowed.
func NewHealthChecker(checks ...DependencyCheck) (*HealthChecker, error) {
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health: dependency %s missing check function", check.Name)
		}
	}
	return &HealthChecker{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}, nil
}

// Collect probes every dependency, each bounded by its own timeout.
func (h *HealthChecker) Collect(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:    HealthOK,
		Checks:    make(map[string]HealthCheckResult, len(h.checks)),
		CheckedAt: h.now().UTC(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range h.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			timeout := check.Timeout
			if timeout <= 0 {
				timeout = h.defaultTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := h.now()
			err := check.Check(checkCtx)
			result := HealthCheckResult{Status: HealthOK, Latency: h.now().Sub(start)}
			if err != nil {
				result.Status = HealthError
				result.Error = err.Error()
			}

			mu.Lock()
			report.Checks[check.Name] = result
			if err != nil {
				report.Status = HealthError
			}
			mu.Unlock()
		}(check)
	}
	wg.Wait()
	return report
}

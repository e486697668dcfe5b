// Package health probes the broker the producer publishes to.
package health

import (
	"context"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// OverallHealth aggregates several checks
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Run executes checkers concurrently. Checks still running when ctx ends are
// reported unhealthy.
func Run(ctx context.Context, checkers ...Checker) OverallHealth {
	start := time.Now()
	checks := make(map[string]CheckResult, len(checkers))
	overall := StatusHealthy

	resultChan := make(chan CheckResult, len(checkers))
	for _, checker := range checkers {
		go func(checker Checker) {
			resultChan <- checker.Check(ctx)
		}(checker)
	}

collectLoop:
	for range checkers {
		select {
		case result := <-resultChan:
			checks[result.Name] = result
			switch result.Status {
			case StatusUnhealthy:
				overall = StatusUnhealthy
			case StatusDegraded:
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			}
		case <-ctx.Done():
			for _, checker := range checkers {
				if _, exists := checks[checker.Name()]; !exists {
					checks[checker.Name()] = CheckResult{
						Name:      checker.Name(),
						Status:    StatusUnhealthy,
						Message:   "Check timed out",
						Duration:  time.Since(start),
						Timestamp: time.Now(),
						Error:     ctx.Err().Error(),
					}
				}
			}
			overall = StatusUnhealthy
			break collectLoop
		}
	}

	return OverallHealth{
		Status:    overall,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
	}
}

package kernel

import (
	"time"
)

// CleanupConfig holds background cleanup parameters.
type CleanupConfig struct {
	// Interval is how often to run cleanup (default: 1 minute).
	Interval time.Duration
	// RunRetention is how long a run may go without a transition (default: 10 minutes).
	RunRetention time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:     time.Minute,
		RunRetention: 10 * time.Minute,
	}
}

// CleanupTask is one periodic cleanup step. It returns the number of
// entries removed.
type CleanupTask struct {
	Name string
	Run  func() int
}

// OrchestratorCleanup forgets stale runs.
func OrchestratorCleanup(o *Orchestrator, retention time.Duration) CleanupTask {
	return CleanupTask{Name: "runs", Run: func() int { return o.CleanupStaleRuns(retention) }}
}

// RateLimiterCleanup drops empty rate windows.
func RateLimiterCleanup(r *RateLimiter) CleanupTask {
	return CleanupTask{Name: "rate_windows", Run: r.CleanupExpired}
}

// PurgeCleanup wraps any store that can drop its own expired entries.
func PurgeCleanup(name string, purge func() int) CleanupTask {
	return CleanupTask{Name: name, Run: purge}
}

// StartCleanupLoop runs tasks every cfg.Interval in a background goroutine.
// The returned function stops the loop and waits for it to exit.
func StartCleanupLoop(cfg CleanupConfig, logger Logger, tasks ...CleanupTask) func() {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCleanupConfig().Interval
	}

	ticker := time.NewTicker(cfg.Interval)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCleanupCycle(logger, tasks)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// runCleanupCycle runs each task; a panicking task does not stop the others.
func runCleanupCycle(logger Logger, tasks []CleanupTask) map[string]int {
	cleaned := make(map[string]int, len(tasks))
	for _, task := range tasks {
		n, err := SafeExecuteWithResult(logger, "cleanup."+task.Name, func() (int, error) {
			return task.Run(), nil
		})
		if err != nil {
			continue
		}
		cleaned[task.Name] = n
	}
	if logger != nil {
		fields := make([]any, 0, 2*len(cleaned))
		for name, n := range cleaned {
			fields = append(fields, name+"_cleaned", n)
		}
		logger.Debug("cleanup_cycle_completed", fields...)
	}
	return cleaned
}

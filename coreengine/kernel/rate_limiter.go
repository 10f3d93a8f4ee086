package kernel

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Rate Limit Config & Result
// =============================================================================

// RateLimitConfig defines rate limiting thresholds. A zero limit disables
// that window.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
}

// DefaultRateLimitConfig returns the limits for one caller.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 30,
		RequestsPerHour:   600,
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool    `json:"allowed"`
	LimitType  string  `json:"limit_type,omitempty"` // "minute", "hour"
	Current    int     `json:"current"`
	Limit      int     `json:"limit"`
	Remaining  int     `json:"remaining"`
	RetryAfter float64 `json:"retry_after,omitempty"` // seconds
}

func exceededLimit(limitType string, current, limit int, retryAfter float64) *RateLimitResult {
	return &RateLimitResult{
		LimitType:  limitType,
		Current:    current,
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// =============================================================================
// Sliding Window
// =============================================================================

// slidingWindow counts requests in sub-buckets of the window.
// Callers hold the RateLimiter lock.
type slidingWindow struct {
	windowSeconds int
	bucketCount   int
	buckets       map[int64]int
}

func newSlidingWindow(windowSeconds int) *slidingWindow {
	return &slidingWindow{
		windowSeconds: windowSeconds,
		bucketCount:   10,
		buckets:       make(map[int64]int),
	}
}

func (w *slidingWindow) bucketSize() float64 {
	return float64(w.windowSeconds) / float64(w.bucketCount)
}

func (w *slidingWindow) minBucket(ts float64) int64 {
	return int64(ts/w.bucketSize()) - int64(w.bucketCount) + 1
}

// prune drops buckets that left the window.
func (w *slidingWindow) prune(ts float64) {
	min := w.minBucket(ts)
	for b := range w.buckets {
		if b < min {
			delete(w.buckets, b)
		}
	}
}

func (w *slidingWindow) record(ts float64) {
	w.prune(ts)
	w.buckets[int64(ts/w.bucketSize())]++
}

func (w *slidingWindow) count(ts float64) int {
	min := w.minBucket(ts)
	n := 0
	for b, c := range w.buckets {
		if b >= min {
			n += c
		}
	}
	return n
}

// retryAfter returns seconds until the count drops below limit.
func (w *slidingWindow) retryAfter(ts float64, limit int) float64 {
	current := w.count(ts)
	if current < limit {
		return 0
	}
	min := w.minBucket(ts)
	live := make([]int64, 0, len(w.buckets))
	for b := range w.buckets {
		if b >= min {
			live = append(live, b)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	excess := current - limit + 1
	expired := 0
	for _, b := range live {
		expired += w.buckets[b]
		if expired >= excess {
			leaves := float64(b+int64(w.bucketCount)) * w.bucketSize()
			if d := leaves - ts; d > 0 {
				return d
			}
			return 0
		}
	}
	return float64(w.windowSeconds)
}

// =============================================================================
// Rate Limiter
// =============================================================================

type windowKey struct {
	caller     string
	endpoint   string
	windowType string
}

// RateLimiter limits requests per caller and endpoint using sliding windows.
// It is safe for concurrent use.
type RateLimiter struct {
	config          *RateLimitConfig
	endpointConfigs map[string]*RateLimitConfig
	windows         map[windowKey]*slidingWindow
	now             func() time.Time
	mu              sync.Mutex
}

// NewRateLimiter creates a rate limiter. A nil config uses the defaults.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:          config,
		endpointConfigs: make(map[string]*RateLimitConfig),
		windows:         make(map[windowKey]*slidingWindow),
		now:             time.Now,
	}
}

// SetEndpointLimits overrides the limits for one endpoint.
func (r *RateLimiter) SetEndpointLimits(endpoint string, config *RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpointConfigs[endpoint] = config
}

func (r *RateLimiter) configFor(endpoint string) *RateLimitConfig {
	if cfg, ok := r.endpointConfigs[endpoint]; ok {
		return cfg
	}
	return r.config
}

func (r *RateLimiter) timestamp() float64 {
	return float64(r.now().UnixNano()) / 1e9
}

// Allow checks and records one request from caller to endpoint.
func (r *RateLimiter) Allow(caller, endpoint string) *RateLimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.timestamp()
	cfg := r.configFor(endpoint)
	checks := []struct {
		windowType    string
		windowSeconds int
		limit         int
	}{
		{"minute", 60, cfg.RequestsPerMinute},
		{"hour", 3600, cfg.RequestsPerHour},
	}

	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}
		key := windowKey{caller, endpoint, check.windowType}
		window, ok := r.windows[key]
		if !ok {
			window = newSlidingWindow(check.windowSeconds)
			r.windows[key] = window
		}
		if current := window.count(ts); current >= check.limit {
			return exceededLimit(check.windowType, current, check.limit, window.retryAfter(ts, check.limit))
		}
	}

	remaining := -1
	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}
		window := r.windows[windowKey{caller, endpoint, check.windowType}]
		window.record(ts)
		if left := check.limit - window.count(ts); remaining < 0 || left < remaining {
			remaining = left
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{Allowed: true, Remaining: remaining}
}

// Reset forgets every window of caller.
func (r *RateLimiter) Reset(caller string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key := range r.windows {
		if key.caller == caller {
			delete(r.windows, key)
			count++
		}
	}
	return count
}

// CleanupExpired drops windows with no request left in them.
func (r *RateLimiter) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.timestamp()
	cleaned := 0
	for key, window := range r.windows {
		window.prune(ts)
		if len(window.buckets) == 0 {
			delete(r.windows, key)
			cleaned++
		}
	}
	return cleaned
}

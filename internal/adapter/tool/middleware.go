package tool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"claimflow/internal/domain"
	"claimflow/internal/infra/tracer"
)

// RateLimiter implements a sliding-window rate limiter.
// It tracks timestamps of allowed calls and rejects new calls
// when the count within the window exceeds the limit.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
	now    func() time.Time // for testing
}

// NewRateLimiter creates a rate limiter that allows limit calls per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow returns true if a call is allowed under the rate limit, and records it.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	// Trim expired entries.
	n := 0
	for _, t := range r.calls {
		if t.After(cutoff) {
			r.calls[n] = t
			n++
		}
	}
	r.calls = r.calls[:n]

	if len(r.calls) >= r.limit {
		return false
	}

	r.calls = append(r.calls, now)
	return true
}

// RateLimitedTool rejects executions over the configured rate with a
// structured tool error the model can back off on.
type RateLimitedTool struct {
	inner   domain.Tool
	limiter *RateLimiter
}

// WithRateLimit wraps a tool with a sliding-window rate limit.
func WithRateLimit(t domain.Tool, limit int, window time.Duration) *RateLimitedTool {
	return &RateLimitedTool{inner: t, limiter: NewRateLimiter(limit, window)}
}

func (t *RateLimitedTool) Name() string              { return t.inner.Name() }
func (t *RateLimitedTool) Description() string       { return t.inner.Description() }
func (t *RateLimitedTool) Schema() domain.ToolSchema { return t.inner.Schema() }

func (t *RateLimitedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if !t.limiter.Allow() {
		return &domain.ToolResult{
			Content: "rate limit exceeded for tool " + t.inner.Name() + ", retry later",
			IsError: true,
		}, nil
	}

	ctx, span := tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", t.inner.Name())),
	)
	defer span.End()

	result, err := t.inner.Execute(ctx, params)
	if err != nil {
		tracer.RecordError(span, err)
		return result, err
	}
	tracer.SetOK(span)
	return result, nil
}

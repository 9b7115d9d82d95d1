package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/calder/toolgate/pkg/tool"
)

// Limits bounds sandboxed execution.
type Limits struct {
	// Timeout is the default wall-clock ceiling per call.
	Timeout time.Duration
	// MaxConcurrent caps simultaneously running tool bodies.
	MaxConcurrent int
	// MaxOutputBytes truncates oversized string payloads.
	MaxOutputBytes int
}

// DefaultLimits returns the executor defaults.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        30 * time.Second,
		MaxConcurrent:  16,
		MaxOutputBytes: 64 * 1024,
	}
}

// Executor runs validated, authorized tool calls inside a bounded
// worker pool with per-call timeout and cancellation. Every execution
// happens off the caller's goroutine so caller cancellation (session
// disconnect) propagates without blocking.
type Executor struct {
	limits Limits
	slots  chan struct{}
}

// NewExecutor builds an executor; zero limit fields fall back to
// DefaultLimits.
func NewExecutor(limits Limits) *Executor {
	def := DefaultLimits()
	if limits.Timeout <= 0 {
		limits.Timeout = def.Timeout
	}
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = def.MaxConcurrent
	}
	if limits.MaxOutputBytes <= 0 {
		limits.MaxOutputBytes = def.MaxOutputBytes
	}
	return &Executor{
		limits: limits,
		slots:  make(chan struct{}, limits.MaxConcurrent),
	}
}

// Limits returns the configured limits.
func (e *Executor) Limits() Limits { return e.limits }

// Run executes t.Call with args under the pool and timeout. A zero
// timeout selects the executor default. The returned bool reports
// whether the payload was truncated.
//
// The waiting side owns the slot and releases it on every exit path,
// so repeated timeouts cannot leak reservations; an abandoned handler
// goroutine writes into buffered channels and exits on its own.
func (e *Executor) Run(ctx context.Context, t tool.Tool, args map[string]interface{}, timeout time.Duration) (interface{}, bool, error) {
	if timeout <= 0 {
		timeout = e.limits.Timeout
	}
	name := t.Metadata().Name

	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, false, &tool.ExecutionError{Tool: name, Message: "execution cancelled before start", Err: ctx.Err()}
	}
	defer func() { <-e.slots }()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- &tool.ExecutionError{Tool: name, Message: fmt.Sprintf("panic: %v", r)}
			}
		}()
		out, err := t.Call(runCtx, args)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- out
		}
	}()

	select {
	case out := <-resultCh:
		truncated, out := e.truncate(name, out)
		return out, truncated, nil

	case err := <-errCh:
		var execErr *tool.ExecutionError
		if errors.As(err, &execErr) {
			return nil, false, err
		}
		return nil, false, &tool.ExecutionError{Tool: name, Message: err.Error(), Err: err}

	case <-runCtx.Done():
		if ctx.Err() != nil {
			// Caller cancellation, not a timeout.
			return nil, false, &tool.ExecutionError{Tool: name, Message: "execution cancelled", Err: ctx.Err()}
		}
		log.Error().Str("tool", name).Dur("timeout", timeout).Msg("Tool execution timeout")
		return nil, false, &tool.TimeoutError{Tool: name, Timeout: timeout}
	}
}

// truncate caps oversized payloads. Structured payloads are measured
// via their JSON encoding; only string payloads are rewritten.
func (e *Executor) truncate(name string, out interface{}) (bool, interface{}) {
	max := e.limits.MaxOutputBytes

	if s, ok := out.(string); ok {
		if len(s) <= max {
			return false, out
		}
		log.Warn().Str("tool", name).Int("original", len(s)).Int("limit", max).Msg("Output truncated")
		return true, s[:max] + "\n... [output truncated]"
	}

	encoded, err := json.Marshal(out)
	if err == nil && len(encoded) > max {
		log.Warn().Str("tool", name).Int("original", len(encoded)).Int("limit", max).Msg("Oversized structured output")
	}
	return false, out
}

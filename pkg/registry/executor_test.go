package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder/toolgate/pkg/tool"
)

func handlerTool(t *testing.T, name string, h tool.Handler) tool.Tool {
	t.Helper()
	return tool.NewBuilder(name).
		Description(name).
		Handler(h).
		MustBuild()
}

func TestExecutor_Run(t *testing.T) {
	e := NewExecutor(DefaultLimits())

	out, truncated, err := e.Run(context.Background(),
		handlerTool(t, "ok", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "done", nil
		}), nil, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, "done", out)
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(DefaultLimits())

	start := time.Now()
	_, _, err := e.Run(context.Background(),
		handlerTool(t, "slow", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(5 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}), nil, 30*time.Millisecond)

	require.Error(t, err)
	var timeoutErr *tool.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow", timeoutErr.Tool)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_CallerCancellation(t *testing.T) {
	e := NewExecutor(DefaultLimits())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := e.Run(ctx,
		handlerTool(t, "waiting", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil, time.Minute)

	require.Error(t, err)
	// Caller cancellation is an execution failure, not a timeout.
	var timeoutErr *tool.TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
	var execErr *tool.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "cancelled")
}

func TestExecutor_PanicRecovered(t *testing.T) {
	e := NewExecutor(DefaultLimits())

	_, _, err := e.Run(context.Background(),
		handlerTool(t, "bomb", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			panic("surprise")
		}), nil, 0)

	require.Error(t, err)
	var execErr *tool.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "surprise")
}

func TestExecutor_ConcurrencyBound(t *testing.T) {
	e := NewExecutor(Limits{Timeout: time.Second, MaxConcurrent: 2, MaxOutputBytes: 1024})

	var running, peak int64
	var mu sync.Mutex
	body := handlerTool(t, "busy", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		now := atomic.AddInt64(&running, 1)
		mu.Lock()
		if now > peak {
			peak = now
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return nil, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Run(context.Background(), body, nil, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(2))
}

func TestExecutor_SlotReleasedAfterTimeout(t *testing.T) {
	e := NewExecutor(Limits{Timeout: time.Second, MaxConcurrent: 1, MaxOutputBytes: 1024})

	stuck := handlerTool(t, "stuck", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	// Burn the only slot with a timeout, then verify the pool recovers.
	_, _, err := e.Run(context.Background(), stuck, nil, 10*time.Millisecond)
	require.Error(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := e.Run(context.Background(),
			handlerTool(t, "quick", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return "ok", nil
			}), nil, 0)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("executor slot was not released after timeout")
	}
}

func TestExecutor_TruncatesStringOutput(t *testing.T) {
	e := NewExecutor(Limits{Timeout: time.Second, MaxConcurrent: 1, MaxOutputBytes: 16})

	out, truncated, err := e.Run(context.Background(),
		handlerTool(t, "chatty", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return strings.Repeat("x", 100), nil
		}), nil, 0)
	require.NoError(t, err)
	assert.True(t, truncated)

	s := out.(string)
	assert.True(t, strings.HasSuffix(s, "[output truncated]"))
	assert.True(t, strings.HasPrefix(s, strings.Repeat("x", 16)))
}

func TestStats_RecordAndSnapshot(t *testing.T) {
	var s Stats

	s.Record(true, 10*time.Millisecond, "")
	s.Record(false, 30*time.Millisecond, "boom")
	s.Record(true, 20*time.Millisecond, "")

	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.Total)
	assert.Equal(t, uint64(2), snap.Succeeded)
	assert.Equal(t, uint64(1), snap.Failed)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 0.001)
	assert.Equal(t, 60*time.Millisecond, snap.TotalDuration)
	assert.Equal(t, 20*time.Millisecond, snap.AverageDuration)
	assert.Equal(t, 10*time.Millisecond, snap.MinDuration)
	assert.Equal(t, 30*time.Millisecond, snap.MaxDuration)
	assert.Equal(t, []string{"boom"}, snap.RecentErrors)
	assert.False(t, snap.LastExecution.IsZero())
}

func TestStats_RecentErrorsBounded(t *testing.T) {
	var s Stats
	for i := 0; i < 25; i++ {
		s.Record(false, time.Millisecond, "err")
	}
	snap := s.Snapshot()
	assert.Len(t, snap.RecentErrors, 10)
	assert.Equal(t, uint64(25), snap.Failed)
}

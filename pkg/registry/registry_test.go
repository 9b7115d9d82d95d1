package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder/toolgate/pkg/tool"
)

func newTestRegistry(t *testing.T, level Level) *Registry {
	t.Helper()
	policy, err := NewPolicy(level, nil, nil)
	require.NoError(t, err)
	return New(policy)
}

func echoTool(t *testing.T) tool.Tool {
	t.Helper()
	return tool.NewBuilder("echo").
		Description("Returns the given text").
		Category("diagnostics").
		Tags("utility").
		StringParam("text", "Text to echo", true).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"echoed": args["text"]}, nil
		}).
		MustBuild()
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)

	require.NoError(t, r.Register(echoTool(t), "say", "repeat"))
	assert.Equal(t, 1, r.Len())

	byName, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", byName.Metadata().Name)

	byAlias, err := r.Get("say")
	require.NoError(t, err)
	assert.Equal(t, "echo", byAlias.Metadata().Name)

	assert.True(t, r.Exists("repeat"))
	assert.False(t, r.Exists("shout"))
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t)))

	err := r.Register(echoTool(t))
	require.Error(t, err)
	var dup *tool.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "echo", dup.Name)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateAliasLeavesRegistryUnchanged(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t), "say"))

	other := tool.NewBuilder("shout").
		Description("Shouts").
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, nil
		}).
		MustBuild()

	err := r.Register(other, "say")
	require.Error(t, err)
	var dup *tool.DuplicateNameError
	require.ErrorAs(t, err, &dup)

	// The conflicting registration must not be partially applied.
	assert.False(t, r.Exists("shout"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t), "say"))

	require.NoError(t, r.Unregister("echo"))
	assert.False(t, r.Exists("echo"))
	assert.False(t, r.Exists("say"))
	assert.Empty(t, r.ByCategory("diagnostics"))
	assert.Empty(t, r.ByTag("utility"))

	err := r.Unregister("echo")
	var notFound *tool.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)

	_, err := r.Get("missing")
	var notFound *tool.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "tool not found: missing", err.Error())
}

func TestRegistry_Indexes(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t)))

	reader := tool.NewBuilder("peek").
		Description("Reads data").
		Category("filesystem").
		Tags("file_read", "utility").
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, nil
		}).
		MustBuild()
	require.NoError(t, r.Register(reader))

	assert.Len(t, r.ByCategory("diagnostics"), 1)
	assert.Len(t, r.ByCategory("filesystem"), 1)
	assert.Len(t, r.ByTag("utility"), 2)
	assert.Len(t, r.ByTag("file_read"), 1)
	assert.Empty(t, r.ByTag("network"))
}

func TestRegistry_Search(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t)))

	assert.Len(t, r.Search("ECHO"), 1)
	assert.Len(t, r.Search("given text"), 1)
	assert.Len(t, r.Search("util"), 1)
	assert.Empty(t, r.Search("xyzzy"))
}

func TestRegistry_OnChange(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)

	var mu sync.Mutex
	fired := 0
	r.OnChange(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	require.NoError(t, r.Register(echoTool(t)))
	require.NoError(t, r.Unregister("echo"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, fired)
}

func TestRegistry_OnChangeUnsubscribe(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)

	var mu sync.Mutex
	fired := 0
	unsubscribe := r.OnChange(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	require.NoError(t, r.Register(echoTool(t)))
	unsubscribe()
	require.NoError(t, r.Unregister("echo"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired, "callbacks must not fire after unsubscribe")
}

func TestRegistry_ExecutePipeline(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t)))

	res := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	require.True(t, res.Success)

	data := res.Data.(map[string]interface{})
	assert.Equal(t, "hi", data["echoed"])
	assert.Equal(t, "echo", res.Metadata["tool"])

	stats, err := r.Stats("echo")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(1), stats.Succeeded)
}

func TestRegistry_ExecuteMissingRequiredParameter(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t)))

	res := r.Execute(context.Background(), "echo", map[string]interface{}{})
	require.False(t, res.Success)
	assert.Equal(t, "missing required parameter: text", res.Error)
	assert.Equal(t, tool.KindValidation, res.Kind())

	// Validation failures never count as executions.
	stats, err := r.Stats("echo")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Total)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)

	res := r.Execute(context.Background(), "ghost", nil)
	require.False(t, res.Success)
	assert.Equal(t, tool.KindNotFound, res.Kind())
}

func TestRegistry_ExecuteBlockedBySecurity(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)

	nuker := tool.NewBuilder("wipe").
		Description("Destructive").
		Dangerous().
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			t.Fatal("handler must not run")
			return nil, nil
		}).
		MustBuild()
	require.NoError(t, r.Register(nuker))

	res := r.Execute(context.Background(), "wipe", nil)
	require.False(t, res.Success)
	assert.Equal(t, tool.KindSecurity, res.Kind())
	assert.Contains(t, res.Error, "blocked by security policy")
}

func TestRegistry_ExecuteViaAlias(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)
	require.NoError(t, r.Register(echoTool(t), "say"))

	res := r.Execute(context.Background(), "say", map[string]interface{}{"text": "alias"})
	require.True(t, res.Success)

	// Stats accrue on the canonical entry regardless of lookup name.
	stats, err := r.Stats("echo")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Total)
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []ExecutionRecord
}

func (c *captureRecorder) Record(rec ExecutionRecord) {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
}

func TestRegistry_RecorderReceivesOutcomes(t *testing.T) {
	policy, err := NewPolicy(LevelSafe, nil, nil)
	require.NoError(t, err)

	rec := &captureRecorder{}
	r := New(policy, WithRecorder(rec))
	require.NoError(t, r.Register(echoTool(t)))

	failing := tool.NewBuilder("flaky").
		Description("Always fails").
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("nope")
		}).
		MustBuild()
	require.NoError(t, r.Register(failing))

	r.Execute(context.Background(), "echo", map[string]interface{}{"text": "a"})
	r.Execute(context.Background(), "flaky", nil)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.recs, 2)
	assert.True(t, rec.recs[0].Success)
	assert.False(t, rec.recs[1].Success)
	assert.Equal(t, tool.KindExecution, rec.recs[1].Kind)
	assert.NotEmpty(t, rec.recs[0].ID)
	assert.NotEqual(t, rec.recs[0].ID, rec.recs[1].ID)
}

func TestRegistry_ExecuteTimeoutRecordedOnce(t *testing.T) {
	r := newTestRegistry(t, LevelSafe)

	slow := tool.NewBuilder("slow").
		Description("Sleeps past its deadline").
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(2 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}).
		MustBuild()
	require.NoError(t, r.Register(slow))

	res := r.Execute(context.Background(), "slow", nil, WithTimeout(20*time.Millisecond))
	require.False(t, res.Success)
	assert.Equal(t, tool.KindTimeout, res.Kind())

	stats, err := r.Stats("slow")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(1), stats.Failed)
	require.Len(t, stats.RecentErrors, 1)
}

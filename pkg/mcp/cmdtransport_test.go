package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnCommand_RoundTrip(t *testing.T) {
	// cat echoes every frame back, which is enough to exercise the
	// subprocess pipes end to end.
	tr, err := SpawnCommand("cat")
	require.NoError(t, err)
	defer tr.Close()

	req, err := NewRequest(int64(1), "ping", nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), req))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	echoed, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", echoed.Method)
}

func TestSpawnCommand_CloseReapsProcess(t *testing.T) {
	tr, err := SpawnCommand("cat")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- tr.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not reap the subprocess")
	}
}

func TestSpawnCommand_MissingBinary(t *testing.T) {
	_, err := SpawnCommand("definitely-not-a-real-binary-xyz")
	assert.Error(t, err)
}

package tool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_Ok(t *testing.T) {
	res := Ok("payload", 5*time.Millisecond)

	assert.True(t, res.Success)
	assert.Equal(t, "payload", res.Data)
	assert.Empty(t, res.Error)
	assert.Equal(t, 5*time.Millisecond, res.Duration)

	data, err := res.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "payload", data)
	assert.Equal(t, "payload", res.UnwrapOr("fallback"))
}

func TestResult_Fail(t *testing.T) {
	cause := &TimeoutError{Tool: "slow", Timeout: time.Second}
	res := Fail("slow", cause, time.Second)

	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	assert.Equal(t, cause.Error(), res.Error)
	assert.Equal(t, "slow", res.Metadata["tool"])
	assert.Equal(t, KindTimeout, res.Kind())

	_, err := res.Unwrap()
	require.Error(t, err)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "slow", execErr.Tool)

	assert.Equal(t, "fallback", res.UnwrapOr("fallback"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{&ValidationError{Parameter: "x"}, KindValidation},
		{&DuplicateNameError{Name: "x"}, KindDuplicate},
		{&NotFoundError{Name: "x"}, KindNotFound},
		{&SecurityError{Level: "safe"}, KindSecurity},
		{&TimeoutError{Tool: "x"}, KindTimeout},
		{&ExecutionError{Tool: "x"}, KindExecution},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err))
	}
	assert.Equal(t, KindExecution, KindOf(errors.New("plain")))
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &ExecutionError{Tool: "x", Message: "wrapped", Err: cause}
	assert.ErrorIs(t, err, cause)
}

package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder/toolgate/pkg/tool"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"unrestricted", LevelUnrestricted},
		{"safe", LevelSafe},
		{"SANDBOXED", LevelSandboxed},
		{" restricted ", LevelRestricted},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseLevel("paranoid")
	assert.Error(t, err)
}

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelUnrestricted < LevelSafe)
	assert.True(t, LevelSafe < LevelSandboxed)
	assert.True(t, LevelSandboxed < LevelRestricted)
}

func TestRestrictedTagsAreCumulative(t *testing.T) {
	safe := restrictedTags(LevelSafe)
	sandboxed := restrictedTags(LevelSandboxed)
	restricted := restrictedTags(LevelRestricted)

	for _, tag := range safe {
		assert.Contains(t, sandboxed, tag)
	}
	for _, tag := range sandboxed {
		assert.Contains(t, restricted, tag)
	}
	assert.Contains(t, sandboxed, "file_write")
	assert.Contains(t, restricted, "file_read")
	assert.NotContains(t, safe, "file_write")
	assert.NotContains(t, sandboxed, "file_read")
}

func metaWithTags(tags ...string) tool.Metadata {
	return tool.Metadata{Name: "sample", Description: "sample", Tags: tags}
}

func TestPolicy_TagGatePerLevel(t *testing.T) {
	tests := []struct {
		level   Level
		tags    []string
		allowed bool
	}{
		{LevelUnrestricted, []string{"dangerous", "system"}, true},
		{LevelSafe, []string{"utility"}, true},
		{LevelSafe, []string{"network"}, false},
		{LevelSafe, []string{"system"}, false},
		{LevelSafe, []string{"file_write"}, true},
		{LevelSandboxed, []string{"file_write"}, false},
		{LevelSandboxed, []string{"file_read"}, true},
		{LevelRestricted, []string{"file_read"}, false},
		{LevelRestricted, []string{"utility"}, true},
	}

	for _, tt := range tests {
		policy, err := NewPolicy(tt.level, nil, nil)
		require.NoError(t, err)

		meta := metaWithTags(tt.tags...)
		assert.Equal(t, tt.allowed, policy.Exposable(meta),
			"level %s tags %v", tt.level, tt.tags)

		err = policy.Authorize(meta, nil, nil)
		if tt.allowed {
			assert.NoError(t, err)
		} else {
			var secErr *tool.SecurityError
			require.ErrorAs(t, err, &secErr)
			assert.Equal(t, tt.level.String(), secErr.Level)
		}
	}
}

func TestPolicy_DangerousFlagEqualsTag(t *testing.T) {
	policy, err := NewPolicy(LevelSafe, nil, nil)
	require.NoError(t, err)

	meta := tool.Metadata{Name: "wipe", Dangerous: true}
	assert.False(t, policy.Exposable(meta))

	err = policy.Authorize(meta, nil, nil)
	var secErr *tool.SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Contains(t, secErr.Error(), "blocked by security policy")
}

func TestPolicy_TightenOnly(t *testing.T) {
	policy, err := NewPolicy(LevelSafe, nil, nil)
	require.NoError(t, err)

	require.NoError(t, policy.Tighten(LevelSandboxed))
	assert.Equal(t, LevelSandboxed, policy.Level())

	// Idempotent at the same level.
	require.NoError(t, policy.Tighten(LevelSandboxed))

	err = policy.Tighten(LevelSafe)
	require.Error(t, err)
	assert.Equal(t, LevelSandboxed, policy.Level())
}

func TestPolicy_PathGateAtSandboxed(t *testing.T) {
	workspace := t.TempDir()
	policy, err := NewPolicy(LevelSandboxed, []string{workspace}, nil)
	require.NoError(t, err)

	meta := metaWithTags("utility")
	params := []tool.Parameter{{Name: "path", Type: tool.TypePath, Required: true}}

	inside := filepath.Join(workspace, "notes.txt")
	require.NoError(t, policy.Authorize(meta, params, map[string]interface{}{"path": inside}))

	outside := filepath.Join(t.TempDir(), "other.txt")
	err = policy.Authorize(meta, params, map[string]interface{}{"path": outside})
	var secErr *tool.SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Contains(t, secErr.Error(), "outside the allow-listed prefixes")
}

func TestPolicy_PathTraversalNormalized(t *testing.T) {
	workspace := t.TempDir()
	policy, err := NewPolicy(LevelSandboxed, []string{workspace}, nil)
	require.NoError(t, err)

	meta := metaWithTags("utility")
	params := []tool.Parameter{{Name: "path", Type: tool.TypePath, Required: true}}

	// Escaping the workspace via .. must be caught after cleaning.
	sneaky := filepath.Join(workspace, "sub", "..", "..", "escape.txt")
	err = policy.Authorize(meta, params, map[string]interface{}{"path": sneaky})
	var secErr *tool.SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestPolicy_DenyPatterns(t *testing.T) {
	workspace := t.TempDir()
	policy, err := NewPolicy(LevelSandboxed, []string{workspace},
		[]string{filepath.Join(workspace, "*.secret")})
	require.NoError(t, err)

	meta := metaWithTags("utility")
	params := []tool.Parameter{{Name: "path", Type: tool.TypePath, Required: true}}

	err = policy.Authorize(meta, params, map[string]interface{}{
		"path": filepath.Join(workspace, "api.secret"),
	})
	var secErr *tool.SecurityError
	require.ErrorAs(t, err, &secErr)

	require.NoError(t, policy.Authorize(meta, params, map[string]interface{}{
		"path": filepath.Join(workspace, "api.txt"),
	}))
}

func TestPolicy_PathGateSkippedBelowSandboxed(t *testing.T) {
	policy, err := NewPolicy(LevelSafe, nil, nil)
	require.NoError(t, err)

	meta := metaWithTags("utility")
	params := []tool.Parameter{{Name: "path", Type: tool.TypePath, Required: true}}

	// At safe level path arguments are not allow-list checked.
	require.NoError(t, policy.Authorize(meta, params, map[string]interface{}{
		"path": "/etc/passwd",
	}))
}

func TestPolicy_AllowListDoesNotOverrideLevelGate(t *testing.T) {
	workspace := t.TempDir()
	policy, err := NewPolicy(LevelRestricted, []string{workspace}, nil)
	require.NoError(t, err)

	// file_read is blocked at restricted even for allow-listed paths.
	meta := metaWithTags("file_read")
	params := []tool.Parameter{{Name: "path", Type: tool.TypePath, Required: true}}
	err = policy.Authorize(meta, params, map[string]interface{}{
		"path": filepath.Join(workspace, "f.txt"),
	})
	var secErr *tool.SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestPolicy_RestrictPaths(t *testing.T) {
	workspace := t.TempDir()
	sub := filepath.Join(workspace, "sub")
	policy, err := NewPolicy(LevelSandboxed, []string{workspace}, nil)
	require.NoError(t, err)

	require.NoError(t, policy.RestrictPaths([]string{sub}))
	assert.Equal(t, []string{sub}, policy.AllowedPaths())

	// Widening back out is rejected.
	err = policy.RestrictPaths([]string{t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, []string{sub}, policy.AllowedPaths())
}

func TestNewPolicy_InvalidDenyPattern(t *testing.T) {
	_, err := NewPolicy(LevelSafe, nil, []string{"[unclosed"})
	assert.Error(t, err)
}

package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder/toolgate/pkg/registry"
	"github.com/calder/toolgate/pkg/tool"
)

// startBridge wires a remote server, a client session against it, and
// a fresh local registry that adopts the remote tools. The local
// registry runs at the default safe level: adopted proxies must stay
// usable there.
func startBridge(t *testing.T, prefix string) (*registry.Registry, []string) {
	t.Helper()

	remoteReg := testRegistry(t, registry.LevelSafe)
	serverSide, clientSide := NewPipeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	server := NewServer(ServerInfo{Name: "remote", Version: "0"}, remoteReg)
	go server.Serve(ctx, serverSide)

	client := NewClient(ClientInfo{Name: "bridge-test", Version: "0"}, clientSide)
	require.NoError(t, client.Initialize(ctx))
	t.Cleanup(func() {
		client.Close()
		cancel()
	})

	localPolicy, err := registry.NewPolicy(registry.LevelSafe, nil, nil)
	require.NoError(t, err)
	localReg := registry.New(localPolicy)

	adopted, err := AdoptTools(ctx, client, localReg, prefix)
	require.NoError(t, err)
	return localReg, adopted
}

func TestAdoptTools_RegistersPrefixedProxies(t *testing.T) {
	localReg, adopted := startBridge(t, "remote")

	// Only the policy-exposed remote tool is advertised and adopted.
	assert.Equal(t, []string{"remote_echo"}, adopted)
	assert.True(t, localReg.Exists("remote_echo"))
	assert.False(t, localReg.Exists("echo"))

	proxy, err := localReg.Get("remote_echo")
	require.NoError(t, err)
	meta := proxy.Metadata()
	assert.Equal(t, "bridged", meta.Category)
	assert.True(t, meta.HasTag("bridged"))

	params := proxy.Parameters()
	require.Len(t, params, 1)
	assert.Equal(t, "text", params[0].Name)
	assert.Equal(t, tool.TypeString, params[0].Type)
	assert.True(t, params[0].Required)
}

func TestAdoptTools_ProxyExecutesRemotely(t *testing.T) {
	localReg, _ := startBridge(t, "remote")

	res := localReg.Execute(context.Background(), "remote_echo",
		map[string]interface{}{"text": "roundtrip"})
	require.True(t, res.Success, "proxy execution failed: %s", res.Error)

	data := res.Data.(map[string]interface{})
	assert.Equal(t, "roundtrip", data["echoed"])
}

func TestAdoptTools_ProxiesUsableAtSafeLevel(t *testing.T) {
	// startBridge already builds the local registry at the safe level;
	// adopted proxies must be exposed and executable there, not only at
	// unrestricted.
	localReg, _ := startBridge(t, "remote")

	exposed := localReg.ListExposable()
	require.Len(t, exposed, 1)
	assert.Equal(t, "remote_echo", exposed[0].Name)

	res := localReg.Execute(context.Background(), "remote_echo",
		map[string]interface{}{"text": "gated"})
	require.True(t, res.Success, res.Error)
	assert.NotEqual(t, tool.KindSecurity, res.Kind())
}

func TestAdoptTools_ProxyValidatesLocally(t *testing.T) {
	localReg, _ := startBridge(t, "remote")

	// The missing argument is rejected before anything hits the wire.
	res := localReg.Execute(context.Background(), "remote_echo", map[string]interface{}{})
	require.False(t, res.Success)
	assert.Equal(t, tool.KindValidation, res.Kind())
	assert.Equal(t, "missing required parameter: text", res.Error)
}

func TestAdoptTools_EmptyPrefixRejected(t *testing.T) {
	_, err := AdoptTools(context.Background(), nil, nil, "")
	assert.Error(t, err)
}

func TestAdoptTools_CollisionSkipsTool(t *testing.T) {
	remoteReg := testRegistry(t, registry.LevelSafe)
	serverSide, clientSide := NewPipeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server := NewServer(ServerInfo{Name: "remote", Version: "0"}, remoteReg)
	go server.Serve(ctx, serverSide)

	client := NewClient(ClientInfo{Name: "t", Version: "0"}, clientSide)
	require.NoError(t, client.Initialize(ctx))
	defer client.Close()

	localPolicy, err := registry.NewPolicy(registry.LevelUnrestricted, nil, nil)
	require.NoError(t, err)
	localReg := registry.New(localPolicy)

	squatter := tool.NewBuilder("remote_echo").
		Description("Occupies the bridged name").
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "local", nil
		}).
		MustBuild()
	require.NoError(t, localReg.Register(squatter))

	adopted, err := AdoptTools(ctx, client, localReg, "remote")
	require.NoError(t, err)
	assert.Empty(t, adopted)

	// The squatter survives the collision.
	res := localReg.Execute(ctx, "remote_echo", nil)
	require.True(t, res.Success)
	assert.Equal(t, "local", res.Data)
}

func TestParseRemoteParameters(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "target"},
			"count": {"type": "integer", "default": 2},
			"mode": {"enum": ["a", "b"]}
		},
		"required": ["path"]
	}`)

	params := parseRemoteParameters(schema)
	require.Len(t, params, 3)

	byName := map[string]tool.Parameter{}
	for _, p := range params {
		byName[p.Name] = p
	}

	assert.Equal(t, tool.TypeString, byName["path"].Type)
	assert.True(t, byName["path"].Required)
	assert.Equal(t, tool.TypeInteger, byName["count"].Type)
	assert.Equal(t, float64(2), byName["count"].Default)
	assert.Equal(t, tool.TypeEnum, byName["mode"].Type)
	require.NotNil(t, byName["mode"].Constraints)
	assert.Len(t, byName["mode"].Constraints.Enum, 2)

	assert.Nil(t, parseRemoteParameters(nil))
	assert.Nil(t, parseRemoteParameters(json.RawMessage(`{"type":"object"}`)))
}

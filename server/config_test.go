package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Validate())
	require.Equal(t, StorageSled, c.Server.Storage)
	require.False(t, c.MultiTenant())
	require.False(t, c.Clustered())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, NewConfig(), c)
}

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flagfiled.toml")
	body := `
[server]
port = 9191
hostname = "127.0.0.1"
data_dir = "./tmp"
storage = "memory"

[root]
read_tokens = ["r1"]
write_tokens = ["w1"]

[namespaces.tenant-a]
read_tokens = ["ra"]
write_tokens = ["wa"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, 9191, c.Server.Port)
	require.Equal(t, StorageMemory, c.Server.Storage)
	require.Equal(t, []string{"r1"}, c.Root.ReadTokens)
	require.True(t, c.MultiTenant())
	require.Equal(t, []string{"ra"}, c.Namespaces["tenant-a"].ReadTokens)
}

func TestValidateRejectsUnknownStorage(t *testing.T) {
	c := NewConfig()
	c.Server.Storage = "nope"
	require.Error(t, c.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	c := NewConfig()

	t.Setenv("FF_STORAGE", "MEMORY")
	t.Setenv("FF_NODE_ID", "7")
	t.Setenv("FF_GRPC_PORT", "9300")
	t.Setenv("FF_PEERS", "1:10.0.0.1:9090,2:10.0.0.2:9090")
	t.Setenv("FF_ROOT_READ_TOKENS", "r1, r2")
	t.Setenv("FF_ROOT_WRITE_TOKENS", "w1")
	t.Setenv("FF_NS_TENANT_A_READ_TOKENS", "ra1,ra2")
	t.Setenv("FF_NS_TENANT_A_WRITE_TOKENS", "wa1")

	require.NoError(t, c.ApplyEnvOverrides())

	require.Equal(t, StorageMemory, c.Server.Storage)
	require.NotNil(t, c.Cluster)
	require.EqualValues(t, 7, c.Cluster.NodeID)
	require.Equal(t, 9300, c.Cluster.BindPort)
	require.Len(t, c.Cluster.Peers, 2)
	require.Equal(t, uint64(1), c.Cluster.Peers[0].ID)
	require.Equal(t, "10.0.0.1:9090", c.Cluster.Peers[0].Addr)
	require.Equal(t, []string{"r1", "r2"}, c.Root.ReadTokens)
	require.Equal(t, []string{"w1"}, c.Root.WriteTokens)
	require.Equal(t, []string{"ra1", "ra2"}, c.Namespaces["tenant_a"].ReadTokens)
	require.Equal(t, []string{"wa1"}, c.Namespaces["tenant_a"].WriteTokens)
}

func TestApplyEnvOverridesRejectsUnknownStorage(t *testing.T) {
	c := NewConfig()
	t.Setenv("FF_STORAGE", "nonsense")
	require.Error(t, c.ApplyEnvOverrides())
}

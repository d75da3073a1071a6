package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, defaultThreads, c.Net.Threads)
	assert.Equal(t, "127.0.0.1:8080", c.SocketAddr())
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[index]
path = "/var/lib/registry/index"

[download]
path = "dl"

[net]
ip = "0.0.0.0"
port = 9000

[database]
path = "/var/lib/registry/registry.db"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/registry/index", c.Index.Path)
	assert.Equal(t, "dl", c.Download.Path)
	assert.Equal(t, "0.0.0.0", c.Net.IP)
	assert.Equal(t, uint16(9000), c.Net.Port)
	assert.Equal(t, defaultThreads, c.Net.Threads, "threads should default when absent")
	assert.Equal(t, "/var/lib/registry/registry.db", c.Database.Path)
}

func TestLoadFileWithThreads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[index]
path = "index"
[download]
path = "dl"
[net]
ip = "127.0.0.1"
port = 8080
threads = 4
[database]
path = "registry.db"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Net.Threads)
}

func TestLoadMissingIndexPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[download]
path = "dl"
[net]
ip = "127.0.0.1"
port = 8080
[database]
path = "registry.db"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

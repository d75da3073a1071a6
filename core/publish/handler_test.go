package publish

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cargoregistry/core/gitindex"
	"github.com/relabs-tech/cargoregistry/core/metastore"
	"github.com/relabs-tech/cargoregistry/core/registryindex"
)

func setupPipeline(t *testing.T) (*Pipeline, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	indexRoot := filepath.Join(dir, "index")
	require.NoError(t, os.MkdirAll(indexRoot, 0o755))

	driver := gitindex.New(indexRoot)
	require.NoError(t, driver.Init())
	require.NoError(t, exec.Command("git", "-C", indexRoot, "config", "user.email", "registry@example.com").Run())
	require.NoError(t, exec.Command("git", "-C", indexRoot, "config", "user.name", "registry").Run())

	meta, err := metastore.Open(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	return &Pipeline{
		Index:        registryindex.New(indexRoot),
		Meta:         meta,
		Git:          driver,
		DownloadRoot: filepath.Join(dir, "dl"),
	}, indexRoot
}

func TestProcessPublishesFreshPackage(t *testing.T) {
	p, indexRoot := setupPipeline(t)

	pkg := PublishedPackage{
		Name:     "foo",
		Vers:     "0.1.0",
		Deps:     nil,
		Features: map[string][]string{},
	}
	require.NoError(t, p.process(context.Background(), pkg, []byte("hello")))

	raw, err := os.ReadFile(filepath.Join(indexRoot, filepath.FromSlash(registryindex.ShardPath("foo"))))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"name":"foo"`)
	assert.Contains(t, string(raw), `"cksum":"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"`)

	blob, err := os.ReadFile(filepath.Join(p.DownloadRoot, "foo", "0.1.0", "download"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(blob))
}

func TestProcessRejectsDuplicateVersion(t *testing.T) {
	p, _ := setupPipeline(t)
	pkg := PublishedPackage{Name: "foo", Vers: "0.1.0", Features: map[string][]string{}}
	require.NoError(t, p.process(context.Background(), pkg, []byte("hello")))

	err := p.process(context.Background(), pkg, []byte("hello"))
	require.Error(t, err)
	pubErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 403, pubErr.Status)
}

func TestProcessRejectsDashUnderscoreCollision(t *testing.T) {
	p, _ := setupPipeline(t)
	require.NoError(t, p.process(context.Background(), PublishedPackage{Name: "foo_bar", Vers: "0.1.0", Features: map[string][]string{}}, []byte("a")))

	err := p.process(context.Background(), PublishedPackage{Name: "foo-bar", Vers: "0.2.0", Features: map[string][]string{}}, []byte("b"))
	require.Error(t, err)
	pubErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 403, pubErr.Status)
}

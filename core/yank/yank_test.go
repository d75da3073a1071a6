package yank

import (
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cargoregistry/core/gitindex"
	"github.com/relabs-tech/cargoregistry/core/registryindex"
)

func setupHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	driver := gitindex.New(dir)
	require.NoError(t, driver.Init())
	require.NoError(t, exec.Command("git", "-C", dir, "config", "user.email", "registry@example.com").Run())
	require.NoError(t, exec.Command("git", "-C", dir, "config", "user.name", "registry").Run())

	index := registryindex.New(dir)
	require.NoError(t, index.Append("foo", registryindex.Record{Name: "foo", Vers: "0.1.0", Features: map[string][]string{}, V: registryindex.V1, Yanked: false}))
	require.NoError(t, index.Append("foo", registryindex.Record{Name: "foo", Vers: "0.2.0", Features: map[string][]string{}, V: registryindex.V1, Yanked: false}))
	require.NoError(t, driver.AddAndCommit(registryindex.ShardPath("foo"), "Add package [foo] version [0.1.0] to index"))

	return &Handler{Index: index, Git: driver}, dir
}

func TestYankSetsYankedTrue(t *testing.T) {
	h, dir := setupHandler(t)

	req := httptest.NewRequest("DELETE", "/api/v1/crates/foo/0.2.0/yank", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "foo", "version": "0.2.0"})
	rec := httptest.NewRecorder()

	h.Yank(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(registryindex.ShardPath("foo"))))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"vers":"0.1.0","deps":null,"cksum":"","features":{},"yanked":false`)
	assert.Contains(t, string(raw), `"vers":"0.2.0","deps":null,"cksum":"","features":{},"yanked":true`)
}

func TestUnyankSetsYankedFalse(t *testing.T) {
	h, _ := setupHandler(t)

	yankReq := httptest.NewRequest("DELETE", "/api/v1/crates/foo/0.2.0/yank", nil)
	yankReq = mux.SetURLVars(yankReq, map[string]string{"name": "foo", "version": "0.2.0"})
	h.Yank(httptest.NewRecorder(), yankReq)

	req := httptest.NewRequest("PUT", "/api/v1/crates/foo/0.2.0/unyank", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "foo", "version": "0.2.0"})
	rec := httptest.NewRecorder()
	h.Unyank(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

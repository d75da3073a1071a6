package owners

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cargoregistry/core/metastore"
)

func setupHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	meta, err := metastore.Open(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return &Handler{Meta: meta}
}

func TestListEmpty(t *testing.T) {
	h := setupHandler(t)
	req := httptest.NewRequest("GET", "/api/v1/crates/foo/owners", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "foo"})
	rec := httptest.NewRecorder()

	h.List(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"users":[]}`, rec.Body.String())
}

func TestListReturnsOwners(t *testing.T) {
	h := setupHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Meta.AddPackage(ctx, "foo", "0.1.0", metastore.VersionMetadata{}))
	_, err := h.Meta.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, h.Meta.AddOwner(ctx, "foo", "alice"))

	req := httptest.NewRequest("GET", "/api/v1/crates/foo/owners", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "foo"})
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"login":"alice"`)
}

func TestSuccessMessagePluralization(t *testing.T) {
	assert.Equal(t, "Added user alice to crate foo", successMessage(true, "foo", []string{"alice"}))
	assert.Equal(t, "Added users alice, bob to crate foo", successMessage(true, "foo", []string{"alice", "bob"}))
	assert.Equal(t, "Removed user alice from crate foo", successMessage(false, "foo", []string{"alice"}))
}

func TestStatusForMapsMetastoreErrors(t *testing.T) {
	assert.Equal(t, 404, statusFor(metastore.ErrNoSuchUser))
	assert.Equal(t, 403, statusFor(metastore.ErrMultipleUsers))
}

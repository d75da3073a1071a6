package gitindex

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func skipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func TestInitAndCommit(t *testing.T) {
	skipIfNoGit(t)
	dir := t.TempDir()
	d := New(dir)
	require.NoError(t, d.Init())

	// git requires an identity to commit; configure one locally.
	cmd := exec.Command("git", "-C", dir, "config", "user.email", "registry@example.com")
	require.NoError(t, cmd.Run())
	cmd = exec.Command("git", "-C", dir, "config", "user.name", "registry")
	require.NoError(t, cmd.Run())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
	require.NoError(t, d.AddAndCommit("config.json", "Init index"))

	// committing again with no changes must not error.
	require.NoError(t, d.AddAndCommit("config.json", "Init index"))
}

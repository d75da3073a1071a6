package registryindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndWalk(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	require.NoError(t, s.Append("foo", Record{
		Name: "foo", Vers: "0.1.0", Deps: []IndexDependency{}, Cksum: "abc",
		Features: map[string][]string{}, V: V1,
	}))
	require.NoError(t, s.Append("foo", Record{
		Name: "foo", Vers: "0.2.0", Deps: []IndexDependency{}, Cksum: "def",
		Features: map[string][]string{}, V: V1,
	}))

	raw, err := os.ReadFile(s.PathFor("foo"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "\r\n"))
	assert.Equal(t, 2, strings.Count(string(raw), "\r\n"))

	var seen []string
	require.NoError(t, s.Walk(func(path string, record Record) error {
		seen = append(seen, record.Vers)
		return nil
	}))
	assert.ElementsMatch(t, []string{"0.1.0", "0.2.0"}, seen)
}

func TestWalkSkipsGitAndConfigJSON(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Append("foo", Record{Name: "foo", Vers: "0.1.0", Features: map[string][]string{}, V: V1}))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))

	count := 0
	require.NoError(t, s.Walk(func(path string, record Record) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestRewritePreservesUntouchedLines(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	path := filepath.Join(dir, "shard")
	require.NoError(t, os.WriteFile(path, []byte(`{"vers":"0.1.0","yanked":false}`+"\r\n"+`{"vers":"0.2.0","yanked":false}`+"\r\n"), 0o644))

	require.NoError(t, s.Rewrite(path, func(line string) string {
		if strings.Contains(line, `"vers":"0.2.0"`) {
			return strings.Replace(line, `"yanked":false`, `"yanked":true`, 1)
		}
		return line
	}))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(out), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"vers":"0.1.0","yanked":false}`, lines[0])
	assert.Equal(t, `{"vers":"0.2.0","yanked":true}`, lines[1])
}

func TestWriteConfigJSON(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.WriteConfigJSON("http://127.0.0.1:8080", "dl"))

	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "\r\n")
	assert.Contains(t, content, `"dl": "http://127.0.0.1:8080/dl"`)
	assert.Contains(t, content, `"api": "http://127.0.0.1:8080"`)
}

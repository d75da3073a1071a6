package registryindex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// Store drives the filesystem side of the index: one file per crate,
// one JSON line per published version, CRLF terminated.
type Store struct {
	Root string
}

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{Root: root}
}

// PathFor returns the absolute path of name's shard file.
func (s *Store) PathFor(name string) string {
	return filepath.Join(s.Root, filepath.FromSlash(ShardPath(name)))
}

// Append opens name's shard file for append (creating parent
// directories and the file itself if needed) and writes record as one
// CRLF-terminated JSON line.
func (s *Store) Append(name string, record Record) error {
	path := s.PathFor(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registryindex: create shard directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("registryindex: open shard file: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("registryindex: serialize record: %w", err)
	}
	if _, err := f.Write(append(line, '\r', '\n')); err != nil {
		return fmt.Errorf("registryindex: write shard file: %w", err)
	}
	return nil
}

// WalkError describes a failure encountered while walking the index,
// identifying the offending file and, for parse failures, the line.
type WalkError struct {
	Path string
	Line int
	Err  error
}

func (e *WalkError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("registryindex: %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("registryindex: %s: %v", e.Path, e.Err)
}

func (e *WalkError) Unwrap() error { return e.Err }

// Walk traverses the index directory depth-first, skipping .git and
// config.json, and invokes fn once per parsed Record. Walking stops
// and returns the first error either from the filesystem, from JSON
// parsing (wrapped in a *WalkError), or returned by fn itself.
func (s *Store) Walk(fn func(path string, record Record) error) error {
	gitDir := filepath.Join(s.Root, ".git")
	configPath := filepath.Join(s.Root, "config.json")

	return filepath.Walk(s.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if path == gitDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(path, gitDir+string(filepath.Separator)) || path == configPath {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return &WalkError{Path: path, Err: err}
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if line == "" {
				continue
			}
			var record Record
			if err := json.Unmarshal([]byte(line), &record); err != nil {
				return &WalkError{Path: path, Line: lineNo, Err: err}
			}
			if err := fn(path, record); err != nil {
				return err
			}
		}
		return scanner.Err()
	})
}

// Rewrite loads path, applies transform to every line and rewrites the
// file truncated, with CRLF terminators. Used by the yank pipeline,
// whose transform does an in-place substring replace rather than a
// full re-marshal, preserving incidental whitespace in untouched
// lines.
func (s *Store) Rewrite(path string, transform func(line string) string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registryindex: read shard file: %w", err)
	}
	lines := splitLines(string(content))
	for i, line := range lines {
		lines[i] = transform(line)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("registryindex: open shard file: %w", err)
	}
	defer f.Close()
	joined := strings.Join(lines, "\r\n")
	if _, err := f.WriteString(joined + "\r\n"); err != nil {
		return fmt.Errorf("registryindex: write shard file: %w", err)
	}
	return nil
}

// splitLines splits on both \n and \r\n, dropping a trailing empty
// element caused by a final line terminator.
func splitLines(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// ConfigFile is the config.json document served at the index root.
type ConfigFile struct {
	DL  string `json:"dl"`
	API string `json:"api"`
}

// WriteConfigJSON writes config.json at the index root with CRLF line
// endings, pretty printed, dl pointing at the download prefix and api
// serialized without a trailing slash.
func (s *Store) WriteConfigJSON(apiBase, downloadPrefix string) error {
	cfg := ConfigFile{
		DL:  strings.TrimRight(apiBase, "/") + "/" + strings.TrimLeft(downloadPrefix, "/"),
		API: strings.TrimRight(apiBase, "/"),
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("registryindex: serialize config.json: %w", err)
	}
	crlf := strings.ReplaceAll(string(body), "\n", "\r\n")
	path := filepath.Join(s.Root, "config.json")
	if err := os.WriteFile(path, []byte(crlf), 0o644); err != nil {
		return fmt.Errorf("registryindex: write config.json: %w", err)
	}
	return nil
}

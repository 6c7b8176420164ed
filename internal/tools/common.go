// Package tools holds the capabilities crew members can be granted.
package tools

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"devcrew/internal/agent"
)

const maxOutputBytes = 10_000

// truncate caps b at maxOutputBytes without splitting a UTF-8 sequence.
func truncate(b []byte) string {
	if len(b) <= maxOutputBytes {
		return string(b)
	}
	n := maxOutputBytes
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]) + "\n... (truncated)"
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Registry returns the shared registry of crew tools. Delegation tools are
// not part of it; they are bound per run to the run's coworkers.
func Registry(searcher Searcher) *agent.Registry {
	r := agent.NewRegistry()
	r.Register(&CodeWriter{})
	r.Register(&CodeReader{})
	r.Register(NewWebSearch(searcher))
	return r
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"devcrew/internal/agent"
)

type codeWriterArgs struct {
	Filename string  `json:"filename" validate:"required" jsonschema:"description=Path of the file to write; parent directories are created."`
	Code     *string `json:"code" validate:"required" jsonschema:"description=Full text content of the file. May be empty."`
}

// CodeWriter persists text artifacts to the filesystem.
type CodeWriter struct{}

func (w *CodeWriter) Name() string { return "code_writer" }
func (w *CodeWriter) Description() string {
	return "Writes code to a file. Creates missing directories and overwrites an existing file."
}
func (w *CodeWriter) InputSchema() any { return agent.SchemaOf(&codeWriterArgs{}) }

func (w *CodeWriter) Execute(ctx context.Context, input string) (string, error) {
	var args codeWriterArgs
	if err := agent.BindArgs(input, &args); err != nil {
		return "", err
	}
	return Write(args.Filename, *args.Code), nil
}

// Write truncates and writes content to filename. Failures are reported in
// the returned message.
func Write(filename, content string) string {
	path := expandHome(filename)
	slog.Debug("code_writer: writing", "path", path, "bytes", len(content))

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Sprintf("Error writing to %s: %v", filename, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing to %s: %v", filename, err)
	}
	return fmt.Sprintf("Code written to %s successfully.", filename)
}

type codeReaderArgs struct {
	Filename string `json:"filename" validate:"required" jsonschema:"description=Path of the file to read."`
}

// CodeReader returns the contents of previously written files.
type CodeReader struct{}

func (r *CodeReader) Name() string { return "code_reader" }
func (r *CodeReader) Description() string {
	return "Reads code from a file and returns its full contents."
}
func (r *CodeReader) InputSchema() any { return agent.SchemaOf(&codeReaderArgs{}) }

func (r *CodeReader) Execute(ctx context.Context, input string) (string, error) {
	var args codeReaderArgs
	if err := agent.BindArgs(input, &args); err != nil {
		return "", err
	}
	return Read(args.Filename), nil
}

// Read returns the file's contents, or a message describing why it could not
// be read.
func Read(filename string) string {
	path := expandHome(filename)
	slog.Debug("code_reader: reading", "path", path)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("File not found: %s", filename)
	case err != nil:
		return fmt.Sprintf("Error reading from %s: %v", filename, err)
	}
	slog.Debug("code_reader: read done", "path", path, "bytes", len(data))
	return string(data)
}

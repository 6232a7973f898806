package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolvePath anchors a tool-supplied path under workDir unless it is
// already absolute, the same join-and-clean the teacher's file tools used
// so relative paths from the model resolve against the task's project
// directory rather than the daemon's own working directory.
func resolvePath(workDir, path string) string {
	if path == "" {
		return workDir
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(workDir, path))
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && strings.TrimSpace(v) != ""
}

// --- file_read ---

type fileReadTool struct{ workDir string }

func (t *fileReadTool) Name() string { return "file_read" }

func (t *fileReadTool) Description() string {
	return "Read a file's contents. Use an absolute or project-relative path."
}

func (t *fileReadTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"path": {Type: "string", Description: "file path to read"},
		},
		Required: []string{"path"},
	}
}

func (t *fileReadTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	path, ok := stringParam(params, "path")
	if !ok {
		return Result{Success: false, Error: "path parameter must be a non-empty string"}, nil
	}
	full := resolvePath(t.workDir, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("read %s: %v", path, err)}, nil
	}
	return Result{Success: true, Output: string(data)}, nil
}

// --- file_write ---

type fileWriteTool struct{ workDir string }

func (t *fileWriteTool) Name() string { return "file_write" }

func (t *fileWriteTool) Description() string {
	return "Write content to a file, creating it (and parent directories) or overwriting it entirely."
}

func (t *fileWriteTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"path":    {Type: "string", Description: "file path to write"},
			"content": {Type: "string", Description: "full file content"},
		},
		Required: []string{"path", "content"},
	}
}

func (t *fileWriteTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	path, ok := stringParam(params, "path")
	if !ok {
		return Result{Success: false, Error: "path parameter must be a non-empty string"}, nil
	}
	content, _ := params["content"].(string)
	full := resolvePath(t.workDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("create parent dirs for %s: %v", path, err)}, nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("write %s: %v", path, err)}, nil
	}
	return Result{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

// --- file_edit ---

type fileEditTool struct{ workDir string }

func (t *fileEditTool) Name() string { return "file_edit" }

func (t *fileEditTool) Description() string {
	return "Replace the first occurrence of old_string with new_string in an existing file. old_string must match exactly once."
}

func (t *fileEditTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"path":       {Type: "string", Description: "file path to edit"},
			"old_string": {Type: "string", Description: "exact text to replace"},
			"new_string": {Type: "string", Description: "replacement text"},
		},
		Required: []string{"path", "old_string", "new_string"},
	}
}

func (t *fileEditTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	path, ok := stringParam(params, "path")
	if !ok {
		return Result{Success: false, Error: "path parameter must be a non-empty string"}, nil
	}
	oldStr, _ := params["old_string"].(string)
	newStr, _ := params["new_string"].(string)
	if oldStr == "" {
		return Result{Success: false, Error: "old_string parameter must be a non-empty string"}, nil
	}

	full := resolvePath(t.workDir, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("read %s: %v", path, err)}, nil
	}
	content := string(data)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return Result{Success: false, Error: "old_string not found in file"}, nil
	}
	if count > 1 {
		return Result{Success: false, Error: fmt.Sprintf("old_string matches %d times, must be unique", count)}, nil
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("write %s: %v", path, err)}, nil
	}
	return Result{Success: true, Output: fmt.Sprintf("edited %s", path)}, nil
}

// --- file_glob ---

type fileGlobTool struct{ workDir string }

func (t *fileGlobTool) Name() string { return "file_glob" }

func (t *fileGlobTool) Description() string {
	return "List files matching a glob pattern (e.g. **/*.go expressed as */*.go per directory level), rooted at the project directory."
}

func (t *fileGlobTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"pattern": {Type: "string", Description: "glob pattern, e.g. *.go or pkg/*/*.go"},
		},
		Required: []string{"pattern"},
	}
}

func (t *fileGlobTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	pattern, ok := stringParam(params, "pattern")
	if !ok {
		return Result{Success: false, Error: "pattern parameter must be a non-empty string"}, nil
	}
	matches, err := filepath.Glob(filepath.Join(t.workDir, pattern))
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("invalid glob pattern: %v", err)}, nil
	}

	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		if r, err := filepath.Rel(t.workDir, m); err == nil {
			rel = append(rel, r)
		} else {
			rel = append(rel, m)
		}
	}
	sort.Strings(rel)
	return Result{Success: true, Output: strings.Join(rel, "\n"), Data: rel}, nil
}

// --- directory_list ---

type directoryListTool struct{ workDir string }

func (t *directoryListTool) Name() string { return "directory_list" }

func (t *directoryListTool) Description() string {
	return "List the immediate entries of a directory, marking subdirectories with a trailing slash."
}

func (t *directoryListTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"path": {Type: "string", Description: "directory to list (default: project root)"},
		},
	}
}

func (t *directoryListTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	path, _ := stringParam(params, "path")
	full := resolvePath(t.workDir, path)

	entries, err := os.ReadDir(full)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("list %s: %v", path, err)}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return Result{Success: true, Output: strings.Join(names, "\n"), Data: names}, nil
}

package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileReadTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world\n"), 0o644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}
	tool := &fileReadTool{workDir: dir}

	t.Run("metadata", func(t *testing.T) {
		if tool.Name() != "file_read" {
			t.Errorf("Name() = %q, want file_read", tool.Name())
		}
		if _, ok := tool.Parameters().Properties["path"]; !ok {
			t.Error("Parameters() missing path property")
		}
	})

	t.Run("reads relative path", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), map[string]any{"path": "hello.txt"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Success || res.Output != "hello world\n" {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("missing path parameter", func(t *testing.T) {
		res, _ := tool.Execute(context.Background(), map[string]any{})
		if res.Success {
			t.Error("expected failure for missing path")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		res, _ := tool.Execute(context.Background(), map[string]any{"path": "nope.txt"})
		if res.Success {
			t.Error("expected failure for missing file")
		}
	})
}

func TestFileWriteAndEditTool(t *testing.T) {
	dir := t.TempDir()
	writeTool := &fileWriteTool{workDir: dir}
	editTool := &fileEditTool{workDir: dir}

	res, err := writeTool.Execute(context.Background(), map[string]any{
		"path": "nested/out.txt", "content": "version one",
	})
	if err != nil || !res.Success {
		t.Fatalf("write failed: %v %+v", err, res)
	}

	data, err := os.ReadFile(filepath.Join(dir, "nested/out.txt"))
	if err != nil || string(data) != "version one" {
		t.Fatalf("unexpected file content: %v %q", err, data)
	}

	res, err = editTool.Execute(context.Background(), map[string]any{
		"path": "nested/out.txt", "old_string": "one", "new_string": "two",
	})
	if err != nil || !res.Success {
		t.Fatalf("edit failed: %v %+v", err, res)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "nested/out.txt"))
	if string(data) != "version two" {
		t.Fatalf("edit did not apply, got %q", data)
	}

	t.Run("ambiguous match rejected", func(t *testing.T) {
		_, _ = writeTool.Execute(context.Background(), map[string]any{"path": "dup.txt", "content": "aa"})
		res, _ := editTool.Execute(context.Background(), map[string]any{
			"path": "dup.txt", "old_string": "a", "new_string": "b",
		})
		if res.Success {
			t.Error("expected ambiguous old_string to be rejected")
		}
	})
}

func TestFileGlobAndDirectoryListTool(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	glob := &fileGlobTool{workDir: dir}
	res, err := glob.Execute(context.Background(), map[string]any{"pattern": "*.go"})
	if err != nil || !res.Success {
		t.Fatalf("glob failed: %v %+v", err, res)
	}
	matches, ok := res.Data.([]string)
	if !ok || len(matches) != 2 {
		t.Fatalf("expected 2 go files, got %+v", res.Data)
	}

	list := &directoryListTool{workDir: dir}
	res, err = list.Execute(context.Background(), map[string]any{})
	if err != nil || !res.Success {
		t.Fatalf("list failed: %v %+v", err, res)
	}
	entries, ok := res.Data.([]string)
	if !ok || len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %+v", res.Data)
	}
}

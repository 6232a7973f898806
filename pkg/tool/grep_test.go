package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileGrepTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc TODO() {}\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tool := &fileGrepTool{workDir: dir}
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": "TODO"})
	if err != nil || !res.Success {
		t.Fatalf("grep failed: %v %+v", err, res)
	}
	matches, ok := res.Data.([]grepMatch)
	if !ok || len(matches) != 1 || matches[0].Path != "a.go" {
		t.Fatalf("expected one match in a.go, got %+v", res.Data)
	}

	t.Run("invalid regex rejected", func(t *testing.T) {
		res, _ := tool.Execute(context.Background(), map[string]any{"pattern": "("})
		if res.Success {
			t.Error("expected invalid regex to fail")
		}
	})
}

func TestBashExecuteTool(t *testing.T) {
	dir := t.TempDir()
	tool := &bashExecuteTool{workDir: dir}

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hi"})
	if err != nil || !res.Success || res.Output != "hi" {
		t.Fatalf("unexpected result: %v %+v", err, res)
	}

	res, err = tool.Execute(context.Background(), map[string]any{"command": "exit 1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected non-zero exit to fail")
	}
}

package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// gitTool covers the git.read base capability: status and recent log,
// read through go-git's library API rather than shelling out to a git
// binary, so the one git dependency this core carries is actually
// exercised by library calls instead of os/exec.
type gitTool struct{ workDir string }

func (t *gitTool) Name() string { return "git" }

func (t *gitTool) Description() string {
	return "Inspect the project's git repository: working-tree status, or recent commit history."
}

func (t *gitTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"action": {Type: "string", Description: "status or log", Enum: []string{"status", "log"}, Default: "status"},
			"limit":  {Type: "integer", Description: "max commits to return for action=log", Default: 10},
		},
	}
}

func (t *gitTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	repo, err := git.PlainOpenWithOptions(t.workDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("open repository: %v", err)}, nil
	}

	action, _ := stringParam(params, "action")
	if action == "" {
		action = "status"
	}

	switch action {
	case "status":
		return t.status(repo)
	case "log":
		return t.log(repo, parseIntParam(params["limit"], 10))
	default:
		return Result{Success: false, Error: fmt.Sprintf("unknown action %q", action)}, nil
	}
}

func (t *gitTool) status(repo *git.Repository) (Result, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("get worktree: %v", err)}, nil
	}
	st, err := wt.Status()
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("status: %v", err)}, nil
	}
	if st.IsClean() {
		return Result{Success: true, Output: "working tree clean"}, nil
	}

	var sb strings.Builder
	for path, s := range st {
		fmt.Fprintf(&sb, "%c%c %s\n", s.Staging, s.Worktree, path)
	}
	return Result{Success: true, Output: sb.String()}, nil
}

type commitSummary struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

func (t *gitTool) log(repo *git.Repository, limit int) (Result, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	head, err := repo.Head()
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("resolve HEAD: %v", err)}, nil
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("log: %v", err)}, nil
	}
	defer iter.Close()

	var commits []commitSummary
	err = iter.ForEach(func(c *object.Commit) error {
		if len(commits) >= limit {
			return nil
		}
		commits = append(commits, commitSummary{
			Hash:    c.Hash.String()[:12],
			Author:  c.Author.Name,
			Message: strings.SplitN(c.Message, "\n", 2)[0],
		})
		if len(commits) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("iterate log: %v", err)}, nil
	}

	var sb strings.Builder
	for _, c := range commits {
		fmt.Fprintf(&sb, "%s %s %s\n", c.Hash, c.Author, c.Message)
	}
	return Result{Success: true, Output: sb.String(), Data: commits}, nil
}

package tool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// --- file_grep ---

type fileGrepTool struct{ workDir string }

func (t *fileGrepTool) Name() string { return "file_grep" }

func (t *fileGrepTool) Description() string {
	return "Search text files under the project directory for a regular expression, returning matching lines with file and line number."
}

func (t *fileGrepTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"pattern":    {Type: "string", Description: "regular expression to search for"},
			"glob":       {Type: "string", Description: "optional glob to restrict which files are searched, e.g. *.go", Default: "*"},
			"max_matches": {Type: "integer", Description: "maximum matches to return", Default: 200},
		},
		Required: []string{"pattern"},
	}
}

func (t *fileGrepTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	pattern, ok := stringParam(params, "pattern")
	if !ok {
		return Result{Success: false, Error: "pattern parameter must be a non-empty string"}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("invalid regular expression: %v", err)}, nil
	}
	glob, _ := stringParam(params, "glob")
	if glob == "" {
		glob = "*"
	}
	maxMatches := parseIntParam(params["max_matches"], 200)

	var matches []grepMatch
	walkErr := filepath.WalkDir(t.workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(glob, d.Name()); !ok {
			return nil
		}
		if len(matches) >= maxMatches {
			return nil
		}
		matchesInFile(path, re, maxMatches-len(matches), &matches, t.workDir)
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return Result{Success: false, Error: fmt.Sprintf("search failed: %v", walkErr)}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.Path, m.Line, m.Text)
	}
	return Result{Success: true, Output: sb.String(), Data: matches}, nil
}

func matchesInFile(path string, re *regexp.Regexp, remaining int, out *[]grepMatch, workDir string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	rel, err := filepath.Rel(workDir, path)
	if err != nil {
		rel = path
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() && remaining > 0 {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			*out = append(*out, grepMatch{Path: rel, Line: lineNo, Text: strings.TrimSpace(line)})
			remaining--
		}
	}
}

func parseIntParam(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

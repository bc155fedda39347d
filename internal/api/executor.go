package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/crew/internal/agent"
)

// ErrOutsideWorkDir is returned for paths that resolve outside the working directory.
var ErrOutsideWorkDir = errors.New("path is outside the working directory")

// maxToolOutput bounds the text returned to the model from a single tool call.
const maxToolOutput = 30000

// ToolExecutor executes tool calls on behalf of one sub-agent. Every path is
// confined to workDir, and write tools are refused at read-only capability.
type ToolExecutor struct {
	workDir    string
	capability agent.CapabilityLevel
}

// NewToolExecutor creates a tool executor for the given working directory.
func NewToolExecutor(workDir string, capability agent.CapabilityLevel) *ToolExecutor {
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	return &ToolExecutor{workDir: filepath.Clean(workDir), capability: capability}
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Content string
	IsError bool
}

func failure(format string, args ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Execute runs a tool by name with the given JSON input.
func (e *ToolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	if isWriteTool(name) && e.capability != agent.CapabilityElevated {
		return failure("Tool %s is not available in read-only mode", name)
	}
	switch name {
	case "Read":
		return e.execRead(input)
	case "Write":
		return e.execWrite(input)
	case "Edit":
		return e.execEdit(input)
	case "Bash":
		return e.execBash(ctx, input)
	case "Glob":
		return e.execGlob(input)
	case "Grep":
		return e.execGrep(ctx, input)
	case "ListDir":
		return e.execListDir(input)
	default:
		return failure("Unknown tool: %s", name)
	}
}

func (e *ToolExecutor) execRead(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failure("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return failure("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return failure("Failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")

	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return failure("Offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 {
		end = min(start+params.Limit, len(lines))
	}

	var result strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&result, "%6d\t%s\n", i+1, lines[i])
	}
	return ToolResult{Content: truncate(result.String())}
}

func (e *ToolExecutor) execWrite(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failure("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return failure("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return failure("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return failure("Failed to write file: %v", err)
	}
	return ToolResult{Content: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *ToolExecutor) execEdit(input json.RawMessage) ToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failure("Invalid parameters: %v", err)
	}
	if params.OldString == "" {
		return failure("old_string must not be empty")
	}

	path, err := e.resolvePath(params.FilePath)
	if err != nil {
		return failure("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return failure("Failed to read file: %v", err)
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	if count == 0 {
		return failure("old_string not found in file")
	}
	if !params.ReplaceAll && count > 1 {
		return failure("old_string found %d times; must be unique or use replace_all=true", count)
	}

	n := 1
	if params.ReplaceAll {
		n = -1
	}
	if err := os.WriteFile(path, []byte(strings.Replace(text, params.OldString, params.NewString, n)), 0644); err != nil {
		return failure("Failed to write file: %v", err)
	}
	if params.ReplaceAll {
		return ToolResult{Content: fmt.Sprintf("Replaced %d occurrences", count)}
	}
	return ToolResult{Content: "Edit successful"}
}

func (e *ToolExecutor) execBash(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Command     string `json:"command"`
		Timeout     int    `json:"timeout"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failure("Invalid parameters: %v", err)
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = e.workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure("Command timed out after %v:\n%s", timeout, truncate(string(output)))
		}
		return failure("%s\nError: %v", truncate(string(output)), err)
	}
	return ToolResult{Content: truncate(string(output))}
}

func (e *ToolExecutor) execGlob(input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failure("Invalid parameters: %v", err)
	}

	searchPath, err := e.searchRoot(params.Path)
	if err != nil {
		return failure("%v", err)
	}

	var matches []string
	walkErr := e.walkFiles(searchPath, func(path, rel string) error {
		if globMatch(params.Pattern, rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if walkErr != nil {
		return failure("Glob error: %v", walkErr)
	}
	if len(matches) == 0 {
		return ToolResult{Content: "No files matched the pattern"}
	}
	return ToolResult{Content: truncate(strings.Join(matches, "\n"))}
}

func (e *ToolExecutor) execGrep(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failure("Invalid parameters: %v", err)
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return failure("Invalid pattern: %v", err)
	}
	searchPath, err := e.searchRoot(params.Path)
	if err != nil {
		return failure("%v", err)
	}

	var out strings.Builder
	walkErr := e.walkFiles(searchPath, func(path, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if params.Glob != "" && !globMatch(params.Glob, rel) {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for n := 1; scanner.Scan(); n++ {
			if re.MatchString(scanner.Text()) {
				fmt.Fprintf(&out, "%s:%d:%s\n", rel, n, scanner.Text())
			}
		}
		if out.Len() > maxToolOutput {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return failure("Grep error: %v", walkErr)
	}
	if out.Len() == 0 {
		return ToolResult{Content: "No matches found"}
	}
	return ToolResult{Content: truncate(out.String())}
}

func (e *ToolExecutor) execListDir(input json.RawMessage) ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failure("Invalid parameters: %v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return failure("%v", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return failure("Failed to read directory: %v", err)
	}

	var result strings.Builder
	for _, entry := range entries {
		info, _ := entry.Info()
		switch {
		case info == nil:
			fmt.Fprintf(&result, "? %s\n", entry.Name())
		case entry.IsDir():
			fmt.Fprintf(&result, "d %s/\n", entry.Name())
		default:
			fmt.Fprintf(&result, "- %s (%d bytes)\n", entry.Name(), info.Size())
		}
	}
	return ToolResult{Content: result.String()}
}

// resolvePath returns the absolute form of path, rejecting anything that
// escapes the working directory. Symlinks are resolved when they exist.
func (e *ToolExecutor) resolvePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workDir, path)
	}
	path = filepath.Clean(path)
	if !within(e.workDir, path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, path)
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		root := e.workDir
		if r, err := filepath.EvalSymlinks(root); err == nil {
			root = r
		}
		if !within(root, real) {
			return "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, path)
		}
	}
	return path, nil
}

func (e *ToolExecutor) searchRoot(path string) (string, error) {
	if path == "" {
		return e.workDir, nil
	}
	return e.resolvePath(path)
}

// walkFiles visits regular files under root, skipping hidden directories.
// fn receives the path relative to root with forward slashes.
func (e *ToolExecutor) walkFiles(root string, fn func(path, rel string) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		return fn(path, filepath.ToSlash(rel))
	})
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// globMatch matches rel against pattern. Patterns without a slash match the
// base name; "**/" matches any number of leading directories.
func globMatch(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		ok, _ := filepath.Match(pattern, filepath.Base(rel))
		return ok
	}
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	if rest, found := strings.CutPrefix(pattern, "**/"); found {
		parts := strings.Split(rel, "/")
		for i := range parts {
			if globMatch(rest, strings.Join(parts[i:], "/")) {
				return true
			}
		}
	}
	return false
}

func truncate(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	cut := maxToolOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (output truncated)"
}

// shorten limits s to n runes, marking the cut with an ellipsis.
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// FormatToolAction returns a human-readable description of a tool call.
func FormatToolAction(name string, input json.RawMessage) string {
	var p struct {
		FilePath    string `json:"file_path"`
		Command     string `json:"command"`
		Description string `json:"description"`
		Pattern     string `json:"pattern"`
	}
	_ = json.Unmarshal(input, &p)

	switch name {
	case "Read":
		return "Reading " + filepath.Base(p.FilePath)
	case "Write":
		return "Writing " + filepath.Base(p.FilePath)
	case "Edit":
		return "Editing " + filepath.Base(p.FilePath)
	case "Bash":
		if p.Description != "" {
			return p.Description
		}
		return "Running " + shorten(strings.Split(p.Command, " ")[0], 20)
	case "Glob":
		return "Searching " + p.Pattern
	case "Grep":
		return "Grep " + shorten(p.Pattern, 15)
	case "ListDir":
		return "Listing directory"
	default:
		return name
	}
}

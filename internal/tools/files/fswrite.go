package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/agent"
)

// FileLineDelta is the per-file line-count bookkeeping a FileWrite
// operation records "for later attribution": how many lines a file had
// the first time this tool touched it, how many it had right before and
// right after the current operation, and how many lines that operation
// added or removed.
type FileLineDelta struct {
	PreviousLines int `json:"previous_lines"`
	BeforeLines   int `json:"before_lines"`
	AfterLines    int `json:"after_lines"`
	LinesAdded    int `json:"lines_added"`
	LinesRemoved  int `json:"lines_removed"`
}

// FileWriteTool implements the create/strReplace/insert tagged-union
// contract. One tool instance is shared across every call the agent loop
// makes during a session, so line-delta bookkeeping accumulates per path
// across repeated edits rather than resetting on every call.
type FileWriteTool struct {
	resolver Resolver

	mu     sync.Mutex
	deltas map[string]*FileLineDelta
}

// NewFileWriteTool creates a FileWrite tool scoped to the workspace.
func NewFileWriteTool(cfg Config) *FileWriteTool {
	return &FileWriteTool{
		resolver: Resolver{Root: cfg.Workspace},
		deltas:   make(map[string]*FileLineDelta),
	}
}

func (t *FileWriteTool) Name() string { return "fs_write" }

func (t *FileWriteTool) Description() string {
	return "Create a file, replace an exact string occurrence, or insert at a line in a file in the workspace."
}

func (t *FileWriteTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"create", "strReplace", "insert"},
				"description": "Which write operation to perform.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to write (relative to workspace).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full file content for create, or text to insert for insert.",
			},
			"old_str": map[string]interface{}{
				"type":        "string",
				"description": "Exact substring to replace (strReplace only).",
			},
			"new_str": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text (strReplace only).",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring exactly one (strReplace only).",
			},
			"insert_line": map[string]interface{}{
				"type":        "integer",
				"description": "Line number to insert after, clamped to [0, line count]. Omit to append.",
			},
		},
		"required": []string{"command", "path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type fileWriteInput struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	Content    string `json:"content,omitempty"`
	OldStr     string `json:"old_str,omitempty"`
	NewStr     string `json:"new_str,omitempty"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
	InsertLine *int   `json:"insert_line,omitempty"`
}

func (t *FileWriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var in fileWriteInput
	if err := json.Unmarshal(params, &in); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(in.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	switch in.Command {
	case "create":
		return t.create(resolved, in)
	case "strReplace":
		return t.strReplace(resolved, in)
	case "insert":
		return t.insert(resolved, in)
	default:
		return toolError(fmt.Sprintf("unknown command %q (expected create, strReplace, or insert)", in.Command)), nil
	}
}

func (t *FileWriteTool) create(resolved string, in fileWriteInput) (*agent.ToolResult, error) {
	before, hadFile := readLinesIfExists(resolved)

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}
	if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	after := splitLines(in.Content)
	_ = hadFile
	delta := t.recordDelta(resolved, before, after)
	return writeResult(in.Path, "create", delta)
}

func (t *FileWriteTool) strReplace(resolved string, in fileWriteInput) (*agent.ToolResult, error) {
	if in.OldStr == "" {
		return toolError("old_str is required"), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)
	before := splitLines(content)

	count := strings.Count(content, in.OldStr)
	switch {
	case count == 0:
		return toolError(fmt.Sprintf("old_str not found in %s", in.Path)), nil
	case count > 1 && !in.ReplaceAll:
		return toolError(fmt.Sprintf("old_str matches %d occurrences in %s; pass replace_all or narrow old_str to match exactly one", count, in.Path)), nil
	}

	updated := strings.ReplaceAll(content, in.OldStr, in.NewStr)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	after := splitLines(updated)
	delta := t.recordDelta(resolved, before, after)
	return writeResult(in.Path, "strReplace", delta)
}

func (t *FileWriteTool) insert(resolved string, in fileWriteInput) (*agent.ToolResult, error) {
	data, _ := os.ReadFile(resolved)
	before := splitLines(string(data))

	var after []string
	if in.InsertLine != nil {
		at := *in.InsertLine
		if at < 0 {
			at = 0
		}
		if at > len(before) {
			at = len(before)
		}
		newLines := splitLines(in.Content)
		after = make([]string, 0, len(before)+len(newLines))
		after = append(after, before[:at]...)
		after = append(after, newLines...)
		after = append(after, before[at:]...)
	} else {
		after = append(append([]string{}, before...), splitLines(in.Content)...)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}
	if err := os.WriteFile(resolved, []byte(joinLines(after)), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	delta := t.recordDelta(resolved, before, after)
	return writeResult(in.Path, "insert", delta)
}

// recordDelta updates the accumulated FileLineDelta for path and returns
// its new value. The first observation of a path fixes PreviousLines;
// every call updates Before/AfterLines to the operation just performed
// and accumulates LinesAdded/LinesRemoved.
func (t *FileWriteTool) recordDelta(resolved string, before, after []string) FileLineDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.deltas[resolved]
	if !ok {
		d = &FileLineDelta{PreviousLines: len(before)}
		t.deltas[resolved] = d
	}
	d.BeforeLines = len(before)
	d.AfterLines = len(after)
	if delta := len(after) - len(before); delta > 0 {
		d.LinesAdded += delta
	} else if delta < 0 {
		d.LinesRemoved += -delta
	}
	return *d
}

func writeResult(path, command string, delta FileLineDelta) (*agent.ToolResult, error) {
	result := map[string]interface{}{
		"path":           path,
		"command":        command,
		"previous_lines": delta.PreviousLines,
		"before_lines":   delta.BeforeLines,
		"after_lines":    delta.AfterLines,
		"lines_added":    delta.LinesAdded,
		"lines_removed":  delta.LinesRemoved,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// splitLines splits content into lines without a trailing empty entry for
// a final newline, so a zero-byte file and an empty string both have a
// line count of zero.
func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	trimmed := strings.TrimSuffix(content, "\n")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "\n")
}

// joinLines is splitLines' inverse: it always terminates a non-empty
// result with a trailing newline, matching the "append a trailing newline
// if missing" behavior the insert command specifies for its append path.
func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func readLinesIfExists(resolved string) ([]string, bool) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return []string{}, false
	}
	return splitLines(string(data)), true
}

package files

import (
	"encoding/json"
	"fmt"
	"strings"
)

const previewMaxLines = 60

// PreviewApproval renders the diff preview shown alongside an approval
// request for this write, computed against the file's current on-disk
// content before the write executes. A create of a new file shows the
// content to be written; strReplace and insert show removed and added
// lines in unified-diff style.
func (t *FileWriteTool) PreviewApproval(input json.RawMessage) string {
	var in fileWriteInput
	if err := json.Unmarshal(input, &in); err != nil || in.Path == "" {
		return ""
	}
	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return ""
	}
	before, exists := readLinesIfExists(resolved)

	switch in.Command {
	case "create":
		after := splitLines(in.Content)
		if !exists {
			return fmt.Sprintf("create %s (%d lines):\n%s", in.Path, len(after), renderAdded(after))
		}
		return fmt.Sprintf("overwrite %s:\n%s", in.Path, renderLineDiff(before, after))

	case "strReplace":
		if !exists || in.OldStr == "" {
			return ""
		}
		content := joinLines(before)
		if strings.Count(content, in.OldStr) == 0 {
			return fmt.Sprintf("strReplace %s: old_str not found", in.Path)
		}
		after := splitLines(strings.ReplaceAll(content, in.OldStr, in.NewStr))
		return fmt.Sprintf("strReplace %s:\n%s", in.Path, renderLineDiff(before, after))

	case "insert":
		newLines := splitLines(in.Content)
		at := len(before)
		if in.InsertLine != nil {
			at = *in.InsertLine
			if at < 0 {
				at = 0
			}
			if at > len(before) {
				at = len(before)
			}
		}
		return fmt.Sprintf("insert into %s after line %d (%d lines):\n%s", in.Path, at, len(newLines), renderAdded(newLines))
	}
	return ""
}

// renderLineDiff shows the changed middle of two line slices: the common
// prefix and suffix are trimmed, remaining old lines print with "-" and
// remaining new lines with "+".
func renderLineDiff(before, after []string) string {
	prefix := 0
	for prefix < len(before) && prefix < len(after) && before[prefix] == after[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(before)-prefix && suffix < len(after)-prefix &&
		before[len(before)-1-suffix] == after[len(after)-1-suffix] {
		suffix++
	}

	var b strings.Builder
	if prefix > 0 || suffix > 0 {
		fmt.Fprintf(&b, "@@ line %d @@\n", prefix+1)
	}
	removed := before[prefix : len(before)-suffix]
	added := after[prefix : len(after)-suffix]
	for i, line := range removed {
		if i >= previewMaxLines {
			fmt.Fprintf(&b, "... (%d more removed lines)\n", len(removed)-i)
			break
		}
		b.WriteString("- " + line + "\n")
	}
	for i, line := range added {
		if i >= previewMaxLines {
			fmt.Fprintf(&b, "... (%d more added lines)\n", len(added)-i)
			break
		}
		b.WriteString("+ " + line + "\n")
	}
	if len(removed) == 0 && len(added) == 0 {
		return "(no changes)\n"
	}
	return b.String()
}

func renderAdded(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i >= previewMaxLines {
			fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-i)
			break
		}
		b.WriteString("+ " + line + "\n")
	}
	return b.String()
}

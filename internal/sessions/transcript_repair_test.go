package sessions

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func assistantWithCall(id, tool string) *models.Message {
	return &models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: id, Name: tool, Input: json.RawMessage(`{}`)}},
	}
}

func toolResultMsg(callID, content string) *models.Message {
	return &models.Message{
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{{ToolCallID: callID, Content: content}},
	}
}

func TestRepairTranscriptWellFormedUnchanged(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleUser, Content: "go"},
		assistantWithCall("u1", "exec"),
		toolResultMsg("u1", "done"),
		{Role: models.RoleAssistant, Content: "finished"},
	}

	report := RepairTranscript(history)
	if len(report.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(report.Messages))
	}
	if len(report.Added) != 0 || report.DroppedDuplicateCount != 0 || report.DroppedOrphanCount != 0 {
		t.Errorf("well-formed transcript was modified: %+v", report)
	}
}

func TestRepairTranscriptInsertsMissingResult(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleUser, Content: "go"},
		assistantWithCall("u1", "exec"),
		{Role: models.RoleAssistant, Content: "finished"},
	}

	report := RepairTranscript(history)
	if len(report.Added) != 1 {
		t.Fatalf("added = %d, want 1 synthetic result", len(report.Added))
	}
	synthetic := report.Added[0]
	if len(synthetic.ToolResults) != 1 || synthetic.ToolResults[0].ToolCallID != "u1" {
		t.Fatalf("synthetic = %+v", synthetic)
	}
	if !synthetic.ToolResults[0].IsError {
		t.Error("synthetic result should be an error")
	}

	// The synthetic result must directly follow the tool call.
	for i, m := range report.Messages {
		if len(m.ToolCalls) > 0 {
			if i+1 >= len(report.Messages) || len(report.Messages[i+1].ToolResults) == 0 {
				t.Fatal("tool call not followed by a result")
			}
		}
	}
}

func TestRepairTranscriptDropsDuplicatesAndOrphans(t *testing.T) {
	history := []*models.Message{
		assistantWithCall("u1", "exec"),
		toolResultMsg("u1", "first"),
		toolResultMsg("u1", "second"),
		toolResultMsg("ghost", "orphan"),
	}

	report := RepairTranscript(history)
	if report.DroppedDuplicateCount != 1 {
		t.Errorf("dropped duplicates = %d, want 1", report.DroppedDuplicateCount)
	}
	if report.DroppedOrphanCount != 1 {
		t.Errorf("dropped orphans = %d, want 1", report.DroppedOrphanCount)
	}
	for _, m := range report.Messages {
		for _, tr := range m.ToolResults {
			if tr.ToolCallID == "ghost" {
				t.Error("orphan result survived repair")
			}
		}
	}
}

func TestRepairTranscriptReordersResult(t *testing.T) {
	history := []*models.Message{
		assistantWithCall("u1", "exec"),
		{Role: models.RoleUser, Content: "interleaved"},
		toolResultMsg("u1", "late"),
	}

	report := RepairTranscript(history)
	if !report.Moved {
		t.Error("expected the result to be moved next to its call")
	}
	for i, m := range report.Messages {
		if len(m.ToolCalls) > 0 {
			next := report.Messages[i+1]
			if len(next.ToolResults) == 0 || next.ToolResults[0].ToolCallID != "u1" {
				t.Fatalf("result not adjacent to call: %+v", report.Messages)
			}
		}
	}
}

func TestSanitizeToolUseResultPairing(t *testing.T) {
	history := []*models.Message{
		assistantWithCall("u1", "exec"),
	}
	repaired := SanitizeToolUseResultPairing(history)
	if len(repaired) != 2 {
		t.Fatalf("repaired = %d messages, want call + synthetic result", len(repaired))
	}
}

package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/jobs"
)

func TestExecToolRunsCommand(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecTool("exec", mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"command": "echo hello",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Fatalf("expected stdout in result: %s", result.Content)
	}
}

func TestProcessToolLifecycle(t *testing.T) {
	mgr := NewManager(t.TempDir())
	execTool := NewExecTool("exec", mgr)
	procTool := NewProcessTool(mgr)

	params, _ := json.Marshal(map[string]interface{}{
		"command":    "echo background",
		"background": true,
	})
	result, err := execTool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}

	var payload struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if payload.ProcessID == "" {
		t.Fatalf("expected process_id")
	}

	time.Sleep(50 * time.Millisecond)
	statusParams, _ := json.Marshal(map[string]interface{}{
		"action":     "status",
		"process_id": payload.ProcessID,
	})
	statusResult, err := procTool.Execute(context.Background(), statusParams)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if statusResult.IsError {
		t.Fatalf("expected status success: %s", statusResult.Content)
	}

	removeParams, _ := json.Marshal(map[string]interface{}{
		"action":     "remove",
		"process_id": payload.ProcessID,
	})
	removeResult, err := procTool.Execute(context.Background(), removeParams)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removeResult.IsError {
		t.Fatalf("expected remove success: %s", removeResult.Content)
	}
}

func TestBackgroundProcessRecordsJob(t *testing.T) {
	mgr := NewManager(t.TempDir())
	store := jobs.NewMemoryStore()
	mgr.SetJobStore(store)
	tool := NewExecTool("exec", mgr)

	params, _ := json.Marshal(map[string]interface{}{
		"command":    "echo job-tracked",
		"background": true,
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var payload struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("parse result: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := store.Get(context.Background(), payload.ProcessID)
		if err == nil && job != nil && job.Status == jobs.StatusSucceeded {
			if !strings.Contains(job.Result.Content, "job-tracked") {
				t.Fatalf("job result missing stdout: %q", job.Result.Content)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached succeeded: %+v, err=%v", job, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestExecToolApprovalPreview(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecTool("exec", mgr)

	params, _ := json.Marshal(map[string]interface{}{
		"command": "cat /etc/passwd | grep root",
		"cwd":     "sub",
	})
	preview := tool.PreviewApproval(params)
	if !strings.Contains(preview, "cat /etc/passwd | grep root") {
		t.Fatalf("preview missing command: %q", preview)
	}
	if !strings.Contains(preview, "cwd: sub") {
		t.Fatalf("preview missing cwd: %q", preview)
	}
	if !strings.Contains(preview, "pipe") {
		t.Fatalf("preview should flag the pipe: %q", preview)
	}
}

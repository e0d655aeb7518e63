package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/pkg/models"
)

func monitorWithSmallBudget() *CompactionManager {
	packer := agentctx.NewPacker(agentctx.PackOptions{MaxChars: 100, MaxMessages: 50})
	return NewCompactionManager(&CompactionConfig{
		Enabled:          true,
		ThresholdPercent: 50,
		FlushPrompt:      "flush now",
	}, packer)
}

func longHistory(n int) []*models.Message {
	history := make([]*models.Message, n)
	for i := range history {
		history[i] = &models.Message{Role: models.RoleUser, Content: strings.Repeat("x", 40)}
	}
	return history
}

func TestCompactionManagerTriggersFlush(t *testing.T) {
	manager := monitorWithSmallBudget()

	var flushedSession, flushedPrompt string
	manager.SetFlushCallback(func(ctx context.Context, sessionID string, prompt string) error {
		flushedSession = sessionID
		flushedPrompt = prompt
		return nil
	})

	triggered, err := manager.Check(context.Background(), "sess-1", longHistory(10), nil, nil)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !triggered {
		t.Fatalf("expected flush trigger, usage = %d%%", manager.GetUsage("sess-1"))
	}
	if flushedSession != "sess-1" || flushedPrompt != "flush now" {
		t.Errorf("flush callback got %q / %q", flushedSession, flushedPrompt)
	}
	if manager.GetState("sess-1") != CompactionPending {
		t.Errorf("state = %s, want pending", manager.GetState("sess-1"))
	}

	// A second check while pending does not re-trigger.
	triggered, _ = manager.Check(context.Background(), "sess-1", longHistory(10), nil, nil)
	if triggered {
		t.Error("pending session should not trigger again")
	}
}

func TestCompactionManagerBelowThreshold(t *testing.T) {
	manager := monitorWithSmallBudget()
	triggered, err := manager.Check(context.Background(), "sess-1", longHistory(1), nil, nil)
	if err != nil || triggered {
		t.Fatalf("small history should not trigger: %v, %v", triggered, err)
	}
	if manager.GetState("sess-1") != CompactionIdle {
		t.Errorf("state = %s, want idle", manager.GetState("sess-1"))
	}
}

func TestCompactionManagerConfirmFlush(t *testing.T) {
	manager := monitorWithSmallBudget()
	completed := false
	manager.SetCompactionCallback(func(ctx context.Context, sessionID string, dropped int) error {
		completed = true
		return nil
	})

	if _, err := manager.Check(context.Background(), "sess-1", longHistory(10), nil, nil); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if err := manager.ConfirmFlush(context.Background(), "sess-1"); err != nil {
		t.Fatalf("ConfirmFlush() error = %v", err)
	}
	if !completed {
		t.Error("compaction callback should fire on confirm")
	}
	if manager.GetState("sess-1") != CompactionIdle {
		t.Errorf("state = %s, want idle after compaction", manager.GetState("sess-1"))
	}
}

func TestCompactionManagerDisabled(t *testing.T) {
	manager := NewCompactionManager(&CompactionConfig{Enabled: false}, nil)
	triggered, err := manager.Check(context.Background(), "sess-1", longHistory(100), nil, nil)
	if err != nil || triggered {
		t.Fatalf("disabled monitor must be inert: %v, %v", triggered, err)
	}
}

func TestCompactionManagerResetAndInfo(t *testing.T) {
	manager := monitorWithSmallBudget()
	_, _ = manager.Check(context.Background(), "sess-1", longHistory(10), nil, nil)

	info := manager.GetInfo("sess-1")
	if info.State != CompactionPending || info.UsagePercent == 0 {
		t.Errorf("info = %+v", info)
	}
	if time.Since(info.LastCheck) > time.Minute {
		t.Error("last check not recorded")
	}

	manager.Reset("sess-1")
	if manager.GetState("sess-1") != CompactionIdle {
		t.Error("reset should clear session state")
	}
}

func TestIsFlushResponse(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"NO_REPLY", true},
		{"Saved to memory/2025-06-01.md", true},
		{"nothing needs attention here", true},
		{"here is the file you asked about", false},
		{strings.Repeat("a", 100) + " saved to memory", false},
	}
	for _, tc := range cases {
		if got := IsFlushResponse(tc.content); got != tc.want {
			t.Errorf("IsFlushResponse(%.30q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

package sessions

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestBranchPrimaryAndFork(t *testing.T) {
	store := NewMemoryBranchStore()
	ctx := context.Background()

	primary, err := store.EnsurePrimaryBranch(ctx, "sess-1")
	if err != nil {
		t.Fatalf("EnsurePrimaryBranch() error = %v", err)
	}
	if !primary.IsPrimary || primary.Name != "main" {
		t.Fatalf("primary = %+v", primary)
	}

	// Idempotent: a second call returns the same branch.
	again, err := store.EnsurePrimaryBranch(ctx, "sess-1")
	if err != nil || again.ID != primary.ID {
		t.Fatalf("EnsurePrimaryBranch() second call = %+v, err = %v", again, err)
	}

	for i, content := range []string{"zero", "one", "two"} {
		err := store.AppendMessageToBranch(ctx, primary.ID, &models.Message{
			Role: models.RoleUser, Content: content, TurnIndex: i,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	fork, err := store.ForkBranch(ctx, primary.ID, 1, "experiment")
	if err != nil {
		t.Fatalf("ForkBranch() error = %v", err)
	}
	if fork.ParentID == nil || *fork.ParentID != primary.ID {
		t.Fatalf("fork parent = %+v", fork.ParentID)
	}

	// Fork history: primary messages up to index 1, nothing after.
	history, err := store.GetBranchHistory(ctx, fork.ID, 0)
	if err != nil {
		t.Fatalf("GetBranchHistory() error = %v", err)
	}
	if len(history) != 2 || history[1].Content != "one" {
		t.Fatalf("fork history = %+v", history)
	}

	// A message appended to the fork stays off the primary.
	if err := store.AppendMessageToBranch(ctx, fork.ID, &models.Message{
		Role: models.RoleUser, Content: "diverged", TurnIndex: 2,
	}); err != nil {
		t.Fatalf("append to fork: %v", err)
	}
	forkHistory, _ := store.GetBranchHistory(ctx, fork.ID, 0)
	if len(forkHistory) != 3 || forkHistory[2].Content != "diverged" {
		t.Fatalf("fork history after append = %+v", forkHistory)
	}
	primaryHistory, _ := store.GetBranchHistory(ctx, primary.ID, 0)
	if len(primaryHistory) != 3 || primaryHistory[2].Content != "two" {
		t.Fatalf("primary history mutated = %+v", primaryHistory)
	}
}

func TestBranchListAndArchive(t *testing.T) {
	store := NewMemoryBranchStore()
	ctx := context.Background()

	primary, _ := store.EnsurePrimaryBranch(ctx, "sess-1")
	fork, _ := store.ForkBranch(ctx, primary.ID, 0, "side")

	branches, err := store.ListBranches(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListBranches() error = %v", err)
	}
	if len(branches) != 2 || !branches[0].IsPrimary {
		t.Fatalf("branches = %+v", branches)
	}

	if err := store.ArchiveBranch(ctx, primary.ID); err == nil {
		t.Error("archiving the primary branch should fail")
	}
	if err := store.ArchiveBranch(ctx, fork.ID); err != nil {
		t.Fatalf("ArchiveBranch() error = %v", err)
	}
	if err := store.AppendMessageToBranch(ctx, fork.ID, &models.Message{Content: "x"}); err != ErrBranchArchived {
		t.Errorf("append to archived branch = %v, want ErrBranchArchived", err)
	}
}

func TestBranchNestedForkInheritance(t *testing.T) {
	store := NewMemoryBranchStore()
	ctx := context.Background()

	primary, _ := store.EnsurePrimaryBranch(ctx, "sess-1")
	for i := 0; i < 4; i++ {
		_ = store.AppendMessageToBranch(ctx, primary.ID, &models.Message{Content: "p", TurnIndex: i})
	}
	child, _ := store.ForkBranch(ctx, primary.ID, 2, "child")
	_ = store.AppendMessageToBranch(ctx, child.ID, &models.Message{Content: "c", TurnIndex: 3})
	grandchild, _ := store.ForkBranch(ctx, child.ID, 3, "grandchild")

	history, err := store.GetBranchHistory(ctx, grandchild.ID, 0)
	if err != nil {
		t.Fatalf("GetBranchHistory() error = %v", err)
	}
	// Primary 0..2 (via child's branch point), then child's own message at 3.
	if len(history) != 4 {
		t.Fatalf("grandchild history = %d messages, want 4", len(history))
	}
	if history[3].Content != "c" {
		t.Errorf("history tail = %+v", history[3])
	}
}

package models

import "time"

// BranchStatus represents the current state of a branch.
type BranchStatus string

const (
	BranchStatusActive   BranchStatus = "active"
	BranchStatusArchived BranchStatus = "archived"
)

// Branch is a fork of a session's conversation: it shares the parent
// branch's history up to BranchPoint and continues independently from
// there. Every session has exactly one primary branch; forks always name a
// parent.
type Branch struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// ParentID is nil for the primary branch.
	ParentID *string `json:"parent_id,omitempty"`

	Name string `json:"name"`

	// BranchPoint is the TurnIndex in the parent branch where this branch
	// diverges. Messages with an index at or below it are inherited.
	BranchPoint int64 `json:"branch_point"`

	IsPrimary bool         `json:"is_primary"`
	Status    BranchStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Common branch store errors.
var (
	ErrBranchNotFound     = errors.New("branch not found")
	ErrBranchArchived     = errors.New("branch is archived")
	ErrInvalidBranchPoint = errors.New("invalid branch point")
)

// BranchStore forks a session's conversation at a message index and keeps
// the forks' histories separate. A branch inherits its parent's messages
// up to the branch point; everything appended afterwards belongs to the
// branch alone.
type BranchStore interface {
	// EnsurePrimaryBranch returns the session's primary branch, creating
	// it if the session has none yet.
	EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)

	// ForkBranch creates a new branch off parentBranchID, diverging after
	// the message with TurnIndex branchPoint.
	ForkBranch(ctx context.Context, parentBranchID string, branchPoint int64, name string) (*models.Branch, error)

	// GetBranch returns a branch by ID.
	GetBranch(ctx context.Context, branchID string) (*models.Branch, error)

	// ListBranches returns every branch of a session, primary first.
	ListBranches(ctx context.Context, sessionID string) ([]*models.Branch, error)

	// ArchiveBranch marks a branch archived; archived branches reject
	// further appends. The primary branch cannot be archived.
	ArchiveBranch(ctx context.Context, branchID string) error

	// AppendMessageToBranch adds a message to a branch's own history.
	AppendMessageToBranch(ctx context.Context, branchID string, msg *models.Message) error

	// GetBranchHistory returns the branch's full effective history:
	// inherited parent messages up to the branch point, then the branch's
	// own messages, oldest first. limit <= 0 returns everything.
	GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error)
}

// MemoryBranchStore is the in-process BranchStore.
type MemoryBranchStore struct {
	mu        sync.RWMutex
	branches  map[string]*models.Branch
	bySession map[string][]string
	messages  map[string][]*models.Message
}

// NewMemoryBranchStore returns an empty in-memory branch store.
func NewMemoryBranchStore() *MemoryBranchStore {
	return &MemoryBranchStore{
		branches:  make(map[string]*models.Branch),
		bySession: make(map[string][]string),
		messages:  make(map[string][]*models.Message),
	}
}

func (s *MemoryBranchStore) EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.bySession[sessionID] {
		if b := s.branches[id]; b != nil && b.IsPrimary {
			return cloneBranch(b), nil
		}
	}

	now := time.Now()
	primary := &models.Branch{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      "main",
		IsPrimary: true,
		Status:    models.BranchStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.branches[primary.ID] = primary
	s.bySession[sessionID] = append(s.bySession[sessionID], primary.ID)
	return cloneBranch(primary), nil
}

func (s *MemoryBranchStore) ForkBranch(ctx context.Context, parentBranchID string, branchPoint int64, name string) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.branches[parentBranchID]
	if !ok {
		return nil, ErrBranchNotFound
	}
	if branchPoint < 0 {
		return nil, ErrInvalidBranchPoint
	}

	now := time.Now()
	parentID := parent.ID
	fork := &models.Branch{
		ID:          uuid.NewString(),
		SessionID:   parent.SessionID,
		ParentID:    &parentID,
		Name:        name,
		BranchPoint: branchPoint,
		Status:      models.BranchStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.branches[fork.ID] = fork
	s.bySession[parent.SessionID] = append(s.bySession[parent.SessionID], fork.ID)
	return cloneBranch(fork), nil
}

func (s *MemoryBranchStore) GetBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return cloneBranch(b), nil
}

func (s *MemoryBranchStore) ListBranches(ctx context.Context, sessionID string) ([]*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Branch, 0, len(s.bySession[sessionID]))
	for _, id := range s.bySession[sessionID] {
		if b := s.branches[id]; b != nil {
			out = append(out, cloneBranch(b))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryBranchStore) ArchiveBranch(ctx context.Context, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[branchID]
	if !ok {
		return ErrBranchNotFound
	}
	if b.IsPrimary {
		return errors.New("cannot archive the primary branch")
	}
	b.Status = models.BranchStatusArchived
	b.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryBranchStore) AppendMessageToBranch(ctx context.Context, branchID string, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[branchID]
	if !ok {
		return ErrBranchNotFound
	}
	if b.Status == models.BranchStatusArchived {
		return ErrBranchArchived
	}

	copied := *msg
	if copied.ID == "" {
		copied.ID = uuid.NewString()
	}
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	s.messages[branchID] = append(s.messages[branchID], &copied)
	b.UpdatedAt = copied.CreatedAt
	return nil
}

func (s *MemoryBranchStore) GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}

	history := s.inheritedLocked(b)
	for _, m := range s.messages[branchID] {
		copied := *m
		history = append(history, &copied)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// inheritedLocked walks the parent chain root-first and collects each
// ancestor's own messages up to the child's branch point.
func (s *MemoryBranchStore) inheritedLocked(b *models.Branch) []*models.Message {
	if b.ParentID == nil {
		return nil
	}
	parent, ok := s.branches[*b.ParentID]
	if !ok {
		return nil
	}

	history := s.inheritedLocked(parent)
	for _, m := range s.messages[parent.ID] {
		if int64(m.TurnIndex) > b.BranchPoint {
			break
		}
		copied := *m
		history = append(history, &copied)
	}
	return history
}

func cloneBranch(b *models.Branch) *models.Branch {
	copied := *b
	if b.ParentID != nil {
		parentID := *b.ParentID
		copied.ParentID = &parentID
	}
	return &copied
}

package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ImportRecord is one line of a JSONL export: either a session or a
// message, discriminated by Type.
type ImportRecord struct {
	Type    string          `json:"type"` // "session" or "message"
	Session *models.Session `json:"session,omitempty"`
	Message *models.Message `json:"message,omitempty"`
}

// ImportResult summarizes one import run.
type ImportResult struct {
	SessionsImported int           `json:"sessions_imported"`
	SessionsSkipped  int           `json:"sessions_skipped"`
	MessagesImported int           `json:"messages_imported"`
	MessagesSkipped  int           `json:"messages_skipped"`
	Errors           []string      `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`

	// SessionIDMap maps source session IDs to the IDs they were stored
	// under, for callers that need to correlate after a re-keyed import.
	SessionIDMap map[string]string `json:"session_id_map,omitempty"`
}

// ImportOptions configures an import run.
type ImportOptions struct {
	// DryRun validates the file without writing anything.
	DryRun bool

	// SkipDuplicates silently skips sessions whose key already exists and
	// messages whose session was skipped.
	SkipDuplicates bool

	// DefaultAgentName is used for sessions that carry no agent name.
	DefaultAgentName string

	// PreserveIDs keeps the source IDs instead of generating new ones.
	PreserveIDs bool
}

// Importer loads sessions and messages from a JSONL export into a Store.
type Importer struct {
	store Store
}

// NewImporter creates an importer writing into store.
func NewImporter(store Store) *Importer {
	return &Importer{store: store}
}

// ImportFromFile imports a JSONL file from disk.
func (i *Importer) ImportFromFile(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return i.ImportFromReader(ctx, f, opts)
}

// ImportFromReader imports JSONL records from r. Sessions must appear
// before the messages that reference them; a message whose session is
// unknown is recorded as an error (or skipped under SkipDuplicates).
func (i *Importer) ImportFromReader(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{SessionIDMap: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var record ImportRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		switch record.Type {
		case "session":
			i.importSession(ctx, record.Session, opts, result, line)
		case "message":
			i.importMessage(ctx, record.Message, opts, result, line)
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: unknown record type %q", line, record.Type))
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read import stream: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (i *Importer) importSession(ctx context.Context, session *models.Session, opts ImportOptions, result *ImportResult, line int) {
	if session == nil || session.ID == "" {
		result.Errors = append(result.Errors, fmt.Sprintf("line %d: session record missing id", line))
		return
	}
	if session.AgentName == "" {
		session.AgentName = opts.DefaultAgentName
	}
	if session.Key == "" {
		session.Key = SessionKey(session.AgentName, session.ID)
	}

	if existing, err := i.store.GetByKey(ctx, session.Key); err == nil && existing != nil {
		if opts.SkipDuplicates {
			result.SessionsSkipped++
			result.SessionIDMap[session.ID] = existing.ID
			return
		}
		result.Errors = append(result.Errors, fmt.Sprintf("line %d: session key %q already exists", line, session.Key))
		return
	}

	sourceID := session.ID
	stored := *session
	if !opts.PreserveIDs {
		stored.ID = uuid.NewString()
	}
	if opts.DryRun {
		result.SessionsImported++
		result.SessionIDMap[sourceID] = stored.ID
		return
	}
	if err := i.store.Create(ctx, &stored); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("line %d: create session: %v", line, err))
		return
	}
	result.SessionsImported++
	result.SessionIDMap[sourceID] = stored.ID
}

func (i *Importer) importMessage(ctx context.Context, msg *models.Message, opts ImportOptions, result *ImportResult, line int) {
	if msg == nil || msg.SessionID == "" {
		result.Errors = append(result.Errors, fmt.Sprintf("line %d: message record missing session_id", line))
		return
	}

	sessionID, ok := result.SessionIDMap[msg.SessionID]
	if !ok {
		if opts.SkipDuplicates {
			result.MessagesSkipped++
			return
		}
		result.Errors = append(result.Errors, fmt.Sprintf("line %d: message references unknown session %q", line, msg.SessionID))
		return
	}

	stored := *msg
	stored.SessionID = sessionID
	if !opts.PreserveIDs {
		stored.ID = uuid.NewString()
	}
	if opts.DryRun {
		result.MessagesImported++
		return
	}
	if err := i.store.AppendMessage(ctx, sessionID, &stored); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("line %d: append message: %v", line, err))
		return
	}
	result.MessagesImported++
}

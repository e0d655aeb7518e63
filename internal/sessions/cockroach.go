package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/haasonsaas/nexus/pkg/models"
)

// CockroachConfig holds connection-pool settings for the Postgres-family
// store (CockroachDB or vanilla Postgres; both speak the pq driver).
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns default configuration.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// CockroachStore implements Store on a Postgres-family database. Message
// content (tool calls, tool results, attachments, metadata) is stored as
// JSONB columns rather than flattened into side tables; the tool-event
// mirror in tool_events.go exists for queryability, not as the source of
// truth.
type CockroachStore struct {
	db *sql.DB
}

// NewCockroachStoreFromDSN opens a session store on a raw DSN/URL.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &CockroachStore{db: db}, nil
}

// DB exposes the underlying connection for related stores (tool events,
// the migrator, the DB-backed locker).
func (s *CockroachStore) DB() *sql.DB {
	return s.db
}

// Close releases database resources.
func (s *CockroachStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *CockroachStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt

	metadata, err := marshalJSONB(session.Metadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_name, key, title, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, session.ID, session.AgentName, session.Key, session.Title, metadata, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *CockroachStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_name, key, title, metadata, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

func (s *CockroachStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_name, key, title, metadata, created_at, updated_at
		FROM sessions WHERE key = $1
	`, key)
	return scanSession(row)
}

func (s *CockroachStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session with id is required")
	}
	metadata, err := marshalJSONB(session.Metadata)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	session.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions
		SET agent_name = $2, key = $3, title = $4, metadata = $5, updated_at = $6
		WHERE id = $1
	`, session.ID, session.AgentName, session.Key, session.Title, metadata, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (s *CockroachStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// GetOrCreate looks the session up by key and creates it on a miss. The
// insert tolerates a concurrent creator winning the race: on conflict it
// re-reads the row the winner wrote.
func (s *CockroachStore) GetOrCreate(ctx context.Context, key string, agentName string) (*models.Session, error) {
	if existing, err := s.GetByKey(ctx, key); err == nil && existing != nil {
		return existing, nil
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_name, key, title, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,'',NULL,$4,$5)
		ON CONFLICT (key) DO NOTHING
	`, uuid.NewString(), agentName, key, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetByKey(ctx, key)
}

func (s *CockroachStore) List(ctx context.Context, agentName string, opts ListOptions) ([]*models.Session, error) {
	query := `
		SELECT id, agent_name, key, title, metadata, created_at, updated_at
		FROM sessions`
	args := []any{}
	if agentName != "" {
		args = append(args, agentName)
		query += " WHERE agent_name = $1"
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *CockroachStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	attachments, err := marshalJSONB(msg.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	toolCalls, err := marshalJSONB(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	toolResults, err := marshalJSONB(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("encode tool results: %w", err)
	}
	metadata, err := marshalJSONB(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, turn_index, role, content, attachments, tool_calls, tool_results, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, msg.ID, sessionID, msg.TurnIndex, string(msg.Role), msg.Content, attachments, toolCalls, toolResults, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = $2 WHERE id = $1`, sessionID, msg.CreatedAt); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *CockroachStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, session_id, turn_index, role, content, attachments, tool_calls, tool_results, metadata, created_at
		FROM messages WHERE session_id = $1
		ORDER BY turn_index ASC`
	args := []any{sessionID}
	if limit > 0 {
		// The limit keeps the most recent messages: select the tail in
		// descending order, then flip back.
		query = `
		SELECT id, session_id, turn_index, role, content, attachments, tool_calls, tool_results, metadata, created_at
		FROM (
			SELECT id, session_id, turn_index, role, content, attachments, tool_calls, tool_results, metadata, created_at
			FROM messages WHERE session_id = $1
			ORDER BY turn_index DESC LIMIT $2
		) tail ORDER BY turn_index ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner rowScanner) (*models.Session, error) {
	var (
		session  models.Session
		title    sql.NullString
		metadata []byte
	)
	err := scanner.Scan(&session.ID, &session.AgentName, &session.Key, &title, &metadata, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Title = title.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return &session, nil
}

func scanMessage(scanner rowScanner) (*models.Message, error) {
	var (
		msg         models.Message
		role        string
		attachments []byte
		toolCalls   []byte
		toolResults []byte
		metadata    []byte
	)
	err := scanner.Scan(&msg.ID, &msg.SessionID, &msg.TurnIndex, &role, &msg.Content, &attachments, &toolCalls, &toolResults, &metadata, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Role = models.Role(role)
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{attachments, &msg.Attachments},
		{toolCalls, &msg.ToolCalls},
		{toolResults, &msg.ToolResults},
		{metadata, &msg.Metadata},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("decode message column: %w", err)
		}
	}
	return &msg, nil
}

// marshalJSONB encodes v for a nullable JSONB column; nil and empty values
// store as NULL.
func marshalJSONB(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	switch string(data) {
	case "null", "{}", "[]":
		return nil, nil
	}
	return data, nil
}

package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/nexus/pkg/models"
)

func newMockStore(t *testing.T) (*CockroachStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &CockroachStore{db: db}, mock
}

func TestCockroachStoreCreateSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sqlmock.AnyArg(), "agent", "agent:stdin", "", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session := &models.Session{AgentName: "agent", Key: "agent:stdin"}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.ID == "" {
		t.Error("Create() should assign an id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCockroachStoreGetByKey(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "agent_name", "key", "title", "metadata", "created_at", "updated_at"}).
		AddRow("sess-1", "agent", "agent:stdin", "hello", []byte(`{"k":"v"}`), testTime(t), testTime(t))

	mock.ExpectQuery("SELECT id, agent_name, key, title, metadata, created_at, updated_at").
		WithArgs("agent:stdin").
		WillReturnRows(rows)

	session, err := store.GetByKey(context.Background(), "agent:stdin")
	if err != nil {
		t.Fatalf("GetByKey() error = %v", err)
	}
	if session.ID != "sess-1" || session.Title != "hello" {
		t.Errorf("GetByKey() = %+v", session)
	}
	if session.Metadata["k"] != "v" {
		t.Errorf("metadata not decoded: %+v", session.Metadata)
	}
}

func TestCockroachStoreAppendMessage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "sess-1", 3, "assistant", "hi",
			nil, sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET updated_at").
		WithArgs("sess-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := &models.Message{
		Role:      models.RoleAssistant,
		Content:   "hi",
		TurnIndex: 3,
		ToolCalls: []models.ToolCall{{ID: "u1", Name: "exec", Input: []byte(`{}`)}},
	}
	if err := store.AppendMessage(context.Background(), "sess-1", msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCockroachStoreGetHistoryKeepsTail(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "session_id", "turn_index", "role", "content",
		"attachments", "tool_calls", "tool_results", "metadata", "created_at"}).
		AddRow("m2", "sess-1", 2, "user", "second", nil, nil, nil, nil, testTime(t)).
		AddRow("m3", "sess-1", 3, "assistant", "third", nil, []byte(`[{"id":"u1","name":"exec","input":{}}]`), nil, nil, testTime(t))

	mock.ExpectQuery("ORDER BY turn_index DESC LIMIT").
		WithArgs("sess-1", 2).
		WillReturnRows(rows)

	history, err := store.GetHistory(context.Background(), "sess-1", 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("GetHistory() = %d messages, want 2", len(history))
	}
	if history[1].TurnIndex != 3 || len(history[1].ToolCalls) != 1 {
		t.Errorf("tool calls not decoded: %+v", history[1])
	}
}

func TestCockroachStoreGetOrCreateRace(t *testing.T) {
	store, mock := newMockStore(t)

	// First lookup misses, insert conflicts with a concurrent creator,
	// the re-read returns the winner's row.
	mock.ExpectQuery("FROM sessions WHERE key").
		WithArgs("agent:stdin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_name", "key", "title", "metadata", "created_at", "updated_at"}))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM sessions WHERE key").
		WithArgs("agent:stdin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_name", "key", "title", "metadata", "created_at", "updated_at"}).
			AddRow("winner", "agent", "agent:stdin", "", nil, testTime(t), testTime(t)))

	session, err := store.GetOrCreate(context.Background(), "agent:stdin", "agent")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if session.ID != "winner" {
		t.Errorf("GetOrCreate() id = %s, want winner", session.ID)
	}
}

func testTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

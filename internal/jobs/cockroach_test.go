package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/nexus/pkg/models"
)

func newMockJobStore(t *testing.T) (*CockroachStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &CockroachStore{db: db}, mock
}

func TestCockroachJobCreateAndGet(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectExec("INSERT INTO tool_jobs").
		WithArgs("job-1", "exec", "", "running", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now()
	err := store.Create(context.Background(), &Job{
		ID: "job-1", ToolName: "exec", Status: StatusRunning, CreatedAt: now, StartedAt: now,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "tool_name", "tool_call_id", "status", "created_at", "started_at", "finished_at", "result", "error_message"}).
		AddRow("job-1", "exec", "", "succeeded", now, now, now, []byte(`{"tool_call_id":"job-1","content":"out"}`), nil)
	mock.ExpectQuery("FROM tool_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusSucceeded || job.Result == nil || job.Result.Content != "out" {
		t.Errorf("job = %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCockroachJobUpdate(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectExec("UPDATE tool_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), &Job{
		ID: "job-1", ToolName: "exec", Status: StatusFailed,
		Result: &models.ToolResult{ToolCallID: "job-1", Content: "boom", IsError: true},
		Error:  "exit 1",
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestCockroachJobPrune(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectExec("DELETE FROM tool_jobs").
		WithArgs("succeeded", "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	pruned, err := store.Prune(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 3 {
		t.Errorf("pruned = %d, want 3", pruned)
	}
}

func TestCockroachJobCancel(t *testing.T) {
	store, mock := newMockJobStore(t)

	mock.ExpectExec("UPDATE tool_jobs").
		WithArgs("job-1", "failed", sqlmock.AnyArg(), "cancelled", "queued", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
}

func TestCockroachJobGetMissing(t *testing.T) {
	store, mock := newMockJobStore(t)
	mock.ExpectQuery("FROM tool_jobs WHERE id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tool_name", "tool_call_id", "status", "created_at", "started_at", "finished_at", "result", "error_message"}))

	job, err := store.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job != nil {
		t.Errorf("missing job = %+v, want nil", job)
	}
}

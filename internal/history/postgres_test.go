package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"callbot-platform/internal/calls"

	"github.com/DATA-DOG/go-sqlmock"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func setupPostgres(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	s := NewPostgresStore(db)
	s.clock = func() time.Time { return fixedNow }
	return db, mock, s
}

func TestPostgresStore_AddToHistory_CreatesEntity(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(PartitionKey, "c1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entity FROM call_history (.+) FOR UPDATE").
		WithArgs(PartitionKey, "c1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO call_history").
		WithArgs(PartitionKey, "c1", sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.AddToHistory(context.Background(), calls.NewCallState("/communications/calls/c1"), json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_AddToHistory_AppendsToExisting(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	st := calls.NewCallState("/communications/calls/c1")
	existing := Append(nil, "c1", st, json.RawMessage(`{"a":1}`), fixedNow)
	raw, _ := json.Marshal(existing)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(PartitionKey, "c1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entity FROM call_history (.+) FOR UPDATE").
		WithArgs(PartitionKey, "c1").
		WillReturnRows(sqlmock.NewRows([]string{"entity"}).AddRow(raw))
	mock.ExpectExec("INSERT INTO call_history").
		WithArgs(PartitionKey, "c1", entityMatcher{states: 1, notifications: 2}, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.AddToHistory(context.Background(), st, json.RawMessage(`{"a":2}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_AddToHistory_RollsBackOnError(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(PartitionKey, "c1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entity FROM call_history").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := s.AddToHistory(context.Background(), calls.NewCallState("/communications/calls/c1"), nil); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_AddToHistory_FailsWithoutCallLock(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(PartitionKey, "c1").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	if err := s.AddToHistory(context.Background(), calls.NewCallState("/communications/calls/c1"), json.RawMessage(`{"a":1}`)); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_GetAndDelete(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	st := calls.NewCallState("/communications/calls/c1")
	raw, _ := json.Marshal(Append(nil, "c1", st, nil, fixedNow))

	mock.ExpectQuery("SELECT entity FROM call_history").
		WithArgs(PartitionKey, "c1").
		WillReturnRows(sqlmock.NewRows([]string{"entity"}).AddRow(raw))
	mock.ExpectExec("DELETE FROM call_history").
		WithArgs(PartitionKey, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT entity FROM call_history").
		WithArgs(PartitionKey, "c1").
		WillReturnError(sql.ErrNoRows)

	e, err := s.GetHistory(context.Background(), st)
	if err != nil || e == nil || len(e.StateHistory) != 1 {
		t.Fatalf("unexpected get result: %+v, %v", e, err)
	}
	if err := s.DeleteHistory(context.Background(), st); err != nil {
		t.Fatalf("delete: %v", err)
	}
	e, err = s.GetHistory(context.Background(), st)
	if err != nil || e != nil {
		t.Fatalf("expected nil after delete, got %+v, %v", e, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// entityMatcher checks the serialized entity's history lengths.
type entityMatcher struct {
	states        int
	notifications int
}

func (m entityMatcher) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var e Entity
	if err := json.Unmarshal(b, &e); err != nil {
		return false
	}
	return len(e.StateHistory) == m.states && len(e.NotificationsHistory) == m.notifications
}

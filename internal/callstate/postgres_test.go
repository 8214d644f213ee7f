package callstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"callbot-platform/internal/calls"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupPostgres(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return db, mock, NewPostgresStore(db)
}

func TestPostgresStore_InitialiseIsIdempotent(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS call_state").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Initialise(context.Background()); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	// second call must not touch the database
	if err := s.Initialise(context.Background()); err != nil {
		t.Fatalf("initialise again: %v", err)
	}
	if !s.Initialised() {
		t.Fatalf("expected initialised")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_GetStateByCallID(t *testing.T) {
	tests := []struct {
		name      string
		callID    string
		setupMock func(sqlmock.Sqlmock)
		wantNil   bool
		wantErr   bool
	}{
		{
			name:   "found",
			callID: "c1",
			setupMock: func(mock sqlmock.Sqlmock) {
				raw, _ := json.Marshal(calls.CallState{ResourceIdentifier: "/communications/calls/c1", LifecycleState: calls.LifecycleEstablished})
				mock.ExpectQuery("SELECT state FROM call_state").
					WithArgs(PartitionKey, "c1").
					WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(raw))
			},
		},
		{
			name:   "not found",
			callID: "c2",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT state FROM call_state").
					WithArgs(PartitionKey, "c2").
					WillReturnError(sql.ErrNoRows)
			},
			wantNil: true,
		},
		{
			name:      "empty id skips query",
			callID:    "",
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantNil:   true,
		},
		{
			name:   "database error propagates",
			callID: "c3",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT state FROM call_state").
					WillReturnError(errors.New("connection refused"))
			},
			wantNil: true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, s := setupPostgres(t)
			defer db.Close()
			tt.setupMock(mock)

			got, err := s.GetStateByCallID(context.Background(), tt.callID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Fatalf("got = %+v, wantNil %v", got, tt.wantNil)
			}
			if got != nil && got.LifecycleState != calls.LifecycleEstablished {
				t.Fatalf("unexpected state: %+v", got)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestPostgresStore_AddOrUpdateUpserts(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO call_state").
		WithArgs(PartitionKey, "c1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.AddOrUpdate(context.Background(), calls.NewCallState("/communications/calls/c1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.AddOrUpdate(context.Background(), calls.NewCallState("bad")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_RemoveCurrentCall(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM call_state").
		WithArgs(PartitionKey, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM call_state").
		WithArgs(PartitionKey, "c1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := s.RemoveCurrentCall(context.Background(), "c1")
	if err != nil || !removed {
		t.Fatalf("expected removed, got %v,%v", removed, err)
	}
	removed, err = s.RemoveCurrentCall(context.Background(), "c1")
	if err != nil || removed {
		t.Fatalf("expected no-op removal, got %v,%v", removed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_GetActiveCalls(t *testing.T) {
	db, mock, s := setupPostgres(t)
	defer db.Close()

	a, _ := json.Marshal(calls.CallState{ResourceIdentifier: "/communications/calls/a"})
	b, _ := json.Marshal(calls.CallState{ResourceIdentifier: "/communications/calls/b"})
	mock.ExpectQuery("SELECT state FROM call_state").
		WithArgs(PartitionKey).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(a).AddRow(b))

	out, err := s.GetActiveCalls(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(out) != 2 || out[0].CallID() != "a" || out[1].CallID() != "b" {
		t.Fatalf("unexpected: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

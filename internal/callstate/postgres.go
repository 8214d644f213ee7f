package callstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"callbot-platform/internal/calls"
)

// PostgresStore persists call state in a single table keyed by
// (partition_key, call_id). The driver is expected to be pgx stdlib.
//
// Table layout:
//
//	call_state(partition_key TEXT, call_id TEXT, state JSONB, updated_at TIMESTAMPTZ)
//	PRIMARY KEY (partition_key, call_id)
type PostgresStore struct {
	db          *sql.DB
	clock       func() time.Time
	initialised atomic.Bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const createCallStateTable = `
CREATE TABLE IF NOT EXISTS call_state (
  partition_key TEXT NOT NULL,
  call_id       TEXT NOT NULL,
  state         JSONB NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (partition_key, call_id)
)
`

func (s *PostgresStore) Initialise(ctx context.Context) error {
	if s.initialised.Load() {
		return nil
	}
	if s.db == nil {
		return errors.New("callstate: postgres db not configured")
	}
	if _, err := s.db.ExecContext(ctx, createCallStateTable); err != nil {
		return fmt.Errorf("callstate: create table: %w", err)
	}
	s.initialised.Store(true)
	return nil
}

func (s *PostgresStore) Initialised() bool { return s.initialised.Load() }

func (s *PostgresStore) GetStateByCallID(ctx context.Context, callID string) (*calls.CallState, error) {
	if callID == "" {
		return nil, nil
	}
	const q = `
SELECT state
FROM call_state
WHERE partition_key = $1 AND call_id = $2
`
	var raw []byte
	if err := s.db.QueryRowContext(ctx, q, PartitionKey, callID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var st calls.CallState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("callstate: decode %s: %w", callID, err)
	}
	return &st, nil
}

func (s *PostgresStore) AddOrUpdate(ctx context.Context, state *calls.CallState) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("callstate: encode %s: %w", id, err)
	}
	const q = `
INSERT INTO call_state (partition_key, call_id, state, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (partition_key, call_id)
DO UPDATE SET state = EXCLUDED.state,
              updated_at = EXCLUDED.updated_at
`
	_, err = s.db.ExecContext(ctx, q, PartitionKey, id, raw, s.clock().UTC())
	return err
}

func (s *PostgresStore) RemoveCurrentCall(ctx context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, nil
	}
	const q = `
DELETE FROM call_state
WHERE partition_key = $1 AND call_id = $2
`
	res, err := s.db.ExecContext(ctx, q, PartitionKey, callID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) GetActiveCalls(ctx context.Context) ([]*calls.CallState, error) {
	const q = `
SELECT state
FROM call_state
WHERE partition_key = $1
ORDER BY call_id
`
	rows, err := s.db.QueryContext(ctx, q, PartitionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*calls.CallState, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st calls.CallState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("callstate: decode row: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"callbot-platform/internal/calls"
	"callbot-platform/pkg/utils"
)

// PostgresStore keeps one history row per call. Appends run in a
// transaction holding an advisory lock on the call, so concurrent writers
// to the same call serialize at the database even before its row exists.
//
// Table layout:
//
//	call_history(partition_key TEXT, call_id TEXT, entity JSONB, updated_at TIMESTAMPTZ)
//	PRIMARY KEY (partition_key, call_id)
type PostgresStore struct {
	db          *sql.DB
	clock       func() time.Time
	initialised atomic.Bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const createCallHistoryTable = `
CREATE TABLE IF NOT EXISTS call_history (
  partition_key TEXT NOT NULL,
  call_id       TEXT NOT NULL,
  entity        JSONB NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (partition_key, call_id)
)
`

func (s *PostgresStore) Initialise(ctx context.Context) error {
	if s.initialised.Load() {
		return nil
	}
	if s.db == nil {
		return errors.New("history: postgres db not configured")
	}
	if _, err := s.db.ExecContext(ctx, createCallHistoryTable); err != nil {
		return fmt.Errorf("history: create table: %w", err)
	}
	s.initialised.Store(true)
	return nil
}

func (s *PostgresStore) Initialised() bool { return s.initialised.Load() }

func (s *PostgresStore) AddToHistory(ctx context.Context, state *calls.CallState, raw json.RawMessage) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockCall(ctx, tx, id); err != nil {
			return err
		}
		existing, err := lockEntity(ctx, tx, id)
		if err != nil {
			return err
		}
		e := Append(existing, id, state, raw, s.clock())
		return upsertEntity(ctx, tx, e)
	})
}

func (s *PostgresStore) GetHistory(ctx context.Context, state *calls.CallState) (*Entity, error) {
	id, err := requireCallID(state)
	if err != nil {
		return nil, err
	}
	const q = `
SELECT entity
FROM call_history
WHERE partition_key = $1 AND call_id = $2
`
	var b []byte
	if err := s.db.QueryRowContext(ctx, q, PartitionKey, id).Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeEntity(b)
}

func (s *PostgresStore) DeleteHistory(ctx context.Context, state *calls.CallState) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	const q = `
DELETE FROM call_history
WHERE partition_key = $1 AND call_id = $2
`
	_, err = s.db.ExecContext(ctx, q, PartitionKey, id)
	return err
}

// lockCall takes a transaction-scoped advisory lock for the call. A row
// lock alone covers nothing on the first append.
func lockCall(ctx context.Context, tx *sql.Tx, callID string) error {
	const q = `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`
	if _, err := tx.ExecContext(ctx, q, PartitionKey, callID); err != nil {
		return fmt.Errorf("history: lock %s: %w", callID, err)
	}
	return nil
}

func lockEntity(ctx context.Context, tx *sql.Tx, callID string) (*Entity, error) {
	const q = `
SELECT entity
FROM call_history
WHERE partition_key = $1 AND call_id = $2
FOR UPDATE
`
	var b []byte
	if err := tx.QueryRowContext(ctx, q, PartitionKey, callID).Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeEntity(b)
}

func upsertEntity(ctx context.Context, tx *sql.Tx, e *Entity) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", e.CallID, err)
	}
	const q = `
INSERT INTO call_history (partition_key, call_id, entity, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (partition_key, call_id)
DO UPDATE SET entity = EXCLUDED.entity,
              updated_at = EXCLUDED.updated_at
`
	_, err = tx.ExecContext(ctx, q, PartitionKey, e.CallID, b, e.UpdatedAt)
	return err
}

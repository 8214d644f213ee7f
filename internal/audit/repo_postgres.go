package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// PostgresRepo appends events to an INSERT-only table.
//
//	audit_events(id TEXT PRIMARY KEY, type TEXT, actor_user_id TEXT, actor_role TEXT,
//	             ip_address TEXT, bot TEXT, call_id TEXT, message TEXT, created_at TIMESTAMPTZ)
type PostgresRepo struct {
	db   *sql.DB
	once sync.Once
	err  error
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const createAuditEventsTable = `
CREATE TABLE IF NOT EXISTS audit_events (
  id            TEXT PRIMARY KEY,
  type          TEXT NOT NULL,
  actor_user_id TEXT NOT NULL,
  actor_role    TEXT NOT NULL DEFAULT '',
  ip_address    TEXT NOT NULL DEFAULT '',
  bot           TEXT NOT NULL DEFAULT '',
  call_id       TEXT NOT NULL DEFAULT '',
  message       TEXT NOT NULL DEFAULT '',
  created_at    TIMESTAMPTZ NOT NULL
)
`

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: postgres db not configured")
	}
	r.once.Do(func() {
		if _, err := r.db.ExecContext(ctx, createAuditEventsTable); err != nil {
			r.err = fmt.Errorf("audit: create table: %w", err)
		}
	})
	if r.err != nil {
		return r.err
	}

	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, bot, call_id, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.BotTypeName, e.CallID, e.Message, e.CreatedAt)
	return err
}

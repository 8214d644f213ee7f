package audit

import "time"

// Event is an immutable, append-only record of an operator action against
// the call API.
//
// Invariants:
// - Events are never updated or deleted.
// - Type and ActorUserID are required.
// - Audit is best-effort; callers never fail a request on an audit error.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	BotTypeName string `json:"bot,omitempty" db:"bot"`
	CallID      string `json:"call_id,omitempty" db:"call_id"`

	Message   string    `json:"message,omitempty" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted   EventType = "call_started"
	EventTypeHistoryPurged EventType = "history_purged"
)

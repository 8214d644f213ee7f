package history

import (
	"encoding/json"
	"time"

	"callbot-platform/internal/calls"
)

// PartitionKey is the fixed partition every backend stores history under.
const PartitionKey = "CallHistory"

// Entity is the append-only audit record for one call.
//
// Invariants:
//   - StateHistory and NotificationsHistory are independently append-only.
//   - StateHistory never holds two consecutive structurally equal snapshots.
//   - NotificationsHistory holds one entry per notification received,
//     whether or not it changed state.
//   - Entities are only removed by an explicit DeleteHistory.
//
// History has its own lifecycle: it outlives the call state record.
type Entity struct {
	CallID               string              `json:"call_id"`
	StateHistory         []StateEntry        `json:"state_history"`
	NotificationsHistory []NotificationEntry `json:"notifications_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateEntry is one call-state snapshot.
type StateEntry struct {
	ID        string           `json:"id"`
	State     *calls.CallState `json:"state"`
	Timestamp time.Time        `json:"timestamp"`
}

// NotificationEntry is one raw notification as received.
type NotificationEntry struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// LastState returns the most recent snapshot, or nil.
func (e *Entity) LastState() *calls.CallState {
	if e == nil || len(e.StateHistory) == 0 {
		return nil
	}
	return e.StateHistory[len(e.StateHistory)-1].State
}

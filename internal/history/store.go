package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"callbot-platform/internal/calls"

	"github.com/google/uuid"
)

// ErrInvalidArgument is returned when a state has no derivable call id.
var ErrInvalidArgument = errors.New("history: invalid argument")

// Store is the persistence contract for call history.
//
// AddToHistory appends one (snapshot, payload, now) pair. The state
// snapshot is skipped when it equals the last recorded one; the payload is
// always appended. GetHistory returns (nil, nil) when nothing is recorded.
type Store interface {
	Initialise(ctx context.Context) error
	Initialised() bool

	AddToHistory(ctx context.Context, state *calls.CallState, rawNotification json.RawMessage) error
	GetHistory(ctx context.Context, state *calls.CallState) (*Entity, error)
	DeleteHistory(ctx context.Context, state *calls.CallState) error
}

// Append applies one history step to e and returns the updated entity.
// A nil e starts a new entity seeded with state. Every backend goes through
// this function so the dedup rule is identical across them.
func Append(e *Entity, callID string, state *calls.CallState, raw json.RawMessage, now time.Time) *Entity {
	now = now.UTC()
	if e == nil {
		e = &Entity{CallID: callID, CreatedAt: now}
	}
	if len(e.StateHistory) == 0 || !calls.Equal(e.LastState(), state) {
		e.StateHistory = append(e.StateHistory, StateEntry{
			ID:        uuid.NewString(),
			State:     state.Clone(),
			Timestamp: now,
		})
	}
	e.NotificationsHistory = append(e.NotificationsHistory, NotificationEntry{
		ID:        uuid.NewString(),
		Payload:   slices.Clone(raw),
		Timestamp: now,
	})
	e.UpdatedAt = now
	return e
}

func requireCallID(state *calls.CallState) (string, error) {
	if state == nil {
		return "", fmt.Errorf("%w: call state is nil", ErrInvalidArgument)
	}
	id := state.CallID()
	if id == "" {
		return "", fmt.Errorf("%w: no call id in resource %q", ErrInvalidArgument, state.ResourceIdentifier)
	}
	return id, nil
}

func decodeEntity(b []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("history: decode entity: %w", err)
	}
	return &e, nil
}

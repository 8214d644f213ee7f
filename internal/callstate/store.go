package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callbot-platform/internal/calls"
)

// PartitionKey is the fixed partition every backend stores call state under.
const PartitionKey = "CallState"

// ErrInvalidArgument is returned for caller-contract violations, e.g.
// AddOrUpdate on a state whose resource identifier yields no call id.
var ErrInvalidArgument = errors.New("callstate: invalid argument")

// Store is the persistence contract for tracked call state.
//
// Every backend must behave identically:
//   - Initialise is idempotent and safe to call repeatedly.
//   - GetStateByCallID returns (nil, nil) for unknown or empty ids.
//   - AddOrUpdate is a per-record atomic upsert keyed by call id.
//   - RemoveCurrentCall returns false (not an error) when nothing was stored.
//
// Transient storage errors are returned as-is; retry policy belongs to the
// backend client, not to callers.
type Store interface {
	Initialise(ctx context.Context) error
	Initialised() bool

	GetStateByCallID(ctx context.Context, callID string) (*calls.CallState, error)
	AddOrUpdate(ctx context.Context, state *calls.CallState) error
	RemoveCurrentCall(ctx context.Context, callID string) (bool, error)
	GetActiveCalls(ctx context.Context) ([]*calls.CallState, error)
}

// record is the serialized form shared by the key-value backends.
type record struct {
	State     *calls.CallState `json:"state"`
	UpdatedAt time.Time        `json:"updated_at"`
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

func encodeRecord(state *calls.CallState, now time.Time) ([]byte, error) {
	return json.Marshal(record{State: state, UpdatedAt: now.UTC()})
}

func decodeRecord(b []byte) (*calls.CallState, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("callstate: decode record: %w", err)
	}
	return r.State, nil
}

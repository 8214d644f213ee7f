package engine

import (
	"context"

	"callbot-platform/internal/calls"
	"callbot-platform/internal/notifications"
)

// Callbacks is the table of lifecycle hooks the engine fires. Every slot is
// optional.
//
// Callbacks receive the live state being reconciled. Changes they make to it
// (e.g. recording a prompt they started) are persisted together with the
// transition that triggered them.
type Callbacks struct {
	CallEstablishing          func(ctx context.Context, state *calls.CallState) error
	CallEstablished           func(ctx context.Context, state *calls.CallState) error
	CallConnectedWithP2PAudio func(ctx context.Context, state *calls.CallState) error
	PlayPromptFinished        func(ctx context.Context, state *calls.CallState, op *notifications.OperationResource) error
	NewTonePressed            func(ctx context.Context, state *calls.CallState, tone calls.Tone) error
	CallTerminated            func(ctx context.Context, callID string, result *calls.ResultInfo) error
	UsersJoinedGroupCall      func(ctx context.Context, state *calls.CallState, joined []calls.Participant) error
	UsersLeftGroupCall        func(ctx context.Context, state *calls.CallState, left []calls.Participant) error
}

// Event names used in logs and metrics.
const (
	EventCallEstablishing          = "CallEstablishing"
	EventCallEstablished           = "CallEstablished"
	EventCallConnectedWithP2PAudio = "CallConnectedWithP2PAudio"
	EventPlayPromptFinished        = "PlayPromptFinished"
	EventNewTonePressed            = "NewTonePressed"
	EventCallTerminated            = "CallTerminated"
	EventUsersJoinedGroupCall      = "UsersJoinedGroupCall"
	EventUsersLeftGroupCall        = "UsersLeftGroupCall"
)

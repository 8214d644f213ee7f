package bot

import (
	"context"

	"callbot-platform/internal/calls"
)

// CallingClient is what a bot needs from the calling platform.
//
// Rules:
// - No platform SDK or HTTP calls outside CallingClient implementations.
// - Operation ids returned by PlayPrompt are what prompt-completion
//   notifications later refer to.
type CallingClient interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (CreatedCall, error)
	PlayPrompt(ctx context.Context, callID string, prompts []calls.MediaPrompt, clientContext string) (string, error)
	InviteParticipant(ctx context.Context, callID string, invitee Target, clientContext string) (string, error)
	HangUp(ctx context.Context, callID string) error
}

// Target identifies someone to call or invite. Exactly one of UserID or
// PhoneNumber is expected.
type Target struct {
	UserID      string `json:"user_id,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type CreateCallRequest struct {
	CallbackURL   string
	TenantID      string
	Targets       []Target
	ClientContext string
}

type CreatedCall struct {
	ID    string
	State calls.LifecycleState
}

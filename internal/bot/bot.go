package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"callbot-platform/internal/calls"
	"callbot-platform/internal/engine"
	"callbot-platform/internal/notifications"
	"callbot-platform/internal/router"

	"github.com/google/uuid"
)

var (
	ErrUnknownPrompt = errors.New("bot: prompt not in playlist")
	ErrNoTargets     = errors.New("bot: at least one target is required")
)

// WelcomePrompt is played when a call becomes established, if the
// playlist has it.
const WelcomePrompt = "welcome"

type Config struct {
	TypeName    string
	CallbackURL string
	TenantID    string
	// Playlist seeds BotMediaPlaylist of every call this bot owns.
	Playlist map[string]calls.MediaPrompt
	// HangUpTone ends the call when pressed. Empty disables it.
	HangUpTone calls.Tone
}

// Hooks let applications extend a bot without wrapping it. Every hook is
// optional and runs after the bot's own handling of the event.
type Hooks struct {
	OnEstablishing   func(ctx context.Context, b *Bot, state *calls.CallState) error
	OnEstablished    func(ctx context.Context, b *Bot, state *calls.CallState) error
	OnAudioConnected func(ctx context.Context, b *Bot, state *calls.CallState) error
	OnPromptFinished func(ctx context.Context, b *Bot, state *calls.CallState, op *notifications.OperationResource) error
	OnTone           func(ctx context.Context, b *Bot, state *calls.CallState, tone calls.Tone) error
	OnTerminated     func(ctx context.Context, b *Bot, callID string, result *calls.ResultInfo) error
	OnJoined         func(ctx context.Context, b *Bot, state *calls.CallState, joined []calls.Participant) error
	OnLeft           func(ctx context.Context, b *Bot, state *calls.CallState, left []calls.Participant) error
}

// Bot owns a set of calls: it starts them, reacts to their lifecycle
// through the engine's callback table and keeps the router current.
type Bot struct {
	cfg    Config
	client CallingClient
	engine *engine.Engine
	router *router.Router
	hooks  Hooks
	log    *slog.Logger
}

func New(cfg Config, client CallingClient, eng *engine.Engine, rt *router.Router, hooks Hooks, l *slog.Logger) *Bot {
	if l == nil {
		l = slog.Default()
	}
	return &Bot{
		cfg:    cfg,
		client: client,
		engine: eng,
		router: rt,
		hooks:  hooks,
		log:    l.With("bot", cfg.TypeName),
	}
}

func (b *Bot) TypeName() string { return b.cfg.TypeName }

func (b *Bot) Engine() *engine.Engine { return b.engine }

// HandleNotifications reconciles a batch with this bot's callbacks.
func (b *Bot) HandleNotifications(ctx context.Context, p *notifications.Payload) (engine.Stats, error) {
	return b.engine.HandleBatch(ctx, p, b.Callbacks())
}

type OutboundCallRequest struct {
	Targets []Target
	// Playlist overrides the bot's default playlist for this call.
	Playlist map[string]calls.MediaPrompt
}

// StartOutboundCall asks the platform for a call and tracks it before the
// first notification can arrive.
func (b *Bot) StartOutboundCall(ctx context.Context, req OutboundCallRequest) (*calls.CallState, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}
	created, err := b.client.CreateCall(ctx, CreateCallRequest{
		CallbackURL:   b.cfg.CallbackURL,
		TenantID:      b.cfg.TenantID,
		Targets:       req.Targets,
		ClientContext: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("bot: create call: %w", err)
	}

	state := calls.NewCallState(calls.BuildResourcePath(created.ID))
	state.OwnerBotTypeName = b.cfg.TypeName
	state.BotMediaPlaylist = maps.Clone(b.cfg.Playlist)
	if req.Playlist != nil {
		state.BotMediaPlaylist = maps.Clone(req.Playlist)
	}
	// Route first so notifications racing Track already reach this bot.
	b.router.AddCall(created.ID, b)
	if err := b.engine.Track(ctx, state); err != nil {
		b.router.RemoveCall(created.ID)
		return nil, err
	}
	b.log.Info("outbound call started", "call_id", created.ID, "targets", len(req.Targets))
	return state, nil
}

// PlayPrompt starts the named playlist prompt and records it as playing on
// state. Call it from a callback so the change is persisted.
func (b *Bot) PlayPrompt(ctx context.Context, state *calls.CallState, name string) error {
	prompt, ok := state.BotMediaPlaylist[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPrompt, name)
	}
	if prompt.Name == "" {
		prompt.Name = name
	}
	opID, err := b.client.PlayPrompt(ctx, state.CallID(), []calls.MediaPrompt{prompt}, uuid.NewString())
	if err != nil {
		return fmt.Errorf("bot: play prompt %q: %w", name, err)
	}
	prompt.ID = opID
	state.AddPlayingPrompt(prompt)
	return nil
}

// InviteParticipants invites each target into the call. It stops at the
// first failure.
func (b *Bot) InviteParticipants(ctx context.Context, callID string, targets ...Target) error {
	for _, t := range targets {
		if _, err := b.client.InviteParticipant(ctx, callID, t, uuid.NewString()); err != nil {
			return fmt.Errorf("bot: invite participant: %w", err)
		}
	}
	return nil
}

func (b *Bot) HangUp(ctx context.Context, callID string) error {
	if err := b.client.HangUp(ctx, callID); err != nil {
		return fmt.Errorf("bot: hang up: %w", err)
	}
	return nil
}

// Callbacks binds the engine's callback table to this bot.
func (b *Bot) Callbacks() engine.Callbacks {
	return engine.Callbacks{
		CallEstablishing: func(ctx context.Context, state *calls.CallState) error {
			if state.OwnerBotTypeName == "" {
				state.OwnerBotTypeName = b.cfg.TypeName
			}
			if len(state.BotMediaPlaylist) == 0 && len(b.cfg.Playlist) > 0 {
				state.BotMediaPlaylist = maps.Clone(b.cfg.Playlist)
			}
			b.router.AddCall(state.CallID(), b)
			if b.hooks.OnEstablishing != nil {
				return b.hooks.OnEstablishing(ctx, b, state)
			}
			return nil
		},
		CallEstablished: func(ctx context.Context, state *calls.CallState) error {
			if _, ok := state.BotMediaPlaylist[WelcomePrompt]; ok {
				if err := b.PlayPrompt(ctx, state, WelcomePrompt); err != nil {
					return err
				}
			}
			if b.hooks.OnEstablished != nil {
				return b.hooks.OnEstablished(ctx, b, state)
			}
			return nil
		},
		CallConnectedWithP2PAudio: func(ctx context.Context, state *calls.CallState) error {
			if b.hooks.OnAudioConnected != nil {
				return b.hooks.OnAudioConnected(ctx, b, state)
			}
			return nil
		},
		PlayPromptFinished: func(ctx context.Context, state *calls.CallState, op *notifications.OperationResource) error {
			if b.hooks.OnPromptFinished != nil {
				return b.hooks.OnPromptFinished(ctx, b, state, op)
			}
			return nil
		},
		NewTonePressed: func(ctx context.Context, state *calls.CallState, tone calls.Tone) error {
			if b.cfg.HangUpTone != "" && tone == b.cfg.HangUpTone {
				if err := b.HangUp(ctx, state.CallID()); err != nil {
					return err
				}
			}
			if b.hooks.OnTone != nil {
				return b.hooks.OnTone(ctx, b, state, tone)
			}
			return nil
		},
		CallTerminated: func(ctx context.Context, callID string, result *calls.ResultInfo) error {
			b.router.RemoveCall(callID)
			if b.hooks.OnTerminated != nil {
				return b.hooks.OnTerminated(ctx, b, callID, result)
			}
			return nil
		},
		UsersJoinedGroupCall: func(ctx context.Context, state *calls.CallState, joined []calls.Participant) error {
			if b.hooks.OnJoined != nil {
				return b.hooks.OnJoined(ctx, b, state, joined)
			}
			return nil
		},
		UsersLeftGroupCall: func(ctx context.Context, state *calls.CallState, left []calls.Participant) error {
			if b.hooks.OnLeft != nil {
				return b.hooks.OnLeft(ctx, b, state, left)
			}
			return nil
		},
	}
}

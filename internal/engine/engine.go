package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callbot-platform/internal/calls"
	"callbot-platform/internal/callstate"
	"callbot-platform/internal/history"
	"callbot-platform/internal/notifications"
	"callbot-platform/internal/observability"
	"callbot-platform/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Stats summarises one batch.
type Stats struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// Engine reconciles webhook notifications against tracked call state.
type Engine struct {
	state   callstate.Store
	history history.Store
	gate    Gate
	log     *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	initMu sync.Mutex
}

type Option func(*Engine)

func WithGate(g Gate) Option { return func(e *Engine) { e.gate = g } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithTracer(t *observability.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// New builds an engine over the given stores. Without WithGate it
// serializes per call id within this engine only; engines that share
// stores must share one Gate.
func New(state callstate.Store, hist history.Store, opts ...Option) *Engine {
	e := &Engine{state: state, history: hist}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		e.gate = NewKeyedGate()
	}
	return e
}

func (e *Engine) StateStore() callstate.Store { return e.state }

func (e *Engine) HistoryStore() history.Store { return e.history }

var defaultGate Gate = NewKeyedGate()

// HandleNotificationsAndUpdateCallState reconciles one batch using a
// process-wide gate shared by every caller of this function.
func HandleNotificationsAndUpdateCallState(ctx context.Context, p *notifications.Payload, cb Callbacks, state callstate.Store, hist history.Store, l *slog.Logger) (Stats, error) {
	return New(state, hist, WithGate(defaultGate), WithLogger(l)).HandleBatch(ctx, p, cb)
}

// HandleBatch applies every notification in p, in delivery order, and
// returns how many changed tracked state. A nil or empty payload is a no-op.
//
// Storage errors abort the batch and are returned; the webhook sender is
// expected to redeliver. Callback errors never abort the batch.
func (e *Engine) HandleBatch(ctx context.Context, p *notifications.Payload, cb Callbacks) (Stats, error) {
	if p == nil || len(p.Value) == 0 {
		return Stats{}, nil
	}
	ctx, span := e.tracer.Start(ctx, "engine.handle_batch", attribute.Int("notifications", len(p.Value)))
	defer span.End()

	stats, err := e.handleBatch(ctx, p, cb)
	span.SetAttributes(attribute.Int("processed", stats.Processed), attribute.Int("skipped", stats.Skipped))
	observability.RecordError(span, err)
	return stats, err
}

func (e *Engine) handleBatch(ctx context.Context, p *notifications.Payload, cb Callbacks) (Stats, error) {
	var stats Stats
	start := time.Now()
	defer e.metrics.ObserveBatch(start)

	release, err := e.gate.Acquire(ctx, batchKeys(p))
	if err != nil {
		return stats, fmt.Errorf("engine: acquire gate: %w", err)
	}
	defer release()

	if err := e.ensureInitialised(ctx); err != nil {
		e.metrics.RecordStorageError()
		return stats, err
	}

	for i := range p.Value {
		n := &p.Value[i]
		changed, err := e.reconcile(ctx, n, cb)
		if err != nil {
			e.metrics.RecordStorageError()
			return stats, err
		}
		if changed {
			stats.Processed++
			e.metrics.RecordProcessed()
		} else {
			stats.Skipped++
			e.metrics.RecordSkipped()
		}
	}
	return stats, nil
}

// Track registers a call the application started before any notification
// for it arrives. If a notification won the race and the call is already
// tracked, the existing record keeps its lifecycle and only gains the owner
// and playlist.
func (e *Engine) Track(ctx context.Context, state *calls.CallState) error {
	callID := state.CallID()
	if callID == "" {
		return fmt.Errorf("%w: no call id in resource %q", callstate.ErrInvalidArgument, state.ResourceIdentifier)
	}
	release, err := e.gate.Acquire(ctx, []string{callID})
	if err != nil {
		return fmt.Errorf("engine: acquire gate: %w", err)
	}
	defer release()

	if err := e.ensureInitialised(ctx); err != nil {
		return err
	}
	existing, err := e.state.GetStateByCallID(ctx, callID)
	if err != nil {
		return fmt.Errorf("engine: load call %s: %w", callID, err)
	}
	if existing != nil {
		// The bot that placed the call owns it, even if an early
		// notification reached another bot first.
		if state.OwnerBotTypeName != "" {
			existing.OwnerBotTypeName = state.OwnerBotTypeName
		}
		if len(existing.BotMediaPlaylist) == 0 {
			existing.BotMediaPlaylist = state.BotMediaPlaylist
		}
		state = existing
	}
	if err := e.state.AddOrUpdate(ctx, state); err != nil {
		return fmt.Errorf("engine: save call %s: %w", callID, err)
	}
	return nil
}

func (e *Engine) ensureInitialised(ctx context.Context) error {
	if e.state.Initialised() && e.history.Initialised() {
		return nil
	}
	e.initMu.Lock()
	defer e.initMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	if !e.state.Initialised() {
		g.Go(func() error {
			if err := e.state.Initialise(gctx); err != nil {
				return fmt.Errorf("engine: initialise state store: %w", err)
			}
			return nil
		})
	}
	if !e.history.Initialised() {
		g.Go(func() error {
			if err := e.history.Initialise(gctx); err != nil {
				return fmt.Errorf("engine: initialise history store: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// reconcile applies one notification and reports whether tracked state
// changed.
func (e *Engine) reconcile(ctx context.Context, n *notifications.Notification, cb Callbacks) (bool, error) {
	callID := n.CallID()
	log := logger.ForCall(e.logger(ctx), callID).With("change_type", string(n.ChangeType))

	if callID == "" {
		log.Warn("notification is not for a call resource, skipped", "resource_url", n.ResourceURL)
		return false, nil
	}

	state, err := e.state.GetStateByCallID(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("engine: load call %s: %w", callID, err)
	}
	call := n.AssociatedCall()

	if state == nil {
		if call == nil || call.State != calls.LifecycleEstablishing {
			log.Warn("notification for untracked call, skipped", "resource_url", n.ResourceURL)
			return false, nil
		}
		state = calls.NewCallState(n.ResourceURL)
		state.LifecycleState = calls.LifecycleEstablishing
		if err := e.state.AddOrUpdate(ctx, state); err != nil {
			return false, fmt.Errorf("engine: save call %s: %w", callID, err)
		}
		log.Info("call establishing")
		before := state.Clone()
		e.invoke(ctx, log, EventCallEstablishing, cb.CallEstablishing != nil, func() error {
			return cb.CallEstablishing(ctx, state)
		})
		// The callback may have recorded work on the state, e.g. a prompt.
		if !calls.Equal(before, state) {
			if err := e.state.AddOrUpdate(ctx, state); err != nil {
				return false, fmt.Errorf("engine: save call %s: %w", callID, err)
			}
		}
		return true, e.record(ctx, state, n)
	}

	changed, terminated := e.apply(ctx, log, state, n, call, cb)
	if terminated {
		if _, err := e.terminate(ctx, log, callID, call, cb); err != nil {
			return false, err
		}
	} else if changed {
		if err := e.state.AddOrUpdate(ctx, state); err != nil {
			return false, fmt.Errorf("engine: save call %s: %w", callID, err)
		}
	}
	return changed, e.record(ctx, state, n)
}

// apply evaluates the transitions of a tracked call in priority order. A
// termination short-circuits everything after it.
func (e *Engine) apply(ctx context.Context, log *slog.Logger, state *calls.CallState, n *notifications.Notification, call *notifications.CallResource, cb Callbacks) (changed, terminated bool) {
	if call != nil {
		switch {
		case n.ChangeType == notifications.ChangeUpdated &&
			call.State == calls.LifecycleEstablished &&
			state.LifecycleState != calls.LifecycleEstablished:
			state.LifecycleState = calls.LifecycleEstablished
			changed = true
			log.Info("call established")
			e.invoke(ctx, log, EventCallEstablished, cb.CallEstablished != nil, func() error {
				return cb.CallEstablished(ctx, state)
			})
		case n.ChangeType != notifications.ChangeDeleted &&
			call.State != "" &&
			call.State != calls.LifecycleEstablished &&
			call.State != state.LifecycleState:
			// Pre-seeded outbound calls first learn their lifecycle here.
			prev := state.LifecycleState
			state.LifecycleState = call.State
			changed = true
			log.Info("call lifecycle changed", "from", string(prev), "to", string(call.State))
			if call.State == calls.LifecycleEstablishing {
				e.invoke(ctx, log, EventCallEstablishing, cb.CallEstablishing != nil, func() error {
					return cb.CallEstablishing(ctx, state)
				})
			}
		}

		if n.ChangeType != notifications.ChangeDeleted &&
			call.MediaState != nil && call.MediaState.Audio == calls.MediaStateActive && state.MediaState == nil {
			media := calls.MediaStateActive
			state.MediaState = &media
			changed = true
			log.Info("call audio connected")
			e.invoke(ctx, log, EventCallConnectedWithP2PAudio, cb.CallConnectedWithP2PAudio != nil, func() error {
				return cb.CallConnectedWithP2PAudio(ctx, state)
			})
		}
	}

	if n.ChangeType == notifications.ChangeDeleted && n.ResourceURL == state.ResourceIdentifier {
		return true, true
	}

	if call != nil && call.ToneInfo != nil && call.ToneInfo.Tone != "" {
		tone := call.ToneInfo.Tone
		state.TonesPressed = append(state.TonesPressed, tone)
		changed = true
		log.Info("tone pressed", "tone", string(tone))
		e.invoke(ctx, log, EventNewTonePressed, cb.NewTonePressed != nil, func() error {
			return cb.NewTonePressed(ctx, state, tone)
		})
	}

	if op := n.AssociatedPromptOperation(); op != nil && op.Finished() {
		if state.RemovePlayingPrompt(op.ID) {
			changed = true
			log.Info("prompt finished", "operation_id", op.ID, "status", string(op.Status))
			e.invoke(ctx, log, EventPlayPromptFinished, cb.PlayPromptFinished != nil, func() error {
				return cb.PlayPromptFinished(ctx, state, op)
			})
		} else {
			log.Debug("finished prompt was not playing", "operation_id", op.ID)
		}
	}

	if roster, ok := n.JoinedParticipantsSnapshot(); ok {
		joined := calls.GetJoined(roster, state.JoinedParticipants)
		left := calls.GetLeft(roster, state.JoinedParticipants)
		if len(joined) > 0 {
			e.invoke(ctx, log, EventUsersJoinedGroupCall, cb.UsersJoinedGroupCall != nil, func() error {
				return cb.UsersJoinedGroupCall(ctx, state, joined)
			})
		}
		if len(left) > 0 {
			e.invoke(ctx, log, EventUsersLeftGroupCall, cb.UsersLeftGroupCall != nil, func() error {
				return cb.UsersLeftGroupCall(ctx, state, left)
			})
		}
		state.JoinedParticipants = roster
		changed = true
		log.Debug("roster replaced", "joined", len(joined), "left", len(left), "size", len(roster))
	}

	return changed, false
}

func (e *Engine) terminate(ctx context.Context, log *slog.Logger, callID string, call *notifications.CallResource, cb Callbacks) (bool, error) {
	removed, err := e.state.RemoveCurrentCall(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("engine: remove call %s: %w", callID, err)
	}
	if !removed {
		log.Info("call already removed")
		return false, nil
	}

	var result *calls.ResultInfo
	if call != nil {
		result = call.ResultInfo
	}
	if result == nil {
		log.Warn("call terminated without result info")
	} else {
		log.Info("call terminated", "code", result.Code, "subcode", result.Subcode, "message", result.Message)
	}
	e.invoke(ctx, log, EventCallTerminated, cb.CallTerminated != nil, func() error {
		return cb.CallTerminated(ctx, callID, result)
	})
	return true, nil
}

func (e *Engine) record(ctx context.Context, state *calls.CallState, n *notifications.Notification) error {
	if err := e.history.AddToHistory(ctx, state, n.Raw); err != nil {
		return fmt.Errorf("engine: record history for %s: %w", state.CallID(), err)
	}
	return nil
}

// invoke runs one callback. Errors and panics are logged and counted but
// never abort the batch.
func (e *Engine) invoke(ctx context.Context, log *slog.Logger, event string, present bool, fn func() error) {
	if !present {
		return
	}
	e.metrics.RecordCallback(event)
	_, span := e.tracer.Start(ctx, "engine.callback", attribute.String("event", event))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			e.metrics.RecordCallbackFailure(event)
			observability.RecordError(span, fmt.Errorf("callback panicked: %v", r))
			log.Error("callback panicked", "event", event, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		e.metrics.RecordCallbackFailure(event)
		observability.RecordError(span, err)
		log.Error("callback failed", "event", event, "err", err)
	}
}

func (e *Engine) logger(ctx context.Context) *slog.Logger {
	if e.log != nil {
		return e.log
	}
	return logger.From(ctx)
}

func batchKeys(p *notifications.Payload) []string {
	keys := make([]string, 0, len(p.Value))
	for i := range p.Value {
		if id := p.Value[i].CallID(); id != "" {
			keys = append(keys, id)
		}
	}
	return keys
}

package router

import (
	"context"
	"log/slog"
	"sync"

	"callbot-platform/internal/engine"
	"callbot-platform/internal/notifications"
)

// Owner is a bot instance that can reconcile notifications for the calls it
// owns.
type Owner interface {
	TypeName() string
	HandleNotifications(ctx context.Context, p *notifications.Payload) (engine.Stats, error)
}

// Router maps call ids to the bot that owns them.
type Router struct {
	mu    sync.RWMutex
	calls map[string]Owner
	log   *slog.Logger
}

func New(l *slog.Logger) *Router {
	if l == nil {
		l = slog.Default()
	}
	return &Router{calls: make(map[string]Owner), log: l}
}

func (r *Router) AddCall(callID string, owner Owner) {
	if callID == "" || owner == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[callID] = owner
}

// RemoveCall reports whether the call was mapped.
func (r *Router) RemoveCall(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[callID]; !ok {
		return false
	}
	delete(r.calls, callID)
	return true
}

// GetBotByCallID returns nil and logs a warning when the call is unmapped.
// Another router sharing the endpoint may own it.
func (r *Router) GetBotByCallID(callID string) Owner {
	if o := r.lookup(callID); o != nil {
		return o
	}
	r.log.Warn("no bot mapped for call", "call_id", callID)
	return nil
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

func (r *Router) lookup(callID string) Owner {
	if callID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[callID]
}

// Set is every router registered on one inbound endpoint.
type Set []*Router

// Resolve tries each router in order. A miss across all of them is logged
// once.
func (s Set) Resolve(callID string) Owner {
	for _, r := range s {
		if o := r.lookup(callID); o != nil {
			return o
		}
	}
	if len(s) > 0 {
		s[0].log.Warn("no bot mapped for call in any router", "call_id", callID, "routers", len(s))
	}
	return nil
}

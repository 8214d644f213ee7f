package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"callbot-platform/internal/audit"
	"callbot-platform/internal/auth"
	"callbot-platform/internal/bot"
	"callbot-platform/internal/calls"
	"callbot-platform/internal/callstate"
	"callbot-platform/internal/engine"
	"callbot-platform/internal/history"
	"callbot-platform/internal/notifications"
	"callbot-platform/internal/router"
	"callbot-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Routers router.Set
	// Fallback owns notifications for calls no router knows yet, i.e.
	// incoming calls.
	Fallback router.Owner
	Bots     map[string]*bot.Bot
	State    callstate.Store
	History  history.Store
	// Audit is optional; nil disables the operator trail.
	Audit *audit.Service
	// Checks are dependency probes for Ready, keyed by dependency name.
	Checks map[string]func(context.Context) error
}

// --- Health ---

// Ready runs every dependency probe and reports 503 if any fails.
func (h Handlers) Ready(c *gin.Context) {
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "dependency", name, "err", err)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"checks": results})
}

// --- Webhook ---

// HandleNotifications reconciles one webhook delivery. Storage failures are
// 500 so the platform redelivers; notifications nobody owns are accepted
// and counted as skipped.
func (h Handlers) HandleNotifications(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := logger.With(c.Request.Context(), log)

	p, err := notifications.Decode(c.Request.Body)
	if err != nil {
		log.Warn("notification payload rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	var total engine.Stats
	if p != nil {
		for _, part := range h.partition(p) {
			if part.owner == nil {
				log.Warn("no bot owns notifications, skipped", "count", len(part.payload.Value))
				total.Skipped += len(part.payload.Value)
				continue
			}
			stats, err := part.owner.HandleNotifications(ctx, part.payload)
			total.Processed += stats.Processed
			total.Skipped += stats.Skipped
			if err != nil {
				log.Error("notification batch failed", "bot", part.owner.TypeName(), "err", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
				return
			}
		}
	}
	c.JSON(http.StatusAccepted, total)
}

type ownedBatch struct {
	owner   router.Owner
	payload *notifications.Payload
}

// partition splits a delivery by owning bot, keeping delivery order within
// each owner.
func (h Handlers) partition(p *notifications.Payload) []ownedBatch {
	var out []ownedBatch
	index := map[router.Owner]int{}
	for _, n := range p.Value {
		owner := h.Routers.Resolve(n.CallID())
		if owner == nil {
			owner = h.Fallback
		}
		i, ok := index[owner]
		if !ok {
			i = len(out)
			index[owner] = i
			out = append(out, ownedBatch{owner: owner, payload: &notifications.Payload{ODataType: p.ODataType}})
		}
		out[i].payload.Value = append(out[i].payload.Value, n)
	}
	return out
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	active, err := h.State.GetActiveCalls(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": active})
}

func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")
	state, err := h.State.GetStateByCallID(c.Request.Context(), callID)
	if err != nil {
		logger.FromGin(c).Error("get call failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if state == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not tracked"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h Handlers) GetHistory(c *gin.Context) {
	callID := c.Param("call_id")
	e, err := h.History.GetHistory(c.Request.Context(), calls.NewCallState(calls.BuildResourcePath(callID)))
	if err != nil {
		if errors.Is(err, history.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid call_id"})
			return
		}
		logger.FromGin(c).Error("get history failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	if e == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no history"})
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h Handlers) DeleteHistory(c *gin.Context) {
	callID := c.Param("call_id")
	if err := h.History.DeleteHistory(c.Request.Context(), calls.NewCallState(calls.BuildResourcePath(callID))); err != nil {
		if errors.Is(err, history.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid call_id"})
			return
		}
		logger.FromGin(c).Error("delete history failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history delete failed"})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogHistoryPurged(c.Request.Context(), actor(c), callID); err != nil {
			logger.FromGin(c).Warn("audit failed", "call_id", callID, "err", err)
		}
	}
	c.Status(http.StatusNoContent)
}

type startCallRequest struct {
	Bot      string                       `json:"bot"`
	Targets  []bot.Target                 `json:"targets"`
	Playlist map[string]calls.MediaPrompt `json:"playlist,omitempty"`
}

// StartCall places an outbound call through a named bot.
func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	b, ok := h.Bots[req.Bot]
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown bot"})
		return
	}
	state, err := b.StartOutboundCall(c.Request.Context(), bot.OutboundCallRequest{Targets: req.Targets, Playlist: req.Playlist})
	if err != nil {
		if errors.Is(err, bot.ErrNoTargets) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("start call failed", "bot", req.Bot, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call creation failed"})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogCallStarted(c.Request.Context(), actor(c), req.Bot, state.CallID()); err != nil {
			logger.FromGin(c).Warn("audit failed", "call_id", state.CallID(), "err", err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"call_id": state.CallID(), "resource_identifier": state.ResourceIdentifier})
}

func actor(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}

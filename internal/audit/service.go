package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: no Update/Delete methods exist.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operator actions. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Actor identifies who performed an action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCallStarted records an outbound call placed through the API.
func (s *Service) LogCallStarted(ctx context.Context, a Actor, botTypeName, callID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallStarted,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		BotTypeName: botTypeName,
		CallID:      callID,
		Message:     "outbound call started",
	})
}

// LogHistoryPurged records an explicit history deletion.
func (s *Service) LogHistoryPurged(ctx context.Context, a Actor, callID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeHistoryPurged,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		CallID:      callID,
		Message:     "call history deleted",
	})
}

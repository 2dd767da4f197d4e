package grants

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates lifecycle events emitted by the service.
type EventType string

const (
	EventRequestSubmitted EventType = "RequestSubmitted"
	EventRequestApproved  EventType = "RequestApproved"
	EventRequestRejected  EventType = "RequestRejected"
	EventRequestCancelled EventType = "RequestCancelled"
	EventGrantActivated   EventType = "GrantActivated"
	EventGrantExtended    EventType = "GrantExtended"
	EventGrantExpiring    EventType = "GrantExpiringSoon"
	EventGrantExpired     EventType = "GrantExpired"
	EventGrantRevoked     EventType = "GrantRevoked"
)

// Event carries everything observers need. The audit sink and the
// notification subsystem consume events only; they never read lifecycle
// state directly.
type Event struct {
	Type     EventType
	EntityID uuid.UUID
	// ActorID is nil for system-triggered events such as sweep expiries.
	ActorID    *string
	OccurredAt time.Time
	Detail     map[string]any
}

// EventHandler consumes lifecycle events.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// EventBus fans lifecycle events out to registered handlers synchronously.
// A handler failure is logged and does not block the others; lifecycle
// state is already committed when events fire.
type EventBus struct {
	handlers []EventHandler
	logger   *slog.Logger
}

// NewEventBus constructs an event bus.
func NewEventBus(logger *slog.Logger, handlers ...EventHandler) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{handlers: handlers, logger: logger}
}

// Subscribe registers an additional handler.
func (b *EventBus) Subscribe(h EventHandler) {
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every handler.
func (b *EventBus) Publish(ctx context.Context, evt Event) {
	if b == nil {
		return
	}
	for _, h := range b.handlers {
		if err := h.HandleEvent(ctx, evt); err != nil {
			b.logger.Error("event handler failed",
				slog.String("event", string(evt.Type)),
				slog.String("entity_id", evt.EntityID.String()),
				slog.Any("error", err),
			)
		}
	}
}

package notify

import (
	"context"

	"github.com/accesshub/accesshub/internal/grants"
)

// LifecycleListener turns grant lifecycle events into notification tasks.
// It observes events only; it never reads lifecycle state directly.
type LifecycleListener struct {
	service *Service
}

// NewLifecycleListener constructs the listener.
func NewLifecycleListener(service *Service) *LifecycleListener {
	return &LifecycleListener{service: service}
}

var eventTemplates = map[grants.EventType]TemplateType{
	grants.EventRequestSubmitted: TemplateRequestSubmitted,
	grants.EventRequestApproved:  TemplateRequestApproved,
	grants.EventRequestRejected:  TemplateRequestRejected,
	grants.EventGrantExpiring:    TemplateGrantExpiring,
	grants.EventGrantExpired:     TemplateGrantExpired,
	grants.EventGrantRevoked:     TemplateGrantRevoked,
}

// HandleEvent enqueues the notification matching the event, when one exists.
// The recipient is the affected principal carried in the event detail.
func (l *LifecycleListener) HandleEvent(ctx context.Context, evt grants.Event) error {
	template, ok := eventTemplates[evt.Type]
	if !ok {
		return nil
	}
	recipient, _ := evt.Detail["principal_id"].(string)
	if recipient == "" {
		return nil
	}
	payload := make(map[string]any, len(evt.Detail)+1)
	for k, v := range evt.Detail {
		payload[k] = v
	}
	payload["entity_id"] = evt.EntityID.String()
	_, err := l.service.Enqueue(ctx, recipient, template, payload)
	return err
}

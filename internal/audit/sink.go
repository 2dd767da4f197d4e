package audit

import (
	"context"
	"strings"

	"github.com/accesshub/accesshub/internal/grants"
)

// RecorderPort is the write side consumed by the sink.
type RecorderPort interface {
	Record(ctx context.Context, entry Entry) error
}

// Sink subscribes to lifecycle events and records one immutable entry per
// transition. It is the only audit path; nothing reads lifecycle state
// directly.
type Sink struct {
	recorder RecorderPort
}

// NewSink constructs the sink.
func NewSink(recorder RecorderPort) *Sink {
	return &Sink{recorder: recorder}
}

// HandleEvent records the event.
func (s *Sink) HandleEvent(ctx context.Context, evt grants.Event) error {
	return s.recorder.Record(ctx, Entry{
		ActorID:  evt.ActorID,
		Action:   string(evt.Type),
		Entity:   entityKind(evt.Type),
		EntityID: evt.EntityID.String(),
		Meta:     evt.Detail,
		At:       evt.OccurredAt,
	})
}

func entityKind(typ grants.EventType) string {
	if strings.HasPrefix(string(typ), "Request") {
		return "permission_request"
	}
	return "permission_grant"
}

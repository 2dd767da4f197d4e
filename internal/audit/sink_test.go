package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/accesshub/accesshub/internal/grants"
)

type memoryRecorder struct {
	entries []Entry
}

func (r *memoryRecorder) Record(ctx context.Context, entry Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func TestSinkRecordsRequestAndGrantEvents(t *testing.T) {
	recorder := &memoryRecorder{}
	sink := NewSink(recorder)

	actor := "admin"
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reqID := uuid.New()
	grantID := uuid.New()

	require.NoError(t, sink.HandleEvent(context.Background(), grants.Event{
		Type:       grants.EventRequestApproved,
		EntityID:   reqID,
		ActorID:    &actor,
		OccurredAt: at,
		Detail:     map[string]any{"principal_id": "alice"},
	}))
	require.NoError(t, sink.HandleEvent(context.Background(), grants.Event{
		Type:       grants.EventGrantExpired,
		EntityID:   grantID,
		OccurredAt: at,
	}))

	require.Len(t, recorder.entries, 2)

	first := recorder.entries[0]
	require.Equal(t, "RequestApproved", first.Action)
	require.Equal(t, "permission_request", first.Entity)
	require.Equal(t, reqID.String(), first.EntityID)
	require.NotNil(t, first.ActorID)
	require.Equal(t, "admin", *first.ActorID)

	second := recorder.entries[1]
	require.Equal(t, "permission_grant", second.Entity)
	require.Nil(t, second.ActorID)
}

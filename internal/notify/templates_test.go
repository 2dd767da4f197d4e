package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderKnownTemplates(t *testing.T) {
	task := Task{
		Template: TemplateGrantExpiring,
		Payload: map[string]any{
			"level":      "elevated",
			"resource":   "billing-db",
			"expires_at": "2025-06-08T12:00:00Z",
		},
	}
	msg, err := Render(task)
	require.NoError(t, err)
	require.Equal(t, "Access expiring soon", msg.Subject)
	require.Contains(t, msg.Body, "Elevated access to billing-db")
	require.Contains(t, msg.Body, "2025-06-08T12:00:00Z")
}

func TestRenderOptionalReason(t *testing.T) {
	withReason, err := Render(Task{
		Template: TemplateGrantRevoked,
		Payload:  map[string]any{"resource": "billing-db", "reason": "access review"},
	})
	require.NoError(t, err)
	require.Contains(t, withReason.Body, "Reason: access review")

	withoutReason, err := Render(Task{
		Template: TemplateGrantRevoked,
		Payload:  map[string]any{"resource": "billing-db"},
	})
	require.NoError(t, err)
	require.NotContains(t, withoutReason.Body, "Reason:")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := Render(Task{Template: "carrier_pigeon"})
	require.Error(t, err)
}

package notify

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/accesshub/accesshub/internal/platform/httpx"
)

// Handler exposes the notification dead-letter queue for manual attention.
type Handler struct {
	service *Service
}

// NewHandler constructs the notification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes attaches notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dead-letters", h.listDeadLetters)
}

type deadLetterView struct {
	ID            uuid.UUID  `json:"id"`
	Recipient     string     `json:"recipient"`
	Template      string     `json:"template"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.DeadLetters(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	views := make([]deadLetterView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, deadLetterView{
			ID:            t.ID,
			Recipient:     t.Recipient,
			Template:      string(t.Template),
			RetryCount:    t.RetryCount,
			LastError:     t.LastError,
			NextAttemptAt: t.NextAttemptAt,
			CreatedAt:     t.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}

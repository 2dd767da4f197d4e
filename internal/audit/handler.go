package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/accesshub/accesshub/internal/authz"
	"github.com/accesshub/accesshub/internal/platform/httpx"
)

// Handler exposes the audit trail over HTTP.
type Handler struct {
	recorder *Recorder
	guard    *authz.Guard
}

// NewHandler constructs the audit handler.
func NewHandler(recorder *Recorder, guard *authz.Guard) *Handler {
	return &Handler{recorder: recorder, guard: guard}
}

// MountRoutes attaches audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/entities/{entityID}", h.listForEntity)
}

func (h *Handler) listForEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Authorize(r.Context(), authz.PermAuditView, ""); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.recorder.List(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

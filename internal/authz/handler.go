package authz

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/accesshub/accesshub/internal/platform/httpx"
)

// Handler exposes role-assignment and override administration over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs the authz admin handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// MountRoutes attaches authz admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Post("/assignments", h.assignRole)
	r.Delete("/assignments/{id}", h.removeAssignment)
	r.Get("/principals/{principalID}/assignments", h.listAssignments)
	r.Post("/overrides", h.putOverride)
	r.Delete("/overrides/{id}", h.removeOverride)
	r.Get("/principals/{principalID}/overrides", h.listOverrides)
}

type roleView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	HierarchyLevel int      `json:"hierarchy_level"`
	Permissions    []string `json:"permissions"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.service.resolver.Catalog().Roles()
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		perms := make([]string, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			perms = append(perms, string(p))
		}
		views = append(views, roleView{
			ID:             string(role.ID),
			Name:           role.Name,
			HierarchyLevel: role.HierarchyLevel,
			Permissions:    perms,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}

type assignRoleRequest struct {
	PrincipalID string     `json:"principal_id" validate:"required"`
	Role        string     `json:"role" validate:"required"`
	Scope       *string    `json:"scope,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	assignment, err := h.service.AssignRole(r.Context(), AssignRoleInput{
		PrincipalID: req.PrincipalID,
		Role:        RoleID(req.Role),
		Scope:       req.Scope,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) removeAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid assignment id")
		return
	}
	if err := h.service.RemoveAssignment(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.service.ListPrincipalAssignments(r.Context(), chi.URLParam(r, "principalID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignments)
}

type putOverrideRequest struct {
	PrincipalID string     `json:"principal_id" validate:"required"`
	Permission  string     `json:"permission" validate:"required"`
	IsGranted   bool       `json:"is_granted"`
	Scope       *string    `json:"scope,omitempty"`
	ResourceID  *string    `json:"resource_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) putOverride(w http.ResponseWriter, r *http.Request) {
	var req putOverrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	override, err := h.service.PutOverride(r.Context(), PutOverrideInput{
		PrincipalID: req.PrincipalID,
		Permission:  Permission(req.Permission),
		IsGranted:   req.IsGranted,
		Scope:       req.Scope,
		ResourceID:  req.ResourceID,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, override)
}

func (h *Handler) removeOverride(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid override id")
		return
	}
	if err := h.service.RemoveOverride(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.service.ListPrincipalOverrides(r.Context(), chi.URLParam(r, "principalID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overrides)
}

package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tallyard/tallyard/internal/platform/httpx"
	"github.com/tallyard/tallyard/internal/rbac"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), guard: guard}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.MenuSettings, rbac.SubmenuUsers, rbac.ActionRead))
		r.Get("/", h.listUsers)
		r.Get("/{id}/role", h.showRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.MenuSettings, rbac.SubmenuUsers, rbac.ActionWrite))
		r.Put("/{id}/role", h.reassignRole)
	})
}

type userResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, "list users", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{ID: u.ID, Email: u.Email, Name: u.Name, IsActive: u.IsActive})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

type assignmentResponse struct {
	UserID   int64  `json:"user_id"`
	RoleID   int64  `json:"role_id"`
	RoleName string `json:"role_name"`
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	assignment, err := h.service.ActiveAssignment(r.Context(), id)
	if err != nil {
		h.fail(w, r, "active assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignmentResponse{UserID: assignment.UserID, RoleID: assignment.RoleID, RoleName: assignment.RoleName})
}

type reassignRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) reassignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req reassignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := rbac.CurrentUserID(r)
	if err := h.service.Reassign(r.Context(), actorID, id, req.RoleID); err != nil {
		h.fail(w, r, "reassign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "role_id": req.RoleID})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User ID", "user id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tallyard/tallyard/internal/platform/httpx"
)

// Handler exposes the role and matrix administration API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		guard:    guard,
	}
}

// MountRoutes registers the administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(MenuSettings, SubmenuRoles, ActionRead))
		r.Get("/catalog", h.listCatalog)
		r.Get("/permissions", h.listPermissions)
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}/grants", h.listGrants)
		r.Get("/roles/{id}/matrix", h.showMatrix)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(MenuSettings, SubmenuRoles, ActionWrite))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{id}/grants", h.commitGrants)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(MenuSettings, SubmenuRoles, ActionDelete))
		r.Delete("/roles/{id}", h.deleteRole)
	})
}

type catalogNodeResponse struct {
	Menu        string   `json:"menu"`
	Submenu     string   `json:"submenu,omitempty"`
	Actions     []Action `json:"actions"`
	Description string   `json:"description"`
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	nodes := h.service.Catalog().Nodes()
	out := make([]catalogNodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, catalogNodeResponse{Menu: n.Menu, Submenu: n.Submenu, Actions: n.Actions, Description: n.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"nodes": out})
}

type permissionResponse struct {
	ID          int64  `json:"id"`
	Menu        string `json:"menu"`
	Submenu     string `json:"submenu,omitempty"`
	Action      Action `json:"action"`
	Description string `json:"description"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, r, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionResponse{ID: p.ID, Menu: p.Key.Menu, Submenu: p.Key.Submenu, Action: p.Key.Action, Description: p.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type roleResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `json:"is_system"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{ID: role.ID, Name: role.Name, Description: role.Description, IsSystem: role.IsSystem}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=255"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := CurrentUserID(r)
	role, err := h.service.CreateRole(r.Context(), actorID, req.Name, req.Description)
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	actorID, _ := CurrentUserID(r)
	if err := h.service.DeleteRole(r.Context(), actorID, id); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantResponse struct {
	Menu      string `json:"menu"`
	Submenu   string `json:"submenu,omitempty"`
	Action    Action `json:"action"`
	CanAccess bool   `json:"can_access"`
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	grants, err := h.service.Grants(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list grants", err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantResponse{Menu: g.Key.Menu, Submenu: g.Key.Submenu, Action: g.Key.Action, CanAccess: g.CanAccess})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": id, "grants": out})
}

type matrixCellResponse struct {
	Menu      string `json:"menu"`
	Submenu   string `json:"submenu,omitempty"`
	Action    Action `json:"action"`
	CanAccess bool   `json:"can_access"`
	Pending   bool   `json:"pending"`
}

// showMatrix returns the full editable matrix for a role: one cell per
// catalog key with its effective value. For the Administrator role ungranted
// cells surface as pending grants, keeping the UI truthful about the
// always-allow semantics.
func (h *Handler) showMatrix(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, "load role", err)
		return
	}
	actorID, _ := CurrentUserID(r)
	session := NewEditorSession(h.service, actorID, role)
	if err := session.Load(r.Context()); err != nil {
		h.fail(w, r, "load matrix", err)
		return
	}
	keys := h.service.Catalog().Keys()
	cells := make([]matrixCellResponse, 0, len(keys))
	for _, key := range keys {
		_, pending := session.pending.Value(key)
		cells = append(cells, matrixCellResponse{
			Menu:      key.Menu,
			Submenu:   key.Submenu,
			Action:    key.Action,
			CanAccess: session.Effective(key),
			Pending:   pending,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":    toRoleResponse(role),
		"pending": session.PendingCount(),
		"cells":   cells,
	})
}

type grantUpdateRequest struct {
	Menu      string `json:"menu" validate:"required"`
	Submenu   string `json:"submenu"`
	Action    Action `json:"action" validate:"required"`
	CanAccess bool   `json:"can_access"`
}

type commitGrantsRequest struct {
	Updates []grantUpdateRequest `json:"updates" validate:"required,min=1,dive"`
}

func (h *Handler) commitGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req commitGrantsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	updates := make([]GrantUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		if !u.Action.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown action "+string(u.Action))
			return
		}
		updates = append(updates, GrantUpdate{
			Key:       Key{Menu: u.Menu, Submenu: u.Submenu, Action: u.Action},
			CanAccess: u.CanAccess,
		})
	}
	actorID, _ := CurrentUserID(r)
	if err := h.service.CommitGrants(r.Context(), actorID, id, updates); err != nil {
		h.fail(w, r, "commit grants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": id, "committed": len(updates)})
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Role ID", "role id must be a positive integer")
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

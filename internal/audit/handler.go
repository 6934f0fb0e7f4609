package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tallyard/tallyard/internal/platform/httpx"
	"github.com/tallyard/tallyard/internal/rbac"
)

// Handler exposes the audit timeline as a read-only API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers the timeline route. Reading the trail is gated like
// the rest of role administration.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(rbac.MenuSettings, rbac.SubmenuRoles, rbac.ActionRead))
		r.Get("/", h.timeline)
	})
}

type entryResponse struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actor_id"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type pagingResponse struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseFilters(w, r)
	if !ok {
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("audit timeline", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}

	rows := make([]entryResponse, 0, len(result.Rows))
	for _, e := range result.Rows {
		rows = append(rows, entryResponse{
			ID:         e.ID,
			ActorID:    e.ActorID,
			Action:     e.Action,
			Entity:     e.Entity,
			EntityID:   e.EntityID,
			Meta:       e.Meta,
			OccurredAt: e.OccurredAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"rows": rows,
		"paging": pagingResponse{
			Page:     result.Paging.Page,
			PageSize: result.Paging.PageSize,
			HasNext:  result.Paging.HasNext,
			PrevPage: result.Paging.PrevPage,
			NextPage: result.Paging.NextPage,
		},
	})
}

func parseFilters(w http.ResponseWriter, r *http.Request) (Filters, bool) {
	q := r.URL.Query()
	filters := Filters{
		Entity: q.Get("entity"),
		Action: q.Get("action"),
	}
	for _, spec := range []struct {
		name   string
		target *int
	}{
		{"page", &filters.Page},
		{"page_size", &filters.PageSize},
	} {
		if raw := q.Get(spec.name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Query", spec.name+" must be a non-negative integer")
				return Filters{}, false
			}
			*spec.target = v
		}
	}
	if raw := q.Get("actor_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "actor_id must be a positive integer")
			return Filters{}, false
		}
		filters.ActorID = v
	}
	for _, spec := range []struct {
		name   string
		target *time.Time
	}{
		{"from", &filters.From},
		{"to", &filters.To},
	} {
		if raw := q.Get(spec.name); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Query", spec.name+" must be RFC3339")
				return Filters{}, false
			}
			*spec.target = ts
		}
	}
	return filters, true
}

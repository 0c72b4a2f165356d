// Package handlers contains the HTTP handler implementations for the
// Guardpoint API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"guardpoint/internal/core"
	"guardpoint/internal/scheduler"
	"guardpoint/internal/types"
)

// ScheduleService is the schedule registry contract this handler depends on.
// Mirrors the concrete scheduler.Registry methods.
type ScheduleService interface {
	Create(ctx context.Context, req *scheduler.ScheduleRequest) (*types.Schedule, error)
	Update(ctx context.Context, scheduleID string, req *scheduler.ScheduleRequest) (*types.Schedule, error)
	Delete(ctx context.Context, scheduleID string) error
	Get(ctx context.Context, scheduleID string) (*types.Schedule, error)
	List(ctx context.Context, filter scheduler.ListFilter) (*scheduler.ListResult, error)
}

// deleteResponse is the body for DELETE /v1/schedules/{scheduleId}.
type deleteResponse struct {
	Deleted    bool   `json:"deleted"`
	ScheduleID string `json:"scheduleId"`
}

// ScheduleHandler manages schedule CRUD over the registry.
type ScheduleHandler struct {
	schedules ScheduleService
	validator *core.Validator
	logger    *slog.Logger
}

// NewScheduleHandler creates a ScheduleHandler with the provided dependencies.
func NewScheduleHandler(schedules ScheduleService, v *core.Validator, l *slog.Logger) *ScheduleHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ScheduleHandler{schedules: schedules, validator: v, logger: l}
}

// RegisterRoutes mounts schedule routes on the provided chi.Router.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/schedules", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{scheduleId}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/schedules.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduler.ScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sched, err := h.schedules.Create(r.Context(), &req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, sched)
}

// Get handles GET /v1/schedules/{scheduleId}.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleId")

	sched, err := h.schedules.Get(r.Context(), scheduleID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, sched)
}

// Update handles PUT /v1/schedules/{scheduleId}. Full replace: the request
// carries every field, not a partial patch.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleId")

	var req scheduler.ScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sched, err := h.schedules.Update(r.Context(), scheduleID, &req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, sched)
}

// Delete handles DELETE /v1/schedules/{scheduleId}.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleId")

	if err := h.schedules.Delete(r.Context(), scheduleID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, deleteResponse{Deleted: true, ScheduleID: scheduleID})
}

// List handles GET /v1/schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := scheduler.ListFilter{
		TenantID:     query.Get("tenantId"),
		ScheduleType: query.Get("scheduleType"),
		Status:       query.Get("status"),
		NextToken:    query.Get("nextToken"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || limit < 1 {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField,
				"limit must be a positive integer", nil,
				map[string]any{"limit": raw}))
			return
		}
		filter.Limit = int32(limit)
	}

	result, err := h.schedules.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, result)
}

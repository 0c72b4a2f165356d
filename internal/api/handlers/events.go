package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"guardpoint/internal/core"
	"guardpoint/internal/db"
	"guardpoint/internal/events"
	"guardpoint/internal/types"
)

// EventPublisher puts an event on the shared bus. Mirrors
// *eventbus.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, raw types.PlatformEvent) error
}

// EventRouter processes an event synchronously. Mirrors *events.Router.
type EventRouter interface {
	RouteSync(ctx context.Context, raw types.PlatformEvent) (*events.Outcome, error)
}

// EventHistory lists recorded compliance events. Mirrors
// *db.ComplianceEventRepository.
type EventHistory interface {
	List(ctx context.Context, filter db.EventFilter) ([]*types.ComplianceEvent, error)
}

// TriggerEventRequest is the request body for POST /v1/events/trigger.
type TriggerEventRequest struct {
	Source     string          `json:"source" validate:"required"`
	DetailType string          `json:"detailType" validate:"required"`
	Detail     json.RawMessage `json:"detail" validate:"required"`
	// ProcessSync routes the event in-request instead of waiting for bus
	// delivery; routing errors then surface to the caller.
	ProcessSync bool `json:"processSync,omitempty"`
}

// EventProcessorResponse is the body for POST /v1/events/trigger.
type EventProcessorResponse struct {
	Published bool            `json:"published"`
	Processed bool            `json:"processed"`
	Outcome   *events.Outcome `json:"outcome,omitempty"`
}

// eventHistoryResponse is the body for GET /v1/events/history.
type eventHistoryResponse struct {
	Events []*types.ComplianceEvent `json:"events"`
}

// EventHandler exposes manual event triggering and history retrieval.
type EventHandler struct {
	publisher EventPublisher
	router    EventRouter
	history   EventHistory
	validator *core.Validator
	logger    *slog.Logger
}

// NewEventHandler creates an EventHandler with the provided dependencies.
func NewEventHandler(publisher EventPublisher, router EventRouter, history EventHistory, v *core.Validator, l *slog.Logger) *EventHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EventHandler{publisher: publisher, router: router, history: history, validator: v, logger: l}
}

// RegisterRoutes mounts event routes on the provided chi.Router.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/trigger", h.Trigger)
		r.Get("/history", h.History)
	})
}

// Trigger handles POST /v1/events/trigger: publishes the event to the bus
// and, if requested, processes it synchronously in the same request.
func (h *EventHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	raw := types.PlatformEvent{
		Source:     req.Source,
		DetailType: req.DetailType,
		Detail:     req.Detail,
	}

	if err := h.publisher.Publish(r.Context(), raw); err != nil {
		core.Error(w, r, err)
		return
	}

	resp := EventProcessorResponse{Published: true}
	if req.ProcessSync {
		outcome, err := h.router.RouteSync(r.Context(), raw)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		resp.Processed = true
		resp.Outcome = outcome
	}

	core.JSON(w, r, http.StatusAccepted, resp)
}

// History handles GET /v1/events/history.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := db.EventFilter{
		TenantID:  query.Get("tenantId"),
		EventType: query.Get("eventType"),
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
		filter.Limit = int(limit)
	}

	items, err := h.history.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.ComplianceEvent{}
	}

	core.JSON(w, r, http.StatusOK, eventHistoryResponse{Events: items})
}

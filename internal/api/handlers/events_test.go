package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardpoint/internal/core"
	"guardpoint/internal/db"
	"guardpoint/internal/events"
	"guardpoint/internal/types"
)

type mockPublisher struct {
	published []types.PlatformEvent
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, raw types.PlatformEvent) error {
	m.published = append(m.published, raw)
	return m.err
}

type mockRouter struct {
	routed  []types.PlatformEvent
	outcome *events.Outcome
	err     error
}

func (m *mockRouter) RouteSync(_ context.Context, raw types.PlatformEvent) (*events.Outcome, error) {
	m.routed = append(m.routed, raw)
	return m.outcome, m.err
}

type mockHistory struct {
	filter db.EventFilter
	items  []*types.ComplianceEvent
	err    error
}

func (m *mockHistory) List(_ context.Context, filter db.EventFilter) ([]*types.ComplianceEvent, error) {
	m.filter = filter
	return m.items, m.err
}

func eventRouterHandler(pub EventPublisher, router EventRouter, history EventHistory) http.Handler {
	h := NewEventHandler(pub, router, history,
		core.NewValidator(slog.New(slog.DiscardHandler)), slog.New(slog.DiscardHandler))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

const triggerBody = `{
	"source": "guardpoint.compliance",
	"detailType": "manual-scan",
	"detail": {"tenantId": "tenant-1", "workflowName": "full-account-scan"}
}`

func TestTriggerPublishesOnly(t *testing.T) {
	pub := &mockPublisher{}
	router := &mockRouter{}
	handler := eventRouterHandler(pub, router, &mockHistory{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/trigger", strings.NewReader(triggerBody)))

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "guardpoint.compliance", pub.published[0].Source)
	assert.Empty(t, router.routed)

	var resp EventProcessorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Published)
	assert.False(t, resp.Processed)
}

func TestTriggerProcessSync(t *testing.T) {
	pub := &mockPublisher{}
	router := &mockRouter{outcome: &events.Outcome{
		EventID:   "event-1",
		EventType: "manual-workflow",
		Status:    types.EventStatusCompleted,
	}}
	handler := eventRouterHandler(pub, router, &mockHistory{})

	body := strings.TrimSuffix(strings.TrimSpace(triggerBody), "}") + `, "processSync": true}`
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/trigger", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, router.routed, 1)

	var resp EventProcessorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Processed)
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, "event-1", resp.Outcome.EventID)
}

func TestTriggerSyncFailurePropagates(t *testing.T) {
	pub := &mockPublisher{}
	router := &mockRouter{
		outcome: &events.Outcome{Status: types.EventStatusFailed},
		err:     types.NewAppError(types.ErrCodeUpstreamWorkflow, "workflow start failed", nil),
	}
	handler := eventRouterHandler(pub, router, &mockHistory{})

	body := strings.TrimSuffix(strings.TrimSpace(triggerBody), "}") + `, "processSync": true}`
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/trigger", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeUpstreamWorkflow))
}

func TestTriggerPublishFailure(t *testing.T) {
	pub := &mockPublisher{err: types.NewAppError(types.ErrCodeUpstreamEventBus, "event bus publish failed", nil)}
	handler := eventRouterHandler(pub, &mockRouter{}, &mockHistory{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/trigger", strings.NewReader(triggerBody)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestTriggerMissingSource(t *testing.T) {
	pub := &mockPublisher{}
	handler := eventRouterHandler(pub, &mockRouter{}, &mockHistory{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/trigger",
		strings.NewReader(`{"detailType":"manual-scan","detail":{}}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pub.published)
}

func TestEventHistory(t *testing.T) {
	history := &mockHistory{items: []*types.ComplianceEvent{
		{EventID: "event-1", EventType: "storage-bucket-check", Status: types.EventStatusCompleted},
	}}
	handler := eventRouterHandler(&mockPublisher{}, &mockRouter{}, history)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/events/history?tenantId=tenant-1&eventType=storage-bucket-check&limit=25", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-1", history.filter.TenantID)
	assert.Equal(t, "storage-bucket-check", history.filter.EventType)
	assert.Equal(t, 25, history.filter.Limit)

	var resp eventHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "event-1", resp.Events[0].EventID)
}

func TestEventHistoryEmpty(t *testing.T) {
	handler := eventRouterHandler(&mockPublisher{}, &mockRouter{}, &mockHistory{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/history", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[]}`, w.Body.String())
}

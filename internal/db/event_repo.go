package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guardpoint/internal/types"
)

// ComplianceEventRepository provides data access for the compliance_events
// table, the processing history of inbound events. Terminal statuses are
// enforced in SQL: COMPLETED and FAILED rows are never transitioned again.
type ComplianceEventRepository struct {
	db DBTX
}

// NewComplianceEventRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewComplianceEventRepository(db DBTX) *ComplianceEventRepository {
	return &ComplianceEventRepository{db: db}
}

// Create inserts a new processing record in TRIGGERED state.
func (r *ComplianceEventRepository) Create(ctx context.Context, ev *types.ComplianceEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO compliance_events
		 (event_id, event_type, tenant_id, source, status, triggered_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		ev.EventID,
		ev.EventType,
		ev.TenantID,
		ev.Source,
		string(types.EventStatusTriggered),
		nilIfZeroTime(ev.TriggeredAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			"failed to create compliance event", err)
	}
	return nil
}

// MarkProcessing transitions a record to PROCESSING unless it is already
// terminal.
func (r *ComplianceEventRepository) MarkProcessing(ctx context.Context, eventID string) error {
	return r.transition(ctx, eventID, types.EventStatusProcessing, "", "")
}

// MarkCompleted transitions a record to COMPLETED with the routing result.
func (r *ComplianceEventRepository) MarkCompleted(ctx context.Context, eventID, result string) error {
	return r.transition(ctx, eventID, types.EventStatusCompleted, result, "")
}

// MarkFailed transitions a record to FAILED with the error message.
func (r *ComplianceEventRepository) MarkFailed(ctx context.Context, eventID, errMsg string) error {
	return r.transition(ctx, eventID, types.EventStatusFailed, "", errMsg)
}

func (r *ComplianceEventRepository) transition(ctx context.Context, eventID string, status types.EventStatus, result, errMsg string) error {
	var completedAt any
	if status.Terminal() {
		completedAt = time.Now().UTC()
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE compliance_events
		 SET status = $2,
		     result = NULLIF($3, ''),
		     error = NULLIF($4, ''),
		     completed_at = COALESCE($5, completed_at)
		 WHERE event_id = $1
		   AND status NOT IN ('COMPLETED', 'FAILED')`,
		eventID,
		string(status),
		result,
		errMsg,
		completedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			fmt.Sprintf("failed to transition compliance event to %s", status), err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundEvent,
			"compliance event not found or already terminal", nil,
			map[string]any{"eventId": eventID, "status": string(status)})
	}
	return nil
}

// EventFilter narrows List results. Zero values mean "no constraint".
type EventFilter struct {
	TenantID  string
	EventType string
	Limit     int
}

// List returns processing records ordered most-recent-first.
func (r *ComplianceEventRepository) List(ctx context.Context, filter EventFilter) ([]*types.ComplianceEvent, error) {
	var conds []string
	var args []any

	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		conds = append(conds, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := r.db.Query(ctx, fmt.Sprintf(
		`SELECT event_id, event_type, tenant_id, source, status,
		        triggered_at, completed_at, COALESCE(result, ''), COALESCE(error, '')
		 FROM compliance_events
		 %s
		 ORDER BY triggered_at DESC
		 LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"failed to list compliance events", err)
	}
	defer rows.Close()

	var events []*types.ComplianceEvent
	for rows.Next() {
		var ev types.ComplianceEvent
		var status string
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.TenantID, &ev.Source,
			&status, &ev.TriggeredAt, &ev.CompletedAt, &ev.Result, &ev.Error); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB,
				"failed to scan compliance event", err)
		}
		ev.Status = types.EventStatus(status)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"failed reading compliance events", err)
	}

	return events, nil
}

// nilIfZeroTime lets SQL defaults apply for unset timestamps.
func nilIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

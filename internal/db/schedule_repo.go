package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"guardpoint/internal/types"
)

// ScheduleMeta is the side-channel metadata persisted per schedule. The
// external scheduler stores only the derived name and the resolved target;
// tenant, type, and the raw parameters are recovered from this row on
// get/list. A missing row (schedule created outside the registry) surfaces
// as "unknown" metadata, never as a guess.
type ScheduleMeta struct {
	ScheduleID   string
	ScheduleType string
	TenantID     string
	Parameters   map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduleMetaRepository provides data access for the schedule_metadata table.
type ScheduleMetaRepository struct {
	db DBTX
}

// NewScheduleMetaRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewScheduleMetaRepository(db DBTX) *ScheduleMetaRepository {
	return &ScheduleMetaRepository{db: db}
}

// Upsert inserts or fully replaces the metadata row for a schedule.
// Update semantics are full-replace, matching the registry's update contract.
func (r *ScheduleMetaRepository) Upsert(ctx context.Context, meta *ScheduleMeta) error {
	params, err := json.Marshal(meta.Parameters)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to serialize schedule parameters", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO schedule_metadata
		 (schedule_id, schedule_type, tenant_id, parameters, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (schedule_id) DO UPDATE SET
		   schedule_type = EXCLUDED.schedule_type,
		   tenant_id     = EXCLUDED.tenant_id,
		   parameters    = EXCLUDED.parameters,
		   updated_at    = NOW()`,
		meta.ScheduleID,
		meta.ScheduleType,
		meta.TenantID,
		params,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			"failed to upsert schedule metadata", err)
	}
	return nil
}

// Get fetches the metadata row for a schedule. Returns (nil, nil) when no
// row exists; callers treat that as recoverable (metadata reported unknown).
func (r *ScheduleMetaRepository) Get(ctx context.Context, scheduleID string) (*ScheduleMeta, error) {
	var meta ScheduleMeta
	var params []byte

	err := r.db.QueryRow(ctx,
		`SELECT schedule_id, schedule_type, tenant_id, parameters, created_at, updated_at
		 FROM schedule_metadata
		 WHERE schedule_id = $1`,
		scheduleID,
	).Scan(&meta.ScheduleID, &meta.ScheduleType, &meta.TenantID, &params, &meta.CreatedAt, &meta.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"failed to fetch schedule metadata", err)
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &meta.Parameters); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB,
				"failed to decode schedule parameters", err)
		}
	}

	return &meta, nil
}

// Delete removes the metadata row for a schedule. Deleting a missing row is
// not an error; the external scheduler is the source of truth for existence.
func (r *ScheduleMetaRepository) Delete(ctx context.Context, scheduleID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM schedule_metadata WHERE schedule_id = $1`,
		scheduleID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			"failed to delete schedule metadata", err)
	}
	return nil
}

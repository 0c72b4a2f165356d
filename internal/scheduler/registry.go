// Package scheduler implements the schedule registry: CRUD over named,
// cron-triggered dispatch rules held in the managed scheduler service.
// Cron and target validation happen before any external call (fail fast, no
// partial side effects); every external call goes through the resilience
// layer. Tenant and schedule-type metadata, which the external
// representation cannot recover, is persisted in the side-channel metadata
// store keyed by schedule ID.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsscheduler "github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedulerTypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"guardpoint/internal/config"
	"guardpoint/internal/cron"
	"guardpoint/internal/db"
	"guardpoint/internal/dispatch"
	"guardpoint/internal/resilience"
	"guardpoint/internal/types"
)

// listFetchConcurrency bounds the per-schedule detail fan-out during List.
const listFetchConcurrency = 8

// unknownMetadata is reported for tenant/type when no metadata row exists
// for a schedule (e.g., one created outside this registry). Never guessed.
const unknownMetadata = "unknown"

// SchedulerClient abstracts the managed scheduler API for testability.
// Production code uses *scheduler.Client from aws-sdk-go-v2.
type SchedulerClient interface {
	CreateSchedule(ctx context.Context, params *awsscheduler.CreateScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, params *awsscheduler.UpdateScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.UpdateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, params *awsscheduler.DeleteScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.DeleteScheduleOutput, error)
	GetSchedule(ctx context.Context, params *awsscheduler.GetScheduleInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.GetScheduleOutput, error)
	ListSchedules(ctx context.Context, params *awsscheduler.ListSchedulesInput, optFns ...func(*awsscheduler.Options)) (*awsscheduler.ListSchedulesOutput, error)
}

// MetaStore abstracts the schedule metadata repository.
type MetaStore interface {
	Upsert(ctx context.Context, meta *db.ScheduleMeta) error
	Get(ctx context.Context, scheduleID string) (*db.ScheduleMeta, error)
	Delete(ctx context.Context, scheduleID string) error
}

// ScheduleRequest is the input for Create and Update. Update semantics are
// full replace: every field is taken from the request.
type ScheduleRequest struct {
	ScheduleType          string            `json:"scheduleType" validate:"required"`
	TenantID              string            `json:"tenantId" validate:"required"`
	CronExpression        string            `json:"cronExpression" validate:"required"`
	Timezone              string            `json:"timezone,omitempty"`
	Enabled               *bool             `json:"enabled,omitempty"`
	Description           string            `json:"description,omitempty" validate:"max=512"`
	FlexibleWindowMinutes int32             `json:"flexibleWindowMinutes,omitempty"`
	Parameters            map[string]string `json:"parameters,omitempty"`
	Target                types.Target      `json:"target" validate:"required"`
}

// ListFilter narrows List results; filtering happens client-side because the
// external API cannot filter on recovered metadata.
type ListFilter struct {
	TenantID     string
	ScheduleType string
	// Status filters on enabled state: "ENABLED", "DISABLED", or "" for all.
	Status    string
	Limit     int32
	NextToken string
}

// ListResult is one page of schedules plus the continuation token.
type ListResult struct {
	Schedules []*types.Schedule `json:"schedules"`
	NextToken string            `json:"nextToken,omitempty"`
}

// Registry manages schedule lifecycle against the managed scheduler.
type Registry struct {
	client   SchedulerClient
	meta     MetaStore
	resolver *dispatch.Resolver
	res      *resilience.Context
	retry    *resilience.Retryer
	cfg      config.SchedulerConfig
	logger   *slog.Logger
	newID    func() string // for testability; defaults to uuid.NewString
}

// NewRegistry creates a Registry with the given dependencies.
func NewRegistry(client SchedulerClient, meta MetaStore, resolver *dispatch.Resolver, res *resilience.Context, retry *resilience.Retryer, cfg config.SchedulerConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:   client,
		meta:     meta,
		resolver: resolver,
		res:      res,
		retry:    retry,
		cfg:      cfg,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Create registers a new schedule. Validation and target resolution complete
// before the external create call is attempted, so a rejected request has no
// side effects.
func (r *Registry) Create(ctx context.Context, req *ScheduleRequest) (*types.Schedule, error) {
	scheduleID := r.newID()

	sched, invocation, err := r.prepare(ctx, scheduleID, req)
	if err != nil {
		return nil, err
	}

	input := &awsscheduler.CreateScheduleInput{
		Name:                       aws.String(sched.ScheduleName),
		GroupName:                  aws.String(r.cfg.GroupName),
		ScheduleExpression:         aws.String(cronExpression(sched.CronExpression)),
		ScheduleExpressionTimezone: aws.String(sched.Timezone),
		State:                      scheduleState(sched.Enabled),
		Description:                aws.String(sched.Description),
		FlexibleTimeWindow: &schedulerTypes.FlexibleTimeWindow{
			Mode:                   schedulerTypes.FlexibleTimeWindowModeFlexible,
			MaximumWindowInMinutes: aws.Int32(sched.FlexibleWindowMinutes),
		},
		Target: r.externalTarget(invocation),
	}
	if r.cfg.KMSKeyARN != "" {
		input.KmsKeyArn = aws.String(r.cfg.KMSKeyARN)
	}

	err = r.retry.Do(ctx, func(ctx context.Context) error {
		_, err := r.res.Execute(resilience.DepScheduler, func() (any, error) {
			out, err := r.client.CreateSchedule(ctx, input)
			if err != nil {
				return nil, mapSchedulerError(err, sched.ScheduleID)
			}
			return out, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	r.persistMetadata(ctx, sched)

	r.logger.Info("schedule created",
		"schedule_id", sched.ScheduleID,
		"schedule_type", sched.ScheduleType,
		"tenant_id", sched.TenantID,
		"next_execution", sched.NextExecution,
	)
	return sched, nil
}

// Update fully replaces an existing schedule. The external name is re-derived
// from the schedule ID; no lookup is needed to address the schedule.
func (r *Registry) Update(ctx context.Context, scheduleID string, req *ScheduleRequest) (*types.Schedule, error) {
	sched, invocation, err := r.prepare(ctx, scheduleID, req)
	if err != nil {
		return nil, err
	}

	input := &awsscheduler.UpdateScheduleInput{
		Name:                       aws.String(sched.ScheduleName),
		GroupName:                  aws.String(r.cfg.GroupName),
		ScheduleExpression:         aws.String(cronExpression(sched.CronExpression)),
		ScheduleExpressionTimezone: aws.String(sched.Timezone),
		State:                      scheduleState(sched.Enabled),
		Description:                aws.String(sched.Description),
		FlexibleTimeWindow: &schedulerTypes.FlexibleTimeWindow{
			Mode:                   schedulerTypes.FlexibleTimeWindowModeFlexible,
			MaximumWindowInMinutes: aws.Int32(sched.FlexibleWindowMinutes),
		},
		Target: r.externalTarget(invocation),
	}
	if r.cfg.KMSKeyARN != "" {
		input.KmsKeyArn = aws.String(r.cfg.KMSKeyARN)
	}

	err = r.retry.Do(ctx, func(ctx context.Context) error {
		_, err := r.res.Execute(resilience.DepScheduler, func() (any, error) {
			out, err := r.client.UpdateSchedule(ctx, input)
			if err != nil {
				return nil, mapSchedulerError(err, scheduleID)
			}
			return out, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	r.persistMetadata(ctx, sched)

	r.logger.Info("schedule updated", "schedule_id", scheduleID)
	return sched, nil
}

// Delete removes a schedule. A missing schedule surfaces as
// not_found_schedule rather than being silently ignored.
func (r *Registry) Delete(ctx context.Context, scheduleID string) error {
	name := ScheduleName(scheduleID)

	err := r.retry.Do(ctx, func(ctx context.Context) error {
		_, err := r.res.Execute(resilience.DepScheduler, func() (any, error) {
			out, err := r.client.DeleteSchedule(ctx, &awsscheduler.DeleteScheduleInput{
				Name:      aws.String(name),
				GroupName: aws.String(r.cfg.GroupName),
			})
			if err != nil {
				return nil, mapSchedulerError(err, scheduleID)
			}
			return out, nil
		})
		return err
	})
	if err != nil {
		return err
	}

	// Best effort: the external schedule is already gone, so a metadata
	// failure only degrades future history queries.
	if err := r.meta.Delete(ctx, scheduleID); err != nil {
		r.logger.Warn("failed to delete schedule metadata",
			"schedule_id", scheduleID, "error", err)
	}

	r.logger.Info("schedule deleted", "schedule_id", scheduleID)
	return nil
}

// Get fetches a schedule's external state and rehydrates the domain model:
// the cron expression is parsed back out of the external form, nextExecution
// is recomputed, and tenant/type are joined from the metadata store.
func (r *Registry) Get(ctx context.Context, scheduleID string) (*types.Schedule, error) {
	name := ScheduleName(scheduleID)

	var out *awsscheduler.GetScheduleOutput
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		result, err := r.res.Execute(resilience.DepScheduler, func() (any, error) {
			o, err := r.client.GetSchedule(ctx, &awsscheduler.GetScheduleInput{
				Name:      aws.String(name),
				GroupName: aws.String(r.cfg.GroupName),
			})
			if err != nil {
				return nil, mapSchedulerError(err, scheduleID)
			}
			return o, nil
		})
		if err != nil {
			return err
		}
		out = result.(*awsscheduler.GetScheduleOutput)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.rehydrate(ctx, scheduleID, out)
}

// List returns one page of the registry's schedules with client-side
// tenant/type/state filtering. Entries that fail to parse are skipped with a
// warning, not propagated as errors.
func (r *Registry) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	input := &awsscheduler.ListSchedulesInput{
		GroupName:  aws.String(r.cfg.GroupName),
		NamePrefix: aws.String(schedulePrefix),
		MaxResults: aws.Int32(limit),
	}
	if filter.NextToken != "" {
		input.NextToken = aws.String(filter.NextToken)
	}

	var page *awsscheduler.ListSchedulesOutput
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		result, err := r.res.Execute(resilience.DepScheduler, func() (any, error) {
			o, err := r.client.ListSchedules(ctx, input)
			if err != nil {
				return nil, mapSchedulerError(err, "")
			}
			return o, nil
		})
		if err != nil {
			return err
		}
		page = result.(*awsscheduler.ListSchedulesOutput)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Fetch each schedule's detail with bounded concurrency. Individual
	// failures skip the entry; the page itself still succeeds.
	schedules := make([]*types.Schedule, len(page.Schedules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listFetchConcurrency)

	for i, summary := range page.Schedules {
		if summary.Name == nil {
			continue
		}
		scheduleID, ok := ScheduleIDFromName(*summary.Name)
		if !ok {
			continue
		}
		i := i
		g.Go(func() error {
			sched, err := r.Get(gctx, scheduleID)
			if err != nil {
				r.logger.Warn("skipping unparseable schedule in list",
					"schedule_id", scheduleID, "error", err)
				return nil
			}
			schedules[i] = sched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ListResult{Schedules: make([]*types.Schedule, 0, len(schedules))}
	for _, sched := range schedules {
		if sched == nil || !matchesFilter(sched, filter) {
			continue
		}
		result.Schedules = append(result.Schedules, sched)
	}
	if page.NextToken != nil {
		result.NextToken = *page.NextToken
	}

	return result, nil
}

// prepare validates the request, computes the next fire time, and resolves
// the target. Any failure here happens before external calls.
func (r *Registry) prepare(ctx context.Context, scheduleID string, req *ScheduleRequest) (*types.Schedule, *dispatch.Invocation, error) {
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	window := req.FlexibleWindowMinutes
	if window == 0 {
		window = types.DefaultFlexibleWindowMinutes
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	if err := types.ValidateScheduleFields(req.ScheduleType, req.TenantID, timezone, window); err != nil {
		return nil, nil, err
	}
	if err := cron.Validate(req.CronExpression); err != nil {
		return nil, nil, err
	}

	next, err := cron.NextFireTime(req.CronExpression, timezone)
	if err != nil {
		return nil, nil, err
	}

	invocation, err := r.resolver.Resolve(ctx, req.Target, req.TenantID, req.ScheduleType, scheduleID, req.Parameters)
	if err != nil {
		return nil, nil, err
	}

	sched := &types.Schedule{
		ScheduleID:            scheduleID,
		ScheduleName:          ScheduleName(scheduleID),
		ScheduleType:          req.ScheduleType,
		TenantID:              req.TenantID,
		CronExpression:        req.CronExpression,
		Timezone:              timezone,
		Enabled:               enabled,
		Description:           req.Description,
		FlexibleWindowMinutes: window,
		Parameters:            req.Parameters,
		Target:                req.Target,
		NextExecution:         &next,
	}
	return sched, invocation, nil
}

// persistMetadata records the side-channel metadata after a successful
// external write. The external schedule is authoritative; a metadata failure
// only degrades tenant/type recovery on later reads, so it is logged, not
// propagated.
func (r *Registry) persistMetadata(ctx context.Context, sched *types.Schedule) {
	err := r.meta.Upsert(ctx, &db.ScheduleMeta{
		ScheduleID:   sched.ScheduleID,
		ScheduleType: sched.ScheduleType,
		TenantID:     sched.TenantID,
		Parameters:   sched.Parameters,
	})
	if err != nil {
		r.logger.Warn("failed to persist schedule metadata",
			"schedule_id", sched.ScheduleID, "error", err)
	}
}

// rehydrate rebuilds the domain schedule from external state plus metadata.
func (r *Registry) rehydrate(ctx context.Context, scheduleID string, out *awsscheduler.GetScheduleOutput) (*types.Schedule, error) {
	expr, err := parseCronExpression(aws.ToString(out.ScheduleExpression))
	if err != nil {
		return nil, err
	}

	timezone := aws.ToString(out.ScheduleExpressionTimezone)
	if timezone == "" {
		timezone = "UTC"
	}

	next, err := cron.NextFireTime(expr, timezone)
	if err != nil {
		return nil, err
	}

	sched := &types.Schedule{
		ScheduleID:     scheduleID,
		ScheduleName:   aws.ToString(out.Name),
		ScheduleType:   unknownMetadata,
		TenantID:       unknownMetadata,
		CronExpression: expr,
		Timezone:       timezone,
		Enabled:        out.State == schedulerTypes.ScheduleStateEnabled,
		Description:    aws.ToString(out.Description),
		NextExecution:  &next,
	}
	if out.FlexibleTimeWindow != nil && out.FlexibleTimeWindow.MaximumWindowInMinutes != nil {
		sched.FlexibleWindowMinutes = *out.FlexibleTimeWindow.MaximumWindowInMinutes
	}
	if out.Target != nil {
		sched.Target = targetFromARN(aws.ToString(out.Target.Arn))
	}
	if out.CreationDate != nil {
		sched.CreatedAt = *out.CreationDate
	}
	if out.LastModificationDate != nil {
		sched.UpdatedAt = *out.LastModificationDate
	}

	meta, err := r.meta.Get(ctx, scheduleID)
	if err != nil {
		r.logger.Warn("failed to read schedule metadata",
			"schedule_id", scheduleID, "error", err)
	} else if meta != nil {
		sched.ScheduleType = meta.ScheduleType
		sched.TenantID = meta.TenantID
		sched.Parameters = meta.Parameters
	}

	return sched, nil
}

// externalTarget builds the managed-scheduler target from a resolved
// invocation.
func (r *Registry) externalTarget(invocation *dispatch.Invocation) *schedulerTypes.Target {
	return &schedulerTypes.Target{
		Arn:     aws.String(invocation.TargetARN),
		RoleArn: aws.String(r.cfg.ExecutionRoleARN),
		Input:   aws.String(string(invocation.Payload)),
		RetryPolicy: &schedulerTypes.RetryPolicy{
			MaximumRetryAttempts: aws.Int32(3),
		},
	}
}

func scheduleState(enabled bool) schedulerTypes.ScheduleState {
	if enabled {
		return schedulerTypes.ScheduleStateEnabled
	}
	return schedulerTypes.ScheduleStateDisabled
}

func matchesFilter(sched *types.Schedule, filter ListFilter) bool {
	if filter.TenantID != "" && sched.TenantID != filter.TenantID {
		return false
	}
	if filter.ScheduleType != "" && sched.ScheduleType != filter.ScheduleType {
		return false
	}
	switch strings.ToUpper(filter.Status) {
	case "ENABLED":
		return sched.Enabled
	case "DISABLED":
		return !sched.Enabled
	}
	return true
}

// cronExpression wraps the raw 5/6-field expression in the external API's
// cron(...) form.
func cronExpression(expr string) string {
	return fmt.Sprintf("cron(%s)", expr)
}

// parseCronExpression unwraps cron(...) back to the raw expression.
func parseCronExpression(external string) (string, error) {
	if strings.HasPrefix(external, "cron(") && strings.HasSuffix(external, ")") {
		return strings.TrimSuffix(strings.TrimPrefix(external, "cron("), ")"), nil
	}
	return "", types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
		"external schedule expression is not a cron expression", nil,
		map[string]any{"expression": external})
}

// targetFromARN reconstructs the target union from a resolved identifier.
func targetFromARN(arn string) types.Target {
	name := arn
	if idx := strings.LastIndexAny(arn, ":/"); idx >= 0 {
		name = arn[idx+1:]
	}
	switch {
	case strings.Contains(arn, ":states:"):
		return types.Target{Type: types.TargetWorkflow, WorkflowName: name}
	case strings.Contains(arn, ":lambda:"):
		return types.Target{Type: types.TargetFunction, FunctionName: name}
	case strings.Contains(arn, ":sns:"):
		return types.Target{Type: types.TargetTopic, TopicName: name}
	}
	return types.Target{}
}

// mapSchedulerError translates managed-scheduler failures into AppErrors.
func mapSchedulerError(err error, scheduleID string) error {
	var notFound *schedulerTypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundSchedule,
			"schedule not found", err,
			map[string]any{"scheduleId": scheduleID})
	}

	var conflict *schedulerTypes.ConflictException
	if errors.As(err, &conflict) {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictSchedule,
			"schedule already exists", err,
			map[string]any{"scheduleId": scheduleID})
	}

	return types.NewAppError(types.ErrCodeUpstreamScheduler,
		"managed scheduler call failed", err)
}

// ABOUTME: Task mutation service used by both the HTTP API and in-band connection requests
// ABOUTME: Validates, persists, then publishes change events to project and user channels

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/dedupe"
	"github.com/2389/taskboard-gateway/internal/metrics"
	"github.com/2389/taskboard-gateway/internal/rooms"
	"github.com/2389/taskboard-gateway/internal/store"
)

// Publisher sends an event to the members of a channel.
type Publisher interface {
	Publish(ctx context.Context, ch rooms.ChannelID, name string, payload any) error
}

// TokenIssuer mints bearer tokens for signup and login.
type TokenIssuer interface {
	Generate(userID string, expiresIn time.Duration) (string, error)
}

// Service performs task, project, notification and account operations.
// Every mutation takes an already-resolved principal; transports resolve it
// and translate the returned *Error into their own reply shape.
type Service struct {
	store     store.Store
	publisher Publisher
	deduper   dedupe.Deduper
	tokens    TokenIssuer
	tokenTTL  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDeduper enables idempotency keys on create.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) { s.deduper = d }
}

// WithTokens enables signup and login.
func WithTokens(issuer TokenIssuer, ttl time.Duration) Option {
	return func(s *Service) {
		s.tokens = issuer
		s.tokenTTL = ttl
	}
}

// WithMetrics records mutation outcomes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service. Pass nil logger for default.
func New(st store.Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		publisher: publisher,
		logger:    logger.With("component", "tasks"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type viaKey struct{}

// WithEntryPoint tags ctx with the transport a mutation arrived on
// ("http", "ws", "grpc"). It only affects metrics and logs.
func WithEntryPoint(ctx context.Context, via string) context.Context {
	return context.WithValue(ctx, viaKey{}, via)
}

func entryPoint(ctx context.Context) string {
	if via, ok := ctx.Value(viaKey{}).(string); ok {
		return via
	}
	return "http"
}

// observe records the outcome of a mutation; errp points at the named result.
func (s *Service) observe(ctx context.Context, op string, start time.Time, errp *error) {
	code := "ok"
	if *errp != nil {
		code = string(CodeOf(*errp))
		if code == string(CodeInternal) {
			s.logger.Error("mutation failed", "op", op, "via", entryPoint(ctx), "error", *errp)
		}
	}
	s.metrics.Mutation(op, entryPoint(ctx), code, time.Since(start))
}

// publish sends an event; failures are logged and never returned because
// the mutation has already been committed.
func (s *Service) publish(ctx context.Context, ch rooms.ChannelID, name string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ch, name, payload); err != nil {
		s.logger.Warn("publish failed", "event", name, "channel", ch, "error", err)
	}
}

// requireAssigneeOrAdmin enforces who may change an existing task.
func requireAssigneeOrAdmin(p *auth.Principal, task *store.Task) error {
	if p.IsAdmin() || task.AssigneeID == p.ID {
		return nil
	}
	return errForbidden("Not authorized to update this task")
}

// CreateTask validates and stores a task, logs the creation, notifies the
// assignee and publishes task-added to the project channel followed by
// notification-added to the assignee's user channel.
func (s *Service) CreateTask(ctx context.Context, p *auth.Principal, in CreateTaskInput) (view *TaskView, err error) {
	defer s.observe(ctx, "create_task", time.Now(), &err)

	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if !p.IsAdmin() {
		return nil, errForbidden("Admin access required")
	}

	task, issues := in.validate()
	if len(issues) > 0 {
		return nil, errInvalidPayload(issues)
	}
	if !store.IsValidID(task.AssigneeID) {
		return nil, errInvalidPayload([]Issue{{"assignee", "Invalid assignee ID"}})
	}
	if !store.IsValidID(task.ProjectID) {
		return nil, errInvalidPayload([]Issue{{"projectId", "Invalid project ID"}})
	}

	// persisted is set once the task row exists; from then on the
	// idempotency key stays claimed even if a later step fails.
	persisted := false
	if in.IdempotencyKey != "" && s.deduper != nil {
		added, derr := s.deduper.Add(ctx, p.ID, in.IdempotencyKey)
		if derr != nil {
			return nil, errInternal("Error creating task", derr)
		}
		if !added {
			return nil, errConflict("duplicate request")
		}
		defer func() {
			if err != nil && !persisted {
				if rerr := s.deduper.Remove(context.WithoutCancel(ctx), p.ID, in.IdempotencyKey); rerr != nil {
					s.logger.Warn("releasing idempotency key", "error", rerr)
				}
			}
		}()
	}

	assignee, err := s.store.GetUser(ctx, task.AssigneeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotFound("Assignee not found")
	}
	if err != nil {
		return nil, errInternal("Error creating task", err)
	}

	project, err := s.store.GetProject(ctx, task.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotFound("Project not found")
	}
	if err != nil {
		return nil, errInternal("Error creating task", err)
	}

	now := s.now()
	task.ID = store.NewID()
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, errInternal("Error creating task", err)
	}
	persisted = true

	if err := s.store.CreateActivityLog(ctx, &store.ActivityLog{
		ID:        store.NewID(),
		TaskID:    task.ID,
		UserID:    p.ID,
		Action:    store.ActionCreated,
		Details:   "Task created and assigned to " + assignee.Name,
		CreatedAt: now,
	}); err != nil {
		return nil, errInternal("Error creating task", err)
	}

	notification := &store.Notification{
		ID:        store.NewID(),
		UserID:    assignee.ID,
		Title:     "New Task Assigned",
		Message:   fmt.Sprintf("You have been assigned a new task: \"%s\" in project \"%s\".", task.Title, project.Title),
		Type:      store.NotificationInfo,
		CreatedAt: now,
	}
	if err := s.store.CreateNotification(ctx, notification); err != nil {
		return nil, errInternal("Error creating task", err)
	}

	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, errInternal("Failed to retrieve created task", err)
	}
	view = taskView(created, assignee, project)

	s.publish(ctx, rooms.ProjectChannel(project.ID), rooms.EventTaskAdded, view)
	s.publish(ctx, rooms.UserChannel(assignee.ID), rooms.EventNotificationAdded, notificationView(notification))

	s.logger.Info("task created",
		"task_id", task.ID,
		"project_id", project.ID,
		"assignee_id", assignee.ID,
		"by", p.ID,
		"via", entryPoint(ctx))
	return view, nil
}

// DeleteTask removes a task and its activity logs and publishes
// task-deleted to the project channel the task belonged to.
func (s *Service) DeleteTask(ctx context.Context, p *auth.Principal, id string) (err error) {
	defer s.observe(ctx, "delete_task", time.Now(), &err)

	if p == nil {
		return errUnauthenticated("Not authorized")
	}
	if !p.IsAdmin() {
		return errForbidden("Admin access required")
	}
	if !store.IsValidID(id) {
		return errInvalidID("Invalid task ID")
	}

	task, err := s.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound("Task not found")
	}
	if err != nil {
		return errInternal("Error deleting task", err)
	}

	if err := s.store.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNotFound("Task not found")
		}
		return errInternal("Error deleting task", err)
	}

	s.publish(ctx, rooms.ProjectChannel(task.ProjectID), rooms.EventTaskDeleted, DeletedPayload{TaskID: id})

	s.logger.Info("task deleted", "task_id", id, "project_id", task.ProjectID, "by", p.ID, "via", entryPoint(ctx))
	return nil
}

// UpdateTask applies a partial update. Only an admin or the current
// assignee may update; the check runs before anything is written.
func (s *Service) UpdateTask(ctx context.Context, p *auth.Principal, id string, in UpdateTaskInput) (view *TaskView, err error) {
	defer s.observe(ctx, "update_task", time.Now(), &err)

	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if !store.IsValidID(id) {
		return nil, errInvalidID("Invalid task ID")
	}
	if issues := in.validate(); len(issues) > 0 {
		return nil, errInvalidPayload(issues)
	}

	task, err := s.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotFound("Task not found")
	}
	if err != nil {
		return nil, errInternal("Error updating task", err)
	}
	if err := requireAssigneeOrAdmin(p, task); err != nil {
		return nil, err
	}

	var newAssignee *store.User
	if in.Assignee != nil {
		if !store.IsValidID(*in.Assignee) {
			return nil, errInvalidPayload([]Issue{{"assignee", "Invalid assignee ID"}})
		}
		newAssignee, err = s.store.GetUser(ctx, *in.Assignee)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("Assignee not found")
		}
		if err != nil {
			return nil, errInternal("Error updating task", err)
		}
	}
	if in.ProjectID != nil {
		if !store.IsValidID(*in.ProjectID) {
			return nil, errInvalidPayload([]Issue{{"projectId", "Invalid project ID"}})
		}
		if _, err := s.store.GetProject(ctx, *in.ProjectID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errNotFound("Project not found")
			}
			return nil, errInternal("Error updating task", err)
		}
	}

	action, details := describeUpdate(task, in, newAssignee)

	updated := *task
	if in.Title != nil {
		updated.Title = *in.Title
	}
	if in.Description != nil {
		updated.Description = *in.Description
	}
	if in.Assignee != nil {
		updated.AssigneeID = *in.Assignee
	}
	if in.Status != nil {
		updated.Status = store.TaskStatus(*in.Status)
	}
	if in.Priority != nil {
		updated.Priority = store.Priority(*in.Priority)
	}
	if in.Deadline != nil {
		updated.Deadline, _ = parseDeadline(*in.Deadline)
	}
	if in.ProjectID != nil {
		updated.ProjectID = *in.ProjectID
	}
	updated.UpdatedAt = s.now()

	if err := s.store.UpdateTask(ctx, &updated); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("Task not found")
		}
		return nil, errInternal("Error updating task", err)
	}

	if err := s.store.CreateActivityLog(ctx, &store.ActivityLog{
		ID:        store.NewID(),
		TaskID:    id,
		UserID:    p.ID,
		Action:    action,
		Details:   details,
		CreatedAt: updated.UpdatedAt,
	}); err != nil {
		return nil, errInternal("Error updating task", err)
	}

	view, err = s.populate(ctx, id)
	if err != nil {
		return nil, errInternal("Error updating task", err)
	}

	s.publish(ctx, rooms.ProjectChannel(updated.ProjectID), rooms.EventTaskUpdated, view)
	return view, nil
}

// describeUpdate picks the activity log entry for an update: a status
// change wins over an assignee change, which wins over anything else.
func describeUpdate(old *store.Task, in UpdateTaskInput, newAssignee *store.User) (string, string) {
	if in.Status != nil && store.TaskStatus(*in.Status) != old.Status {
		return store.ActionStatusChanged, "Status changed to " + *in.Status
	}
	if in.Assignee != nil && *in.Assignee != old.AssigneeID {
		name := "Unknown"
		if newAssignee != nil {
			name = newAssignee.Name
		}
		return store.ActionUpdated, "Assignee changed to " + name
	}
	return store.ActionUpdated, "Task updated"
}

// MoveTask persists a drag-and-drop status change and publishes task-moved
// to the task's project channel. Moving a task to the status it already
// has still publishes but writes nothing.
func (s *Service) MoveTask(ctx context.Context, p *auth.Principal, in MoveTaskInput) (payload *MovePayload, err error) {
	defer s.observe(ctx, "move_task", time.Now(), &err)

	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if !store.IsValidID(in.TaskID) {
		return nil, errInvalidID("Invalid task ID")
	}
	status := store.TaskStatus(in.NewStatus)
	if !status.Valid() {
		return nil, errInvalidPayload([]Issue{{"newStatus", "Invalid status"}})
	}

	task, err := s.store.GetTask(ctx, in.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotFound("Task not found")
	}
	if err != nil {
		return nil, errInternal("Error moving task", err)
	}
	if err := requireAssigneeOrAdmin(p, task); err != nil {
		return nil, err
	}

	if task.Status != status {
		task.Status = status
		task.UpdatedAt = s.now()
		if err := s.store.UpdateTask(ctx, task); err != nil {
			return nil, errInternal("Error moving task", err)
		}
		if err := s.store.CreateActivityLog(ctx, &store.ActivityLog{
			ID:        store.NewID(),
			TaskID:    task.ID,
			UserID:    p.ID,
			Action:    store.ActionStatusChanged,
			Details:   "Status changed to " + string(status),
			CreatedAt: task.UpdatedAt,
		}); err != nil {
			return nil, errInternal("Error moving task", err)
		}
	}

	payload = &MovePayload{TaskID: task.ID, NewStatus: status, ProjectID: task.ProjectID}
	s.publish(ctx, rooms.ProjectChannel(task.ProjectID), rooms.EventTaskMoved, payload)
	return payload, nil
}

// CanViewProject reports whether p may watch a project's board: admins
// always may, other users only when listed as project members.
func (s *Service) CanViewProject(ctx context.Context, p *auth.Principal, projectID string) error {
	if p == nil {
		return errUnauthenticated("Not authorized")
	}
	if !store.IsValidID(projectID) {
		return errInvalidID("Invalid project ID")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound("Project not found")
	}
	if err != nil {
		return errInternal("Error loading project", err)
	}
	if p.IsAdmin() || project.HasMember(p.ID) {
		return nil
	}
	return errForbidden("Not a member of this project")
}

// populate re-reads a task and expands its assignee and project.
func (s *Service) populate(ctx context.Context, id string) (*TaskView, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	assignee, err := s.store.GetUser(ctx, task.AssigneeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, task.ProjectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return taskView(task, assignee, project), nil
}

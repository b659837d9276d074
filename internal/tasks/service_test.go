// ABOUTME: Tests for task mutations against MockStore with a recording publisher
// ABOUTME: Covers validation, authorization, persistence side effects and emitted events

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/dedupe"
	"github.com/2389/taskboard-gateway/internal/rooms"
	"github.com/2389/taskboard-gateway/internal/store"
)

type published struct {
	Channel rooms.ChannelID
	Name    string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(ctx context.Context, ch rooms.ChannelID, name string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Channel: ch, Name: name, Payload: payload})
	return nil
}

func (r *recordingPublisher) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

// fixture is a seeded store: one admin, one assignee, one outsider and a
// project whose only member is the assignee.
type fixture struct {
	svc      *Service
	store    *store.MockStore
	pub      *recordingPublisher
	admin    *auth.Principal
	assignee *store.User
	outsider *store.User
	project  *store.Project
}

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func seedUser(t *testing.T, st store.Store, name string, role store.Role) *store.User {
	t.Helper()
	u := &store.User{
		ID:        store.NewID(),
		Name:      name,
		Email:     name + "@example.com",
		Role:      role,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := store.NewMockStore()
	pub := &recordingPublisher{}
	svc := New(st, pub, nil, opts...)
	svc.now = func() time.Time { return fixedNow }

	admin := seedUser(t, st, "root", store.RoleAdmin)
	assignee := seedUser(t, st, "alice", store.RoleUser)
	outsider := seedUser(t, st, "mallory", store.RoleUser)

	project := &store.Project{
		ID:          store.NewID(),
		Title:       "Launch",
		Description: "Ship it",
		Status:      store.ProjectActive,
		Members:     []string{assignee.ID},
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
	require.NoError(t, st.CreateProject(context.Background(), project))

	return &fixture{
		svc:      svc,
		store:    st,
		pub:      pub,
		admin:    &auth.Principal{ID: admin.ID, Role: store.RoleAdmin},
		assignee: assignee,
		outsider: outsider,
		project:  project,
	}
}

func (f *fixture) principal(u *store.User) *auth.Principal {
	return &auth.Principal{ID: u.ID, Role: u.Role}
}

func (f *fixture) validInput() CreateTaskInput {
	return CreateTaskInput{
		Title:       "Fix bug",
		Description: "Crash on save",
		Assignee:    f.assignee.ID,
		Deadline:    "2026-03-10T12:00:00.000Z",
		ProjectID:   f.project.ID,
	}
}

func (f *fixture) createTask(t *testing.T) *TaskView {
	t.Helper()
	view, err := f.svc.CreateTask(t.Context(), f.admin, f.validInput())
	require.NoError(t, err)
	f.pub.events = nil
	return view
}

func TestCreateTask_AdminScenario(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.CreateTask(t.Context(), f.admin, f.validInput())
	require.NoError(t, err)

	assert.Equal(t, store.StatusTodo, view.Status)
	assert.Equal(t, store.PriorityMedium, view.Priority)
	assert.Equal(t, "Fix bug", view.Title)
	require.NotNil(t, view.Assignee)
	assert.Equal(t, f.assignee.ID, view.Assignee.ID)
	assert.Equal(t, "alice", view.Assignee.Name)
	require.NotNil(t, view.Project)
	assert.Equal(t, "Launch", view.Project.Title)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), view.Deadline)

	events := f.pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, rooms.ProjectChannel(f.project.ID), events[0].Channel)
	assert.Equal(t, rooms.EventTaskAdded, events[0].Name)
	assert.Same(t, view, events[0].Payload)
	assert.Equal(t, rooms.UserChannel(f.assignee.ID), events[1].Channel)
	assert.Equal(t, rooms.EventNotificationAdded, events[1].Name)

	logs, err := f.store.ListActivityLogs(t.Context(), view.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, store.ActionCreated, logs[0].Action)
	assert.Equal(t, "Task created and assigned to alice", logs[0].Details)
	assert.Equal(t, f.admin.ID, logs[0].UserID)

	notes, err := f.store.ListNotifications(t.Context(), f.assignee.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "New Task Assigned", notes[0].Title)
	assert.Equal(t, `You have been assigned a new task: "Fix bug" in project "Launch".`, notes[0].Message)
	assert.Equal(t, store.NotificationInfo, notes[0].Type)
	assert.False(t, notes[0].Read)

	n, ok := events[1].Payload.(*NotificationView)
	require.True(t, ok)
	assert.Equal(t, notes[0].ID, n.ID)
}

func TestCreateTask_UnknownAssigneeHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	in := f.validInput()
	in.Assignee = store.NewID()

	_, err := f.svc.CreateTask(t.Context(), f.admin, in)
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, "Assignee not found", MessageOf(err))

	list, _ := f.store.ListTasks(t.Context(), store.TaskFilter{})
	assert.Empty(t, list)
	notes, _ := f.store.ListNotifications(t.Context(), in.Assignee)
	assert.Empty(t, notes)
	assert.Empty(t, f.pub.all())
}

func TestCreateTask_UnknownProject(t *testing.T) {
	f := newFixture(t)
	in := f.validInput()
	in.ProjectID = store.NewID()

	_, err := f.svc.CreateTask(t.Context(), f.admin, in)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, "Project not found", MessageOf(err))
	assert.Empty(t, f.pub.all())
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateTaskInput)
		field  string
		msg    string
	}{
		{"missing title", func(in *CreateTaskInput) { in.Title = "  " }, "title", "Title is required"},
		{"missing description", func(in *CreateTaskInput) { in.Description = "" }, "description", "Description is required"},
		{"missing assignee", func(in *CreateTaskInput) { in.Assignee = "" }, "assignee", "Assignee ID is required"},
		{"bad status", func(in *CreateTaskInput) { in.Status = "blocked" }, "status", "Invalid status"},
		{"bad priority", func(in *CreateTaskInput) { in.Priority = "urgent" }, "priority", "Invalid priority"},
		{"bad deadline", func(in *CreateTaskInput) { in.Deadline = "next tuesday" }, "deadline", "Invalid date"},
		{"missing project", func(in *CreateTaskInput) { in.ProjectID = "" }, "projectId", "Project ID is required"},
		{"malformed assignee", func(in *CreateTaskInput) { in.Assignee = "abc" }, "assignee", "Invalid assignee ID"},
		{"malformed project", func(in *CreateTaskInput) { in.ProjectID = "abc" }, "projectId", "Invalid project ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.validInput()
			tt.mutate(&in)

			_, err := f.svc.CreateTask(t.Context(), f.admin, in)
			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, CodeInvalidPayload, te.Code)
			assert.Equal(t, tt.msg, te.Message)
			require.NotEmpty(t, te.Issues)
			assert.Equal(t, tt.field, te.Issues[0].Field)
		})
	}
	assert.Empty(t, f.pub.all())
}

func TestCreateTask_CollectsEveryIssue(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateTask(t.Context(), f.admin, CreateTaskInput{})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Title is required", te.Message)
	assert.Len(t, te.Issues, 5)
}

func TestCreateTask_ExplicitStatusAndPriority(t *testing.T) {
	f := newFixture(t)
	in := f.validInput()
	in.Status = "in-progress"
	in.Priority = "high"
	in.Deadline = "2026-04-01"

	view, err := f.svc.CreateTask(t.Context(), f.admin, in)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, view.Status)
	assert.Equal(t, store.PriorityHigh, view.Priority)
}

func TestCreateTask_Authorization(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateTask(t.Context(), nil, f.validInput())
	assert.Equal(t, CodeUnauthenticated, CodeOf(err))

	_, err = f.svc.CreateTask(t.Context(), f.principal(f.assignee), f.validInput())
	assert.Equal(t, CodeForbidden, CodeOf(err))

	assert.Empty(t, f.pub.all())
}

func TestCreateTask_IgnoresClientUserID(t *testing.T) {
	f := newFixture(t)
	in := f.validInput()
	in.UserID = f.outsider.ID

	view, err := f.svc.CreateTask(t.Context(), f.admin, in)
	require.NoError(t, err)

	logs, _ := f.store.ListActivityLogs(t.Context(), view.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, f.admin.ID, logs[0].UserID)
}

func TestCreateTask_SameShapeFromBothEntryPoints(t *testing.T) {
	f := newFixture(t)

	httpView, err := f.svc.CreateTask(WithEntryPoint(t.Context(), "http"), f.admin, f.validInput())
	require.NoError(t, err)
	wsView, err := f.svc.CreateTask(WithEntryPoint(t.Context(), "ws"), f.admin, f.validInput())
	require.NoError(t, err)

	normalize := func(v *TaskView) map[string]any {
		c := *v
		c.ID = ""
		c.CreatedAt, c.UpdatedAt = time.Time{}, time.Time{}
		data, err := json.Marshal(&c)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
	assert.Equal(t, normalize(httpView), normalize(wsView))
	assert.NotEqual(t, httpView.ID, wsView.ID)
}

func TestCreateTask_IdempotencyKey(t *testing.T) {
	mem := dedupe.NewMemory(time.Minute, 100)
	t.Cleanup(mem.Close)
	f := newFixture(t, WithDeduper(mem))

	in := f.validInput()
	in.IdempotencyKey = "req-1"

	_, err := f.svc.CreateTask(t.Context(), f.admin, in)
	require.NoError(t, err)

	_, err = f.svc.CreateTask(t.Context(), f.admin, in)
	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.Equal(t, "duplicate request", MessageOf(err))

	list, _ := f.store.ListTasks(t.Context(), store.TaskFilter{})
	assert.Len(t, list, 1)
}

func TestCreateTask_FailedAttemptReleasesKey(t *testing.T) {
	mem := dedupe.NewMemory(time.Minute, 100)
	t.Cleanup(mem.Close)
	f := newFixture(t, WithDeduper(mem))

	in := f.validInput()
	in.IdempotencyKey = "req-2"
	in.Assignee = store.NewID()

	_, err := f.svc.CreateTask(t.Context(), f.admin, in)
	require.Equal(t, CodeNotFound, CodeOf(err))

	in.Assignee = f.assignee.ID
	_, err = f.svc.CreateTask(t.Context(), f.admin, in)
	assert.NoError(t, err)
}

// notificationFailingStore fails only notification writes, after the task
// and its log have been stored.
type notificationFailingStore struct {
	*store.MockStore
}

func (s *notificationFailingStore) CreateNotification(ctx context.Context, n *store.Notification) error {
	return errors.New("disk full")
}

func TestCreateTask_FailureAfterPersistKeepsTask(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}
	svc := New(&notificationFailingStore{f.store}, pub, nil)

	_, err := svc.CreateTask(t.Context(), f.admin, f.validInput())
	assert.Equal(t, CodeInternal, CodeOf(err))

	list, _ := f.store.ListTasks(t.Context(), store.TaskFilter{})
	assert.Len(t, list, 1, "task stays persisted")
	assert.Empty(t, pub.all(), "nothing is published for a failed mutation")
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	err := f.svc.DeleteTask(t.Context(), f.admin, store.NewID())
	assert.Equal(t, CodeNotFound, CodeOf(err))

	err = f.svc.DeleteTask(t.Context(), f.admin, "not-an-id")
	assert.Equal(t, CodeInvalidID, CodeOf(err))

	err = f.svc.DeleteTask(t.Context(), f.principal(f.assignee), view.ID)
	assert.Equal(t, CodeForbidden, CodeOf(err))
	assert.Empty(t, f.pub.all())

	require.NoError(t, f.svc.DeleteTask(t.Context(), f.admin, view.ID))

	_, err = f.store.GetTask(t.Context(), view.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	logs, err := f.store.ListActivityLogs(t.Context(), view.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, rooms.EventTaskDeleted, events[0].Name)
	assert.Equal(t, rooms.ProjectChannel(f.project.ID), events[0].Channel)
	assert.Equal(t, DeletedPayload{TaskID: view.ID}, events[0].Payload)
}

func TestUpdateTask_ForbiddenLeavesTaskUnchanged(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	title := "Hijacked"
	_, err := f.svc.UpdateTask(t.Context(), f.principal(f.outsider), view.ID, UpdateTaskInput{Title: &title})
	assert.Equal(t, CodeForbidden, CodeOf(err))
	assert.Equal(t, "Not authorized to update this task", MessageOf(err))

	got, err := f.store.GetTask(t.Context(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", got.Title)
	assert.Empty(t, f.pub.all())
}

func TestUpdateTask_AssigneeChangesStatus(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	status := "in-progress"
	updated, err := f.svc.UpdateTask(t.Context(), f.principal(f.assignee), view.ID, UpdateTaskInput{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, updated.Status)

	logs, _ := f.store.ListActivityLogs(t.Context(), view.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, store.ActionStatusChanged, logs[1].Action)
	assert.Equal(t, "Status changed to in-progress", logs[1].Details)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, rooms.EventTaskUpdated, events[0].Name)
	assert.Equal(t, rooms.ProjectChannel(f.project.ID), events[0].Channel)
}

func TestUpdateTask_ActivityDetails(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	reassign := f.outsider.ID
	_, err := f.svc.UpdateTask(t.Context(), f.admin, view.ID, UpdateTaskInput{Assignee: &reassign})
	require.NoError(t, err)

	title := "Renamed"
	_, err = f.svc.UpdateTask(t.Context(), f.admin, view.ID, UpdateTaskInput{Title: &title})
	require.NoError(t, err)

	logs, _ := f.store.ListActivityLogs(t.Context(), view.ID)
	require.Len(t, logs, 3)
	assert.Equal(t, "Assignee changed to mallory", logs[1].Details)
	assert.Equal(t, store.ActionUpdated, logs[2].Action)
	assert.Equal(t, "Task updated", logs[2].Details)
}

func TestUpdateTask_Errors(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	empty := ""
	missing := store.NewID()
	bad := "nope"

	tests := []struct {
		name string
		p    *auth.Principal
		id   string
		in   UpdateTaskInput
		code Code
	}{
		{"no principal", nil, view.ID, UpdateTaskInput{}, CodeUnauthenticated},
		{"malformed id", f.admin, "123", UpdateTaskInput{}, CodeInvalidID},
		{"empty title", f.admin, view.ID, UpdateTaskInput{Title: &empty}, CodeInvalidPayload},
		{"bad status", f.admin, view.ID, UpdateTaskInput{Status: &bad}, CodeInvalidPayload},
		{"unknown task", f.admin, missing, UpdateTaskInput{}, CodeNotFound},
		{"unknown assignee", f.admin, view.ID, UpdateTaskInput{Assignee: &missing}, CodeNotFound},
		{"malformed project", f.admin, view.ID, UpdateTaskInput{ProjectID: &bad}, CodeInvalidPayload},
		{"unknown project", f.admin, view.ID, UpdateTaskInput{ProjectID: &missing}, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateTask(t.Context(), tt.p, tt.id, tt.in)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
	assert.Empty(t, f.pub.all())
}

func TestMoveTask_PersistsAndPublishes(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	payload, err := f.svc.MoveTask(t.Context(), f.principal(f.assignee), MoveTaskInput{
		TaskID:    view.ID,
		NewStatus: "done",
		ProjectID: "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, &MovePayload{TaskID: view.ID, NewStatus: store.StatusDone, ProjectID: f.project.ID}, payload)

	got, _ := f.store.GetTask(t.Context(), view.ID)
	assert.Equal(t, store.StatusDone, got.Status)

	logs, _ := f.store.ListActivityLogs(t.Context(), view.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, "Status changed to done", logs[1].Details)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, rooms.EventTaskMoved, events[0].Name)
	assert.Equal(t, rooms.ProjectChannel(f.project.ID), events[0].Channel)
}

func TestMoveTask_SameStatusWritesNoLog(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	_, err := f.svc.MoveTask(t.Context(), f.admin, MoveTaskInput{TaskID: view.ID, NewStatus: "todo"})
	require.NoError(t, err)

	logs, _ := f.store.ListActivityLogs(t.Context(), view.ID)
	assert.Len(t, logs, 1)
	assert.Len(t, f.pub.all(), 1)
}

func TestMoveTask_Errors(t *testing.T) {
	f := newFixture(t)
	view := f.createTask(t)

	_, err := f.svc.MoveTask(t.Context(), f.principal(f.outsider), MoveTaskInput{TaskID: view.ID, NewStatus: "done"})
	assert.Equal(t, CodeForbidden, CodeOf(err))

	_, err = f.svc.MoveTask(t.Context(), f.admin, MoveTaskInput{TaskID: view.ID, NewStatus: "archived"})
	assert.Equal(t, CodeInvalidPayload, CodeOf(err))

	_, err = f.svc.MoveTask(t.Context(), f.admin, MoveTaskInput{TaskID: "x", NewStatus: "done"})
	assert.Equal(t, CodeInvalidID, CodeOf(err))

	assert.Empty(t, f.pub.all())
}

func TestCanViewProject(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	assert.NoError(t, f.svc.CanViewProject(ctx, f.admin, f.project.ID))
	assert.NoError(t, f.svc.CanViewProject(ctx, f.principal(f.assignee), f.project.ID))
	assert.Equal(t, CodeForbidden, CodeOf(f.svc.CanViewProject(ctx, f.principal(f.outsider), f.project.ID)))
	assert.Equal(t, CodeNotFound, CodeOf(f.svc.CanViewProject(ctx, f.admin, store.NewID())))
	assert.Equal(t, CodeInvalidID, CodeOf(f.svc.CanViewProject(ctx, f.admin, "p1")))
	assert.Equal(t, CodeUnauthenticated, CodeOf(f.svc.CanViewProject(ctx, nil, f.project.ID)))
}

func TestParseDeadline(t *testing.T) {
	for _, s := range []string{"2026-03-10", "2026-03-10T12:00", "2026-03-10T12:00:00", "2026-03-10T12:00:00Z", "2026-03-10T17:30:00+05:30"} {
		got, ok := parseDeadline(s)
		assert.True(t, ok, s)
		assert.Equal(t, time.UTC, got.Location(), s)
	}
	_, ok := parseDeadline("10/03/2026")
	assert.False(t, ok)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	wrapped := errors.Join(errors.New("ctx"), errNotFound("x"))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))
}

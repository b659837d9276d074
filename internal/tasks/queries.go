// ABOUTME: Read-side operations and notification housekeeping for the HTTP API
// ABOUTME: None of these publish events; clients re-fetch through them after reconnecting

package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/store"
)

// viewCache memoizes user and project lookups while building a list.
type viewCache struct {
	store    store.Store
	users    map[string]*store.User
	projects map[string]*store.Project
}

func newViewCache(st store.Store) *viewCache {
	return &viewCache{
		store:    st,
		users:    make(map[string]*store.User),
		projects: make(map[string]*store.Project),
	}
}

func (c *viewCache) user(ctx context.Context, id string) (*store.User, error) {
	if u, ok := c.users[id]; ok {
		return u, nil
	}
	u, err := c.store.GetUser(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	c.users[id] = u
	return u, nil
}

func (c *viewCache) project(ctx context.Context, id string) (*store.Project, error) {
	if p, ok := c.projects[id]; ok {
		return p, nil
	}
	p, err := c.store.GetProject(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	c.projects[id] = p
	return p, nil
}

// ListTasks returns populated views of every task, or of one project's
// tasks when projectID is set.
func (s *Service) ListTasks(ctx context.Context, p *auth.Principal, projectID string) ([]*TaskView, error) {
	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if projectID != "" && !store.IsValidID(projectID) {
		return nil, errInvalidID("Invalid project ID")
	}

	list, err := s.store.ListTasks(ctx, store.TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, errInternal("Error fetching tasks", err)
	}

	cache := newViewCache(s.store)
	views := make([]*TaskView, 0, len(list))
	for _, t := range list {
		assignee, err := cache.user(ctx, t.AssigneeID)
		if err != nil {
			return nil, errInternal("Error fetching tasks", err)
		}
		project, err := cache.project(ctx, t.ProjectID)
		if err != nil {
			return nil, errInternal("Error fetching tasks", err)
		}
		views = append(views, taskView(t, assignee, project))
	}
	return views, nil
}

// ActivityLogs returns a task's history, oldest first.
func (s *Service) ActivityLogs(ctx context.Context, p *auth.Principal, taskID string) ([]*ActivityLogView, error) {
	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if !store.IsValidID(taskID) {
		return nil, errInvalidID("Invalid task ID")
	}

	logs, err := s.store.ListActivityLogs(ctx, taskID)
	if err != nil {
		return nil, errInternal("Error fetching activity logs", err)
	}

	cache := newViewCache(s.store)
	views := make([]*ActivityLogView, 0, len(logs))
	for _, l := range logs {
		u, err := cache.user(ctx, l.UserID)
		if err != nil {
			return nil, errInternal("Error fetching activity logs", err)
		}
		v := &ActivityLogView{
			ID:        l.ID,
			TaskID:    l.TaskID,
			Action:    l.Action,
			Details:   l.Details,
			CreatedAt: l.CreatedAt,
		}
		if u != nil {
			v.User = &UserSummary{ID: u.ID, Name: u.Name}
		}
		views = append(views, v)
	}
	return views, nil
}

// Notifications returns the principal's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, p *auth.Principal) ([]*NotificationView, error) {
	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	list, err := s.store.ListNotifications(ctx, p.ID)
	if err != nil {
		return nil, errInternal("Error fetching notifications", err)
	}
	views := make([]*NotificationView, 0, len(list))
	for _, n := range list {
		views = append(views, notificationView(n))
	}
	return views, nil
}

// ownNotification loads a notification and checks it belongs to p.
func (s *Service) ownNotification(ctx context.Context, p *auth.Principal, id, verb string) (*store.Notification, error) {
	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if !store.IsValidID(id) {
		return nil, errInvalidID("Invalid notification ID")
	}
	n, err := s.store.GetNotification(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotFound("Notification not found")
	}
	if err != nil {
		return nil, errInternal("Error loading notification", err)
	}
	if n.UserID != p.ID {
		return nil, errForbidden("Not authorized to " + verb + " this notification")
	}
	return n, nil
}

// MarkNotificationRead flags one of the principal's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, p *auth.Principal, id string) (*NotificationView, error) {
	n, err := s.ownNotification(ctx, p, id, "update")
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkNotificationRead(ctx, id); err != nil {
		return nil, errInternal("Error updating notification", err)
	}
	n.Read = true
	return notificationView(n), nil
}

// DeleteNotification removes one of the principal's notifications.
func (s *Service) DeleteNotification(ctx context.Context, p *auth.Principal, id string) error {
	if _, err := s.ownNotification(ctx, p, id, "delete"); err != nil {
		return err
	}
	if err := s.store.DeleteNotification(ctx, id); err != nil {
		return errInternal("Error deleting notification", err)
	}
	return nil
}

// ListUsers returns the accounts that can be assigned tasks.
func (s *Service) ListUsers(ctx context.Context, p *auth.Principal) ([]UserSummary, error) {
	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	users, err := s.store.ListUsers(ctx, store.RoleUser)
	if err != nil {
		return nil, errInternal("Error fetching users", err)
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, *userSummary(u))
	}
	return out, nil
}

// projectView expands members and counts the project's tasks.
func (s *Service) projectView(ctx context.Context, cache *viewCache, pr *store.Project) (*ProjectView, error) {
	v := &ProjectView{
		ID:          pr.ID,
		Title:       pr.Title,
		Description: pr.Description,
		Status:      pr.Status,
		Members:     make([]UserSummary, 0, len(pr.Members)),
		CreatedAt:   pr.CreatedAt,
		UpdatedAt:   pr.UpdatedAt,
	}
	for _, id := range pr.Members {
		u, err := cache.user(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			v.Members = append(v.Members, *userSummary(u))
		}
	}

	list, err := s.store.ListTasks(ctx, store.TaskFilter{ProjectID: pr.ID})
	if err != nil {
		return nil, err
	}
	v.TasksCount = len(list)
	for _, t := range list {
		if t.Status == store.StatusDone {
			v.CompletedTasks++
		}
	}
	return v, nil
}

// ListProjects returns every project with members and task counts.
func (s *Service) ListProjects(ctx context.Context, p *auth.Principal) ([]*ProjectView, error) {
	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, errInternal("Error fetching projects", err)
	}
	cache := newViewCache(s.store)
	views := make([]*ProjectView, 0, len(projects))
	for _, pr := range projects {
		v, err := s.projectView(ctx, cache, pr)
		if err != nil {
			return nil, errInternal("Error fetching projects", err)
		}
		views = append(views, v)
	}
	return views, nil
}

// CreateProject stores a new project. Without explicit members the
// creator becomes the only member.
func (s *Service) CreateProject(ctx context.Context, p *auth.Principal, in ProjectInput) (view *ProjectView, err error) {
	defer s.observe(ctx, "create_project", time.Now(), &err)

	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if !p.IsAdmin() {
		return nil, errForbidden("Admin access required")
	}
	status, issues := in.validate()
	if len(issues) > 0 {
		return nil, errInvalidPayload(issues)
	}

	members := in.Members
	if len(members) == 0 {
		members = []string{p.ID}
	}
	now := s.now()
	pr := &store.Project{
		ID:          store.NewID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		Members:     members,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(ctx, pr); err != nil {
		return nil, errInternal("Error creating project", err)
	}

	view, err = s.projectView(ctx, newViewCache(s.store), pr)
	if err != nil {
		return nil, errInternal("Error creating project", err)
	}
	s.logger.Info("project created", "project_id", pr.ID, "by", p.ID)
	return view, nil
}

// UpdateProject replaces a project's fields. A nil Members keeps the
// current member list.
func (s *Service) UpdateProject(ctx context.Context, p *auth.Principal, id string, in ProjectInput) (view *ProjectView, err error) {
	defer s.observe(ctx, "update_project", time.Now(), &err)

	if p == nil {
		return nil, errUnauthenticated("Not authorized")
	}
	if !p.IsAdmin() {
		return nil, errForbidden("Admin access required")
	}
	status, issues := in.validate()
	if len(issues) > 0 {
		return nil, errInvalidPayload(issues)
	}
	if !store.IsValidID(id) {
		return nil, errInvalidID("Invalid project ID")
	}

	pr, err := s.store.GetProject(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotFound("Project not found")
	}
	if err != nil {
		return nil, errInternal("Error updating project", err)
	}

	pr.Title = in.Title
	pr.Description = in.Description
	pr.Status = status
	if in.Members != nil {
		pr.Members = in.Members
	}
	pr.UpdatedAt = s.now()
	if err := s.store.UpdateProject(ctx, pr); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("Project not found")
		}
		return nil, errInternal("Error updating project", err)
	}

	view, err = s.projectView(ctx, newViewCache(s.store), pr)
	if err != nil {
		return nil, errInternal("Error updating project", err)
	}
	return view, nil
}

// DeleteProject removes a project together with its tasks.
func (s *Service) DeleteProject(ctx context.Context, p *auth.Principal, id string) (err error) {
	defer s.observe(ctx, "delete_project", time.Now(), &err)

	if p == nil {
		return errUnauthenticated("Not authorized")
	}
	if !p.IsAdmin() {
		return errForbidden("Admin access required")
	}
	if !store.IsValidID(id) {
		return errInvalidID("Invalid project ID")
	}
	if err := s.store.DeleteProject(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNotFound("Project not found")
		}
		return errInternal("Error deleting project", err)
	}
	s.logger.Info("project deleted", "project_id", id, "by", p.ID)
	return nil
}

// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	emailIndex    map[string]string        // keyed by lowercased email -> user ID
	projects      map[string]*Project      // keyed by project ID
	tasks         map[string]*Task         // keyed by task ID
	activity      map[string][]*ActivityLog // keyed by task ID
	notifications map[string]*Notification // keyed by notification ID

	// Err, when set, is returned by every write. Tests use it to simulate storage failures.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		emailIndex:    make(map[string]string),
		projects:      make(map[string]*Project),
		tasks:         make(map[string]*Task),
		activity:      make(map[string][]*ActivityLog),
		notifications: make(map[string]*Notification),
	}
}

// CreateUser stores a new user, rejecting duplicate emails.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if _, ok := m.emailIndex[user.Email]; ok {
		return ErrDuplicate
	}
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicate
	}

	u := *user
	m.users[u.ID] = &u
	m.emailIndex[u.Email] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emailIndex[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.users[id]
	return &result, nil
}

// ListUsers returns users with the given role (all when empty), by name.
func (m *MockStore) ListUsers(ctx context.Context, role Role) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*User
	for _, u := range m.users {
		if role != "" && u.Role != role {
			continue
		}
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CountUsers returns the number of stored users.
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func copyProject(p *Project) *Project {
	c := *p
	c.Members = append([]string{}, p.Members...)
	return &c
}

func dedupeMembers(members []string) []string {
	seen := make(map[string]bool, len(members))
	out := []string{}
	for _, id := range members {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CreateProject stores a new project.
func (m *MockStore) CreateProject(ctx context.Context, project *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.projects[project.ID]; ok {
		return ErrDuplicate
	}

	p := copyProject(project)
	p.Members = dedupeMembers(p.Members)
	m.projects[p.ID] = p
	return nil
}

// GetProject retrieves a project by ID.
func (m *MockStore) GetProject(ctx context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProject(p), nil
}

// ListProjects returns every project, newest first.
func (m *MockStore) ListProjects(ctx context.Context) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, copyProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateProject replaces a stored project.
func (m *MockStore) UpdateProject(ctx context.Context, project *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	existing, ok := m.projects[project.ID]
	if !ok {
		return ErrNotFound
	}
	p := copyProject(project)
	p.Members = dedupeMembers(p.Members)
	p.CreatedAt = existing.CreatedAt
	m.projects[p.ID] = p
	return nil
}

// DeleteProject removes a project with its tasks and their activity logs.
func (m *MockStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	for taskID, t := range m.tasks {
		if t.ProjectID == id {
			delete(m.tasks, taskID)
			delete(m.activity, taskID)
		}
	}
	return nil
}

// CreateTask stores a new task.
func (m *MockStore) CreateTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.tasks[task.ID]; ok {
		return ErrDuplicate
	}

	t := *task
	m.tasks[t.ID] = &t
	return nil
}

// GetTask retrieves a task by ID.
func (m *MockStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// ListTasks returns tasks matching the filter, oldest first.
func (m *MockStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Task
	for _, t := range m.tasks {
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		if filter.AssigneeID != "" && t.AssigneeID != filter.AssigneeID {
			continue
		}
		if filter.DueAfter != nil && t.Deadline.Before(*filter.DueAfter) {
			continue
		}
		if filter.DueBefore != nil && t.Deadline.After(*filter.DueBefore) {
			continue
		}
		if filter.ExcludeStatus != "" && t.Status == filter.ExcludeStatus {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateTask replaces a stored task.
func (m *MockStore) UpdateTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	existing, ok := m.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	t := *task
	t.CreatedAt = existing.CreatedAt
	m.tasks[t.ID] = &t
	return nil
}

// DeleteTask removes a task and its activity logs.
func (m *MockStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	delete(m.activity, id)
	return nil
}

// CreateActivityLog appends a log entry.
func (m *MockStore) CreateActivityLog(ctx context.Context, log *ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	l := *log
	m.activity[l.TaskID] = append(m.activity[l.TaskID], &l)
	return nil
}

// ListActivityLogs returns a task's logs in insertion order.
func (m *MockStore) ListActivityLogs(ctx context.Context, taskID string) ([]*ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := m.activity[taskID]
	out := make([]*ActivityLog, 0, len(logs))
	for _, l := range logs {
		c := *l
		out = append(out, &c)
	}
	return out, nil
}

// CreateNotification stores a notification.
func (m *MockStore) CreateNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	c := *n
	m.notifications[c.ID] = &c
	return nil
}

// GetNotification retrieves a notification by ID.
func (m *MockStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *n
	return &c, nil
}

// ListNotifications returns a user's notifications, newest first.
func (m *MockStore) ListNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkNotificationRead sets the read flag.
func (m *MockStore) MarkNotificationRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// DeleteNotification removes a notification.
func (m *MockStore) DeleteNotification(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.notifications[id]; !ok {
		return ErrNotFound
	}
	delete(m.notifications, id)
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)

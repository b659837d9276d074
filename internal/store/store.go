// ABOUTME: Store interface and data types for taskboard persistence
// ABOUTME: Defines User, Project, Task, ActivityLog, Notification and their enums

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint (e.g. user email) is violated
var ErrDuplicate = errors.New("already exists")

// Role is an account role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// TaskStatus is a step in the task workflow.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusDone       TaskStatus = "done"
)

// Valid reports whether s is one of todo, in-progress, done.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority is a task priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on-hold"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectOnHold:
		return true
	}
	return false
}

// ActivityAction constants for activity log entries
const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionStatusChanged = "status_changed"
	ActionCompleted     = "completed"
)

// NotificationType constants
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// User is an account that can sign in and be assigned tasks
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Project groups tasks and lists the users that work on them
type Project struct {
	ID          string
	Title       string
	Description string
	Status      ProjectStatus
	Members     []string // user IDs
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasMember reports whether userID is listed in the project's members.
func (p *Project) HasMember(userID string) bool {
	for _, m := range p.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Task is a unit of work assigned to one user within one project
type Task struct {
	ID          string
	Title       string
	Description string
	AssigneeID  string
	Status      TaskStatus
	Priority    Priority
	Deadline    time.Time
	ProjectID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActivityLog records a change made to a task
type ActivityLog struct {
	ID        string
	TaskID    string
	UserID    string
	Action    string // created, updated, status_changed, completed
	Details   string
	CreatedAt time.Time
}

// Notification is a message addressed to one user
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      string // info, success, warning, error
	Read      bool
	CreatedAt time.Time
}

// TaskFilter narrows ListTasks. Zero fields are ignored.
type TaskFilter struct {
	ProjectID     string
	AssigneeID    string
	DueAfter      *time.Time
	DueBefore     *time.Time
	ExcludeStatus TaskStatus
}

// Store defines the interface for taskboard persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, role Role) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)

	// Projects
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProject(ctx context.Context, project *Project) error
	// DeleteProject removes the project together with its tasks and their activity logs.
	DeleteProject(ctx context.Context, id string) error

	// Tasks
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	// DeleteTask removes the task and every activity log that references it.
	DeleteTask(ctx context.Context, id string) error

	// Activity logs
	CreateActivityLog(ctx context.Context, log *ActivityLog) error
	ListActivityLogs(ctx context.Context, taskID string) ([]*ActivityLog, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	ListNotifications(ctx context.Context, userID string) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error

	Close() error
}

// NewID returns a fresh random identifier for any stored entity.
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether id has the canonical identifier shape.
// Callers use it to reject malformed ids before touching storage.
func IsValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	return uuid.Validate(id) == nil
}

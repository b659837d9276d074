// ABOUTME: Populated views returned to callers and carried in broadcast events
// ABOUTME: Both entry points build tasks through the same taskView function

package tasks

import (
	"time"

	"github.com/2389/taskboard-gateway/internal/store"
)

// UserSummary is the public part of an account.
type UserSummary struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email,omitempty"`
	Role  store.Role `json:"role,omitempty"`
}

// ProjectSummary is the part of a project embedded in a task view.
type ProjectSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TaskView is a task with its assignee and project expanded.
type TaskView struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Assignee    *UserSummary     `json:"assignee"`
	Status      store.TaskStatus `json:"status"`
	Priority    store.Priority   `json:"priority"`
	Deadline    time.Time        `json:"deadline"`
	Project     *ProjectSummary  `json:"project"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// NotificationView is the notification record sent to its owner.
type NotificationView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivityLogView is an activity log entry with the acting user's name.
type ActivityLogView struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task"`
	User      *UserSummary `json:"user"`
	Action    string       `json:"action"`
	Details   string       `json:"details"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ProjectView is a project with members expanded and task counts attached.
type ProjectView struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Status         store.ProjectStatus `json:"status"`
	Members        []UserSummary       `json:"members"`
	TasksCount     int                 `json:"tasksCount"`
	CompletedTasks int                 `json:"completedTasks"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// MovePayload is the body of a task-moved event.
type MovePayload struct {
	TaskID    string           `json:"taskId"`
	NewStatus store.TaskStatus `json:"newStatus"`
	ProjectID string           `json:"projectId"`
}

// DeletedPayload is the body of a task-deleted event.
type DeletedPayload struct {
	TaskID string `json:"taskId"`
}

func userSummary(u *store.User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func taskView(t *store.Task, assignee *store.User, project *store.Project) *TaskView {
	v := &TaskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Assignee:    userSummary(assignee),
		Status:      t.Status,
		Priority:    t.Priority,
		Deadline:    t.Deadline,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if project != nil {
		v.Project = &ProjectSummary{ID: project.ID, Title: project.Title}
	}
	return v
}

func notificationView(n *store.Notification) *NotificationView {
	return &NotificationView{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

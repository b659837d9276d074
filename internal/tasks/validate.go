// ABOUTME: Request payloads and their field validation
// ABOUTME: Validation collects every issue in field order so the first one leads the error

package tasks

import (
	"net/mail"
	"strings"
	"time"

	"github.com/2389/taskboard-gateway/internal/store"
)

// deadlineLayouts are the date forms accepted for a task deadline.
var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseDeadline accepts ISO 8601 dates with or without a time part.
// Dates without a zone are read as UTC.
func parseDeadline(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// CreateTaskInput is the create-task payload. UserID is accepted for wire
// compatibility and ignored: the acting user is always the principal.
type CreateTaskInput struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Assignee       string `json:"assignee"`
	Status         string `json:"status,omitempty"`
	Priority       string `json:"priority,omitempty"`
	Deadline       string `json:"deadline"`
	ProjectID      string `json:"projectId"`
	UserID         string `json:"userId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// validate checks the payload and returns the task it describes.
func (in *CreateTaskInput) validate() (*store.Task, []Issue) {
	var issues []Issue
	task := &store.Task{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		AssigneeID:  strings.TrimSpace(in.Assignee),
		Status:      store.StatusTodo,
		Priority:    store.PriorityMedium,
		ProjectID:   strings.TrimSpace(in.ProjectID),
	}

	if task.Title == "" {
		issues = append(issues, Issue{"title", "Title is required"})
	}
	if task.Description == "" {
		issues = append(issues, Issue{"description", "Description is required"})
	}
	if task.AssigneeID == "" {
		issues = append(issues, Issue{"assignee", "Assignee ID is required"})
	}
	if in.Status != "" {
		task.Status = store.TaskStatus(in.Status)
		if !task.Status.Valid() {
			issues = append(issues, Issue{"status", "Invalid status"})
		}
	}
	if in.Priority != "" {
		task.Priority = store.Priority(in.Priority)
		if !task.Priority.Valid() {
			issues = append(issues, Issue{"priority", "Invalid priority"})
		}
	}
	deadline, ok := parseDeadline(in.Deadline)
	if !ok {
		issues = append(issues, Issue{"deadline", "Invalid date"})
	}
	task.Deadline = deadline
	if task.ProjectID == "" {
		issues = append(issues, Issue{"projectId", "Project ID is required"})
	}

	return task, issues
}

// UpdateTaskInput is a partial update. Nil fields are left unchanged.
type UpdateTaskInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Deadline    *string `json:"deadline,omitempty"`
	ProjectID   *string `json:"projectId,omitempty"`
}

func (in *UpdateTaskInput) validate() []Issue {
	var issues []Issue
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		issues = append(issues, Issue{"title", "Title is required"})
	}
	if in.Description != nil && strings.TrimSpace(*in.Description) == "" {
		issues = append(issues, Issue{"description", "Description is required"})
	}
	if in.Assignee != nil && strings.TrimSpace(*in.Assignee) == "" {
		issues = append(issues, Issue{"assignee", "Assignee ID is required"})
	}
	if in.Status != nil && !store.TaskStatus(*in.Status).Valid() {
		issues = append(issues, Issue{"status", "Invalid status"})
	}
	if in.Priority != nil && !store.Priority(*in.Priority).Valid() {
		issues = append(issues, Issue{"priority", "Invalid priority"})
	}
	if in.Deadline != nil {
		if _, ok := parseDeadline(*in.Deadline); !ok {
			issues = append(issues, Issue{"deadline", "Invalid date"})
		}
	}
	if in.ProjectID != nil && strings.TrimSpace(*in.ProjectID) == "" {
		issues = append(issues, Issue{"projectId", "Project ID is required"})
	}
	return issues
}

// MoveTaskInput is the drag-and-drop status change sent in-band.
type MoveTaskInput struct {
	TaskID    string `json:"taskId"`
	NewStatus string `json:"newStatus"`
	ProjectID string `json:"projectId"`
}

// ProjectInput creates or replaces a project. A nil Members keeps the
// current members on update and defaults to the creator on create.
type ProjectInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status,omitempty"`
	Members     []string `json:"members,omitempty"`
}

func (in *ProjectInput) validate() (store.ProjectStatus, []Issue) {
	var issues []Issue
	if strings.TrimSpace(in.Title) == "" {
		issues = append(issues, Issue{"title", "Title is required"})
	}
	if strings.TrimSpace(in.Description) == "" {
		issues = append(issues, Issue{"description", "Description is required"})
	}
	status := store.ProjectActive
	if in.Status != "" {
		status = store.ProjectStatus(in.Status)
		if !status.Valid() {
			issues = append(issues, Issue{"status", "Invalid status"})
		}
	}
	for _, id := range in.Members {
		if !store.IsValidID(id) {
			issues = append(issues, Issue{"members", "Invalid member IDs"})
			break
		}
	}
	return status, issues
}

// SignupInput registers an account. Role defaults to user.
type SignupInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// MinPasswordLength is the shortest password accepted at signup and login.
const MinPasswordLength = 6

func (in *SignupInput) validate() (store.Role, []Issue) {
	var issues []Issue
	if strings.TrimSpace(in.Name) == "" {
		issues = append(issues, Issue{"name", "Name is required"})
	}
	if !validEmail(in.Email) {
		issues = append(issues, Issue{"email", "Invalid email"})
	}
	if len(in.Password) < MinPasswordLength {
		issues = append(issues, Issue{"password", "Password must be at least 6 characters"})
	}
	role := store.RoleUser
	if in.Role != "" {
		role = store.Role(in.Role)
		if !role.Valid() {
			issues = append(issues, Issue{"role", "Invalid role"})
		}
	}
	return role, issues
}

// LoginInput is an email and password pair.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in *LoginInput) validate() []Issue {
	var issues []Issue
	if !validEmail(in.Email) {
		issues = append(issues, Issue{"email", "Invalid email"})
	}
	if len(in.Password) < MinPasswordLength {
		issues = append(issues, Issue{"password", "Password must be at least 6 characters"})
	}
	return issues
}

// validEmail accepts a bare address, not a display-name form.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == strings.TrimSpace(s)
}

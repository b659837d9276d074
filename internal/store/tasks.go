// ABOUTME: Task persistence for SQLiteStore
// ABOUTME: CRUD plus filtered listing used by the API and the deadline reminder job

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const taskColumns = `id, title, description, assignee_id, status, priority, deadline, project_id, created_at, updated_at`

// CreateTask inserts a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.Title,
		task.Description,
		task.AssigneeID,
		string(task.Status),
		string(task.Priority),
		formatTime(task.Deadline),
		task.ProjectID,
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting task: %w", err)
	}

	s.logger.Debug("created task", "id", task.ID, "project", task.ProjectID)
	return nil
}

// GetTask retrieves a task by ID.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns tasks matching the filter, oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var where []string
	var args []any

	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.AssigneeID != "" {
		where = append(where, "assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.DueAfter != nil {
		where = append(where, "deadline >= ?")
		args = append(args, formatTime(*filter.DueAfter))
	}
	if filter.DueBefore != nil {
		where = append(where, "deadline <= ?")
		args = append(args, formatTime(*filter.DueBefore))
	}
	if filter.ExcludeStatus != "" {
		where = append(where, "status != ?")
		args = append(args, string(filter.ExcludeStatus))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	return tasks, nil
}

// UpdateTask overwrites every mutable field of the task.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, assignee_id = ?, status = ?, priority = ?,
		    deadline = ?, project_id = ?, updated_at = ?
		WHERE id = ?
	`,
		task.Title,
		task.Description,
		task.AssigneeID,
		string(task.Status),
		string(task.Priority),
		formatTime(task.Deadline),
		task.ProjectID,
		formatTime(task.UpdatedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return checkAffected(res, "task")
}

// DeleteTask removes a task and its activity logs.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if err := checkAffected(res, "task"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_logs WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("deleting task activity logs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task delete: %w", err)
	}

	s.logger.Debug("deleted task", "id", id)
	return nil
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status, priority, deadline, createdAt, updatedAt string

	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.AssigneeID,
		&status,
		&priority,
		&deadline,
		&t.ProjectID,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	t.Status = TaskStatus(status)
	t.Priority = Priority(priority)
	if t.Deadline, err = parseTime("deadline", deadline); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

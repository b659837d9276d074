// ABOUTME: Project persistence for SQLiteStore
// ABOUTME: Projects keep their ordered member list in the project_members table

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateProject inserts a project and its member list in one transaction.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		project.ID,
		project.Title,
		project.Description,
		string(project.Status),
		formatTime(project.CreatedAt),
		formatTime(project.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting project: %w", err)
	}

	if err := insertMembers(ctx, tx, project.ID, project.Members); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing project: %w", err)
	}

	s.logger.Debug("created project", "id", project.ID, "members", len(project.Members))
	return nil
}

func insertMembers(ctx context.Context, tx *sql.Tx, projectID string, members []string) error {
	seen := make(map[string]bool, len(members))
	pos := 0
	for _, userID := range members {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO project_members (project_id, user_id, position) VALUES (?, ?, ?)`,
			projectID, userID, pos,
		); err != nil {
			return fmt.Errorf("inserting project member: %w", err)
		}
		pos++
	}
	return nil
}

// GetProject retrieves a project by ID including its members.
// Returns ErrNotFound if the project doesn't exist.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var status, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, created_at, updated_at
		FROM projects
		WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &p.Description, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}

	p.Status = ProjectStatus(status)
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}

	members, err := s.projectMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Members = members
	return &p, nil
}

func (s *SQLiteStore) projectMembers(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM project_members WHERE project_id = ? ORDER BY position ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying project members: %w", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scanning project member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project members: %w", err)
	}
	return members, nil
}

// ListProjects returns every project, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning project id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project rows: %w", err)
	}

	// Members are fetched per project after the id cursor is closed so the
	// single in-memory connection is free.
	projects := make([]*Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// UpdateProject replaces the project's fields and member list.
func (s *SQLiteStore) UpdateProject(ctx context.Context, project *Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE projects
		SET title = ?, description = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		project.Title,
		project.Description,
		string(project.Status),
		formatTime(project.UpdatedAt),
		project.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if err := checkAffected(res, "project"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ?`, project.ID); err != nil {
		return fmt.Errorf("clearing project members: %w", err)
	}
	if err := insertMembers(ctx, tx, project.ID, project.Members); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing project: %w", err)
	}
	return nil
}

// DeleteProject removes the project, its tasks and their activity logs.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if err := checkAffected(res, "project"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM activity_logs
		WHERE task_id IN (SELECT id FROM tasks WHERE project_id = ?)
	`, id); err != nil {
		return fmt.Errorf("deleting project activity logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("deleting project tasks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing project delete: %w", err)
	}

	s.logger.Debug("deleted project", "id", id)
	return nil
}

// ABOUTME: Activity log persistence for SQLiteStore
// ABOUTME: Append-only history of task changes, listed oldest first

package store

import (
	"context"
	"fmt"
)

// CreateActivityLog appends an entry to a task's history.
func (s *SQLiteStore) CreateActivityLog(ctx context.Context, log *ActivityLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, task_id, user_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		log.ID,
		log.TaskID,
		log.UserID,
		log.Action,
		log.Details,
		formatTime(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting activity log: %w", err)
	}
	return nil
}

// ListActivityLogs returns a task's history in chronological order.
func (s *SQLiteStore) ListActivityLogs(ctx context.Context, taskID string) ([]*ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, action, details, created_at
		FROM activity_logs
		WHERE task_id = ?
		ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying activity logs: %w", err)
	}
	defer rows.Close()

	var logs []*ActivityLog
	for rows.Next() {
		var l ActivityLog
		var createdAt string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.UserID, &l.Action, &l.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning activity log: %w", err)
		}
		if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity logs: %w", err)
	}
	return logs, nil
}

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// TaskResult records how a dispatched work item ended, whether it ran on
// the interactive main agent or in a background execution.
type TaskResult struct {
	TaskID      string    `json:"task_id"`
	Target      string    `json:"target"`
	Success     bool      `json:"success"`
	Output      string    `json:"output,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

func (s *Store) SaveTaskResult(r *TaskResult) error {
	_, err := s.db.Exec(`
		INSERT INTO task_results (task_id, target, success, output)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			target = excluded.target,
			success = excluded.success,
			output = excluded.output,
			completed_at = CURRENT_TIMESTAMP`,
		r.TaskID, r.Target, r.Success, r.Output)
	if err != nil {
		return fmt.Errorf("save task result: %w", err)
	}
	return nil
}

func (s *Store) GetTaskResult(taskID string) (*TaskResult, error) {
	r := &TaskResult{}
	var output sql.NullString
	err := s.db.QueryRow(`
		SELECT task_id, target, success, output, completed_at
		FROM task_results WHERE task_id = ?`, taskID).
		Scan(&r.TaskID, &r.Target, &r.Success, &output, &r.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task result: %w", err)
	}
	r.Output = output.String
	return r, nil
}

func (s *Store) ListTaskResults(limit int) ([]TaskResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT task_id, target, success, output, completed_at
		FROM task_results
		ORDER BY completed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	defer rows.Close()

	var results []TaskResult
	for rows.Next() {
		var r TaskResult
		var output sql.NullString
		if err := rows.Scan(&r.TaskID, &r.Target, &r.Success, &output, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		r.Output = output.String
		results = append(results, r)
	}
	return results, rows.Err()
}

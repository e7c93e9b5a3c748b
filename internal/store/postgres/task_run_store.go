package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// TaskRunStore implements domain.TaskRunStore using PostgreSQL.
type TaskRunStore struct {
	pool *pgxpool.Pool
}

// NewTaskRunStore creates a new TaskRunStore backed by the given pool.
func NewTaskRunStore(pool *pgxpool.Pool) *TaskRunStore {
	return &TaskRunStore{pool: pool}
}

var _ domain.TaskRunStore = (*TaskRunStore)(nil)

func (s *TaskRunStore) Record(ctx context.Context, run domain.TaskRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_runs (id, task, status, detail, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Task, string(run.Status), run.Detail, run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record task run %s: %w", run.Task, err)
	}
	return nil
}

// ListRecent returns the newest runs first. An empty task lists every task.
func (s *TaskRunStore) ListRecent(ctx context.Context, task string, limit int) ([]domain.TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, task, status, detail, error, started_at, finished_at
		FROM task_runs
		WHERE $1 = '' OR task = $1
		ORDER BY started_at DESC
		LIMIT $2`, task, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list task runs: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskRun
	for rows.Next() {
		var r domain.TaskRun
		var status string
		if err := rows.Scan(&r.ID, &r.Task, &status, &r.Detail, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan task run: %w", err)
		}
		r.Status = domain.TaskStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list task runs rows: %w", err)
	}
	return out, nil
}

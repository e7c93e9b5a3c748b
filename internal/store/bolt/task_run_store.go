package bolt

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// TaskRunStore implements domain.TaskRunStore. Keys are
// task name, a zero byte, then the start time, so a prefix scan returns one
// task's runs in chronological order.
type TaskRunStore struct {
	db *bbolt.DB
}

// NewTaskRunStore creates a TaskRunStore.
func NewTaskRunStore(db *bbolt.DB) *TaskRunStore {
	return &TaskRunStore{db: db}
}

var _ domain.TaskRunStore = (*TaskRunStore)(nil)

func taskPrefix(task string) []byte {
	return append([]byte(task), 0)
}

func (s *TaskRunStore) Record(ctx context.Context, run domain.TaskRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := append(taskPrefix(run.Task), timeKey(run.StartedAt)...)
	key = append(key, []byte(run.ID)...)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte(taskRunsBucket)), key, run)
	})
	if err != nil {
		return fmt.Errorf("bolt: record task run %s: %w", run.Task, err)
	}
	return nil
}

// ListRecent returns the newest runs first. An empty task lists every task.
func (s *TaskRunStore) ListRecent(ctx context.Context, task string, limit int) ([]domain.TaskRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var out []domain.TaskRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket([]byte(taskRunsBucket)).Cursor()
		if task != "" {
			prefix := taskPrefix(task)
			var runs []domain.TaskRun
			for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
				var r domain.TaskRun
				if err := decode(v, &r); err != nil {
					return err
				}
				runs = append(runs, r)
			}
			for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
				out = append(out, runs[i])
			}
			return nil
		}
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var r domain.TaskRun
			if err := decode(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: list task runs: %w", err)
	}
	if task == "" {
		sortRunsNewestFirst(out)
		if len(out) > limit {
			out = out[:limit]
		}
	}
	return out, nil
}

func sortRunsNewestFirst(runs []domain.TaskRun) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

package maintenance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/aklo360/cc-sub001/internal/blob/s3"
	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/maintenance"
	"github.com/aklo360/cc-sub001/internal/store/bolt"
)

func newRunStore(t *testing.T) domain.TaskRunStore {
	t.Helper()
	client, err := bolt.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.Stores().TaskRuns
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(_ context.Context, event string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type heldLocks struct{ held map[string]bool }

func (h heldLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if h.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestRunOnceRecordsResults(t *testing.T) {
	t.Parallel()
	runs := newRunStore(t)
	events := &recordingEmitter{}
	sup := maintenance.NewSupervisor(nil, runs, nil, 0, events, discard())
	ctx := context.Background()

	ok := sup.RunOnce(ctx, maintenance.Task{Name: "ok", Run: func(context.Context) maintenance.Result {
		return maintenance.Success("did %d things", 3)
	}})
	assert.Equal(t, domain.TaskSuccess, ok.Status)
	assert.Equal(t, "did 3 things", ok.Detail)

	failed := sup.RunOnce(ctx, maintenance.Task{Name: "bad", Run: func(context.Context) maintenance.Result {
		return maintenance.Failure(errors.New("reserve empty"))
	}})
	assert.Equal(t, domain.TaskFailure, failed.Status)
	assert.Equal(t, "reserve empty", failed.Error)

	panicked := sup.RunOnce(ctx, maintenance.Task{Name: "boom", Run: func(context.Context) maintenance.Result {
		panic("nil map")
	}})
	assert.Equal(t, domain.TaskFailure, panicked.Status)
	assert.Contains(t, panicked.Error, "nil map")

	assert.Equal(t, []string{domain.EventTaskFailed, domain.EventTaskFailed}, events.events)

	recent, err := runs.ListRecent(ctx, "bad", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.TaskFailure, recent[0].Status)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()
	locks := heldLocks{held: map[string]bool{"maintenance:" + maintenance.TaskFeeSweep: true}}
	sup := maintenance.NewSupervisor(nil, newRunStore(t), locks, time.Minute, nil, discard())

	var ran bool
	run := sup.RunOnce(context.Background(), maintenance.Task{Name: maintenance.TaskFeeSweep, Run: func(context.Context) maintenance.Result {
		ran = true
		return maintenance.Success("")
	}})
	assert.False(t, ran)
	assert.Equal(t, domain.TaskSkipped, run.Status)
}

type fakeUpkeep struct {
	expired  int64
	settled  int
	topUp    domain.TransferResult
	topUpErr error
	sweepErr error
}

func (f *fakeUpkeep) ExpireStale(context.Context) (int64, error) { return f.expired, nil }
func (f *fakeUpkeep) SettlePending(context.Context, int) (int, error) {
	return f.settled, nil
}
func (f *fakeUpkeep) TopUp(context.Context, *int64) (domain.TransferResult, error) {
	return f.topUp, f.topUpErr
}
func (f *fakeUpkeep) SweepToBurnAndDestroy(context.Context) (domain.TransferResult, error) {
	return domain.TransferResult{}, f.sweepErr
}

type fakeArchiver struct{ report s3blob.ArchiveReport }

func (f fakeArchiver) ArchiveBefore(context.Context, time.Time, int) (s3blob.ArchiveReport, error) {
	return f.report, nil
}

func TestStandardTasks(t *testing.T) {
	t.Parallel()
	up := &fakeUpkeep{
		expired:  2,
		topUpErr: domain.ErrInsufficientReserve,
		sweepErr: errors.New("rpc timeout"),
	}
	tasks := maintenance.StandardTasks(maintenance.Deps{
		Wagers:   up,
		Treasury: up,
		Archiver: fakeArchiver{report: s3blob.ArchiveReport{Files: []string{"a"}, Records: 4}},
	}, maintenance.Intervals{Expire: time.Second})

	sup := maintenance.NewSupervisor(tasks, newRunStore(t), nil, 0, nil, discard())
	got := map[string]domain.TaskStatus{}
	for _, task := range sup.Tasks() {
		got[task.Name] = sup.RunOnce(context.Background(), task).Status
	}

	assert.Equal(t, map[string]domain.TaskStatus{
		maintenance.TaskExpireCommitments:  domain.TaskSuccess,
		maintenance.TaskTreasuryTopUp:      domain.TaskFailure,
		maintenance.TaskFeeSweep:           domain.TaskRetry,
		maintenance.TaskSettlePayouts:      domain.TaskSkipped,
		maintenance.TaskArchiveCommitments: domain.TaskSuccess,
	}, got)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	count := 0
	task := maintenance.Task{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) maintenance.Result {
		mu.Lock()
		count++
		mu.Unlock()
		return maintenance.Success("")
	}}
	sup := maintenance.NewSupervisor([]maintenance.Task{task}, newRunStore(t), nil, 0, nil, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, sup.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 2)
}

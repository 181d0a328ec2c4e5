package models

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Offline Queue
//
// Durable FIFO of pending mutations that could not reach the remote store.
// Tasks live in the local store's sync_queue table so they survive
// restarts; this type owns their lifecycle exclusively.
//
// Draining runs sequentially within one ProcessAll pass; cross-task
// parallelism is deliberately avoided to bound the remote request rate.
// ProcessAll is reentrant-guarded: a second invocation while one is in
// flight is a logged no-op, which prevents duplicate concurrent uploads
// of the same task.
// ============================================================================

// TaskOperation is the kind of mutation a queued task carries.
type TaskOperation string

const (
	TaskCreate TaskOperation = "create"
	TaskUpdate TaskOperation = "update"
	TaskDelete TaskOperation = "delete"
)

// TaskStatus is a task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// SyncTask is one queued, retryable mutation destined for the remote store.
// Card is present for create/update; CardID alone identifies deletes.
type SyncTask struct {
	ID         string        `json:"id"`
	Operation  TaskOperation `json:"operation"`
	Card       *Card         `json:"card,omitempty"`
	CardID     string        `json:"card_id"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Attempts   int           `json:"attempts"`
	Status     TaskStatus    `json:"status"`
}

// defaultQueueInterval is how often the background drain runs while online.
const defaultQueueInterval = 30 * time.Second

// defaultMaxTaskRetries bounds per-task attempts before the task is
// marked failed and left for manual retry.
const defaultMaxTaskRetries = 3

// ProcessStats summarizes one drain pass.
type ProcessStats struct {
	Processed int  `json:"processed"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`   // transitioned to terminal failed state
	Deferred  int  `json:"deferred"` // errored, returned to pending
	Skipped   bool `json:"skipped"`  // pass did not run (guard or no credential)
}

// SyncQueue drains pending mutations through the cloud client when
// connectivity allows.
type SyncQueue struct {
	store      *LocalStore
	cloud      CloudStore
	maxRetries int
	interval   time.Duration
	inFlight   atomic.Bool
	kick       chan struct{}
	cancel     context.CancelFunc
}

// NewSyncQueue creates a queue over the given store and cloud client.
func NewSyncQueue(store *LocalStore, cloud CloudStore) *SyncQueue {
	return &SyncQueue{
		store:      store,
		cloud:      cloud,
		maxRetries: defaultMaxTaskRetries,
		interval:   defaultQueueInterval,
		kick:       make(chan struct{}, 1),
	}
}

// SetInterval overrides the background drain interval. Call before Start.
func (q *SyncQueue) SetInterval(d time.Duration) {
	if d > 0 {
		q.interval = d
	}
}

// Enqueue appends a new task with status pending and zero attempts.
// The card is cloned so later edits by the caller can't mutate the
// queued snapshot.
func (q *SyncQueue) Enqueue(op TaskOperation, card *Card, cardID string) (*SyncTask, error) {
	task := &SyncTask{
		ID:         uuid.New().String(),
		Operation:  op,
		CardID:     cardID,
		EnqueuedAt: time.Now(),
		Status:     TaskPending,
	}
	if card != nil {
		task.Card = card.Clone()
		task.CardID = card.Meta.ID
	}

	if err := q.store.EnqueueTask(task); err != nil {
		return nil, WrapError(KindQueue, err, "failed to enqueue sync task")
	}

	logger.Info("Queued sync task",
		"task_id", task.ID, "operation", string(op), "card_id", task.CardID)
	return task, nil
}

// ProcessAll drains all pending tasks sequentially. Reentrant-guarded:
// returns immediately with Skipped set when a pass is already running.
// Without a credential the pass also skips, leaving tasks pending rather
// than burning their retry budget on guaranteed auth failures.
func (q *SyncQueue) ProcessAll(ctx context.Context) (ProcessStats, error) {
	var stats ProcessStats

	if !q.inFlight.CompareAndSwap(false, true) {
		logger.Info("Queue drain already in progress, skipping")
		stats.Skipped = true
		return stats, nil
	}
	defer q.inFlight.Store(false)

	if !q.cloud.HasCredential() {
		logger.Debug("No cloud credential configured, leaving queue untouched")
		stats.Skipped = true
		return stats, nil
	}

	pending, err := q.store.ListPendingTasks()
	if err != nil {
		return stats, WrapError(KindQueue, err, "failed to list pending tasks")
	}

	for i := range pending {
		task := &pending[i]
		stats.Processed++

		if err := q.store.UpdateTaskStatus(task.ID, TaskProcessing); err != nil {
			logger.LogErr(err, "failed to mark task processing", "task_id", task.ID)
			stats.Deferred++
			continue
		}

		// Retry budget exhausted: terminal. Surfaced via queue stats,
		// only a manual retry brings the task back.
		if task.Attempts >= q.maxRetries {
			if err := q.store.UpdateTaskStatus(task.ID, TaskFailed); err != nil {
				logger.LogErr(err, "failed to mark task failed", "task_id", task.ID)
			}
			stats.Failed++
			logger.Info("Sync task exceeded retry budget",
				"task_id", task.ID, "attempts", task.Attempts)
			continue
		}

		if err := q.dispatch(ctx, task); err != nil {
			if ferr := q.store.RecordTaskFailure(task.ID); ferr != nil {
				logger.LogErr(ferr, "failed to record task failure", "task_id", task.ID)
			}
			stats.Deferred++
			logger.LogErr(err, "sync task dispatch failed",
				"task_id", task.ID,
				"operation", string(task.Operation),
				"attempt", task.Attempts+1,
			)
			continue
		}

		if err := q.store.UpdateTaskStatus(task.ID, TaskCompleted); err != nil {
			logger.LogErr(err, "failed to mark task completed", "task_id", task.ID)
		}
		stats.Completed++
	}

	if stats.Processed > 0 {
		logger.Info("Queue drain finished",
			"processed", stats.Processed,
			"completed", stats.Completed,
			"failed", stats.Failed,
			"deferred", stats.Deferred,
		)
	}
	return stats, nil
}

// dispatch applies one task against the remote store.
func (q *SyncQueue) dispatch(ctx context.Context, task *SyncTask) error {
	switch task.Operation {
	case TaskCreate, TaskUpdate:
		if task.Card == nil {
			return NewError(KindQueue, "task is missing its card snapshot")
		}
		content := []byte(SerializeCard(task.Card))
		return q.cloud.UploadAtPath(ctx, task.Card.RemoteName(), content, true)

	case TaskDelete:
		if task.CardID == "" {
			return NewError(KindQueue, "delete task is missing a card id")
		}
		return q.cloud.DeleteFile(ctx, task.CardID+".md")

	default:
		return NewError(KindQueue, "unknown task operation: "+string(task.Operation))
	}
}

// RetryTask resets a failed task so the next pass picks it up again.
func (q *SyncQueue) RetryTask(id string) error {
	task, err := q.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Status != TaskFailed {
		return serr.New("only failed tasks can be retried")
	}
	return q.store.ResetTask(id)
}

// Stats returns queue depth per lifecycle state.
func (q *SyncQueue) Stats() (map[string]int, error) {
	counts, err := q.store.CountTasksByStatus()
	if err != nil {
		return nil, err
	}
	// Always report all states so the UI renders stable rows
	for _, st := range []TaskStatus{TaskPending, TaskProcessing, TaskCompleted, TaskFailed} {
		if _, ok := counts[string(st)]; !ok {
			counts[string(st)] = 0
		}
	}
	return counts, nil
}

// Kick requests an immediate drain from the background loop; the
// "connectivity restored" signal and the manual retry path both land here.
func (q *SyncQueue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default: // a drain request is already queued
	}
}

// Start launches the background drain loop: a fixed interval while
// online plus on-demand kicks.
func (q *SyncQueue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	go q.drainLoop(ctx)
	logger.Info("Offline queue started", "interval", q.interval.String())
}

// Stop shuts the background loop down.
func (q *SyncQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *SyncQueue) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.kick:
		}

		if _, err := q.ProcessAll(ctx); err != nil {
			logger.LogErr(err, "queue drain pass failed")
		}
	}
}

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/monitor"
)

// TaskRegistryConfig bounds async execution.
type TaskRegistryConfig struct {
	// Ceiling is the maximum lifetime of a task entry. After it elapses the
	// entry is evicted whether or not the backend work has finished.
	Ceiling time.Duration
	// MaxConcurrent limits how many tasks execute at once; the rest wait
	// in PENDING.
	MaxConcurrent int64
	// MaxTasks limits live entries; ExecuteAsync fails beyond it.
	MaxTasks int
	// TombstoneTTL is how long the final status of a removed task stays
	// answerable.
	TombstoneTTL time.Duration
}

func DefaultTaskRegistryConfig() TaskRegistryConfig {
	return TaskRegistryConfig{
		Ceiling:       600 * time.Second,
		MaxConcurrent: 16,
		MaxTasks:      1000,
		TombstoneTTL:  time.Hour,
	}
}

// TaskResult is what a caller gets back when polling a task.
type TaskResult struct {
	TaskID string                  `json:"task_id"`
	Status models.TaskStatus       `json:"status"`
	Result *models.ExecutionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// AsyncExecutor runs executions in the background and answers for them by
// task id.
type AsyncExecutor interface {
	ExecuteAsync(ctx context.Context, req *ExecuteRequest) (string, error)
	GetAsyncResult(ctx context.Context, id string, wait time.Duration) (*TaskResult, error)
	GetExecutionStatus(id string) models.TaskStatus
	IsComplete(id string) bool
	Cancel(id string) error
	ActiveTasks() []models.TaskInfo
}

var _ AsyncExecutor = (*TaskRegistry)(nil)

type asyncTask struct {
	info   models.TaskInfo
	cancel context.CancelFunc
	evict  *time.Timer
	done   chan struct{}

	result *models.ExecutionResult
	err    error
}

type tombstone struct {
	status models.TaskStatus
	at     time.Time
}

// TaskRegistry runs executions in the background and tracks them by id.
// Cancelled and evicted tasks leave a tombstone so their final status can
// still be polled; a cancelled task's late completion is discarded.
type TaskRegistry struct {
	executor SQLExecutor
	cfg      TaskRegistryConfig
	sem      *semaphore.Weighted
	metrics  *monitor.Metrics
	logger   *zap.Logger

	mu         sync.Mutex
	tasks      map[string]*asyncTask
	tombstones map[string]tombstone
	closed     bool

	wg sync.WaitGroup
}

// NewTaskRegistry creates a registry. metrics may be nil.
func NewTaskRegistry(executor SQLExecutor, cfg TaskRegistryConfig, metrics *monitor.Metrics, logger *zap.Logger) *TaskRegistry {
	def := DefaultTaskRegistryConfig()
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = def.MaxTasks
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = def.TombstoneTTL
	}
	return &TaskRegistry{
		executor:   executor,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		metrics:    metrics,
		logger:     logger.Named("async-tasks"),
		tasks:      make(map[string]*asyncTask),
		tombstones: make(map[string]tombstone),
	}
}

// ExecuteAsync schedules req and returns its task id immediately. The task
// outlives ctx; only its values are inherited.
func (r *TaskRegistry) ExecuteAsync(ctx context.Context, req *ExecuteRequest) (string, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return "", fmt.Errorf("%w: sql is required", apperrors.ErrInvalidRequest)
	}

	id := uuid.NewString()
	taskCtx, cancel := context.WithCancel(WithTaskID(context.WithoutCancel(ctx), id))
	t := &asyncTask{
		info: models.TaskInfo{
			ID:        id,
			Status:    models.TaskStatusPending,
			Backend:   req.Backend,
			SQL:       req.SQL,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", fmt.Errorf("task registry is closed")
	}
	if len(r.tasks) >= r.cfg.MaxTasks {
		r.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: %d tasks in flight", apperrors.ErrTooManyExecutions, r.cfg.MaxTasks)
	}
	r.tasks[id] = t
	t.evict = time.AfterFunc(r.cfg.Ceiling, func() { r.expire(id) })
	r.wg.Add(1)
	r.updateGaugeLocked()
	r.mu.Unlock()

	r.logger.Info("Async task scheduled",
		zap.String("task_id", id),
		zap.String("backend", req.Backend))

	go r.run(taskCtx, t, req)
	return id, nil
}

func (r *TaskRegistry) run(ctx context.Context, t *asyncTask, req *ExecuteRequest) {
	defer r.wg.Done()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.complete(t, nil, err)
		return
	}
	defer r.sem.Release(1)

	r.mu.Lock()
	if r.tasks[t.info.ID] == t {
		now := time.Now()
		t.info.Status = models.TaskStatusRunning
		t.info.StartedAt = &now
	}
	r.mu.Unlock()

	result, err := r.executor.Execute(ctx, req)
	r.complete(t, result, err)
}

func (r *TaskRegistry) complete(t *asyncTask, result *models.ExecutionResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tasks[t.info.ID] != t {
		r.logger.Debug("Discarding completion of removed task",
			zap.String("task_id", t.info.ID))
		return
	}

	now := time.Now()
	t.result = result
	t.err = err
	t.info.Status = models.TaskStatusCompleted
	t.info.CompletedAt = &now
	close(t.done)
}

// expire evicts a task that reached the lifetime ceiling.
func (r *TaskRegistry) expire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return
	}
	status := models.TaskStatusTimedOut
	if t.info.Status == models.TaskStatusCompleted {
		status = models.TaskStatusCompleted
	}
	t.cancel()
	r.removeLocked(id, status)

	r.logger.Warn("Async task evicted at lifetime ceiling",
		zap.String("task_id", id),
		zap.String("status", string(status)),
		zap.Duration("ceiling", r.cfg.Ceiling))
}

// Cancel interrupts a task and removes it from the registry. Cancelling an
// already-cancelled task is a no-op.
func (r *TaskRegistry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		if ts, ok := r.tombstones[id]; ok {
			if ts.status == models.TaskStatusCancelled {
				return nil
			}
			return fmt.Errorf("%w: task %s already %s", apperrors.ErrInvalidRequest, id, ts.status)
		}
		return fmt.Errorf("%w: task %s", apperrors.ErrNotFound, id)
	}

	t.cancel()
	r.removeLocked(id, models.TaskStatusCancelled)

	r.logger.Info("Async task cancelled", zap.String("task_id", id))
	return nil
}

// GetAsyncResult returns the task's result once it has completed, waiting
// up to wait for it. A completed result is handed out once; the task then
// leaves the registry and later polls report only its status.
func (r *TaskRegistry) GetAsyncResult(ctx context.Context, id string, wait time.Duration) (*TaskResult, error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		ts, found := r.tombstones[id]
		r.mu.Unlock()
		if !found {
			return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, id)
		}
		return &TaskResult{TaskID: id, Status: ts.status}, nil
	}
	r.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-t.done:
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tasks[id] != t {
		// Removed while we waited.
		if ts, found := r.tombstones[id]; found {
			return &TaskResult{TaskID: id, Status: ts.status}, nil
		}
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, id)
	}
	if t.info.Status != models.TaskStatusCompleted {
		return &TaskResult{TaskID: id, Status: t.info.Status}, nil
	}

	out := &TaskResult{TaskID: id, Status: models.TaskStatusCompleted, Result: t.result}
	if t.err != nil {
		out.Error = t.err.Error()
	}
	r.removeLocked(id, models.TaskStatusCompleted)
	return out, nil
}

// GetExecutionStatus reports the task's state, NOT_FOUND for unknown ids.
func (r *TaskRegistry) GetExecutionStatus(id string) models.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tasks[id]; ok {
		return t.info.Status
	}
	if ts, ok := r.tombstones[id]; ok {
		return ts.status
	}
	return models.TaskStatusNotFound
}

// IsComplete reports whether the task reached a final state. Unknown ids
// are not complete.
func (r *TaskRegistry) IsComplete(id string) bool {
	status := r.GetExecutionStatus(id)
	return status != models.TaskStatusNotFound && status.IsTerminal()
}

// ActiveTasks lists tasks still held in the registry, oldest first.
func (r *TaskRegistry) ActiveTasks() []models.TaskInfo {
	r.mu.Lock()
	out := make([]models.TaskInfo, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close cancels every live task and waits for their goroutines, or for ctx.
func (r *TaskRegistry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for id, t := range r.tasks {
		t.cancel()
		r.removeLocked(id, models.TaskStatusCancelled)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for async tasks: %w", ctx.Err())
	}
}

// removeLocked drops a live task, leaving a tombstone. Must be called with
// r.mu held.
func (r *TaskRegistry) removeLocked(id string, status models.TaskStatus) {
	if t, ok := r.tasks[id]; ok {
		t.evict.Stop()
		delete(r.tasks, id)
	}

	now := time.Now()
	for tid, ts := range r.tombstones {
		if now.Sub(ts.at) > r.cfg.TombstoneTTL {
			delete(r.tombstones, tid)
		}
	}
	r.tombstones[id] = tombstone{status: status, at: now}
	r.updateGaugeLocked()
}

func (r *TaskRegistry) updateGaugeLocked() {
	if r.metrics != nil {
		r.metrics.AsyncTasks.Set(float64(len(r.tasks)))
	}
}

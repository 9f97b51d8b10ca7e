package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/monitor"
)

// blockingExecutor parks every execution until release is closed. When
// honorCtx is set it also returns on cancellation.
type blockingExecutor struct {
	started  chan string
	release  chan struct{}
	honorCtx bool
}

func newBlockingExecutor(honorCtx bool) *blockingExecutor {
	return &blockingExecutor{
		started:  make(chan string, 16),
		release:  make(chan struct{}),
		honorCtx: honorCtx,
	}
}

func (b *blockingExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*models.ExecutionResult, error) {
	b.started <- TaskIDFromContext(ctx)
	var cancelled <-chan struct{}
	if b.honorCtx {
		cancelled = ctx.Done()
	}
	select {
	case <-b.release:
	case <-cancelled:
		return nil, ctx.Err()
	}
	return &models.ExecutionResult{
		Success: true,
		Status:  models.ExecutionStatusSuccess,
		SQL:     req.SQL,
		Backend: req.Backend,
	}, nil
}

func (b *blockingExecutor) CheckSQL(string, map[string]any) *models.SecurityCheckResult { return nil }

func (b *blockingExecutor) ValidateComplexity(string) *models.ComplexityCheckResult { return nil }

func waitStarted(t *testing.T, b *blockingExecutor) string {
	t.Helper()
	select {
	case id := <-b.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not start")
		return ""
	}
}

func newTestRegistry(t *testing.T, executor SQLExecutor, cfg TaskRegistryConfig) *TaskRegistry {
	t.Helper()
	r := NewTaskRegistry(executor, cfg, monitor.NewMetrics(), zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func TestTaskRegistry_CompletesAgainstSQLite(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRegistry(t, env.executor, TaskRegistryConfig{})
	ctx := context.Background()

	id, err := r.ExecuteAsync(ctx, &ExecuteRequest{
		SQL:        "SELECT name FROM patients WHERE id = ${id}",
		Parameters: map[string]any{"id": 7},
		Backend:    testBackend,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := r.GetAsyncResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, res.Status)
	require.NotNil(t, res.Result)
	require.Len(t, res.Result.Data, 1)
	assert.Equal(t, "Bo", res.Result.Data[0]["name"])

	// The result is handed out once; the status stays answerable.
	assert.Equal(t, models.TaskStatusCompleted, r.GetExecutionStatus(id))
	assert.True(t, r.IsComplete(id))
	again, err := r.GetAsyncResult(ctx, id, 0)
	require.NoError(t, err)
	assert.Nil(t, again.Result)
	assert.Empty(t, r.ActiveTasks())

	entries := env.sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].TaskID)
}

func TestTaskRegistry_RejectedQueryCompletesWithRejectedResult(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRegistry(t, env.executor, TaskRegistryConfig{})

	id, err := r.ExecuteAsync(context.Background(), &ExecuteRequest{SQL: "DROP TABLE patients", Backend: testBackend})
	require.NoError(t, err)

	res, err := r.GetAsyncResult(context.Background(), id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, res.Status)
	require.NotNil(t, res.Result)
	assert.Equal(t, models.ExecutionStatusRejected, res.Result.Status)
	assert.NotEmpty(t, res.Error)
}

func TestTaskRegistry_CancelImmediatelyIsNeverCompleted(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRegistry(t, env.executor, TaskRegistryConfig{})

	id, err := r.ExecuteAsync(context.Background(), &ExecuteRequest{
		SQL:     "SELECT n FROM numbers",
		Backend: testBackend,
	})
	require.NoError(t, err)
	require.NoError(t, r.Cancel(id))

	assert.Equal(t, models.TaskStatusCancelled, r.GetExecutionStatus(id))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.TaskStatusCancelled, r.GetExecutionStatus(id))

	res, err := r.GetAsyncResult(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, res.Status)
	assert.Nil(t, res.Result)

	// Cancelling again is a no-op.
	assert.NoError(t, r.Cancel(id))
}

func TestTaskRegistry_LateCompletionIsDiscarded(t *testing.T) {
	exec := newBlockingExecutor(false)
	r := newTestRegistry(t, exec, TaskRegistryConfig{})

	id, err := r.ExecuteAsync(context.Background(), &ExecuteRequest{SQL: "SELECT 1", Backend: "reports"})
	require.NoError(t, err)
	assert.Equal(t, id, waitStarted(t, exec))
	assert.Equal(t, models.TaskStatusRunning, r.GetExecutionStatus(id))

	require.NoError(t, r.Cancel(id))
	close(exec.release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.TaskStatusCancelled, r.GetExecutionStatus(id))
	assert.Empty(t, r.ActiveTasks())
}

func TestTaskRegistry_CeilingEvictsRunningTask(t *testing.T) {
	exec := newBlockingExecutor(true)
	r := newTestRegistry(t, exec, TaskRegistryConfig{Ceiling: 50 * time.Millisecond})

	id, err := r.ExecuteAsync(context.Background(), &ExecuteRequest{SQL: "SELECT 1", Backend: "reports"})
	require.NoError(t, err)
	waitStarted(t, exec)

	require.Eventually(t, func() bool {
		return r.GetExecutionStatus(id) == models.TaskStatusTimedOut
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, r.IsComplete(id))

	err = r.Cancel(id)
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestTaskRegistry_ConcurrencyLimitKeepsTasksPending(t *testing.T) {
	exec := newBlockingExecutor(true)
	r := newTestRegistry(t, exec, TaskRegistryConfig{MaxConcurrent: 1})
	ctx := context.Background()

	first, err := r.ExecuteAsync(ctx, &ExecuteRequest{SQL: "SELECT 1", Backend: "reports"})
	require.NoError(t, err)
	waitStarted(t, exec)

	second, err := r.ExecuteAsync(ctx, &ExecuteRequest{SQL: "SELECT 2", Backend: "reports"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, r.GetExecutionStatus(second))

	res, err := r.GetAsyncResult(ctx, second, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, res.Status)

	active := r.ActiveTasks()
	require.Len(t, active, 2)
	assert.Equal(t, first, active[0].ID)

	close(exec.release)
	res, err = r.GetAsyncResult(ctx, second, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, res.Status)
}

func TestTaskRegistry_Errors(t *testing.T) {
	exec := newBlockingExecutor(true)
	r := newTestRegistry(t, exec, TaskRegistryConfig{MaxTasks: 1})
	ctx := context.Background()

	_, err := r.ExecuteAsync(ctx, &ExecuteRequest{SQL: " "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, err = r.ExecuteAsync(ctx, &ExecuteRequest{SQL: "SELECT 1", Backend: "reports"})
	require.NoError(t, err)
	_, err = r.ExecuteAsync(ctx, &ExecuteRequest{SQL: "SELECT 2", Backend: "reports"})
	assert.ErrorIs(t, err, apperrors.ErrTooManyExecutions)

	assert.Equal(t, models.TaskStatusNotFound, r.GetExecutionStatus("missing"))
	assert.False(t, r.IsComplete("missing"))
	assert.ErrorIs(t, r.Cancel("missing"), apperrors.ErrNotFound)
	_, err = r.GetAsyncResult(ctx, "missing", 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTaskRegistry_CloseCancelsLiveTasks(t *testing.T) {
	exec := newBlockingExecutor(true)
	r := NewTaskRegistry(exec, TaskRegistryConfig{}, nil, zap.NewNop())

	id, err := r.ExecuteAsync(context.Background(), &ExecuteRequest{SQL: "SELECT 1", Backend: "reports"})
	require.NoError(t, err)
	waitStarted(t, exec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	assert.Equal(t, models.TaskStatusCancelled, r.GetExecutionStatus(id))
	_, err = r.ExecuteAsync(context.Background(), &ExecuteRequest{SQL: "SELECT 1"})
	assert.Error(t, err)
}

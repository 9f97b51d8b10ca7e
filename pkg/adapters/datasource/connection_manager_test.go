package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
)

type fakePool struct {
	backend  string
	closed   atomic.Bool
	pingErr  error
	acquired atomic.Int32
}

func (p *fakePool) Ping(context.Context) error { return p.pingErr }
func (p *fakePool) Close() error               { p.closed.Store(true); return nil }
func (p *fakePool) GetType() string            { return "fake" }

func (p *fakePool) Acquire(context.Context) (Conn, error) {
	p.acquired.Add(1)
	return &fakeConn{backend: p.backend}, nil
}

type fakeConn struct{ backend string }

func (c *fakeConn) Query(context.Context, string, ...any) (results.Cursor, error) { return nil, nil }
func (c *fakeConn) Exec(context.Context, string, ...any) (int64, error)           { return 0, nil }
func (c *fakeConn) Begin(context.Context) (Tx, error)                             { return nil, errors.New("not supported") }
func (c *fakeConn) Dialect() Dialect                                              { return Dialect{Name: "fake"} }
func (c *fakeConn) Backend() string                                               { return c.backend }
func (c *fakeConn) Release()                                                      {}

// fakeFactory records every pool it opens.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakePool
	fail    bool
}

func (f *fakeFactory) open(_ context.Context, name string, _ BackendConfig, _ ConnectionManagerConfig) (PoolConnector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("dial tcp: connection refused")
	}
	p := &fakePool{backend: name}
	f.created = append(f.created, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func registerFake(t *testing.T, typ string) *fakeFactory {
	t.Helper()
	f := &fakeFactory{}
	Register(AdapterRegistration{
		Info:        AdapterInfo{Type: typ, DisplayName: "Fake"},
		Dialect:     Dialect{Name: typ, Placeholder: QuestionPlaceholder},
		PoolFactory: f.open,
	})
	return f
}

func TestConnectionManager_Acquire_ReusesPool(t *testing.T) {
	factory := registerFake(t, "fake-reuse")
	cm := NewConnectionManager(ConnectionManagerConfig{}, map[string]BackendConfig{
		"reports": {Type: "fake-reuse"},
	}, zaptest.NewLogger(t))
	defer cm.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		conn, err := cm.Acquire(ctx, "reports")
		require.NoError(t, err)
		assert.Equal(t, "reports", conn.Backend())
		conn.Release()
	}

	assert.Equal(t, 1, factory.count(), "should reuse same pool")
	assert.Equal(t, int32(3), factory.created[0].acquired.Load())

	stats := cm.GetStats()
	assert.Equal(t, 1, stats.ConfiguredBackends)
	assert.Equal(t, 1, stats.OpenPools)
	assert.Equal(t, 1, stats.PoolsByType["fake"])
}

func TestConnectionManager_Acquire_ConcurrentCreatesOnePool(t *testing.T) {
	factory := registerFake(t, "fake-concurrent")
	cm := NewConnectionManager(ConnectionManagerConfig{}, map[string]BackendConfig{
		"reports": {Type: "fake-concurrent"},
	}, zaptest.NewLogger(t))
	defer cm.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := cm.Acquire(context.Background(), "reports")
			if assert.NoError(t, err) {
				conn.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, factory.count())
}

func TestConnectionManager_Acquire_Errors(t *testing.T) {
	registerFake(t, "fake-errors")

	tests := []struct {
		name     string
		backends map[string]BackendConfig
		backend  string
		wantErr  error
		contains string
	}{
		{
			name:     "unknown backend",
			backends: map[string]BackendConfig{"reports": {Type: "fake-errors"}},
			backend:  "warehouse",
			wantErr:  apperrors.ErrBackendNotFound,
		},
		{
			name:     "unregistered adapter type",
			backends: map[string]BackendConfig{"reports": {Type: "oracle"}},
			backend:  "reports",
			contains: `adapter type "oracle" is not registered`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := NewConnectionManager(ConnectionManagerConfig{}, tt.backends, zaptest.NewLogger(t))
			defer cm.Close()

			_, err := cm.Acquire(context.Background(), tt.backend)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestConnectionManager_Dialect(t *testing.T) {
	registerFake(t, "fake-dialect")
	cm := NewConnectionManager(ConnectionManagerConfig{}, map[string]BackendConfig{
		"reports": {Type: "fake-dialect"},
	}, zaptest.NewLogger(t))
	defer cm.Close()

	d, err := cm.Dialect("reports")
	require.NoError(t, err)
	assert.Equal(t, "SELECT ?1, ?2", d.Rewrite("SELECT $1, $2"))

	_, err = cm.Dialect("missing")
	assert.ErrorIs(t, err, apperrors.ErrBackendNotFound)
}

func TestConnectionManager_PerformCleanup(t *testing.T) {
	factory := registerFake(t, "fake-cleanup")
	cm := NewConnectionManager(ConnectionManagerConfig{TTLMinutes: 1}, map[string]BackendConfig{
		"reports": {Type: "fake-cleanup"},
		"archive": {Type: "fake-cleanup"},
	}, zaptest.NewLogger(t))
	defer cm.Close()

	ctx := context.Background()
	_, err := cm.GetOrCreatePool(ctx, "reports")
	require.NoError(t, err)
	_, err = cm.GetOrCreatePool(ctx, "archive")
	require.NoError(t, err)

	// Age one pool past the TTL
	cm.mu.Lock()
	cm.connections["archive"].lastUsed = time.Now().Add(-2 * time.Minute)
	cm.mu.Unlock()

	cm.performCleanup()

	assert.Equal(t, 1, cm.GetStats().OpenPools)
	var closed int
	for _, p := range factory.created {
		if p.closed.Load() {
			closed++
			assert.Equal(t, "archive", p.backend)
		}
	}
	assert.Equal(t, 1, closed)

	// Next acquire reopens it
	_, err = cm.GetOrCreatePool(ctx, "archive")
	require.NoError(t, err)
	assert.Equal(t, 3, factory.count())
}

func TestConnectionManager_UnhealthyPoolIsRecreated(t *testing.T) {
	factory := registerFake(t, "fake-health")
	cm := NewConnectionManager(ConnectionManagerConfig{}, map[string]BackendConfig{
		"reports": {Type: "fake-health"},
	}, zaptest.NewLogger(t))
	defer cm.Close()

	ctx := context.Background()
	first, err := cm.GetOrCreatePool(ctx, "reports")
	require.NoError(t, err)

	first.(*fakePool).pingErr = errors.New("connection reset by peer")
	cm.mu.Lock()
	cm.connections["reports"].lastUsed = time.Now().Add(-time.Minute)
	cm.mu.Unlock()

	second, err := cm.GetOrCreatePool(ctx, "reports")
	require.NoError(t, err)

	assert.NotEqual(t, fmt.Sprintf("%p", first), fmt.Sprintf("%p", second))
	assert.True(t, first.(*fakePool).closed.Load())
	assert.Equal(t, 2, factory.count())
}

func TestConnectionManager_Close(t *testing.T) {
	factory := registerFake(t, "fake-close")
	cm := NewConnectionManager(ConnectionManagerConfig{}, map[string]BackendConfig{
		"reports": {Type: "fake-close"},
	}, zaptest.NewLogger(t))

	_, err := cm.Acquire(context.Background(), "reports")
	require.NoError(t, err)

	require.NoError(t, cm.Close())
	require.NoError(t, cm.Close(), "close is idempotent")
	assert.True(t, factory.created[0].closed.Load())

	_, err = cm.Acquire(context.Background(), "reports")
	assert.Error(t, err)
}

func TestRegisteredAdapters_Sorted(t *testing.T) {
	registerFake(t, "fake-zz")
	registerFake(t, "fake-aa")

	infos := RegisteredAdapters()
	for i := 1; i < len(infos); i++ {
		assert.LessOrEqual(t, infos[i-1].Type, infos[i].Type)
	}
	assert.True(t, IsRegistered("fake-aa"))
	assert.False(t, IsRegistered("db2"))
}

func TestWrapError(t *testing.T) {
	classify := func(err error) (string, string, bool) {
		if err.Error() == "vendor" {
			return "42P01", "relation does not exist", true
		}
		if err.Error() == "timeout" {
			return "57014", "canceling statement due to statement timeout", true
		}
		return "", "", false
	}

	tests := []struct {
		name     string
		err      error
		wantIs   error
		wantCode string
	}{
		{"nil stays nil", nil, nil, ""},
		{"deadline", context.DeadlineExceeded, apperrors.ErrTimedOut, ""},
		{"cancel", context.Canceled, apperrors.ErrCancelled, ""},
		{"vendor code", errors.New("vendor"), nil, "42P01"},
		{"statement timeout code", errors.New("timeout"), apperrors.ErrTimedOut, "57014"},
		{"plain", errors.New("boom"), nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapError("pg", "query", tt.err, classify)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			var be *apperrors.BackendError
			if errors.As(err, &be) {
				assert.Equal(t, tt.wantCode, be.Code)
				assert.Equal(t, "pg", be.Backend)
			} else {
				assert.Empty(t, tt.wantCode)
			}
		})
	}
}

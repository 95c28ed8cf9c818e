package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, options Options) *Manager {
	t.Helper()
	options.Logger = zerolog.Nop()
	mgr := New(options)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return mgr
}

func waitDone(t *testing.T, mgr *Manager, id string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = mgr.Get(id)
		return err == nil && task.Done()
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestNew_Defaults(t *testing.T) {
	mgr := newTestManager(t, Options{})
	assert.Equal(t, 10, mgr.options.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, mgr.options.Timeout)
}

func TestManager_SubmitCompletes(t *testing.T) {
	mgr := newTestManager(t, Options{})

	id, err := mgr.Submit(Spec{SessionID: "user_1", UserID: "1"}, func(ctx context.Context) (interface{}, error) {
		return "result", nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	task := waitDone(t, mgr, id)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "result", task.Result)
	assert.Equal(t, "user_1", task.SessionID)
	assert.Equal(t, OriginDirect, task.Origin)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.CompletedAt)
	assert.Empty(t, task.Error)
}

func TestManager_SubmitFails(t *testing.T) {
	mgr := newTestManager(t, Options{})

	id, err := mgr.Submit(Spec{Origin: OriginDebounce}, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("agent exploded")
	})
	require.NoError(t, err)

	task := waitDone(t, mgr, id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "agent exploded", task.Error)
	assert.Equal(t, OriginDebounce, task.Origin)
}

func TestManager_PanicBecomesFailure(t *testing.T) {
	mgr := newTestManager(t, Options{})

	id, err := mgr.Submit(Spec{}, func(ctx context.Context) (interface{}, error) {
		panic("bad job")
	})
	require.NoError(t, err)

	task := waitDone(t, mgr, id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "bad job")
}

func TestManager_Timeout(t *testing.T) {
	mgr := newTestManager(t, Options{Timeout: 30 * time.Millisecond})

	id, err := mgr.Submit(Spec{}, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	task := waitDone(t, mgr, id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "deadline exceeded")
}

func TestManager_ConcurrencyLimit(t *testing.T) {
	mgr := newTestManager(t, Options{MaxConcurrent: 2})

	var current, peak atomic.Int32
	release := make(chan struct{})
	job := func(ctx context.Context) (interface{}, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return nil, nil
	}

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := mgr.Submit(Spec{}, job)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, 5*time.Millisecond)
	stats := mgr.Stats()
	assert.Equal(t, 2, stats[StatusProcessing])
	assert.Equal(t, 3, stats[StatusPending])

	close(release)
	for _, id := range ids {
		waitDone(t, mgr, id)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestManager_GetUnknown(t *testing.T) {
	mgr := newTestManager(t, Options{})

	_, err := mgr.Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_SubmitNilJob(t *testing.T) {
	mgr := newTestManager(t, Options{})

	_, err := mgr.Submit(Spec{}, nil)
	assert.ErrorIs(t, err, ErrNilJob)
}

func TestManager_Events(t *testing.T) {
	mgr := newTestManager(t, Options{})

	var mu sync.Mutex
	var types []string
	mgr.Subscribe(func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, event.Type)
	})

	id, err := mgr.Submit(Spec{}, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	waitDone(t, mgr, id)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"created", "started", "completed"}, types)
}

func TestManager_ListAndCleanup(t *testing.T) {
	mgr := newTestManager(t, Options{})

	first, err := mgr.Submit(Spec{}, func(ctx context.Context) (interface{}, error) { return 1, nil })
	require.NoError(t, err)
	waitDone(t, mgr, first)

	release := make(chan struct{})
	second, err := mgr.Submit(Spec{}, func(ctx context.Context) (interface{}, error) {
		<-release
		return 2, nil
	})
	require.NoError(t, err)

	list := mgr.List()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)

	time.Sleep(10 * time.Millisecond)

	// Only finished tasks are eligible.
	assert.Equal(t, 1, mgr.Cleanup(time.Millisecond))
	_, err = mgr.Get(first)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = mgr.Get(second)
	assert.NoError(t, err)

	close(release)
	waitDone(t, mgr, second)
	assert.Equal(t, 0, mgr.Cleanup(time.Hour))
}

func TestManager_Close(t *testing.T) {
	mgr := New(Options{Logger: zerolog.Nop()})

	var finished atomic.Bool
	_, err := mgr.Submit(Spec{}, func(ctx context.Context) (interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Close(context.Background()))
	assert.True(t, finished.Load())

	_, err = mgr.Submit(Spec{}, func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCountParts(t *testing.T) {
	assert.Equal(t, 0, countParts(""))
	assert.Equal(t, 1, countParts("hello"))
	assert.Equal(t, 3, countParts("a\nb\nc"))
}

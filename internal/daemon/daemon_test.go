package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/ccserver/internal/config"
	"github.com/harun/ccserver/internal/logger"
	"github.com/harun/ccserver/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// createTestDaemon creates a daemon backed by the echo agent
func createTestDaemon(t *testing.T) (*Daemon, *config.Config) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Agent.Bin = "echo"
	cfg.Debounce.Window = 0.05

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, log, "test")
	require.NoError(t, err)

	return d, cfg
}

func waitForHealth(t *testing.T, baseURL string) {
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew(t *testing.T) {
	d, _ := createTestDaemon(t)

	assert.NotNil(t, d.GetBuffer())
	assert.NotNil(t, d.GetTaskManager())
	assert.NotNil(t, d.GetSessionManager())
	assert.NotNil(t, d.GetServer())
	assert.NotNil(t, d.scheduler)
	assert.IsType(t, &agent.Echo{}, d.runner.Agent())
	assert.Equal(t, 50*time.Millisecond, d.GetBuffer().Window())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log, "test")
	assert.Error(t, err)
}

func TestDaemonStartStop(t *testing.T) {
	d, cfg := createTestDaemon(t)

	require.NoError(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.False(t, status.StartTime.IsZero())

	waitForHealth(t, fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port))

	assert.Error(t, d.Start(), "second start should fail")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	status = d.Status()
	assert.False(t, status.Running)
	assert.Zero(t, status.Uptime)

	assert.NoError(t, d.Stop(ctx), "stopping twice is a no-op")
}

func TestDaemonDebouncedChat(t *testing.T) {
	d, cfg := createTestDaemon(t)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	require.NoError(t, d.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Stop(ctx)
	}()
	waitForHealth(t, baseURL)

	for _, msg := range []string{"hello", "world"} {
		resp, err := http.Post(baseURL+"/chat/async", "application/json",
			strings.NewReader(fmt.Sprintf(`{"user_id":"alice","message":%q}`, msg)))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	require.Eventually(t, func() bool {
		for _, task := range d.GetTaskManager().List() {
			if task.Done() {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	taskList := d.GetTaskManager().List()
	require.Len(t, taskList, 1)

	data, err := json.Marshal(taskList[0].Result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `hello\nworld`)
}

func TestDaemonRun_ContextCancel(t *testing.T) {
	d, cfg := createTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, 5*time.Second)
	}()

	waitForHealth(t, fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, d.Status().Running)
}

func TestDaemonRun_ListenError(t *testing.T) {
	d, cfg := createTestDaemon(t)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port))
	require.NoError(t, err)
	defer listener.Close()

	err = d.Run(context.Background(), time.Second)
	assert.Error(t, err)
}

func TestApplyConfig(t *testing.T) {
	d, cfg := createTestDaemon(t)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	updated := *cfg
	updated.Debounce.Enabled = false
	updated.Debounce.Window = 3
	updated.Debounce.MaxWindow = 20

	d.ApplyConfig(&updated)

	policy := d.GetServer().DebouncePolicy()
	assert.False(t, policy.Enabled)
	assert.Equal(t, 3*time.Second, policy.Window)
	assert.Equal(t, 20*time.Second, policy.MaxWindow)
}

// lockedBuilder is a strings.Builder safe for concurrent log writers
type lockedBuilder struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *lockedBuilder) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuilder) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestDaemonStart_LogsLivePolicy(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Agent.Bin = "echo"

	var out lockedBuilder
	log, err := logger.New(logger.Config{Level: "info", Console: true, Output: &out})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, log, "test")
	require.NoError(t, err)

	updated := *cfg
	updated.Debounce.Window = 3
	updated.Logging.Level = "info"

	d.ApplyConfig(&updated)

	// Reloads may land while Start runs.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.ApplyConfig(&updated)
	}()
	require.NoError(t, d.Start())
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Contains(t, out.String(), `"debounce_window":3000`)
}

func TestCronLogger(t *testing.T) {
	var out strings.Builder
	log, err := logger.New(logger.Config{Level: "debug", Console: true, Output: &out})
	require.NoError(t, err)
	defer log.Close()

	l := &cronLogger{logger: log.Zerolog()}
	l.Info("schedule", "entry", 1, "dangling")
	l.Error(fmt.Errorf("boom"), "job failed", "entry", 2)

	assert.Contains(t, out.String(), `"entry":1`)
	assert.Contains(t, out.String(), `"error":"boom"`)
	assert.NotContains(t, out.String(), "dangling")
}

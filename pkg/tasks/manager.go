package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/ccserver/internal/observability"
	"github.com/harun/ccserver/internal/tracing"
	"github.com/rs/zerolog"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrClosed       = errors.New("task manager is closed")
	ErrNilJob       = errors.New("job cannot be nil")
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Origin values for Spec.Origin
const (
	OriginDirect   = "direct"
	OriginDebounce = "debounce"
)

// Job is the background work of a task
type Job func(ctx context.Context) (interface{}, error)

// Spec describes a task at submission time
type Spec struct {
	SessionID string
	UserID    string
	Origin    string
	Message   string
}

// Task is a snapshot of a task's state
type Task struct {
	ID          string      `json:"task_id"`
	SessionID   string      `json:"session_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	Origin      string      `json:"origin"`
	Status      Status      `json:"status"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Done reports whether the task reached a terminal status
func (t Task) Done() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Event is emitted on every status change
type Event struct {
	Type string // "created", "started", "completed" or "failed"
	Task Task
}

// EventHandler handles task events. Handlers run synchronously on the task's goroutine.
type EventHandler func(event Event)

// Options configures a Manager
type Options struct {
	MaxConcurrent int           // default: 10
	Timeout       time.Duration // per-job timeout, default: 10m
	Logger        zerolog.Logger
}

// Manager runs jobs with bounded concurrency and keeps their status
type Manager struct {
	options Options
	logger  zerolog.Logger

	tasks  map[string]*Task
	mu     sync.RWMutex
	closed bool

	slots   chan struct{}
	running int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	handlers   []EventHandler
	handlersMu sync.RWMutex
}

// New creates a new Manager
func New(options Options) *Manager {
	observability.EnsureRegistered()

	if options.MaxConcurrent <= 0 {
		options.MaxConcurrent = 10
	}
	if options.Timeout <= 0 {
		options.Timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		options: options,
		logger:  options.Logger.With().Str("component", "tasks").Logger(),
		tasks:   make(map[string]*Task),
		slots:   make(chan struct{}, options.MaxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit registers a pending task and starts job in the background. It returns the task id.
func (m *Manager) Submit(spec Spec, job Job) (string, error) {
	if job == nil {
		return "", ErrNilJob
	}
	if spec.Origin == "" {
		spec.Origin = OriginDirect
	}

	task := &Task{
		ID:        uuid.New().String(),
		SessionID: spec.SessionID,
		UserID:    spec.UserID,
		Origin:    spec.Origin,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	m.tasks[task.ID] = task
	m.wg.Add(1)
	snapshot := *task
	m.mu.Unlock()

	logger := m.logger.With().
		Str("task_id", task.ID).
		Str("session_id", spec.SessionID).
		Logger()

	event := logger.Info().
		Str("user_id", spec.UserID).
		Str("origin", spec.Origin).
		Int("message_length", len(spec.Message))
	if parts := countParts(spec.Message); parts > 1 {
		event = event.Int("merged_parts", parts)
	}
	event.Msg("Task created")

	observability.RecordTaskCreated(spec.Origin)
	m.emit(Event{Type: "created", Task: snapshot})

	go m.execute(task.ID, job, logger)

	return task.ID, nil
}

// execute waits for a slot and runs the job
func (m *Manager) execute(taskID string, job Job, logger zerolog.Logger) {
	defer m.wg.Done()

	select {
	case m.slots <- struct{}{}:
	case <-m.ctx.Done():
		m.finish(taskID, nil, fmt.Errorf("task cancelled before start: %w", m.ctx.Err()), time.Now(), logger)
		return
	}
	defer func() { <-m.slots }()

	startTime := time.Now()
	m.mu.Lock()
	task := m.tasks[taskID]
	if task != nil {
		task.Status = StatusProcessing
		task.StartedAt = &startTime
	}
	m.running++
	observability.SetRunningTasks(m.running)
	var snapshot Task
	if task != nil {
		snapshot = *task
	}
	m.mu.Unlock()

	logger.Debug().Msg("Task started")
	m.emit(Event{Type: "started", Task: snapshot})

	runCtx, cancel := context.WithTimeout(tracing.WithTaskID(m.ctx, taskID), m.options.Timeout)
	defer cancel()

	value, err := runJob(runCtx, job)

	m.mu.Lock()
	m.running--
	observability.SetRunningTasks(m.running)
	m.mu.Unlock()

	m.finish(taskID, value, err, startTime, logger)
}

func (m *Manager) finish(taskID string, value interface{}, err error, startTime time.Time, logger zerolog.Logger) {
	now := time.Now()
	duration := now.Sub(startTime)

	m.mu.Lock()
	task := m.tasks[taskID]
	if task == nil {
		m.mu.Unlock()
		return
	}
	task.CompletedAt = &now
	if err != nil {
		task.Status = StatusFailed
		task.Error = err.Error()
	} else {
		task.Status = StatusCompleted
		task.Result = value
	}
	snapshot := *task
	m.mu.Unlock()

	observability.RecordTaskCompletion(string(snapshot.Status), duration)

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("Task failed")
		m.emit(Event{Type: "failed", Task: snapshot})
		return
	}

	logger.Info().Dur("duration", duration).Msg("Task completed")
	m.emit(Event{Type: "completed", Task: snapshot})
}

func runJob(ctx context.Context, job Job) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return job(ctx)
}

// Get returns a snapshot of a task
func (m *Manager) Get(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}

// List returns snapshots of all tasks, oldest first
func (m *Manager) List() []Task {
	m.mu.RLock()
	list := make([]Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		list = append(list, *task)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Stats returns task counts by status
func (m *Manager) Stats() map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for _, task := range m.tasks {
		stats[task.Status]++
	}
	return stats
}

// Cleanup removes finished tasks that completed more than maxAge ago
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	removed := 0
	for id, task := range m.tasks {
		if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Old tasks cleaned up")
	}
	return removed
}

// Subscribe registers an event handler
func (m *Manager) Subscribe(handler EventHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Manager) emit(event Event) {
	m.handlersMu.RLock()
	handlers := m.handlers
	m.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Close stops accepting tasks and waits for submitted ones. When ctx expires
// first, running jobs are cancelled and ctx.Err() is returned.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		m.logger.Info().Msg("All tasks finished")
		return nil
	case <-ctx.Done():
		m.cancel()
		m.logger.Warn().Msg("Shutdown timeout reached, cancelling running tasks")
		return ctx.Err()
	}
}

// countParts reports how many newline-separated parts a message has
func countParts(message string) int {
	if message == "" {
		return 0
	}
	return strings.Count(message, "\n") + 1
}

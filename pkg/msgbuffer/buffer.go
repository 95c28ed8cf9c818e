package msgbuffer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/ccserver/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultSeparator joins merged messages when Options.Separator is nil.
const DefaultSeparator = "\n"

var (
	ErrEmptySessionID = errors.New("session id cannot be empty")
	ErrNilCallback    = errors.New("callback cannot be nil")
	ErrInvalidWindow  = errors.New("debounce window must be positive")
	ErrClosed         = errors.New("message buffer is closed")
)

// Callback receives the merged content of one buffering cycle. Its error is
// logged and otherwise ignored.
type Callback func(ctx context.Context, combined string) error

// Options configures a Buffer.
type Options struct {
	Window    time.Duration  // default debounce window, must be > 0
	Separator *string        // nil means DefaultSeparator
	Logger    zerolog.Logger // zero value discards
}

// sessionBuffer holds one session's current cycle. All fields are guarded by Buffer.mu.
type sessionBuffer struct {
	sessionID   string
	messages    []string
	timer       *time.Timer
	generation  uint64
	window      time.Duration
	callback    Callback
	lastUpdated time.Time
}

// Buffer debounces messages per session and hands the merged text to a callback
// once a session has been quiet for its window.
type Buffer struct {
	window    time.Duration
	separator string
	logger    zerolog.Logger

	mu      sync.Mutex
	buffers map[string]*sessionBuffer
	closed  bool

	ctx      context.Context
	cancel   context.CancelFunc
	inFlight sync.WaitGroup
}

// New creates a Buffer.
func New(opts Options) (*Buffer, error) {
	if opts.Window <= 0 {
		return nil, fmt.Errorf("%w: default window %s", ErrInvalidWindow, opts.Window)
	}

	separator := DefaultSeparator
	if opts.Separator != nil {
		separator = *opts.Separator
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &Buffer{
		window:    opts.Window,
		separator: separator,
		logger:    opts.Logger.With().Str("component", "msgbuffer").Logger(),
		buffers:   make(map[string]*sessionBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Window returns the default debounce window.
func (b *Buffer) Window() time.Duration {
	return b.window
}

// Separator returns the string placed between merged messages.
func (b *Buffer) Separator() string {
	return b.separator
}

// Add appends message to the session's buffer and (re)starts its flush timer.
// A zero window selects the default window. Add never waits for the flush.
func (b *Buffer) Add(sessionID, message string, cb Callback, window time.Duration) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if cb == nil {
		return ErrNilCallback
	}
	if window < 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidWindow, window)
	}
	if window == 0 {
		window = b.window
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	sb, exists := b.buffers[sessionID]
	if !exists {
		sb = &sessionBuffer{sessionID: sessionID}
		b.buffers[sessionID] = sb
	}

	sb.messages = append(sb.messages, message)
	sb.callback = cb
	sb.window = window
	sb.lastUpdated = time.Now()

	reset := sb.timer != nil
	if reset {
		sb.timer.Stop()
	}

	// A timer whose Stop came too late sees a newer generation and backs off.
	sb.generation++
	generation := sb.generation
	sb.timer = time.AfterFunc(window, func() {
		b.fire(sb, generation)
	})

	b.logger.Debug().
		Str("session_id", sessionID).
		Str("preview", truncate(message, 50)).
		Int("pending", len(sb.messages)).
		Dur("window", window).
		Bool("reset", reset).
		Msg("Message buffered")

	observability.RecordMessageBuffered(reset, window)
	observability.SetActiveBuffers(len(b.buffers))

	return nil
}

// PendingCount returns the number of messages waiting to be flushed for a session.
func (b *Buffer) PendingCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sb, exists := b.buffers[sessionID]; exists {
		return len(sb.messages)
	}
	return 0
}

// Sessions returns the number of sessions currently buffering.
func (b *Buffer) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

// Cancel discards a session's buffered messages without invoking the callback.
// It reports whether there was anything to cancel.
func (b *Buffer) Cancel(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb, exists := b.buffers[sessionID]
	if !exists {
		return false
	}

	sb.timer.Stop()
	sb.generation++
	delete(b.buffers, sessionID)

	b.logger.Debug().
		Str("session_id", sessionID).
		Int("discarded", len(sb.messages)).
		Msg("Buffer cancelled")

	observability.RecordBufferCancel()
	observability.SetActiveBuffers(len(b.buffers))

	return true
}

// Flush delivers a session's buffered messages now instead of waiting for the
// timer. The callback runs asynchronously. It reports whether a buffer existed.
func (b *Buffer) Flush(sessionID string) bool {
	b.mu.Lock()
	sb, exists := b.buffers[sessionID]
	if !exists {
		b.mu.Unlock()
		return false
	}
	sb.timer.Stop()
	sb.generation++
	messages, cb := b.takeLocked(sb)
	b.mu.Unlock()

	go b.deliver(sessionID, messages, cb)
	return true
}

// Close stops accepting messages, flushes every pending buffer and waits for
// running callbacks. When ctx expires first, the callbacks' context is cancelled
// and ctx.Err() is returned.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	type pending struct {
		sessionID string
		messages  []string
		callback  Callback
	}
	var flushes []pending
	for sessionID, sb := range b.buffers {
		sb.timer.Stop()
		sb.generation++
		messages, cb := b.takeLocked(sb)
		flushes = append(flushes, pending{sessionID: sessionID, messages: messages, callback: cb})
	}
	b.mu.Unlock()

	if len(flushes) > 0 {
		b.logger.Info().Int("sessions", len(flushes)).Msg("Flushing pending buffers on close")
	}
	for _, p := range flushes {
		go b.deliver(p.sessionID, p.messages, p.callback)
	}

	done := make(chan struct{})
	go func() {
		b.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		b.logger.Warn().Msg("Close deadline reached with callbacks still running")
		return ctx.Err()
	}
}

// fire runs when a session's timer expires.
func (b *Buffer) fire(sb *sessionBuffer, generation uint64) {
	b.mu.Lock()
	if b.buffers[sb.sessionID] != sb || sb.generation != generation {
		b.mu.Unlock()
		return
	}
	messages, cb := b.takeLocked(sb)
	b.mu.Unlock()

	b.deliver(sb.sessionID, messages, cb)
}

// takeLocked removes sb from the registry and hands its messages to the caller.
// b.mu must be held. The in-flight counter is raised here so Close observes it.
func (b *Buffer) takeLocked(sb *sessionBuffer) ([]string, Callback) {
	messages := sb.messages
	sb.messages = nil
	sb.timer = nil
	delete(b.buffers, sb.sessionID)
	b.inFlight.Add(1)
	observability.SetActiveBuffers(len(b.buffers))
	return messages, sb.callback
}

// deliver joins messages and runs the callback, containing its failures.
func (b *Buffer) deliver(sessionID string, messages []string, cb Callback) {
	defer b.inFlight.Done()

	if len(messages) == 0 {
		return
	}

	combined := strings.Join(messages, b.separator)
	logger := b.logger.With().Str("session_id", sessionID).Logger()

	logger.Info().
		Int("messages", len(messages)).
		Str("preview", truncate(combined, 100)).
		Msg("Flushing buffered messages")

	startTime := time.Now()
	err := b.invoke(cb, combined)
	duration := time.Since(startTime)

	observability.RecordFlush(len(messages), err == nil)

	if err != nil {
		logger.Error().
			Err(err).
			Dur("duration", duration).
			Msg("Flush callback failed")
		return
	}

	logger.Debug().
		Dur("duration", duration).
		Msg("Flush callback completed")
}

func (b *Buffer) invoke(cb Callback, combined string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(b.ctx, combined)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/ccserver/internal/observability"
	"github.com/harun/ccserver/internal/tracing"
	"github.com/harun/ccserver/pkg/session"
	"github.com/rs/zerolog"
)

// RunParams describes one conversation turn
type RunParams struct {
	UserID    string
	SessionID string // optional, defaults to session.KeyFor(UserID, "")
	Message   string
	Metadata  map[string]string // passed to the formatter
}

// Result is the outcome of a turn, shaped for API responses
type Result struct {
	Content   string                 `json:"content"`
	SessionID string                 `json:"session_id"`
	ResumeID  string                 `json:"resume_id,omitempty"`
	Success   bool                   `json:"success"`
	Duration  time.Duration          `json:"-"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Runner executes turns with session tracking
type Runner struct {
	agent     Agent
	sessions  *session.Manager
	formatter Formatter
	logger    zerolog.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithFormatter sets the formatter applied to every prompt. A nil
// formatter sends messages unchanged.
func WithFormatter(f Formatter) RunnerOption {
	return func(r *Runner) {
		r.formatter = f
	}
}

// NewRunner creates a new Runner
func NewRunner(agent Agent, sessions *session.Manager, logger zerolog.Logger, opts ...RunnerOption) *Runner {
	observability.EnsureRegistered()

	r := &Runner{
		agent:    agent,
		sessions: sessions,
		logger:   logger.With().Str("component", "agent").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Agent returns the underlying agent
func (r *Runner) Agent() Agent {
	return r.agent
}

// Run executes one turn. Turns of the same session run one at a time.
func (r *Runner) Run(ctx context.Context, params RunParams) (*Result, error) {
	if params.UserID == "" {
		return nil, ErrEmptyUser
	}
	if params.Message == "" {
		return nil, ErrEmptyPrompt
	}

	sessionID := session.KeyFor(params.UserID, params.SessionID)
	ctx = tracing.WithSessionID(ctx, sessionID)
	logger := tracing.Logger(ctx, r.logger).With().
		Str("user_id", params.UserID).
		Logger()

	unlock := r.sessions.Lock(sessionID)
	defer unlock()

	s, err := r.sessions.GetOrCreate(sessionID, params.UserID)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Int("message_length", len(params.Message)).
		Bool("resuming", s.ResumeID != "").
		Msg("Agent run started")

	prompt := params.Message
	if r.formatter != nil {
		prompt = r.formatter(params.Message, params.UserID, params.Metadata)
	}

	startTime := time.Now()
	response, err := r.agent.Chat(ctx, Request{
		Prompt:    prompt,
		SessionID: sessionID,
		UserID:    params.UserID,
		ResumeID:  s.ResumeID,
	})
	duration := time.Since(startTime)

	observability.RecordAgentRun(duration, err == nil)

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("Agent run failed")
		return nil, fmt.Errorf("agent run failed: %w", err)
	}

	if response.ResumeID != "" {
		if err := r.sessions.SetResumeID(sessionID, response.ResumeID); err != nil {
			return nil, err
		}
	}
	if err := r.sessions.Append(sessionID, session.RoleUser, params.Message); err != nil {
		return nil, err
	}
	if err := r.sessions.Append(sessionID, session.RoleAssistant, response.Content); err != nil {
		return nil, err
	}

	logger.Info().
		Dur("duration", duration).
		Int("response_length", len(response.Content)).
		Msg("Agent run completed")

	return &Result{
		Content:   response.Content,
		SessionID: sessionID,
		ResumeID:  response.ResumeID,
		Success:   true,
		Duration:  duration,
		Metadata:  response.Metadata,
	}, nil
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
	ErrEmptyUser   = errors.New("user id cannot be empty")
)

// Agent is the external conversational agent
type Agent interface {
	// Chat sends a prompt and waits for the reply
	Chat(ctx context.Context, request Request) (*Response, error)

	// Version returns the agent's version string
	Version(ctx context.Context) (string, error)
}

// Request is a single prompt sent to the agent
type Request struct {
	Prompt    string
	SessionID string
	UserID    string
	ResumeID  string // agent-side conversation id from the previous turn
}

// Response is the agent's reply
type Response struct {
	Content  string
	ResumeID string
	Duration time.Duration
	Metadata map[string]interface{}
}

// ExecError reports a non-zero exit of the agent process
type ExecError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("agent exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("agent exited with code %d: %s", e.ExitCode, e.Stderr)
}

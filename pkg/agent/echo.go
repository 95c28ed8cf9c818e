package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Echo replies with the prompt it received. It is used for development and tests.
type Echo struct {
	Delay time.Duration
}

// Chat implements Agent
func (e *Echo) Chat(ctx context.Context, request Request) (*Response, error) {
	if strings.TrimSpace(request.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resumeID := request.ResumeID
	if resumeID == "" {
		resumeID = uuid.New().String()
	}

	return &Response{
		Content:  request.Prompt,
		ResumeID: resumeID,
		Duration: e.Delay,
		Metadata: map[string]interface{}{"agent": "echo"},
	}, nil
}

// Version implements Agent
func (e *Echo) Version(ctx context.Context) (string, error) {
	return "echo", nil
}

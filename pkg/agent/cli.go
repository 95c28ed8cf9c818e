package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CLIConfig configures the CLI agent
type CLIConfig struct {
	Bin              string        // executable, default: "claude"
	Args             []string      // extra arguments placed before the resume flag
	ResumeFlag       string        // flag that carries the resume id, e.g. "--resume"
	WorkingDirectory string        // process working directory
	Timeout          time.Duration // per-turn timeout, default: 5m
}

// CLI runs the agent as a child process. The prompt is written to stdin and
// stdout is the reply.
type CLI struct {
	config CLIConfig
}

// NewCLI creates a new CLI agent
func NewCLI(config CLIConfig) *CLI {
	if config.Bin == "" {
		config.Bin = "claude"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	return &CLI{config: config}
}

// Chat implements Agent
func (c *CLI) Chat(ctx context.Context, request Request) (*Response, error) {
	if strings.TrimSpace(request.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	args := append([]string(nil), c.config.Args...)
	if c.config.ResumeFlag != "" && request.ResumeID != "" {
		args = append(args, c.config.ResumeFlag, request.ResumeID)
	}

	cmd := exec.CommandContext(ctx, c.config.Bin, args...)
	cmd.Dir = c.config.WorkingDirectory
	cmd.Stdin = strings.NewReader(request.Prompt)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	err := cmd.Run()
	duration := time.Since(startTime)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("agent timed out after %s: %w", duration.Round(time.Millisecond), ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExecError{ExitCode: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return nil, fmt.Errorf("failed to run agent: %w", err)
	}

	// Output is passed through unparsed, so the CLI never reports a new resume id.
	response := &Response{
		Content:  strings.TrimSpace(stdout.String()),
		ResumeID: request.ResumeID,
		Duration: duration,
		Metadata: map[string]interface{}{
			"bin": c.config.Bin,
		},
	}

	return response, nil
}

// Version implements Agent
func (c *CLI) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, c.config.Bin, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get agent version: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/harun/ccserver/pkg/agent"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", port)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a cron spec such as "@every 5m" or "*/10 * * * *"
func (v *Validator) ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("cron schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateDebounce validates debounce windows
func (v *Validator) ValidateDebounce(cfg DebounceConfig) error {
	if cfg.Window <= 0 {
		return fmt.Errorf("debounce.debounce_window must be > 0")
	}
	if cfg.MaxWindow <= 0 {
		return fmt.Errorf("debounce.max_debounce_window must be > 0")
	}
	if cfg.Window > cfg.MaxWindow {
		return fmt.Errorf("debounce.debounce_window (%.2fs) exceeds max_debounce_window (%.2fs)", cfg.Window, cfg.MaxWindow)
	}
	return nil
}

// ValidateFormatter validates a message formatter preset name
func (v *Validator) ValidateFormatter(name string) error {
	if name == "" {
		return nil
	}
	if _, ok := agent.FormatterByName(name); !ok {
		return fmt.Errorf("invalid message formatter: %s (must be one of: %s)", name, strings.Join(agent.FormatterNames(), ", "))
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate server
	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, fmt.Errorf("server: %w", err))
	}
	if strings.TrimSpace(cfg.Server.Host) == "" {
		errors = append(errors, fmt.Errorf("server.host is required"))
	}

	// Validate agent
	if strings.TrimSpace(cfg.Agent.Bin) == "" {
		errors = append(errors, fmt.Errorf("agent.bin is required"))
	}
	if cfg.Agent.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("agent.timeout_seconds must be > 0"))
	}
	if err := v.ValidateFormatter(cfg.Agent.MessageFormatter); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}

	// Validate debounce
	if err := v.ValidateDebounce(cfg.Debounce); err != nil {
		errors = append(errors, err)
	}

	// Validate tasks
	if cfg.Tasks.MaxConcurrent <= 0 {
		errors = append(errors, fmt.Errorf("tasks.max_concurrent_tasks must be > 0"))
	}
	if cfg.Tasks.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("tasks.task_timeout_seconds must be > 0"))
	}
	if cfg.Tasks.MaxTaskAgeSeconds < 0 {
		errors = append(errors, fmt.Errorf("tasks.max_task_age_seconds must be >= 0"))
	}
	if err := v.ValidateSchedule(cfg.Tasks.CleanupSchedule); err != nil {
		errors = append(errors, fmt.Errorf("tasks: %w", err))
	}

	// Validate sessions
	if cfg.Session.TTLSeconds <= 0 {
		errors = append(errors, fmt.Errorf("session.ttl_seconds must be > 0"))
	}
	if err := v.ValidateSchedule(cfg.Session.CleanupSchedule); err != nil {
		errors = append(errors, fmt.Errorf("session: %w", err))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size must be >= 0"))
	}

	return errors
}

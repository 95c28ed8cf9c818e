package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config represents the main ccserver configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server" yaml:"server"`

	// External agent
	Agent AgentConfig `json:"agent" mapstructure:"agent" yaml:"agent"`

	// Message debouncing
	Debounce DebounceConfig `json:"debounce" mapstructure:"debounce" yaml:"debounce"`

	// Async tasks
	Tasks TasksConfig `json:"tasks" mapstructure:"tasks" yaml:"tasks"`

	// Sessions
	Session SessionConfig `json:"session" mapstructure:"session" yaml:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string   `json:"host" mapstructure:"host" yaml:"host"`
	Port         int      `json:"port" mapstructure:"port" yaml:"port"`
	EnableCORS   bool     `json:"enable_cors" mapstructure:"enable_cors" yaml:"enable_cors"`
	CORSOrigins  []string `json:"cors_origins" mapstructure:"cors_origins" yaml:"cors_origins"`
	APIKey       string   `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	AllowedUsers []string `json:"allowed_users" mapstructure:"allowed_users" yaml:"allowed_users"`
}

// AgentConfig holds external agent configuration
type AgentConfig struct {
	Bin              string   `json:"bin" mapstructure:"bin" yaml:"bin"` // "echo" selects the built-in echo agent
	Args             []string `json:"args" mapstructure:"args" yaml:"args"`
	ResumeFlag       string   `json:"resume_flag" mapstructure:"resume_flag" yaml:"resume_flag"`
	WorkingDirectory string   `json:"working_directory" mapstructure:"working_directory" yaml:"working_directory"`
	TimeoutSeconds   int      `json:"timeout_seconds" mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MessageFormatter string   `json:"message_formatter" mapstructure:"message_formatter" yaml:"message_formatter"` // preset name, empty sends messages as is
	MessageTemplate  string   `json:"message_template" mapstructure:"message_template" yaml:"message_template"`    // overrides message_formatter
}

// DebounceConfig holds message debouncing configuration. Windows are in seconds.
type DebounceConfig struct {
	Enabled          bool    `json:"enable_message_debouncing" mapstructure:"enable_message_debouncing" yaml:"enable_message_debouncing"`
	Window           float64 `json:"debounce_window" mapstructure:"debounce_window" yaml:"debounce_window"`
	MaxWindow        float64 `json:"max_debounce_window" mapstructure:"max_debounce_window" yaml:"max_debounce_window"`
	MessageSeparator string  `json:"message_separator" mapstructure:"message_separator" yaml:"message_separator"`
}

// TasksConfig holds async task configuration
type TasksConfig struct {
	MaxConcurrent     int    `json:"max_concurrent_tasks" mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	TimeoutSeconds    int    `json:"task_timeout_seconds" mapstructure:"task_timeout_seconds" yaml:"task_timeout_seconds"`
	CleanupSchedule   string `json:"cleanup_schedule" mapstructure:"cleanup_schedule" yaml:"cleanup_schedule"`
	MaxTaskAgeSeconds int    `json:"max_task_age_seconds" mapstructure:"max_task_age_seconds" yaml:"max_task_age_seconds"`
}

// SessionConfig holds session tracking configuration
type SessionConfig struct {
	TTLSeconds      int    `json:"ttl_seconds" mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule" yaml:"cleanup_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`
	File      string `json:"file" mapstructure:"file" yaml:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" yaml:"max_age"`    // days
	Compress  bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			EnableCORS:   false,
			CORSOrigins:  []string{"*"},
			AllowedUsers: []string{},
		},
		Agent: AgentConfig{
			Bin:            "claude",
			Args:           []string{"-p"},
			ResumeFlag:     "--resume",
			TimeoutSeconds: 300,
		},
		Debounce: DebounceConfig{
			Enabled:          true,
			Window:           2.0,
			MaxWindow:        10.0,
			MessageSeparator: "\n",
		},
		Tasks: TasksConfig{
			MaxConcurrent:     10,
			TimeoutSeconds:    600,
			CleanupSchedule:   "@every 5m",
			MaxTaskAgeSeconds: 3600,
		},
		Session: SessionConfig{
			TTLSeconds:      3600,
			CleanupSchedule: "@every 10m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// DebounceWindow returns the default debounce window
func (c DebounceConfig) DebounceWindow() time.Duration {
	return seconds(c.Window)
}

// MaxDebounceWindow returns the largest window a request may ask for
func (c DebounceConfig) MaxDebounceWindow() time.Duration {
	return seconds(c.MaxWindow)
}

// Timeout returns the per-turn agent timeout
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the per-task timeout
func (c TasksConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxTaskAge returns how long finished tasks are kept
func (c TasksConfig) MaxTaskAge() time.Duration {
	return time.Duration(c.MaxTaskAgeSeconds) * time.Second
}

// TTL returns how long an idle session is kept
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

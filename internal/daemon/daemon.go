package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/ccserver/internal/config"
	"github.com/harun/ccserver/internal/logger"
	"github.com/harun/ccserver/internal/observability"
	"github.com/harun/ccserver/pkg/agent"
	"github.com/harun/ccserver/pkg/events"
	"github.com/harun/ccserver/pkg/msgbuffer"
	"github.com/harun/ccserver/pkg/server"
	"github.com/harun/ccserver/pkg/session"
	"github.com/harun/ccserver/pkg/tasks"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Daemon wires the chat service together and owns its lifecycle
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	version string

	// Core modules
	buffer   *msgbuffer.Buffer
	tasks    *tasks.Manager
	sessions *session.Manager
	runner   *agent.Runner
	hub      *events.Hub

	// Services
	server    *server.Server
	scheduler *cron.Cron

	serveErr chan error

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Status reports whether the daemon is running and for how long
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, version string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:   cfg,
		logger:   log,
		version:  version,
		serveErr: make(chan error, 1),
	}

	if err := d.initializeCoreModules(); err != nil {
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	separator := d.config.Debounce.MessageSeparator
	buffer, err := msgbuffer.New(msgbuffer.Options{
		Window:    d.config.Debounce.DebounceWindow(),
		Separator: &separator,
		Logger:    d.logger.Zerolog(),
	})
	if err != nil {
		return err
	}
	d.buffer = buffer

	d.tasks = tasks.New(tasks.Options{
		MaxConcurrent: d.config.Tasks.MaxConcurrent,
		Timeout:       d.config.Tasks.Timeout(),
		Logger:        d.logger.Zerolog(),
	})

	d.sessions = session.New(d.logger.Zerolog())
	d.runner = agent.NewRunner(newAgent(d.config.Agent), d.sessions, d.logger.Zerolog(),
		agent.WithFormatter(newFormatter(d.config.Agent)))

	d.hub = events.NewHub(events.Options{Logger: d.logger.Zerolog()})
	d.tasks.Subscribe(func(event tasks.Event) {
		d.hub.Broadcast("task."+event.Type, event.Task)
	})

	return nil
}

func (d *Daemon) initializeServices() error {
	srv, err := server.NewServer(server.Config{
		Host:         d.config.Server.Host,
		Port:         d.config.Server.Port,
		APIKey:       d.config.Server.APIKey,
		AllowedUsers: d.config.Server.AllowedUsers,
		EnableCORS:   d.config.Server.EnableCORS,
		CORSOrigins:  d.config.Server.CORSOrigins,
		Version:      d.version,
		Debounce:     debouncePolicy(d.config.Debounce),
		ChatTimeout:  d.config.Agent.Timeout(),
		Buffer:       d.buffer,
		Tasks:        d.tasks,
		Runner:       d.runner,
		Sessions:     d.sessions,
		Hub:          d.hub,
		Logger:       d.logger.Zerolog(),
	})
	if err != nil {
		return err
	}
	d.server = srv

	scheduler, err := newScheduler(d.config, d.tasks, d.sessions, d.logger.Component("maintenance"))
	if err != nil {
		return err
	}
	d.scheduler = scheduler

	return nil
}

// newAgent picks the agent implementation for the configured binary
func newAgent(cfg config.AgentConfig) agent.Agent {
	if cfg.Bin == "echo" {
		return &agent.Echo{}
	}
	return agent.NewCLI(agent.CLIConfig{
		Bin:              cfg.Bin,
		Args:             cfg.Args,
		ResumeFlag:       cfg.ResumeFlag,
		WorkingDirectory: cfg.WorkingDirectory,
		Timeout:          cfg.Timeout(),
	})
}

// newFormatter resolves the prompt formatter. A template wins over a preset.
func newFormatter(cfg config.AgentConfig) agent.Formatter {
	if cfg.MessageTemplate != "" {
		return agent.TemplateFormatter(cfg.MessageTemplate)
	}
	f, _ := agent.FormatterByName(cfg.MessageFormatter)
	return f
}

func debouncePolicy(cfg config.DebounceConfig) server.DebouncePolicy {
	return server.DebouncePolicy{
		Enabled:   cfg.Enabled,
		Window:    cfg.DebounceWindow(),
		MaxWindow: cfg.MaxDebounceWindow(),
	}
}

// Start starts the HTTP server and the maintenance scheduler
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	policy := d.server.DebouncePolicy()
	log := d.logger.Zerolog()
	log.Info().
		Str("version", d.version).
		Str("addr", d.server.Addr()).
		Bool("debounce", policy.Enabled).
		Dur("debounce_window", policy.Window).
		Msg("Starting ccserver")

	d.scheduler.Start()

	go func() {
		d.serveErr <- d.server.Start()
	}()

	return nil
}

// Stop flushes buffered messages, waits for tasks and shuts the services down
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.Zerolog()
	log.Info().Msg("Stopping ccserver")

	var errs []error

	cronDone := d.scheduler.Stop()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("maintenance jobs still running: %w", ctx.Err()))
	}

	if err := d.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	log.Info().Msg("ccserver stopped")
	return errors.Join(errs...)
}

// Run starts the daemon, blocks until ctx is done or the server fails, then stops it
func (d *Daemon) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := d.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-d.serveErr:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, d.Stop(stopCtx))
}

// Wait blocks until SIGINT or SIGTERM and stops the daemon. SIGHUP rotates the log file.
func (d *Daemon) Wait(shutdownTimeout time.Duration) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	log := d.logger.Zerolog()
	for {
		select {
		case err := <-d.serveErr:
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.Join(err, d.Stop(stopCtx))
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := d.logger.Rotate(); err != nil {
					log.Error().Err(err).Msg("Failed to rotate log file")
				} else {
					log.Info().Msg("Log file rotated")
				}
				continue
			}

			log.Info().Str("signal", sig.String()).Msg("Received signal")
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return d.Stop(stopCtx)
		}
	}
}

// WatchConfig applies debounce policy and log level changes from the config file
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	return loader.Watch(d.ApplyConfig)
}

// ApplyConfig applies the settings that can change without a restart
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.server.SetDebouncePolicy(debouncePolicy(cfg.Debounce))

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	d.mu.Lock()
	d.config.Debounce.Enabled = cfg.Debounce.Enabled
	d.config.Debounce.MaxWindow = cfg.Debounce.MaxWindow
	d.config.Debounce.Window = cfg.Debounce.Window
	d.config.Logging.Level = cfg.Logging.Level
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// GetServer returns the HTTP server
func (d *Daemon) GetServer() *server.Server {
	return d.server
}

// GetTaskManager returns the task manager
func (d *Daemon) GetTaskManager() *tasks.Manager {
	return d.tasks
}

// GetSessionManager returns the session manager
func (d *Daemon) GetSessionManager() *session.Manager {
	return d.sessions
}

// GetBuffer returns the message buffer
func (d *Daemon) GetBuffer() *msgbuffer.Buffer {
	return d.buffer
}

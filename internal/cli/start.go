package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/harun/ccserver/internal/config"
	"github.com/harun/ccserver/internal/daemon"
	"github.com/harun/ccserver/internal/logger"
	"github.com/spf13/cobra"
)

type startOptions struct {
	host  string
	port  int
	watch bool
}

func newStartCmd(global *globalOptions) *cobra.Command {
	opts := &startOptions{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ccserver HTTP service",
		Long: `Start the ccserver HTTP service in the foreground.
SIGINT or SIGTERM flushes buffered messages, waits for running tasks and exits.
SIGHUP rotates the log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "reload debounce settings when the config file changes")

	return cmd
}

func runStart(global *globalOptions, opts *startOptions) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	loader := config.NewLoader(global.cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	applyStartOverrides(cfg, global, opts)

	log, err := logger.New(loggerConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		return err
	}

	if opts.watch {
		if err := d.WatchConfig(loader); err != nil && !errors.Is(err, config.ErrNoConfigFile) {
			return fmt.Errorf("failed to watch config: %w", err)
		}
	}

	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if err := d.Start(); err != nil {
		return err
	}

	return d.Wait(30 * time.Second)
}

func applyStartOverrides(cfg *config.Config, global *globalOptions, opts *startOptions) {
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if global.logLevel != "" {
		cfg.Logging.Level = global.logLevel
	}
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:     cfg.Level,
		File:      cfg.File,
		Console:   true,
		Pretty:    cfg.Pretty,
		Redaction: cfg.Redaction,
		MaxSize:   cfg.MaxSize,
		MaxAge:    cfg.MaxAge,
		Compress:  cfg.Compress,
	}
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/ccserver.pid"
	}
	return filepath.Join(home, ".ccserver", "ccserver.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	return process.Signal(syscall.Signal(0)) == nil
}

package cli

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the ccserver HTTP service",
		Long: `Stop the ccserver HTTP service gracefully.
Sends SIGTERM and waits for buffered messages and running tasks to finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.OutOrStdout(), getPIDFilePath(), time.Duration(timeout)*time.Second)
		},
	}

	cmd.Flags().IntVar(&timeout, "timeout", 30, "timeout in seconds to wait for the service to stop")

	return cmd
}

func runStop(out io.Writer, pidFile string, timeout time.Duration) error {

	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	process, err := signalDaemon(pidFile, syscall.SIGTERM)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isRunning(pidFile) {
			fmt.Fprintln(out, "Daemon stopped successfully")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Force kill if timeout
	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	os.Remove(pidFile)
	fmt.Fprintln(out, "Daemon killed")
	return nil
}

func signalDaemon(pidFile string, sig syscall.Signal) (*os.Process, error) {
	pid, err := readPID(pidFile)
	if err != nil {
		return nil, err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(sig); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", sig, err)
	}
	return process, nil
}

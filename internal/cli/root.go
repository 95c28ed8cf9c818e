package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	cfgFile  string
	logLevel string
}

// newRootCmd builds the command tree. Each call returns an independent tree with its own flag state.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "ccserver",
		Short: "ccserver - HTTP chat service for a command-line agent",
		Long: `ccserver exposes a command-line conversational agent over HTTP.
It tracks sessions, runs turns as background tasks, and debounces bursts
of short messages into a single agent turn.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.ccserver/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newStartCmd(opts),
		newStopCmd(),
		newStatusCmd(opts),
		newConfigureCmd(opts),
	)

	return cmd
}

// Execute builds the command tree and runs it. It is called by main.main().
func Execute() error {
	return newRootCmd().Execute()
}

// GetRootCmd returns a fresh root command for testing
func GetRootCmd() *cobra.Command {
	return newRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

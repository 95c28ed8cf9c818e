package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/harun/ccserver/internal/config"
	"github.com/spf13/cobra"
)

type configureOptions struct {
	force bool
	show  bool
}

func newConfigureCmd(global *globalOptions) *cobra.Command {
	opts := &configureOptions{}

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write or show the configuration file",
		Long: `Write a configuration file with default settings, or print the effective
configuration (file, .env and CCSERVER_* environment variables merged) with --show.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd.OutOrStdout(), global, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&opts.show, "show", false, "print the effective configuration")

	return cmd
}

func runConfigure(out io.Writer, global *globalOptions, opts *configureOptions) error {
	loader := config.NewLoader(global.cfgFile)
	configPath := loader.GetConfigPath()

	if opts.show {
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cfg.String())
		return nil
	}

	if _, err := os.Stat(configPath); err == nil && !opts.force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(out, "You can now start the service with: ccserver start")

	return nil
}

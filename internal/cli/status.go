package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/ccserver/internal/config"
	"github.com/spf13/cobra"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long:  `Show the current status of the ccserver service, queried from its /health endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), global, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "service address, e.g. http://127.0.0.1:8000 (default from config)")

	return cmd
}

// healthStatus mirrors the /health response
type healthStatus struct {
	Status       string         `json:"status"`
	Version      string         `json:"version"`
	AgentVersion string         `json:"agent_version"`
	Uptime       float64        `json:"uptime"`
	Buffers      int            `json:"buffers"`
	Sessions     int            `json:"sessions"`
	EventClients int            `json:"event_clients"`
	Tasks        map[string]int `json:"tasks"`
}

func runStatus(out io.Writer, global *globalOptions, addr string) error {
	if addr == "" {
		cfg, err := config.Load(global.cfgFile)
		if err != nil {
			return err
		}
		host := cfg.Server.Host
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
	}

	health, err := fetchHealth(addr)
	if err != nil {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	printStatus(out, health)
	return nil
}

func fetchHealth(addr string) (*healthStatus, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var health healthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &health, nil
}

func printStatus(w io.Writer, health *healthStatus) {
	fmt.Fprintf(w, "Status: %s\n", health.Status)
	fmt.Fprintf(w, "Version: %s\n", health.Version)
	if health.AgentVersion != "" {
		fmt.Fprintf(w, "Agent: %s\n", health.AgentVersion)
	}
	fmt.Fprintf(w, "Uptime: %s\n", formatDuration(time.Duration(health.Uptime*float64(time.Second))))
	fmt.Fprintf(w, "Sessions: %d active, %d buffering\n", health.Sessions, health.Buffers)
	fmt.Fprintf(w, "Event clients: %d\n", health.EventClients)
	if len(health.Tasks) > 0 {
		fmt.Fprintf(w, "Tasks: %d pending, %d processing, %d completed, %d failed\n",
			health.Tasks["pending"], health.Tasks["processing"], health.Tasks["completed"], health.Tasks["failed"])
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

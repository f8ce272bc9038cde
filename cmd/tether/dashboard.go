package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/dashboard"
	"github.com/tetherlabs/tether/internal/orchestrator"
)

func newDashboardCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live status dashboard (requires a running agent with the gateway enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Gateway.Enabled {
				return fmt.Errorf("gateway disabled in config; enable it and restart 'tether start'")
			}

			url := fmt.Sprintf("http://%s:%d/status", cfg.Gateway.Host, cfg.Gateway.Port)
			client := &http.Client{Timeout: 2 * time.Second}

			// Fail fast when the agent is not running.
			if _, err := fetchSnapshot(client, url); err != nil {
				return fmt.Errorf("cannot reach the agent at %s (is 'tether start' running?): %w", url, err)
			}

			var last orchestrator.StatusSnapshot
			return dashboard.Run(func() orchestrator.StatusSnapshot {
				snap, err := fetchSnapshot(client, url)
				if err != nil {
					// Keep showing the last good snapshot when a poll fails.
					return last
				}
				last = *snap
				return last
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func fetchSnapshot(client *http.Client, url string) (*orchestrator.StatusSnapshot, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var snap orchestrator.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

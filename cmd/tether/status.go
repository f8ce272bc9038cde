package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/orchestrator"
	"github.com/tetherlabs/tether/internal/store"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pairing and chat status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// Prefer the live runtime when the gateway is up.
			if cfg.Gateway.Enabled {
				if snap, err := fetchLiveStatus(cfg); err == nil {
					printLiveStatus(snap)
					return nil
				}
			}

			st, err := store.New(cfg.Store.Dir)
			if err != nil {
				return err
			}

			reg, err := st.LoadRegistration()
			if err != nil {
				return err
			}
			if reg == nil {
				fmt.Println("Not paired. Run 'tether pair' to connect this device.")
			} else {
				fmt.Println("Pairing")
				fmt.Printf("  Device:      %s (%s)\n", reg.DeviceName, reg.DeviceType)
				fmt.Printf("  Connector:   %s\n", reg.ConnectorID)
				fmt.Printf("  Status:      %s\n", reg.Status)
				fmt.Printf("  Registered:  %s\n", reg.RegisteredAt.Local().Format("2006-01-02 15:04"))
				if !reg.LastContextReportAt.IsZero() {
					fmt.Printf("  Last report: %s\n", reg.LastContextReportAt.Local().Format("2006-01-02 15:04"))
				}
			}

			creds, err := st.LoadChatCredentials()
			if err != nil {
				return err
			}
			fmt.Println("Chat")
			if creds == nil {
				fmt.Println("  Not registered. Run 'tether chat register' to join.")
			} else {
				enabled := "disabled"
				if creds.Enabled {
					enabled = "enabled"
				}
				fmt.Printf("  Agent:   %s (%s)\n", creds.AgentName, creds.AgentID)
				fmt.Printf("  Role:    %s\n", creds.Role)
				fmt.Printf("  Channel: %s\n", enabled)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func fetchLiveStatus(cfg *config.Config) (*orchestrator.StatusSnapshot, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://%s:%d/status", cfg.Gateway.Host, cfg.Gateway.Port)
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

func printLiveStatus(snap *orchestrator.StatusSnapshot) {
	fmt.Println("Runtime (live)")
	fmt.Printf("  State:     %s\n", snap.State)
	fmt.Printf("  Tier:      %s\n", snap.Tier)
	network := "online"
	if !snap.Online {
		network = "offline"
	}
	fmt.Printf("  Network:   %s\n", network)
	if snap.ConnectorID != "" {
		fmt.Printf("  Connector: %s\n", snap.ConnectorID)
	}
	executor := snap.ExecutorName
	if !snap.ExecutorAvailable {
		executor += " (unavailable)"
	}
	fmt.Printf("  Executor:  %s\n", executor)
	chat := "idle"
	if snap.ChatRunning {
		chat = "running"
	}
	fmt.Printf("  Chat:      %s\n", chat)
	if snap.LastError != "" {
		fmt.Printf("  Last error: %s\n", snap.LastError)
	}
}

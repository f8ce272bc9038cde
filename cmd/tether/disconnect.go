package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlabs/tether/internal/backend"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/connector"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

func newDisconnectCmd() *cobra.Command {
	var configPath string
	var keepLocal bool
	var localOnly bool

	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Unpair this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			st, err := store.New(cfg.Store.Dir)
			if err != nil {
				return err
			}

			m := connector.NewManager(
				backend.NewClient(cfg.Backend.BaseURL),
				st,
				resilience.NewGovernor(cfg.Retry),
				&connector.Config{
					Backend:    cfg.Backend,
					Pairing:    cfg.Pairing,
					DeviceName: cfg.DeviceName,
					DeviceType: cfg.DeviceType,
				},
			)

			found, err := m.ResumeFromStore()
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("Not paired, nothing to do.")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			opts := connector.DisconnectOptions{
				ClearLocal:   !keepLocal,
				NotifyRemote: !localOnly,
			}
			if err := m.Disconnect(ctx, opts); err != nil {
				return err
			}

			switch m.State() {
			case connector.StateUnregistered:
				fmt.Println("Disconnected and local pairing removed.")
			default:
				fmt.Println("Disconnected. Local pairing kept (remote may not have acknowledged).")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	cmd.Flags().BoolVar(&keepLocal, "keep-local", false, "notify the backend but keep the local pairing")
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "remove the local pairing without notifying the backend")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tetherlabs/tether/internal/backend"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/connector"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

func newPairCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair this device with your account via QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			st, err := store.New(cfg.Store.Dir)
			if err != nil {
				return err
			}
			if reg, err := st.LoadRegistration(); err != nil {
				return err
			} else if reg != nil {
				return fmt.Errorf("already paired as %s (run 'tether disconnect' first)", reg.DeviceName)
			}

			done := make(chan error, 1)
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
				connector.WithOnStateChange(func(old, new connector.State) {
					if new == connector.StateConnected {
						done <- nil
					}
				}),
				connector.WithOnPairingExpired(func() {
					done <- fmt.Errorf("pairing window expired, run 'tether pair' again")
				}),
			)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pairing, err := m.BeginPairing(ctx)
			if err != nil {
				return fmt.Errorf("failed to request pairing token: %w", err)
			}

			fmt.Println("Scan this pairing code in the app:")
			fmt.Println()
			fmt.Printf("  %s\n", pairing.QRData)
			fmt.Println()
			fmt.Printf("Waiting for confirmation (expires %s)...\n", pairing.ExpiresAt.Local().Format("15:04:05"))

			select {
			case err := <-done:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				return fmt.Errorf("pairing cancelled")
			}

			reg := m.Registration()
			fmt.Printf("Paired as %s (connector %s). Run 'tether start' to go online.\n",
				reg.DeviceName, reg.ConnectorID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

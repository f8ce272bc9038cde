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

func newReportCmd() *cobra.Command {
	var configPath string
	var summary string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Upload a work-context report now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			st, err := store.New(cfg.Store.Dir)
			if err != nil {
				return err
			}

			opts := []connector.Option{}
			if summary != "" {
				opts = append(opts, connector.WithWorkContextSource(func(ctx context.Context) string {
					return summary
				}))
			}

			m := connector.NewManager(
				backend.NewClient(cfg.Backend.BaseURL),
				st,
				resilience.NewGovernor(cfg.Retry),
				&connector.Config{
					Backend:        cfg.Backend,
					Pairing:        cfg.Pairing,
					DeviceName:     cfg.DeviceName,
					DeviceType:     cfg.DeviceType,
					ReportInterval: cfg.Report.Interval,
				},
				opts...,
			)

			found, err := m.ResumeFromStore()
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("not paired, run 'tether pair' first")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := m.ReportWorkContext(ctx); err != nil {
				return fmt.Errorf("report failed: %w", err)
			}
			fmt.Println("Work context reported.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	cmd.Flags().StringVar(&summary, "summary", "", "report text (default: a generated summary)")
	return cmd
}

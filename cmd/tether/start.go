package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/gateway"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/orchestrator"
	"github.com/tetherlabs/tether/internal/report"
)

// loadConfig loads and validates the configuration, then initializes logging.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the Tether agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			o, err := orchestrator.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := o.Start(ctx); err != nil {
				return err
			}
			defer o.Stop()

			scheduler := report.NewScheduler(o.Connector(), cfg.Report)
			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			defer scheduler.Stop()

			if cfg.Gateway.Enabled {
				gw := gateway.NewServer(&gateway.Config{
					Host: cfg.Gateway.Host,
					Port: cfg.Gateway.Port,
				}, o.Snapshot)
				go func() {
					if err := gw.Start(ctx); err != nil {
						logging.WithComponent("main").Error("Gateway failed", slog.Any("error", err))
					}
				}()
			}

			state := o.Connector().State()
			fmt.Printf("Tether running (state: %s). Press Ctrl+C to stop.\n", state)
			<-ctx.Done()
			fmt.Println("\nShutting down...")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newInitCmd() *cobra.Command {
	var configPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			if err := config.Save(config.DefaultConfig(), configPath); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

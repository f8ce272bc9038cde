package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlabs/tether/internal/chat"
	"github.com/tetherlabs/tether/internal/chatapi"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Manage the agent-to-agent chat channel",
	}
	cmd.AddCommand(
		newChatRegisterCmd(),
		newChatEnableCmd(),
		newChatDisableCmd(),
		newChatSendCmd(),
	)
	return cmd
}

func newChatManager(configPath string) (*chat.Manager, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}
	client := chatapi.NewClient(cfg.Chat.Endpoint, "")
	return chat.NewManager(client, st, resilience.NewGovernor(cfg.Retry), cfg.Chat, nil), nil
}

func newChatRegisterCmd() *cobra.Command {
	var configPath string
	var name, description, role string
	var tags, skills []string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a chat identity for this agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newChatManager(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			creds, err := m.Register(ctx, chat.RegisterOptions{
				Name:        name,
				Description: description,
				Role:        store.ChatRole(role),
				Tags:        tags,
				Skills:      skills,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Registered as %s (agent %s). Chat is enabled; restart 'tether start' to go live.\n",
				creds.AgentName, creds.AgentID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	cmd.Flags().StringVar(&name, "name", "", "agent display name")
	cmd.Flags().StringVar(&description, "description", "", "what this agent does")
	cmd.Flags().StringVar(&role, "role", string(store.ChatRoleBoth), "chat role: consumer, provider, or both")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "discovery tags")
	cmd.Flags().StringSliceVar(&skills, "skill", nil, "advertised skills")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newChatEnableCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable the chat channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newChatManager(configPath)
			if err != nil {
				return err
			}
			if err := m.SetEnabled(true); err != nil {
				return err
			}
			fmt.Println("Chat enabled. Restart 'tether start' to go live.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newChatDisableCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable the chat channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newChatManager(configPath)
			if err != nil {
				return err
			}
			if err := m.SetEnabled(false); err != nil {
				return err
			}
			fmt.Println("Chat disabled.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newChatSendCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "send <peer-id> <message>",
		Short: "Send a message to another agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newChatManager(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			resp, err := m.Send(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !resp.TargetSupportsChat {
				fmt.Println("Sent, but the target does not support chat; delivery is not guaranteed.")
				return nil
			}
			fmt.Println("Sent.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

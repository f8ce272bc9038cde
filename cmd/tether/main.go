package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "tether",
		Short: "Pair your local AI agent with a remote control surface",
		Long: `Tether connects a local AI agent to a remote backend: QR pairing,
command polling and execution, work-context reports, and an optional
agent-to-agent chat channel.`,
	}

	rootCmd.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newPairCmd(),
		newStatusCmd(),
		newDisconnectCmd(),
		newChatCmd(),
		newReportCmd(),
		newDashboardCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Tether version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Tether v%s\n", version)
		},
	}
}

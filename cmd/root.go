package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pocketpaw/pocketpaw/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/pocketpaw/pocketpaw/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pocketpaw",
	Short: "PocketPaw — self-hosted personal AI agent gateway",
	Long:  "PocketPaw: a self-hosted orchestration engine that routes messages from Telegram, Discord, Slack, WhatsApp, generic webhooks, and a browser dashboard to a single owner's AI agent, with layered memory, an injection scanner, and command-driven session management.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $POCKETPAW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pocketpaw %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("POCKETPAW_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

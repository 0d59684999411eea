// Command healer is the session orchestrator: a daemon supervising
// worker processes over a relational catalog, plus the CLI that drives
// it over TCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/healer/internal/config"
)

var (
	flagHost string
	flagPort int
	flagDB   string
)

var rootCmd = &cobra.Command{
	Use:           "healer",
	Short:         "Session orchestrator daemon and client",
	Long:          "healer runs sessions (information copies, requests, avatar links) on avatars,\nexpanding group targets into per-pair worker processes.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			config.Set("listen-host", flagHost)
		}
		if cmd.Flags().Changed("port") {
			config.Set("listen-port", flagPort)
		}
		if cmd.Flags().Changed("db") {
			config.Set("db", flagDB)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "127.0.0.1", "daemon host")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 9999, "daemon port")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database file path")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

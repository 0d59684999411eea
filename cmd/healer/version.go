package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build.
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the healer version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("healer", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

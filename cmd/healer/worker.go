package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/untoldecay/healer/internal/worker"
)

// workerCmd is the hidden entry point the daemon re-executes for each
// leaf session. The launch spec arrives as JSON on stdin.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := worker.ReadSpec(os.Stdin)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
		defer stop()
		return spec.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

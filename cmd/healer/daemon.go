package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/healer/internal/config"
	"github.com/untoldecay/healer/internal/daemon"
	"github.com/untoldecay/healer/internal/storage/sqlite"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the healer daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon() error {
	dbPath := config.DatabasePath()

	// One daemon per database file.
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon is already running on %s", dbPath)
	}
	defer lock.Unlock()

	log := newDaemonLogger()

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	launch, err := daemon.NewExecLauncher()
	if err != nil {
		return err
	}

	d := daemon.New(config.ListenAddr(), store, launch, log)
	return d.Run(ctx)
}

// newDaemonLogger builds the daemon's slog logger: rotated file when
// log-file is configured, stderr otherwise.
func newDaemonLogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if path := config.LogFile(); path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

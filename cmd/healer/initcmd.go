package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/healer/internal/config"
	"github.com/untoldecay/healer/internal/storage/sqlite"
)

var (
	initForce       bool
	initWriteConfig string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create (or WIPE and recreate) the healer database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := config.DatabasePath()

		if !initForce {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Reset database at %s?", dbPath)).
				Description("All entities, groups, and session history will be deleted.").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return nil
			}
		}

		ctx := context.Background()
		store, err := sqlite.New(ctx, dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("Database initialized at", dbPath)

		if initWriteConfig != "" {
			if err := config.WriteDefault(initWriteConfig); err != nil {
				return err
			}
			fmt.Println("Wrote config to", initWriteConfig)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "skip the confirmation prompt")
	initCmd.Flags().StringVar(&initWriteConfig, "write-config", "", "also write a starter config file to this path")
	rootCmd.AddCommand(initCmd)
}

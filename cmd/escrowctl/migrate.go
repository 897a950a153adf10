package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ignatzorin/freelance-escrow/internal/app"
	"github.com/ignatzorin/freelance-escrow/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции базы данных",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := db.RunMigrations(ctx, a.DB, a.Config.MigrationsPath); err != nil {
				return err
			}
			cmd.Println("миграции применены")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

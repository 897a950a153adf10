package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/freelance-escrow/internal/app"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Эскалировать споры без ответа дольше SLA",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			escalated, err := a.Disputes.SweepOverdue(ctx, limit)
			if err != nil {
				return err
			}
			return printResult(cmd, map[string]any{"escalated": len(escalated), "disputes": escalated})
		})
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Доставить накопившиеся события журнала подписчикам",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			delivered, err := a.Dispatcher.Drain(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd, map[string]int{"delivered": delivered})
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Очередь ручной сверки",
}

var reconcileListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать открытые задачи сверки",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			items, err := a.Recon.ListOpen(ctx, limit)
			if err != nil {
				return err
			}
			return printResult(cmd, items)
		})
	},
}

var reconcileRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Повторить задачу сверки; без id повторяются все открытые",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if len(args) == 0 {
				resolved, err := a.Recon.RetryOpen(ctx, limit)
				if err != nil {
					return err
				}
				return printResult(cmd, map[string]int{"resolved": resolved})
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("некорректный id задачи: %w", err)
			}
			item, err := a.Recon.Retry(ctx, id)
			if err != nil {
				return err
			}
			return printResult(cmd, item)
		})
	},
}

var reconcileResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Закрыть задачу сверки вручную",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("некорректный id задачи: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			// CLI запускает оператор с доступом к базе, он действует как администратор
			operator := service.Actor{ID: uuid.Nil, Role: models.RoleAdmin}
			if err := a.Recon.MarkResolved(ctx, operator, id); err != nil {
				return err
			}
			cmd.Println("задача закрыта")
			return nil
		})
	},
}

func init() {
	sweepCmd.Flags().Int("limit", 100, "Максимум споров за проход")
	reconcileListCmd.Flags().Int("limit", 50, "Максимум задач")
	reconcileRetryCmd.Flags().Int("limit", 50, "Максимум задач при повторе всех")

	reconcileCmd.AddCommand(reconcileListCmd, reconcileRetryCmd, reconcileResolveCmd)
	rootCmd.AddCommand(sweepCmd, dispatchCmd, reconcileCmd)
}

package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Выпустить access токен для пользователя (отладка и админ-скрипты)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("некорректный id пользователя: %w", err)
		}
		role, _ := cmd.Flags().GetString("role")
		switch role {
		case models.RoleAdmin, models.RoleBuyer, models.RoleFreelancer:
		default:
			return fmt.Errorf("неизвестная роль %q", role)
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if ttl <= 0 {
			ttl = cfg.AccessTokenTTL
		}

		token, expires, err := service.NewTokenManager(cfg.JWTSecret, ttl).IssueAccess(userID, role)
		if err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"token": token, "expires_at": expires.Format(time.RFC3339)})
	},
}

func init() {
	tokenCmd.Flags().String("role", models.RoleBuyer, "Роль: admin, buyer или freelancer")
	tokenCmd.Flags().Duration("ttl", 0, "Срок жизни токена, по умолчанию ACCESS_TOKEN_TTL")
	rootCmd.AddCommand(tokenCmd)
}

// Command escrowctl служебные операции движка расчётов: миграции, эскалация
// споров, сверка и доставка событий без запуска HTTP сервера.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ignatzorin/freelance-escrow/internal/app"
	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "escrowctl",
	Short:         "Служебные операции escrow-движка",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "escrowctl:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("output", "o", "yaml", "Формат вывода: yaml или json")
	rootCmd.PersistentFlags().String("log-level", "warn", "Уровень логирования")
}

// withApp загружает конфигурацию, собирает приложение и вызывает fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger.Init(level)
	logger.SetTextFormatter()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

// printResult выводит значение в формате из флага --output.
func printResult(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("output")
	return render(cmd.OutOrStdout(), format, v)
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		// через JSON, чтобы yaml использовал те же имена полей и формат сумм
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("неизвестный формат вывода %q", format)
	}
}

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/tempobox/internal/config"
	"github.com/bigkaa/tempobox/internal/database"
)

// loadConfig — функция загрузки конфигурации, подменяется в тестах.
var loadConfig = config.Load

// newRootCommand собирает CLI. Без подкоманды выполняется serve.
func newRootCommand() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "tempobox",
		Short:         "Хранилище файлов с ограниченным сроком жизни.",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newCleanupCommand())

	return rootCmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API и фоновую очистку",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("ошибка конфигурации: %w", err)
			}
			if cfg.MetadataBackend != config.MetadataPostgres {
				return errors.New("миграции применимы только к TB_METADATA_BACKEND=postgres")
			}
			logger := config.SetupLogger(cfg)
			return database.Migrate(cfg, logger)
		},
	}
}

func newCleanupCommand() *cobra.Command {
	var withReconcile bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Выполнить один цикл очистки и завершиться",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("ошибка конфигурации: %w", err)
			}
			logger := config.SetupLogger(cfg)

			ctx := cmd.Context()
			app, err := bootstrap(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			result := app.cleanup.RunOnce(ctx)
			logger.Info("Очистка выполнена",
				slog.Int64("expired_deleted", result.ExpiredDeleted),
				slog.Int64("pending_deleted", result.PendingDeleted),
				slog.Int("errors", result.Errors),
				slog.Bool("skipped", result.Skipped),
			)

			runErrors := result.Errors
			if withReconcile {
				rr := app.reconcile.RunOnce(ctx)
				runErrors += rr.Errors
			}
			if runErrors > 0 {
				return fmt.Errorf("очистка завершилась с ошибками: %d", runErrors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withReconcile, "reconcile", false, "также удалить blob без записей метаданных")

	return cmd
}

// runServe поднимает приложение и блокируется до сигнала завершения.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("tempobox запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	ctx := cmd.Context()
	app, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	app.startBackground(ctx)
	defer app.stopBackground()

	if err := app.server.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

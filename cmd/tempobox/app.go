package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/tempobox/internal/api/handlers"
	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/api/openapi"
	"github.com/bigkaa/tempobox/internal/auth"
	"github.com/bigkaa/tempobox/internal/config"
	"github.com/bigkaa/tempobox/internal/database"
	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/server"
	"github.com/bigkaa/tempobox/internal/service"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
	"github.com/bigkaa/tempobox/internal/storage/filestore"
	"github.com/bigkaa/tempobox/internal/storage/s3store"
)

// app — собранные компоненты процесса.
type app struct {
	logger    *slog.Logger
	server    *server.Server
	cleanup   *service.CleanupService
	reconcile *service.ReconcileService
	dephealth *service.DephealthService

	closers []func()
}

// bootstrap инициализирует хранилища, сервисы и HTTP-сервер.
// При ошибке уже открытые ресурсы закрываются.
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if _, err := openapi.Load(ctx); err != nil {
		return nil, err
	}

	// 1. Метаданные
	var (
		repo     repository.FileRepository
		pool     *pgxpool.Pool
		checkers []handlers.ReadinessChecker
	)
	switch cfg.MetadataBackend {
	case config.MetadataPostgres:
		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		if err := database.Migrate(cfg, logger); err != nil {
			return nil, err
		}
		repo = repository.NewFileRepository(pool)
		checkers = append(checkers, database.NewReadinessChecker(pool))
	default:
		logger.Warn("Метаданные хранятся в памяти и не переживают рестарт")
		repo = repository.NewMemoryRepository()
	}

	// 2. Blob-хранилище
	var (
		blobs   blobstore.Store
		lockDir string
	)
	switch cfg.BlobBackend {
	case config.BlobS3:
		blobs, err = s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Blob-хранилище S3", slog.String("endpoint", cfg.S3Endpoint), slog.String("bucket", cfg.S3Bucket))
	default:
		local, err := filestore.NewOS(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации FileStore: %w", err)
		}
		blobs = local
		lockDir = local.DataDir()
		logger.Info("Blob-хранилище локальное", slog.String("data_dir", lockDir))
	}
	checkers = append(checkers, handlers.BlobReadiness(blobs))

	// 3. Блокировка фоновых задач между репликами
	var locker service.Locker
	if cfg.RedisURL != "" {
		redisLocker, err := service.NewRedisLocker(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = redisLocker.Close() })
		locker = redisLocker
		logger.Info("Распределённая блокировка через Redis включена")
	} else if lockDir != "" {
		locker = service.NewFileLocker(lockDir)
	}

	// 4. Сервисы
	authority := auth.NewTokenAuthority(cfg.AuthToken)
	sessions, err := auth.NewSessionManager(cfg.SessionKey, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	uploadSvc := service.NewUploadService(repo, blobs, authority, service.UploadLimits{
		MaxFileSize:        cfg.MaxFileSize,
		MaxDurationMinutes: cfg.MaxDurationMinutes,
	}, logger)
	downloadSvc := service.NewDownloadService(repo, blobs, logger)
	expireSvc := service.NewExpireService(repo, blobs, authority, logger)
	listSvc := service.NewListService(repo, authority)

	a.cleanup = service.NewCleanupService(repo, blobs, locker, service.CleanupConfig{
		Interval:     cfg.CleanupInterval,
		PendingGrace: cfg.PendingGrace,
		LockTTL:      cfg.CleanupLockTTL,
	}, logger)
	a.reconcile = service.NewReconcileService(repo, blobs, locker,
		cfg.ReconcileInterval, cfg.PendingGrace, cfg.CleanupLockTTL, logger)

	// 5. topologymetrics
	deps := service.Dependencies{}
	if pool != nil {
		db := stdlib.OpenDBFromPool(pool)
		a.closers = append(a.closers, func() { _ = db.Close() })
		deps.DB = db
		deps.PostgresURL = cfg.DatabaseURL("postgres")
	}
	if cfg.BlobBackend == config.BlobS3 {
		deps.S3URL = cfg.S3HealthURL()
	}
	a.dephealth, err = service.NewDephealthService(cfg.ServiceID, cfg.DephealthGroup, deps, cfg.DephealthCheckInterval, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		err = nil
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		a.dephealth, err = nil, nil
	}

	// 6. HTTP
	ownerAuth := middleware.NewOwnerAuth(authority, sessions, logger)
	filesHandler := handlers.NewFilesHandler(uploadSvc, downloadSvc, expireSvc, listSvc, ownerAuth, cfg.MaxFileSize, logger)
	sessionHandler := handlers.NewSessionHandler(authority, sessions, logger)

	var depHealth handlers.DependencyHealth
	if a.dephealth != nil {
		depHealth = a.dephealth
	}
	healthHandler := handlers.NewHealthHandler(depHealth, checkers...)

	apiHandler := handlers.NewAPIHandler(filesHandler, sessionHandler, healthHandler, ownerAuth)
	a.server = server.New(cfg, logger, apiHandler)

	return a, nil
}

// startBackground запускает очистку, reconciliation и мониторинг зависимостей.
func (a *app) startBackground(ctx context.Context) {
	a.cleanup.Start(ctx)
	a.reconcile.Start(ctx)

	if a.dephealth != nil {
		if err := a.dephealth.Start(ctx); err != nil {
			a.logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
			a.dephealth = nil
		}
	}
}

// stopBackground останавливает фоновые процессы, дожидаясь текущих запусков.
func (a *app) stopBackground() {
	a.cleanup.Stop()
	a.reconcile.Stop()
	if a.dephealth != nil {
		a.dephealth.Stop()
	}
}

// Close освобождает ресурсы в порядке, обратном открытию.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

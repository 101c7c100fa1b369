// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// tempobox мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (TB_METADATA_BACKEND=postgres)
//   - S3 — HTTP checker к /minio/health/live (TB_BLOB_BACKEND=s3)
//
// In-memory метаданные и локальная директория внешними зависимостями не
// являются: при такой конфигурации сервис не создаётся.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// s3HealthPath — liveness endpoint MinIO / S3-совместимого хранилища.
const s3HealthPath = "/minio/health/live"

// ErrNoDependencies — нечего мониторить.
var ErrNoDependencies = errors.New("нет внешних зависимостей для мониторинга")

// Dependencies — внешние зависимости tempobox. Пустое поле — зависимость не используется.
type Dependencies struct {
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PostgresURL — URL PostgreSQL (для лейблов метрик, не для подключения)
	PostgresURL string
	// S3URL — базовый URL S3 endpoint
	S3URL string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	serviceID, group string,
	deps Dependencies,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID, group string,
	deps Dependencies,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID, group string,
	deps Dependencies,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	depOpts := deps.options(checkInterval)
	if len(depOpts) == 0 {
		return nil, ErrNoDependencies
	}

	opts := make([]dephealth.Option, 0, len(depOpts)+len(extraOpts)+1)
	opts = append(opts, dephealth.WithLogger(logger))
	opts = append(opts, depOpts...)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// options строит опции SDK для заданных зависимостей.
// Обе зависимости критичны.
func (d Dependencies) options(checkInterval time.Duration) []dephealth.Option {
	var opts []dephealth.Option

	if d.DB != nil {
		// Проверка через *sql.DB поверх pgxpool отражает состояние пула приложения.
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(d.DB)),
			dephealth.FromURL(d.PostgresURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithLabel("role", "metadata"),
		))
	}

	if d.S3URL != "" {
		s3 := []dephealth.DependencyOption{
			dephealth.FromURL(d.S3URL),
			dephealth.WithHTTPHealthPath(s3HealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithLabel("role", "blobs"),
		}
		if u, err := url.Parse(d.S3URL); err == nil && u.Scheme == "https" {
			s3 = append(s3, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP("s3", s3...))
	}

	return opts
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

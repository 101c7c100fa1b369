// cleanup.go — фоновая очистка истёкших файлов.
//
// Каждый запуск с одним моментом now:
//  1. Удаляет blob всех записей с expires_at < now, затем сами записи
//  2. Удаляет pending-записи старше TB_PENDING_GRACE вместе с их blob
//
// Ошибка удаления отдельного blob логируется и не прерывает запуск.
// Запускается как горутина с периодическим тикером (TB_CLEANUP_INTERVAL),
// первый запуск — сразу после старта.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// Prometheus метрики очистки
var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tb_cleanup_runs_total",
		Help: "Общее количество запусков очистки",
	}, []string{"result"})

	cleanupRecordsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tb_cleanup_records_deleted_total",
		Help: "Общее количество записей, удалённых очисткой",
	}, []string{"kind"})

	cleanupErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tb_cleanup_errors_total",
		Help: "Общее количество ошибок при очистке",
	})

	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tb_cleanup_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// CleanupResult — результат одного запуска очистки.
type CleanupResult struct {
	// ExpiredDeleted — количество удалённых истёкших записей
	ExpiredDeleted int64
	// PendingDeleted — количество удалённых зависших pending-записей
	PendingDeleted int64
	// BlobsDeleted — количество удалённых blob
	BlobsDeleted int
	// BytesFreed — суммарный размер удалённых blob
	BytesFreed int64
	// Errors — количество ошибок
	Errors int
	// Skipped — запуск пропущен: блокировку держит другой процесс
	Skipped bool
	// Duration — длительность выполнения
	Duration time.Duration
}

// CleanupConfig — параметры очистки.
type CleanupConfig struct {
	// Interval — период запуска
	Interval time.Duration
	// PendingGrace — возраст, после которого pending-запись считается зависшей
	PendingGrace time.Duration
	// LockTTL — TTL распределённой блокировки
	LockTTL time.Duration
}

// CleanupService — сервис фоновой очистки.
type CleanupService struct {
	repo   repository.FileRepository
	blobs  blobstore.Store
	locker Locker
	cfg    CleanupConfig
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex // защита от параллельного запуска RunOnce
	loop periodic
}

// NewCleanupService создаёт сервис очистки. locker == nil — LocalLocker.
func NewCleanupService(
	repo repository.FileRepository,
	blobs blobstore.Store,
	locker Locker,
	cfg CleanupConfig,
	logger *slog.Logger,
) *CleanupService {
	if locker == nil {
		locker = LocalLocker{}
	}
	return &CleanupService{
		repo:   repo,
		blobs:  blobs,
		locker: locker,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "cleanup")),
		now:    time.Now,
		loop:   periodic{interval: cfg.Interval, immediate: true},
	}
}

// Start запускает фоновую горутину очистки.
func (s *CleanupService) Start(ctx context.Context) {
	if !s.loop.start(ctx, func(ctx context.Context) { s.RunOnce(ctx) }) {
		return
	}
	s.logger.Info("Очистка запущена",
		slog.String("interval", s.cfg.Interval.String()),
		slog.String("pending_grace", s.cfg.PendingGrace.String()),
	)
}

// Stop останавливает очистку и дожидается завершения текущего запуска.
func (s *CleanupService) Stop() {
	s.loop.stop()
	s.logger.Info("Очистка остановлена")
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: параллельные вызовы выполняются последовательно.
// Паника внутри запуска перехватывается и учитывается как ошибка.
func (s *CleanupService) RunOnce(ctx context.Context) (result *CleanupResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result = &CleanupResult{}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Паника при очистке", slog.String("panic", fmt.Sprint(r)))
			result.Errors++
		}
		if result.Skipped {
			return
		}

		result.Duration = time.Since(start)
		status := "success"
		if result.Errors > 0 {
			status = "error"
		}
		cleanupRunsTotal.WithLabelValues(status).Inc()
		cleanupRecordsDeletedTotal.WithLabelValues("expired").Add(float64(result.ExpiredDeleted))
		cleanupRecordsDeletedTotal.WithLabelValues("pending").Add(float64(result.PendingDeleted))
		cleanupErrorsTotal.Add(float64(result.Errors))
		cleanupDurationSeconds.Observe(result.Duration.Seconds())
		middleware.ExpiredFilesTotal.Add(float64(result.ExpiredDeleted))

		s.logger.Info("Очистка завершена",
			slog.Int64("expired", result.ExpiredDeleted),
			slog.Int64("pending", result.PendingDeleted),
			slog.Int("blobs", result.BlobsDeleted),
			slog.String("freed", humanize.IBytes(uint64(result.BytesFreed))),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}()

	unlock, ok, err := s.locker.TryLock(ctx, LockKeyCleanup, s.cfg.LockTTL)
	switch {
	case err != nil:
		// Без блокировки запуск безопасен, просто может пересечься с соседним
		s.logger.Warn("Блокировка очистки недоступна, запуск без неё",
			slog.String("error", err.Error()),
		)
	case !ok:
		s.logger.Debug("Очистка выполняется другим процессом, пропуск")
		result.Skipped = true
		cleanupRunsTotal.WithLabelValues("skipped").Inc()
		return result
	default:
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Ошибка освобождения блокировки", slog.String("error", err.Error()))
			}
		}()
	}

	now := s.now().UTC()

	// Фаза 1: истёкшие записи
	s.purgeExpired(ctx, now, result)

	// Фаза 2: зависшие pending-записи
	if s.cfg.PendingGrace > 0 {
		s.purgeStalePending(ctx, now.Add(-s.cfg.PendingGrace), result)
	}

	return result
}

// purgeExpired удаляет blob истёкших записей, затем записи одним запросом.
func (s *CleanupService) purgeExpired(ctx context.Context, now time.Time, result *CleanupResult) {
	expired, err := s.repo.FindExpired(ctx, now)
	if err != nil {
		s.logger.Error("Ошибка поиска истёкших записей", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	if len(expired) == 0 {
		return
	}

	s.deleteBlobs(ctx, expired, result)

	deleted, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Error("Ошибка удаления истёкших записей", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	result.ExpiredDeleted = deleted
}

// purgeStalePending удаляет pending-записи, созданные раньше before.
// Такие записи остаются после падения процесса посреди загрузки.
func (s *CleanupService) purgeStalePending(ctx context.Context, before time.Time, result *CleanupResult) {
	stale, err := s.repo.FindStalePending(ctx, before)
	if err != nil {
		s.logger.Error("Ошибка поиска зависших pending-записей", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	if len(stale) == 0 {
		return
	}

	s.deleteBlobs(ctx, stale, result)

	deleted, err := s.repo.DeleteStalePending(ctx, before)
	if err != nil {
		s.logger.Error("Ошибка удаления зависших pending-записей", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	result.PendingDeleted = deleted
}

// deleteBlobs удаляет blob записей. Отсутствующий blob — не ошибка.
func (s *CleanupService) deleteBlobs(ctx context.Context, records []*model.FileRecord, result *CleanupResult) {
	for _, rec := range records {
		if err := s.blobs.Delete(ctx, rec.BlobKey); err != nil {
			s.logger.Error("Ошибка удаления blob",
				slog.String("file_id", rec.FileID),
				slog.String("blob_key", rec.BlobKey),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		result.BlobsDeleted++
		result.BytesFreed += rec.FileSize

		s.logger.Debug("Blob удалён",
			slog.String("file_id", rec.FileID),
			slog.String("filename", rec.OriginalFilename),
		)
	}
}

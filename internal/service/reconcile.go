// reconcile.go — фоновая сверка хранилища blob с таблицей метаданных.
//
// Таблица метаданных авторитетна. Blob, file_id которого не найден в
// таблице (orphan), удаляется, если он старше TB_PENDING_GRACE: более
// свежий blob может принадлежать загрузке, которая ещё не записала
// метаданные. Orphan появляются, когда процесс падает между шагами
// загрузки или очистки.
//
// Запускается как горутина с периодическим тикером (TB_RECONCILE_INTERVAL).
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

	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// reconcileBatchSize — сколько file_id проверяется одним запросом.
const reconcileBatchSize = 500

// Prometheus метрики Reconciliation
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tb_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	reconcileOrphansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tb_reconcile_orphans_total",
		Help: "Общее количество orphan blob, обнаруженных reconciliation",
	}, []string{"action"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tb_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileResult — результат одного запуска reconciliation.
type ReconcileResult struct {
	// Scanned — количество просмотренных blob
	Scanned int
	// Orphans — blob без записи в таблице метаданных
	Orphans int
	// Deleted — удалённые orphan blob
	Deleted int
	// BytesFreed — суммарный размер удалённых blob
	BytesFreed int64
	// Errors — количество ошибок
	Errors int
	// Skipped — запуск пропущен: блокировку держит другой процесс
	Skipped bool
	// Duration — длительность выполнения
	Duration time.Duration
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	repo     repository.FileRepository
	blobs    blobstore.Store
	locker   Locker
	grace    time.Duration
	interval time.Duration
	lockTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	loop periodic
}

// NewReconcileService создаёт сервис reconciliation. locker == nil — LocalLocker.
func NewReconcileService(
	repo repository.FileRepository,
	blobs blobstore.Store,
	locker Locker,
	interval, grace, lockTTL time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	if locker == nil {
		locker = LocalLocker{}
	}
	return &ReconcileService{
		repo:     repo,
		blobs:    blobs,
		locker:   locker,
		grace:    grace,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "reconcile")),
		now:      time.Now,
		loop:     periodic{interval: interval},
	}
}

// Start запускает фоновую горутину reconciliation.
// Первый запуск — через interval после старта.
func (rs *ReconcileService) Start(ctx context.Context) {
	if !rs.loop.start(ctx, func(ctx context.Context) { rs.RunOnce(ctx) }) {
		return
	}
	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает reconciliation и дожидается завершения текущего запуска.
func (rs *ReconcileService) Stop() {
	rs.loop.stop()
	rs.logger.Info("Reconciliation остановлена")
}

// RunOnce выполняет один цикл reconciliation.
func (rs *ReconcileService) RunOnce(ctx context.Context) (result *ReconcileResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	start := time.Now()
	result = &ReconcileResult{}

	defer func() {
		if r := recover(); r != nil {
			rs.logger.Error("Паника при reconciliation", slog.String("panic", fmt.Sprint(r)))
			result.Errors++
		}
		if result.Skipped {
			return
		}
		result.Duration = time.Since(start)
		reconcileRunsTotal.Inc()
		reconcileDurationSeconds.Observe(result.Duration.Seconds())

		rs.logger.Info("Reconciliation завершена",
			slog.Int("scanned", result.Scanned),
			slog.Int("orphans", result.Orphans),
			slog.Int("deleted", result.Deleted),
			slog.String("freed", humanize.IBytes(uint64(result.BytesFreed))),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}()

	unlock, ok, err := rs.locker.TryLock(ctx, LockKeyReconcile, rs.lockTTL)
	switch {
	case err != nil:
		rs.logger.Warn("Блокировка reconciliation недоступна, запуск без неё",
			slog.String("error", err.Error()),
		)
	case !ok:
		rs.logger.Debug("Reconciliation выполняется другим процессом, пропуск")
		result.Skipped = true
		return result
	default:
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				rs.logger.Warn("Ошибка освобождения блокировки", slog.String("error", err.Error()))
			}
		}()
	}

	cutoff := rs.now().UTC().Add(-rs.grace)

	blobs, err := rs.blobs.List(ctx)
	if err != nil {
		rs.logger.Error("Ошибка листинга хранилища", slog.String("error", err.Error()))
		result.Errors++
		return result
	}
	result.Scanned = len(blobs)

	for i := 0; i < len(blobs); i += reconcileBatchSize {
		end := min(i+reconcileBatchSize, len(blobs))
		rs.reconcileBatch(ctx, blobs[i:end], cutoff, result)
	}

	return result
}

// reconcileBatch проверяет пачку blob и удаляет orphan старше cutoff.
func (rs *ReconcileService) reconcileBatch(ctx context.Context, batch []blobstore.Info, cutoff time.Time, result *ReconcileResult) {
	ids := make([]string, 0, len(batch))
	for _, b := range batch {
		if id := blobstore.FileIDFromKey(b.Key); id != "" {
			ids = append(ids, id)
		}
	}

	existing, err := rs.repo.ExistingIDs(ctx, ids)
	if err != nil {
		rs.logger.Error("Ошибка проверки file_id", slog.String("error", err.Error()))
		result.Errors++
		return
	}

	for _, b := range batch {
		if existing[blobstore.FileIDFromKey(b.Key)] {
			continue
		}
		result.Orphans++

		if !b.ModTime.Before(cutoff) {
			reconcileOrphansTotal.WithLabelValues("kept").Inc()
			continue
		}

		if err := rs.blobs.Delete(ctx, b.Key); err != nil {
			rs.logger.Error("Ошибка удаления orphan blob",
				slog.String("blob_key", b.Key),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		reconcileOrphansTotal.WithLabelValues("deleted").Inc()
		result.Deleted++
		result.BytesFreed += b.Size

		rs.logger.Debug("Orphan blob удалён", slog.String("blob_key", b.Key))
	}
}

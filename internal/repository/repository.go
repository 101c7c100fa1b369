// Пакет repository — слой доступа к метаданным файлов.
// PostgreSQL: чистый SQL через pgx, без ORM. Для локального запуска и
// тестов есть in-memory реализация с тем же контрактом.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/tempobox/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// FileRepository — хранилище записей file_metadata.
type FileRepository interface {
	// Insert создаёт запись в состоянии pending (write-ahead).
	Insert(ctx context.Context, r *model.FileRecord) error
	// Activate переводит запись pending → active и фиксирует итоговые
	// размер и checksum записанного blob.
	Activate(ctx context.Context, fileID string, size int64, checksum string) error
	// Delete удаляет одну запись (компенсация неудачной загрузки).
	Delete(ctx context.Context, fileID string) error
	// FindByIDAndAccess ищет активную запись по file_id и access-токену.
	FindByIDAndAccess(ctx context.Context, fileID, accessToken string) (*model.FileRecord, error)
	// FindByIDAndOwner ищет активную запись арендатора; scope сужает поиск.
	FindByIDAndOwner(ctx context.Context, fileID, ownerToken string, scopeToken *string) (*model.FileRecord, error)
	// List — единый параметризованный запрос списка неистёкших файлов.
	List(ctx context.Context, q model.ListQuery, now time.Time) ([]*model.FileRecord, error)
	// MarkExpired сдвигает expires_at назад. Возвращает false, если
	// запись уже истекает не позже expiresAt.
	MarkExpired(ctx context.Context, fileID string, expiresAt time.Time) (bool, error)
	// FindExpired возвращает записи с expires_at < now.
	FindExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error)
	// DeleteExpired удаляет записи с expires_at < now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// FindStalePending возвращает pending-записи, созданные раньше before.
	FindStalePending(ctx context.Context, before time.Time) ([]*model.FileRecord, error)
	// DeleteStalePending удаляет pending-записи, созданные раньше before.
	DeleteStalePending(ctx context.Context, before time.Time) (int64, error)
	// ExistingIDs возвращает подмножество ids, для которых есть запись.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

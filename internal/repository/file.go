package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/tempobox/internal/domain/model"
)

// fileColumns — порядок колонок для scanFile.
const fileColumns = `file_id, original_filename, content_type, file_size, checksum,
	blob_key, access_token, owner_token, scope_token, created_at, expires_at,
	storage_duration_minutes, description, status`

// sortColumns — белый список колонок ORDER BY. Строки сравниваются
// побайтово (COLLATE "C"), как и в MemoryRepository.
var sortColumns = map[model.SortField]string{
	model.SortByCreatedAt: "created_at",
	model.SortByFilename:  `original_filename COLLATE "C"`,
	model.SortByFileSize:  "file_size",
	model.SortByExpiresAt: "expires_at",
}

// fileRepo — реализация FileRepository на PostgreSQL.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий метаданных файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Insert(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO file_metadata (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(ctx, query,
		f.FileID, f.OriginalFilename, f.ContentType, f.FileSize, f.Checksum,
		f.BlobKey, f.AccessToken, f.OwnerToken, f.ScopeToken, f.CreatedAt, f.ExpiresAt,
		f.StorageDurationMinutes, descriptionArg(f.Description), model.StatusPending,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	f.Status = model.StatusPending
	return nil
}

func (r *fileRepo) Activate(ctx context.Context, fileID string, size int64, checksum string) error {
	query := `
		UPDATE file_metadata
		SET status = 'active', file_size = $2, checksum = $3
		WHERE file_id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, fileID, size, checksum)
	if err != nil {
		return fmt.Errorf("ошибка активации файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) Delete(ctx context.Context, fileID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_metadata WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) FindByIDAndAccess(ctx context.Context, fileID, accessToken string) (*model.FileRecord, error) {
	if fileID == "" || accessToken == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + fileColumns + `
		FROM file_metadata
		WHERE file_id = $1 AND access_token = $2 AND status = 'active'`

	return r.getOne(ctx, query, fileID, accessToken)
}

func (r *fileRepo) FindByIDAndOwner(ctx context.Context, fileID, ownerToken string, scopeToken *string) (*model.FileRecord, error) {
	if fileID == "" || ownerToken == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + fileColumns + `
		FROM file_metadata
		WHERE file_id = $1 AND owner_token = $2
			AND ($3::text IS NULL OR scope_token = $3)
			AND status = 'active'`

	return r.getOne(ctx, query, fileID, ownerToken, scopeToken)
}

func (r *fileRepo) List(ctx context.Context, q model.ListQuery, now time.Time) ([]*model.FileRecord, error) {
	q = q.Normalize()
	if q.OwnerToken == "" {
		return nil, nil
	}

	dir := "DESC"
	if q.SortDir == model.SortAsc {
		dir = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s
		FROM file_metadata
		WHERE owner_token = $1
			AND ($2::text IS NULL OR scope_token = $2)
			AND status = 'active'
			AND expires_at >= $3
		ORDER BY %s %s, file_id COLLATE "C" %s`, fileColumns, sortColumns[q.SortField], dir, dir)

	return r.getMany(ctx, query, q.OwnerToken, q.ScopeToken, now)
}

func (r *fileRepo) MarkExpired(ctx context.Context, fileID string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE file_metadata
		SET expires_at = $2
		WHERE file_id = $1 AND expires_at > $2`

	tag, err := r.db.Exec(ctx, query, fileID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("ошибка принудительного истечения: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *fileRepo) FindExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + `
		FROM file_metadata
		WHERE expires_at < $1
		ORDER BY expires_at`

	return r.getMany(ctx, query, now)
}

func (r *fileRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_metadata WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления истёкших записей: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *fileRepo) FindStalePending(ctx context.Context, before time.Time) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + `
		FROM file_metadata
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at`

	return r.getMany(ctx, query, before)
}

func (r *fileRepo) DeleteStalePending(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM file_metadata WHERE status = 'pending' AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления незавершённых загрузок: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *fileRepo) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `SELECT file_id FROM file_metadata WHERE file_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования записей: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования file_id: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}

func (r *fileRepo) getOne(ctx context.Context, query string, args ...any) (*model.FileRecord, error) {
	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) getMany(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// scanFile сканирует строку в порядке fileColumns.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var status string
	err := row.Scan(
		&f.FileID, &f.OriginalFilename, &f.ContentType, &f.FileSize, &f.Checksum,
		&f.BlobKey, &f.AccessToken, &f.OwnerToken, &f.ScopeToken, &f.CreatedAt, &f.ExpiresAt,
		&f.StorageDurationMinutes, &f.Description, &status,
	)
	if err != nil {
		return nil, err
	}
	f.Status = model.FileStatus(status)
	f.CreatedAt = f.CreatedAt.UTC()
	f.ExpiresAt = f.ExpiresAt.UTC()
	return f, nil
}

// descriptionArg — пустое описание хранится как NULL.
func descriptionArg(d model.Description) any {
	if len(d) == 0 {
		return nil
	}
	return map[string]string(d)
}

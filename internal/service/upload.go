// Пакет service — бизнес-логика tempobox.
// upload.go — загрузка файла: write-ahead запись метаданных, запись blob, активация.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/auth"
	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// MsgUploaded — сообщение об успешной загрузке.
const MsgUploaded = "File uploaded successfully"

// sniffLen — сколько байт читается для определения MIME-типа.
const sniffLen = 3072

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// AuthToken — предъявленный токен аутентификации
	AuthToken string
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// ContentType — MIME-тип из multipart part (может быть пустым)
	ContentType string
	// DurationMinutes — срок хранения в минутах
	DurationMinutes int
	// AccessToken — access-токен, заданный клиентом (пустой — сгенерировать)
	AccessToken string
	// ScopeToken — scope token (idToken), опционально
	ScopeToken *string
	// Description — CI/CD метаданные, опционально
	Description model.Description
}

// UploadResult — результат загрузки файла.
type UploadResult struct {
	FileID           string
	AccessToken      string
	Message          string
	ExpiresInMinutes int
	ExpiresAt        time.Time
}

// UploadLimits — ограничения загрузки. Нулевое значение — без ограничения.
type UploadLimits struct {
	MaxFileSize        int64
	MaxDurationMinutes int
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	repo      repository.FileRepository
	blobs     blobstore.Store
	authority *auth.TokenAuthority
	limits    UploadLimits
	logger    *slog.Logger
	now       func() time.Time
}

// NewUploadService создаёт сервис загрузки файлов.
func NewUploadService(
	repo repository.FileRepository,
	blobs blobstore.Store,
	authority *auth.TokenAuthority,
	limits UploadLimits,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		repo:      repo,
		blobs:     blobs,
		authority: authority,
		limits:    limits,
		logger:    logger.With(slog.String("component", "upload_service")),
		now:       time.Now,
	}
}

// Upload сохраняет файл и возвращает file_id и access-токен.
//
// Поток:
//  1. Проверка токена аутентификации
//  2. Проверка срока хранения
//  3. Insert метаданных в состоянии pending
//  4. Запись blob (streaming + SHA-256)
//  5. Activate
//
// При ошибке записи blob pending-запись удаляется. При ошибке активации
// удаляются и blob, и запись. Всё, что не удалось убрать, подберут
// очистка (stale pending) и reconciliation (orphan blob).
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	// 1. Токен
	if !s.authority.Validate(params.AuthToken) {
		middleware.OperationsTotal.WithLabelValues("upload", "unauthorized").Inc()
		return nil, ErrUnauthorized
	}

	// 2. Срок хранения
	if params.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: storageDurationMinutes должен быть положительным", ErrValidation)
	}
	if params.DurationMinutes > model.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: storageDurationMinutes не может превышать %d",
			ErrValidation, model.MaxDurationMinutes)
	}
	if s.limits.MaxDurationMinutes > 0 && params.DurationMinutes > s.limits.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: storageDurationMinutes превышает максимум %d",
			ErrValidation, s.limits.MaxDurationMinutes)
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("%w: файл не передан", ErrValidation)
	}

	fileID := uuid.NewString()
	reader, contentType, err := sniffContentType(params.Reader, params.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения файла: %v", ErrStorage, err)
	}

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	record := &model.FileRecord{
		FileID:                 fileID,
		OriginalFilename:       params.OriginalFilename,
		ContentType:            contentType,
		BlobKey:                blobstore.KeyFor(fileID, params.OriginalFilename),
		AccessToken:            auth.ResolveAccessToken(params.AccessToken),
		OwnerToken:             s.authority.OwnerToken(),
		ScopeToken:             normalizeScope(params.ScopeToken),
		CreatedAt:              createdAt,
		ExpiresAt:              model.ComputeExpiry(createdAt, params.DurationMinutes),
		StorageDurationMinutes: params.DurationMinutes,
		Description:            params.Description,
	}

	// 3. Write-ahead запись
	if err := s.repo.Insert(ctx, record); err != nil {
		s.logger.Error("Ошибка записи метаданных",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// 4. Blob
	limited := &limitReader{r: reader, remaining: s.limits.MaxFileSize}
	if s.limits.MaxFileSize <= 0 {
		limited.remaining = -1
	}
	saved, err := s.blobs.Save(ctx, record.BlobKey, limited)
	if err != nil {
		s.compensate(record, false)
		if limited.exceeded {
			middleware.OperationsTotal.WithLabelValues("upload", "too_large").Inc()
			return nil, fmt.Errorf("%w: максимум %s", ErrFileTooLarge, humanize.IBytes(uint64(s.limits.MaxFileSize)))
		}
		s.logger.Error("Ошибка сохранения файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// 5. Активация
	if err := s.repo.Activate(ctx, fileID, saved.Size, saved.Checksum); err != nil {
		s.logger.Error("Ошибка активации записи",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		s.compensate(record, true)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.UploadedBytesTotal.Add(float64(saved.Size))

	s.logger.Info("Файл загружен",
		slog.String("file_id", fileID),
		slog.String("filename", params.OriginalFilename),
		slog.String("size", humanize.IBytes(uint64(saved.Size))),
		slog.String("content_type", contentType),
		slog.Int("duration_minutes", params.DurationMinutes),
	)

	return &UploadResult{
		FileID:           fileID,
		AccessToken:      record.AccessToken,
		Message:          MsgUploaded,
		ExpiresInMinutes: params.DurationMinutes,
		ExpiresAt:        record.ExpiresAt,
	}, nil
}

// compensate удаляет следы неудачной загрузки (best effort).
// Используется свежий контекст: исходный запрос мог быть отменён.
func (s *UploadService) compensate(record *model.FileRecord, deleteBlob bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if deleteBlob {
		if err := s.blobs.Delete(ctx, record.BlobKey); err != nil {
			s.logger.Warn("Не удалось удалить blob неудачной загрузки",
				slog.String("file_id", record.FileID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.repo.Delete(ctx, record.FileID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Не удалось удалить pending-запись",
			slog.String("file_id", record.FileID),
			slog.String("error", err.Error()),
		)
	}
}

// limitReader возвращает ErrFileTooLarge, как только прочитано больше
// remaining байт. remaining < 0 — без ограничения.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return l.r.Read(p)
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	if int64(n) > l.remaining {
		l.exceeded = true
		return 0, ErrFileTooLarge
	}
	l.remaining -= int64(n)
	return n, err
}

// sniffContentType определяет MIME-тип по содержимому, если клиент его не
// указал или указал application/octet-stream. Прочитанные байты
// возвращаются в начало потока.
func sniffContentType(r io.Reader, declared string) (io.Reader, string, error) {
	declared = detectContentType(declared)
	if declared != "application/octet-stream" {
		return r, declared, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	if n == 0 {
		return r, declared, nil
	}
	detected := detectContentType(mimetype.Detect(head).String())
	return io.MultiReader(strings.NewReader(string(head)), r), detected, nil
}

// detectContentType нормализует Content-Type из заголовка multipart part.
// Если не указан — используется application/octet-stream.
func detectContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}

// normalizeScope превращает пустой scope в nil.
func normalizeScope(scope *string) *string {
	if scope == nil {
		return nil
	}
	s := strings.TrimSpace(*scope)
	if s == "" {
		return nil
	}
	return &s
}

// download.go — выдача файла по file_id и access-токену.
// Порядок проверок: запись и токен → срок хранения → наличие blob.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// Download — открытый на чтение файл вместе с его метаданными.
// Вызывающий код обязан закрыть Object.
type Download struct {
	Object *blobstore.Object
	Record *model.FileRecord
}

// DownloadService — сервис скачивания файлов.
type DownloadService struct {
	repo   repository.FileRepository
	blobs  blobstore.Store
	logger *slog.Logger
}

// NewDownloadService создаёт сервис скачивания.
func NewDownloadService(repo repository.FileRepository, blobs blobstore.Store, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		repo:   repo,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// Open проверяет доступ и открывает содержимое файла.
//
// Ошибки:
//   - ErrUnauthorized — нет записи с такой парой (file_id, access-токен)
//   - *ExpiredError — срок хранения истёк (в том числе принудительно)
//   - ErrBlobNotFound — запись есть, blob отсутствует
//   - ErrStorage — сбой хранилища
func (s *DownloadService) Open(ctx context.Context, fileID, accessToken string, now time.Time) (*Download, error) {
	if fileID == "" || accessToken == "" {
		middleware.OperationsTotal.WithLabelValues("download", "unauthorized").Inc()
		return nil, ErrUnauthorized
	}

	record, err := s.repo.FindByIDAndAccess(ctx, fileID, accessToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			middleware.OperationsTotal.WithLabelValues("download", "unauthorized").Inc()
			return nil, ErrUnauthorized
		}
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if model.IsExpired(record, now) {
		middleware.OperationsTotal.WithLabelValues("download", "expired").Inc()
		return nil, &ExpiredError{ExpiredAt: record.ExpiresAt}
	}

	obj, err := s.blobs.Open(ctx, record.BlobKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn("Blob отсутствует для активной записи",
				slog.String("file_id", fileID),
				slog.String("blob_key", record.BlobKey),
			)
			middleware.OperationsTotal.WithLabelValues("download", "not_found").Inc()
			return nil, ErrBlobNotFound
		}
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	return &Download{Object: obj, Record: record}, nil
}
